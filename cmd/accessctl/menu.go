package main

import (
	"context"
	"fmt"
	"strings"

	access "github.com/goliatone/go-access"
	"github.com/spf13/pflag"
)

func (c *cli) menuCommand() *Command {
	return &Command{
		Name:    "menu",
		Summary: "Manage menu resources.",
		Subcommands: []*Command{
			{
				Name:    "list",
				Summary: "List every resource in menu order.",
				Run: func(ctx context.Context, _ *pflag.FlagSet, _ []string) error {
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					printNodes(c.stdout, svc.catalog.Nodes())
					return nil
				},
			},
			{
				Name:    "add",
				Summary: "Add a resource.",
				Usage:   "accessctl menu add <name> [--title T] [--path P] [--parent NAME] [--rank N] [--level L] [--hidden]",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("menu add", pflag.ContinueOnError)
					fs.String("title", "", "display title")
					fs.String("path", "", "route path")
					fs.String("icon", "", "icon name")
					fs.String("description", "", "description")
					fs.String("parent", "", "parent resource; makes this a level-2 node")
					fs.Int("rank", 0, "sort rank within the level")
					fs.String("level", string(access.AccessAllUsers), "access level: public, all, verified, admin or custom")
					fs.StringSlice("roles", nil, "required roles")
					fs.StringSlice("perms", nil, "required permissions")
					fs.Bool("public", false, "allow anonymous access")
					fs.Bool("hidden", false, "keep the resource out of the menu")
					return fs
				},
				Run: c.addNode,
			},
			{
				Name:    "toggle",
				Summary: "Flip the active flag of a resource.",
				Usage:   "accessctl menu toggle <name>",
				Run: func(ctx context.Context, _ *pflag.FlagSet, args []string) error {
					if err := requireArgs(args, 1, "accessctl menu toggle <name>"); err != nil {
						return err
					}
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					n, err := svc.catalog.ToggleNode(ctx, operator, args[0])
					if err != nil {
						return err
					}
					state := "inactive"
					if n.Active {
						state = "active"
					}
					fmt.Fprintf(c.stdout, "resource %s is now %s\n", n.Name, state)
					return nil
				},
			},
			{
				Name:    "remove",
				Summary: "Remove a resource without children.",
				Usage:   "accessctl menu remove <name>",
				Run: func(ctx context.Context, _ *pflag.FlagSet, args []string) error {
					if err := requireArgs(args, 1, "accessctl menu remove <name>"); err != nil {
						return err
					}
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					if err := svc.catalog.RemoveNode(ctx, operator, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(c.stdout, "removed 1 resource (%s)\n", args[0])
					return nil
				},
			},
		},
	}
}

func (c *cli) addNode(ctx context.Context, fs *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 1, "accessctl menu add <name>"); err != nil {
		return err
	}

	policy, err := policyFromFlags(fs)
	if err != nil {
		return err
	}

	title, _ := fs.GetString("title")
	path, _ := fs.GetString("path")
	icon, _ := fs.GetString("icon")
	description, _ := fs.GetString("description")
	parent, _ := fs.GetString("parent")
	rank, _ := fs.GetInt("rank")
	hidden, _ := fs.GetBool("hidden")

	node := &access.MenuNode{
		Name:        args[0],
		Title:       title,
		Path:        path,
		Icon:        icon,
		Description: description,
		Level:       access.MenuLevelTop,
		Parent:      parent,
		Rank:        rank,
		ShowInMenu:  !hidden,
		Active:      true,
	}
	if parent != "" {
		node.Level = access.MenuLevelChild
	}
	node.SetPolicy(policy)

	svc, err := c.services(ctx)
	if err != nil {
		return err
	}
	n, err := svc.catalog.AddNode(ctx, operator, node)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "added resource %s (level %d, %s)\n", n.Name, n.Level, n.AccessLevel)
	return nil
}

func (c *cli) policyCommand() *Command {
	return &Command{
		Name:    "policy",
		Summary: "Change resource access policies.",
		Subcommands: []*Command{
			{
				Name:    "set",
				Summary: "Replace the access policy of a resource.",
				Usage:   "accessctl policy set <resource> --level L [--roles a,b] [--perms x,y] [--public]",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("policy set", pflag.ContinueOnError)
					fs.String("level", "", "access level: public, all, verified, admin or custom")
					fs.StringSlice("roles", nil, "required roles")
					fs.StringSlice("perms", nil, "required permissions")
					fs.Bool("public", false, "allow anonymous access")
					return fs
				},
				Run: func(ctx context.Context, fs *pflag.FlagSet, args []string) error {
					if err := requireArgs(args, 1, "accessctl policy set <resource> --level L"); err != nil {
						return err
					}
					if !fs.Changed("level") {
						return fmt.Errorf("policy set: --level is required")
					}
					policy, err := policyFromFlags(fs)
					if err != nil {
						return err
					}
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					n, err := svc.catalog.UpdateAccessPolicy(ctx, operator, args[0], policy)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.stdout, "updated policy of %s: level=%s roles=%s perms=%s public=%t\n",
						n.Name, n.AccessLevel, dash(strings.Join(n.RequiredRoles, ",")), dash(strings.Join(n.RequiredPermissions, ",")), n.IsPublic)
					return nil
				},
			},
		},
	}
}

func policyFromFlags(fs *pflag.FlagSet) (access.AccessPolicy, error) {
	raw, _ := fs.GetString("level")
	level, ok := access.ParseAccessLevel(raw)
	if !ok {
		return access.AccessPolicy{}, fmt.Errorf("unknown access level %q", raw)
	}
	roles, _ := fs.GetStringSlice("roles")
	perms, _ := fs.GetStringSlice("perms")
	public, _ := fs.GetBool("public")
	return access.AccessPolicy{
		AccessLevel:         level,
		RequiredRoles:       roles,
		RequiredPermissions: perms,
		IsPublic:            public,
	}, nil
}

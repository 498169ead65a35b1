package main

import (
	"context"
	"errors"
	"fmt"

	access "github.com/goliatone/go-access"
	"github.com/spf13/pflag"
)

var operator = access.ActorRef{ID: "accessctl", Type: "operator"}

func (c *cli) usersCommand() *Command {
	return &Command{
		Name:    "users",
		Summary: "Inspect and change principals.",
		Subcommands: []*Command{
			{
				Name:    "list",
				Summary: "List principals, newest first.",
				Usage:   "accessctl users list [--verified|--unverified] [--admins] [--active] [--page N] [--page-size N]",
				Flags:   listFlags,
				Run: func(ctx context.Context, fs *pflag.FlagSet, _ []string) error {
					return c.listPrincipals(ctx, fs, "")
				},
			},
			{
				Name:    "search",
				Summary: "Find principals by id, email or username.",
				Usage:   "accessctl users search <query> [--page N] [--page-size N]",
				Flags:   listFlags,
				Run: func(ctx context.Context, fs *pflag.FlagSet, args []string) error {
					if err := requireArgs(args, 1, "accessctl users search <query>"); err != nil {
						return err
					}
					return c.listPrincipals(ctx, fs, args[0])
				},
			},
			{
				Name:    "create",
				Summary: "Create a verified principal.",
				Usage:   "accessctl users create <username> <email> <password> [--admin]",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("users create", pflag.ContinueOnError)
					fs.Bool("admin", false, "grant the admin flag")
					return fs
				},
				Run: c.createPrincipal,
			},
			{
				Name:    "delete",
				Summary: "Delete a principal and its sessions.",
				Usage:   "accessctl users delete <id>",
				Run: func(ctx context.Context, _ *pflag.FlagSet, args []string) error {
					if err := requireArgs(args, 1, "accessctl users delete <id>"); err != nil {
						return err
					}
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					if err := svc.accounts.DeleteAccount(ctx, operator, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(c.stdout, "deleted 1 principal (%s)\n", args[0])
					return nil
				},
			},
			c.transition("verify", "Mark the email verified and activate.", (*access.AccountManager).ForceVerify),
			c.transition("promote", "Grant the admin flag.", (*access.AccountManager).Promote),
			c.transition("demote", "Remove the admin flag.", (*access.AccountManager).Demote),
			c.transition("disable", "Deactivate and drop sessions.", (*access.AccountManager).Disable),
			c.transition("enable", "Reactivate a verified principal.", (*access.AccountManager).Enable),
			{
				Name:    "stats",
				Summary: "Show principal counts.",
				Run: func(ctx context.Context, _ *pflag.FlagSet, _ []string) error {
					svc, err := c.services(ctx)
					if err != nil {
						return err
					}
					stats, err := svc.accounts.Stats(ctx)
					if err != nil {
						return err
					}
					printStats(c.stdout, stats)
					return nil
				},
			},
		},
	}
}

func listFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("users list", pflag.ContinueOnError)
	fs.Bool("verified", false, "only verified principals")
	fs.Bool("unverified", false, "only unverified principals")
	fs.Bool("admins", false, "only admins")
	fs.Bool("active", false, "only active principals")
	fs.Int("page", 1, "page number")
	fs.Int("page-size", access.DefaultPageSize, "page size")
	return fs
}

func (c *cli) listPrincipals(ctx context.Context, fs *pflag.FlagSet, query string) error {
	filter, err := filterFromFlags(fs)
	if err != nil {
		return err
	}
	filter.Query = query

	number, _ := fs.GetInt("page")
	size, _ := fs.GetInt("page-size")

	svc, err := c.services(ctx)
	if err != nil {
		return err
	}
	result, err := svc.accounts.SearchPrincipals(ctx, filter, access.Page{Number: number, Size: size})
	if err != nil {
		return err
	}
	printPrincipals(c.stdout, result)
	return nil
}

func filterFromFlags(fs *pflag.FlagSet) (access.PrincipalFilter, error) {
	var filter access.PrincipalFilter

	verified, _ := fs.GetBool("verified")
	unverified, _ := fs.GetBool("unverified")
	switch {
	case verified && unverified:
		return filter, errors.New("--verified and --unverified are mutually exclusive")
	case verified:
		filter.Verified = access.Bool(true)
	case unverified:
		filter.Verified = access.Bool(false)
	}

	if admins, _ := fs.GetBool("admins"); admins {
		filter.Admin = access.Bool(true)
	}
	if active, _ := fs.GetBool("active"); active {
		filter.Active = access.Bool(true)
	}
	return filter, nil
}

func (c *cli) createPrincipal(ctx context.Context, fs *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 3, "accessctl users create <username> <email> <password> [--admin]"); err != nil {
		return err
	}
	admin, _ := fs.GetBool("admin")

	svc, err := c.services(ctx)
	if err != nil {
		return err
	}
	p, err := svc.accounts.CreatePrincipal(ctx, operator, access.RegisterInput{
		Username: args[0],
		Email:    args[1],
		Password: args[2],
	}, admin)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "created principal %s (%s, %s)\n", p.ID, p.Username, access.StatusOf(p))
	return nil
}

type transitionFunc func(m *access.AccountManager, ctx context.Context, actor access.ActorRef, id string) (*access.Principal, error)

func (c *cli) transition(name, summary string, op transitionFunc) *Command {
	usage := "accessctl users " + name + " <id>"
	return &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
		Run: func(ctx context.Context, _ *pflag.FlagSet, args []string) error {
			if err := requireArgs(args, 1, usage); err != nil {
				return err
			}
			svc, err := c.services(ctx)
			if err != nil {
				return err
			}
			p, err := op(svc.accounts, ctx, operator, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s: %s is now %s\n", name, p.Username, access.StatusOf(p))
			return nil
		},
	}
}

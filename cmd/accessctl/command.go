package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is a node of the accessctl command tree.
type Command struct {
	Name    string
	Summary string
	Usage   string

	// Flags is called once per invocation. Nil means no flags.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing and the
	// parsed flag set.
	Run func(ctx context.Context, fs *pflag.FlagSet, args []string) error

	parent *Command
}

// Execute dispatches args to the matching subcommand or to Run.
func (c *Command) Execute(ctx context.Context, out io.Writer, args []string) error {
	if len(args) > 0 && isHelp(args[0]) {
		c.PrintHelp(out)
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) == 0 || strings.HasPrefix(args[0], "-") {
			c.PrintHelp(out)
			return fmt.Errorf("%s: subcommand required", c.fullName())
		}
		for _, sub := range c.Subcommands {
			if sub.Name == args[0] {
				sub.parent = c
				return sub.Execute(ctx, out, args[1:])
			}
		}
		return fmt.Errorf("unknown command %q, run '%s --help' for usage", args[0], c.fullName())
	}

	fs := pflag.NewFlagSet(c.fullName(), pflag.ContinueOnError)
	if c.Flags != nil {
		fs = c.Flags()
	}
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", c.fullName(), err)
	}
	return c.Run(ctx, fs, fs.Args())
}

func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func (c *Command) PrintHelp(out io.Writer) {
	usage := c.Usage
	if usage == "" {
		usage = c.fullName()
		if len(c.Subcommands) > 0 {
			usage += " <command>"
		}
	}
	fmt.Fprintf(out, "Usage: %s\n", usage)
	if c.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", c.Summary)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintln(out, "\nCommands:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		fs := c.Flags()
		if fs.HasFlags() {
			fmt.Fprintln(out, "\nFlags:")
			fmt.Fprint(out, fs.FlagUsages())
		}
	}
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

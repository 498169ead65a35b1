// Command accessctl administers principals, the resource catalog and the
// cleanup sweep, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-access/config"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	if err := c.Execute(ctx, args); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

type cli struct {
	stdout io.Writer
	stderr io.Writer

	// open is swapped in tests to share one in-memory store across runs.
	open func(ctx context.Context, cfg *config.Config) (*backend, error)

	configPath string
	driver     string
	dsn        string

	svc *services
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		stdout: stdout,
		stderr: stderr,
		open:   openBackend,
	}
}

// Execute parses the global flags and dispatches the rest.
func (c *cli) Execute(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("accessctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&c.configPath, "config", "c", os.Getenv("ACCESS_CONFIG"), "path to a YAML config file")
	fs.StringVar(&c.driver, "driver", "", "database driver: sqlite, postgres, mongo or memory")
	fs.StringVar(&c.dsn, "dsn", "", "database DSN, or the mongo URI for the mongo driver")
	root := c.root()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			root.PrintHelp(c.stdout)
			fs.SetOutput(c.stdout)
			fs.PrintDefaults()
			return nil
		}
		return err
	}

	defer c.close(ctx)
	return root.Execute(ctx, c.stdout, fs.Args())
}

func (c *cli) root() *Command {
	return &Command{
		Name:    "accessctl",
		Usage:   "accessctl [--config FILE] [--driver NAME] [--dsn DSN] <command>",
		Summary: "Administer principals, menu resources and access policies.",
		Subcommands: []*Command{
			c.usersCommand(),
			c.cleanupCommand(),
			c.menuCommand(),
			c.policyCommand(),
			c.migrateCommand(),
			c.serveCommand(),
		},
	}
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.driver != "" {
		cfg.Database.Driver = c.driver
	}
	if c.dsn != "" {
		if cfg.Database.Driver == config.DriverMongo {
			cfg.Database.MongoURI = c.dsn
		} else {
			cfg.Database.DSN = c.dsn
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// services opens the store and builds the managers once per invocation.
func (c *cli) services(ctx context.Context) (*services, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := c.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := newServices(ctx, cfg, store, cfg.Log.NewLogger(c.stderr))
	if err != nil {
		_ = store.close(context.WithoutCancel(ctx))
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

func (c *cli) close(ctx context.Context) {
	if c.svc == nil {
		return
	}
	c.svc.accounts.WaitForMail()
	if err := c.svc.store.close(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintln(c.stderr, "warning: closing store:", err)
	}
	c.svc = nil
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func (c *cli) cleanupCommand() *Command {
	return &Command{
		Name:    "cleanup",
		Summary: "Evict unverified principals older than the staleness window.",
		Usage:   "accessctl cleanup [--days N] [--include-admins]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			fs.Int("days", 0, "staleness window in days; 0 uses the configured window")
			fs.Bool("include-admins", false, "also evict unverified admins")
			return fs
		},
		Run: func(ctx context.Context, fs *pflag.FlagSet, _ []string) error {
			days, _ := fs.GetInt("days")
			if days < 0 {
				return fmt.Errorf("cleanup: --days must not be negative")
			}
			includeAdmins, _ := fs.GetBool("include-admins")

			svc, err := c.services(ctx)
			if err != nil {
				return err
			}

			staleness := time.Duration(days) * 24 * time.Hour
			report, err := svc.cleaner.RunWith(ctx, staleness, !includeAdmins)
			if err != nil {
				return err
			}
			if report.Skipped {
				fmt.Fprintln(c.stdout, "cleanup skipped: another run is in progress")
				return nil
			}
			fmt.Fprintf(c.stdout, "evicted %d principals, purged %d expired sessions\n", report.Evicted, report.Purged)
			if len(report.Sample) > 0 {
				fmt.Fprintf(c.stdout, "sample: %s\n", strings.Join(report.Sample, ", "))
			}
			return nil
		},
	}
}

func (c *cli) migrateCommand() *Command {
	return &Command{
		Name:    "migrate",
		Summary: "Apply schema migrations, or create indexes for mongo.",
		Run: func(ctx context.Context, _ *pflag.FlagSet, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.close(context.WithoutCancel(ctx))

			applied, err := store.migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "applied %d migrations on %s\n", len(applied), store.driver)
			for _, v := range applied {
				fmt.Fprintf(c.stdout, "  %d\n", v)
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/httpapi"
	"github.com/goliatone/go-access/middleware/csrf"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCommand() *Command {
	return &Command{
		Name:    "serve",
		Summary: "Serve the HTTP API and run the scheduled cleanup.",
		Usage:   "accessctl serve [--addr ADDR]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			fs.String("addr", "", "listen address, overrides http.addr")
			return fs
		},
		Run: c.serve,
	}
}

func (c *cli) serve(ctx context.Context, fs *pflag.FlagSet, _ []string) error {
	svc, err := c.services(ctx)
	if err != nil {
		return err
	}

	addr := svc.cfg.HTTP.Addr
	if v, _ := fs.GetString("addr"); v != "" {
		addr = v
	}

	app := newApp(svc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go svc.cleaner.Start(ctx, svc.cfg.CleanupInterval)

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(addr)
	}()
	svc.logger.Info("serving", "addr", addr, "driver", svc.store.driver)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	svc.logger.Info("shutting down")
	return drain(func() error {
		return app.ShutdownWithTimeout(shutdownTimeout)
	}, svc.accounts)
}

// drain stops the listener, then waits for queued verification mail.
func drain(stop func() error, accounts *access.AccountManager) error {
	err := stop()
	accounts.WaitForMail()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newApp(svc *services) *fiber.App {
	var controller *httpapi.Controller
	errorHandler := func(c *fiber.Ctx, err error) error {
		return controller.ErrorHandler(c, err)
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	opts := []httpapi.ControllerOption{
		httpapi.WithAccounts(svc.accounts),
		httpapi.WithSessions(svc.sessions),
		httpapi.WithCatalog(svc.catalog),
		httpapi.WithCleaner(svc.cleaner),
		httpapi.WithLogger(svc.logger),
		httpapi.WithCookie(httpapi.Cookie{
			Name:        svc.cfg.HTTP.CookieName,
			Secure:      svc.cfg.HTTP.CookieSecure,
			RememberFor: svc.cfg.HTTP.RememberFor,
		}),
	}
	if svc.cfg.HTTP.CSRF {
		opts = append(opts, httpapi.WithCSRF(csrf.New(csrf.Config{
			SecureKey: csrf.DeriveKey(svc.cfg.SecretKey),
			SessionID: func(c *fiber.Ctx) string {
				return c.Cookies(svc.cfg.HTTP.CookieName)
			},
			ErrorHandler: errorHandler,
		})))
	}

	controller = httpapi.RegisterRoutes(app, opts...)
	return app
}

package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/middleware/sessionware"
	goerrors "github.com/goliatone/go-errors"
)

// Routes holds the mount points of the controller.
type Routes struct {
	Register       string
	Verify         string
	Resend         string
	Login          string
	Logout         string
	Me             string
	Password       string
	Menu           string
	ResourceAccess string
	Admin          string
	CSRF           string
}

// Cookie configures the session cookie set on login.
type Cookie struct {
	Name        string
	Secure      bool
	RememberFor time.Duration
}

type Controller struct {
	Logger       access.Logger
	Accounts     *access.AccountManager
	Sessions     *access.SessionManager
	Catalog      *access.Catalog
	Cleaner      *access.Cleaner
	Routes       *Routes
	Cookie       Cookie
	ErrorHandler fiber.ErrorHandler
	CSRF         fiber.Handler

	now func() time.Time
}

type ControllerOption func(*Controller) *Controller

func WithLogger(logger access.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithAccounts(m *access.AccountManager) ControllerOption {
	return func(c *Controller) *Controller {
		c.Accounts = m
		return c
	}
}

func WithSessions(m *access.SessionManager) ControllerOption {
	return func(c *Controller) *Controller {
		c.Sessions = m
		return c
	}
}

func WithCatalog(catalog *access.Catalog) ControllerOption {
	return func(c *Controller) *Controller {
		c.Catalog = catalog
		return c
	}
}

func WithCleaner(cleaner *access.Cleaner) ControllerOption {
	return func(c *Controller) *Controller {
		c.Cleaner = cleaner
		return c
	}
}

func WithRoutes(routes *Routes) ControllerOption {
	return func(c *Controller) *Controller {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// WithCookie overrides the session cookie settings. Empty fields keep their
// defaults.
func WithCookie(cookie Cookie) ControllerOption {
	return func(c *Controller) *Controller {
		if cookie.Name != "" {
			c.Cookie.Name = cookie.Name
		}
		if cookie.RememberFor > 0 {
			c.Cookie.RememberFor = cookie.RememberFor
		}
		c.Cookie.Secure = cookie.Secure
		return c
	}
}

func WithErrorHandler(handler fiber.ErrorHandler) ControllerOption {
	return func(c *Controller) *Controller {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// WithCSRF installs a guard, usually csrf.New, on logout, password and
// admin routes, and mounts Routes.CSRF to hand out tokens.
func WithCSRF(guard fiber.Handler) ControllerOption {
	return func(c *Controller) *Controller {
		c.CSRF = guard
		return c
	}
}

// WithClock is used for cookie expiry.
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) *Controller {
		if clock != nil {
			c.now = clock
		}
		return c
	}
}

// NewController panics when a manager is missing.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger: access.NewSlogLogger(nil),
		Routes: &Routes{
			Register:       "/auth/register",
			Verify:         "/auth/verify",
			Resend:         "/auth/verify/resend",
			Login:          "/auth/login",
			Logout:         "/auth/logout",
			Me:             "/auth/me",
			Password:       "/auth/password",
			Menu:           "/menu",
			ResourceAccess: "/resources",
			Admin:          "/admin",
			CSRF:           "/auth/csrf",
		},
		Cookie: Cookie{
			Name:        sessionware.DefaultCookieName,
			RememberFor: 30 * 24 * time.Hour,
		},
		now: time.Now,
	}
	c.ErrorHandler = c.handleError

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Accounts == nil {
		panic("Missing AccountManager in access controller...")
	}
	if c.Sessions == nil {
		panic("Missing SessionManager in access controller...")
	}
	if c.Catalog == nil {
		panic("Missing Catalog in access controller...")
	}
	if c.Cleaner == nil {
		panic("Missing Cleaner in access controller...")
	}

	return c
}

// RegisterRoutes mounts the public, session and admin routes on app.
func RegisterRoutes(app fiber.Router, opts ...ControllerOption) *Controller {
	c := NewController(opts...)

	required := c.sessionMiddleware(false, false)
	optional := c.sessionMiddleware(true, false)
	admin := c.sessionMiddleware(false, true)
	guard := c.csrfGuard()

	app.Post(c.Routes.Register, c.RegisterPost).Name("register.post")
	app.Post(c.Routes.Resend, c.ResendPost).Name("verify-resend.post")
	app.Get(c.Routes.Verify+"/:token", c.VerifyGet).Name("verify.get")
	app.Post(c.Routes.Login, c.LoginPost).Name("login.post")
	app.Post(c.Routes.Logout, guard, c.LogoutPost).Name("logout.post")
	app.Get(c.Routes.Me, required, c.MeGet).Name("me.get")
	app.Post(c.Routes.Password, required, guard, c.PasswordPost).Name("password.post")
	app.Get(c.Routes.Menu, optional, c.MenuGet).Name("menu.get")
	app.Get(c.Routes.ResourceAccess+"/:name/access", optional, c.ResourceAccessGet).Name("resource-access.get")

	if c.CSRF != nil {
		app.Get(c.Routes.CSRF, required, guard, c.CSRFGet).Name("csrf.get")
	}

	group := app.Group(c.Routes.Admin, admin, guard)
	group.Get("/principals", c.AdminSearch).Name("admin.principals.list")
	group.Post("/principals", c.AdminCreate).Name("admin.principals.create")
	group.Get("/principals/:id", c.AdminGet).Name("admin.principals.get")
	group.Delete("/principals/:id", c.AdminDelete).Name("admin.principals.delete")
	group.Post("/principals/:id/:action", c.AdminAction).Name("admin.principals.action")
	group.Put("/principals/:id/tags", c.AdminSetTags).Name("admin.principals.tags")
	group.Get("/stats", c.AdminStats).Name("admin.stats")
	group.Post("/cleanup", c.AdminCleanup).Name("admin.cleanup")
	group.Get("/resources", c.AdminListResources).Name("admin.resources.list")
	group.Post("/resources", c.AdminAddResource).Name("admin.resources.create")
	group.Put("/resources/:name/policy", c.AdminUpdatePolicy).Name("admin.resources.policy")
	group.Post("/resources/:name/toggle", c.AdminToggleResource).Name("admin.resources.toggle")
	group.Delete("/resources/:name", c.AdminRemoveResource).Name("admin.resources.delete")

	return c
}

func (a *Controller) sessionMiddleware(optional, adminOnly bool) fiber.Handler {
	return sessionware.New(sessionware.Config{
		Resolver:     a.Sessions,
		TokenLookup:  a.tokenLookup(),
		Optional:     optional,
		RequireAdmin: adminOnly,
		ErrorHandler: a.ErrorHandler,
	})
}

func (a *Controller) csrfGuard() fiber.Handler {
	if a.CSRF != nil {
		return a.CSRF
	}
	return func(c *fiber.Ctx) error {
		return c.Next()
	}
}

func (a *Controller) tokenLookup() string {
	return "cookie:" + a.Cookie.Name + ",header:" + fiber.HeaderAuthorization
}

func (a *Controller) handleError(c *fiber.Ctx, err error) error {
	rich := toError(err)
	if rich.Code >= fiber.StatusInternalServerError {
		a.Logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
		rich.Source = nil
	}
	rich.Location = nil
	return c.Status(rich.Code).JSON(rich.ToErrorResponse(false, nil))
}

// toError returns a copy safe to mutate.
func toError(err error) *goerrors.Error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, goerrors.HTTPStatusToCategory(fe.Code)).
			WithCode(fe.Code).
			WithTextCode(goerrors.HTTPStatusToTextCode(fe.Code))
	}
	rich := goerrors.MapToError(err, goerrors.DefaultErrorMappers()).Clone()
	if rich.Code == 0 {
		rich.Code = statusOf(rich.Category)
	}
	return rich
}

func statusOf(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

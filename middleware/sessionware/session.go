package sessionware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultCookieName = "access_session"
	DefaultContextKey = "principal"
	DefaultSessionKey = "session"
)

var (
	defaultTokenLookup = "cookie:" + DefaultCookieName + ",header:" + fiber.HeaderAuthorization

	// ErrMissingSession is returned when no extractor found a session id.
	ErrMissingSession = goerrors.New("missing or malformed session", goerrors.CategoryAuth).
		WithTextCode(goerrors.TextCodeSessionNotFound).
		WithCode(goerrors.CodeUnauthorized)
)

// Resolver loads the live session and principal for a session id.
// *access.SessionManager implements it.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string) (*access.Session, *access.Principal, error)
}

// ValidationListener runs after the session resolved and before the policy
// check.
type ValidationListener func(c *fiber.Ctx, session *access.Session, principal *access.Principal) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler

	// Resolver is required.
	Resolver    Resolver
	ContextKey  string
	SessionKey  string
	TokenLookup string
	AuthScheme  string

	// Optional lets anonymous requests through. Stale or unusable sessions
	// are treated as anonymous too; store failures still reach ErrorHandler.
	Optional     bool
	// RequireAdmin rejects principals without the admin flag.
	RequireAdmin bool
	// Policy, when set, must allow the principal.
	Policy       *access.AccessPolicy

	ValidationListeners []ValidationListener

	// ContextEnricher propagates the session to the request user context.
	// Defaults to access.EnrichContext.
	ContextEnricher func(ctx context.Context, session *access.Session, principal *access.Principal) context.Context
}

// New builds the middleware.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractSessionID(c, extractors)
		if err != nil {
			if cfg.Optional {
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		session, principal, err := cfg.Resolver.Resolve(c.UserContext(), raw)
		if err != nil {
			if cfg.Optional && !access.IsStoreError(err) {
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, session, principal); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		if err := authorize(cfg, principal); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, principal)
		c.Locals(cfg.SessionKey, session)
		c.SetUserContext(cfg.ContextEnricher(c.UserContext(), session, principal))

		return cfg.SuccessHandler(c)
	}
}

func authorize(cfg Config, principal *access.Principal) error {
	if cfg.RequireAdmin && !principal.IsAdmin {
		return access.ErrForbidden
	}
	if cfg.Policy != nil && !access.Decide(*cfg.Policy, principal).Allowed() {
		return access.ErrForbidden
	}
	return nil
}

// RequireAdmin gates a route on the principal stored by a previous New
// middleware.
func RequireAdmin(contextKey ...string) fiber.Handler {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	return func(c *fiber.Ctx) error {
		p, ok := c.Locals(key).(*access.Principal)
		if !ok || p == nil {
			return ErrMissingSession
		}
		if !p.IsAdmin {
			return access.ErrForbidden
		}
		return c.Next()
	}
}

// Principal returns the principal stored under DefaultContextKey.
func Principal(c *fiber.Ctx) (*access.Principal, bool) {
	p, ok := c.Locals(DefaultContextKey).(*access.Principal)
	return p, ok && p != nil
}

// Session returns the session stored under DefaultSessionKey.
func Session(c *fiber.Ctx) (*access.Session, bool) {
	s, ok := c.Locals(DefaultSessionKey).(*access.Session)
	return s, ok && s != nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Resolver == nil {
		panic("ACCESS: session middleware configuration: Resolver is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = access.EnrichContext
	}

	return cfg
}

// DefaultErrorHandler answers with the error's HTTP code, 401 when it has
// none.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.Code != 0 {
		status = rich.Code
	}
	if status >= fiber.StatusInternalServerError {
		return c.Status(status).SendString("session store unavailable")
	}
	if status == fiber.StatusForbidden {
		return c.Status(status).SendString("Forbidden")
	}
	return c.Status(status).SendString("Invalid or expired session")
}

// ExtractSessionID returns the first id found by extractors.
func ExtractSessionID(c *fiber.Ctx, extractors []Extractor) (string, error) {
	var err error = ErrMissingSession
	for _, extractor := range extractors {
		raw, xerr := extractor(c)
		if raw != "" && xerr == nil {
			return raw, nil
		}
		if xerr != nil {
			err = xerr
		}
	}
	return "", err
}

type Extractor func(c *fiber.Ctx) (string, error)

// GetExtractors parses a lookup such as
// "cookie:access_session,header:Authorization,query:sid,param:sid".
func GetExtractors(lookup string, authScheme string) []Extractor {
	extractors := make([]Extractor, 0)
	for _, part := range strings.Split(lookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		switch strings.TrimSpace(source) {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "param":
			extractors = append(extractors, fromParam(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}
	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		v := c.Get(header)
		if authScheme == "" {
			if v == "" {
				return "", ErrMissingSession
			}
			return strings.TrimSpace(v), nil
		}
		l := len(authScheme)
		if len(v) > l+1 && strings.EqualFold(v[:l], authScheme) && v[l] == ' ' {
			return strings.TrimSpace(v[l:]), nil
		}
		return "", ErrMissingSession
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		if v := c.Query(param); v != "" {
			return v, nil
		}
		return "", ErrMissingSession
	}
}

func fromParam(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		if v := c.Params(param); v != "" {
			return v, nil
		}
		return "", ErrMissingSession
	}
}

func fromCookie(name string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		if v := c.Cookies(name); v != "" {
			return v, nil
		}
		return "", ErrMissingSession
	}
}

package sessionware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/middleware/sessionware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, sessionID string) (*access.Session, *access.Principal, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*access.Session)
	p, _ := args.Get(1).(*access.Principal)
	return s, p, args.Error(2)
}

var (
	member = &access.Principal{ID: "p-1", Username: "alice", Active: true, EmailVerified: true}
	admin  = &access.Principal{ID: "p-2", Username: "root", Active: true, EmailVerified: true, IsAdmin: true}
)

func newApp(cfg sessionware.Config) *fiber.App {
	app := fiber.New()
	app.Use(sessionware.New(cfg))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		p, ok := sessionware.Principal(c)
		if !ok {
			return c.SendString("anonymous")
		}
		fromCtx, _ := access.PrincipalFromContext(c.UserContext())
		if fromCtx == nil || fromCtx.ID != p.ID {
			return c.SendStatus(http.StatusTeapot)
		}
		return c.SendString(p.Username)
	})
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestSessionCookie(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "sid-1").
		Return(&access.Session{ID: "sid-1", PrincipalID: member.ID}, member, nil).Once()

	app := newApp(sessionware.Config{Resolver: resolver})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "sid-1"})

	status, body := do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body)
	resolver.AssertExpectations(t)
}

func TestBearerHeader(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "sid-2").
		Return(&access.Session{ID: "sid-2"}, member, nil)

	app := newApp(sessionware.Config{Resolver: resolver})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer sid-2")
	status, body := do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Basic sid-2")
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMissingSession(t *testing.T) {
	resolver := &mockResolver{}
	app := newApp(sessionware.Config{Resolver: resolver})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid or expired session", body)
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"expired", access.ErrSessionExpired, http.StatusUnauthorized},
		{"unknown", access.ErrSessionNotFound, http.StatusUnauthorized},
		{"disabled", access.ErrDisabled, http.StatusForbidden},
		{"store down", access.StoreError("get session", errors.New("dial tcp")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{}
			resolver.On("Resolve", mock.Anything, "sid").Return(nil, nil, tt.err)

			app := newApp(sessionware.Config{Resolver: resolver})
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "sid"})

			status, _ := do(t, app, req)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestOptionalLetsAnonymousThrough(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "stale").Return(nil, nil, access.ErrSessionExpired)
	resolver.On("Resolve", mock.Anything, "broken").Return(nil, nil, access.StoreError("get session", errors.New("timeout")))

	app := newApp(sessionware.Config{Resolver: resolver, Optional: true})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "anonymous", body)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "stale"})
	status, body = do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "anonymous", body)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "broken"})
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestRequireAdminConfig(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "member").Return(&access.Session{ID: "member"}, member, nil)
	resolver.On("Resolve", mock.Anything, "admin").Return(&access.Session{ID: "admin"}, admin, nil)

	app := newApp(sessionware.Config{Resolver: resolver, RequireAdmin: true})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "member"})
	status, body := do(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Forbidden", body)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "admin"})
	status, body = do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "root", body)
}

func TestPolicyGate(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "sid").Return(&access.Session{ID: "sid"}, member, nil)

	policy := access.AccessPolicy{AccessLevel: access.AccessCustom, RequiredRoles: []string{"editor"}}
	app := newApp(sessionware.Config{Resolver: resolver, Policy: &policy})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "sid"})
	status, _ := do(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestValidationListenerAndFilter(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "sid").Return(&access.Session{ID: "sid"}, member, nil)

	var seen []string
	app := newApp(sessionware.Config{
		Resolver: resolver,
		Filter: func(c *fiber.Ctx) bool {
			return c.Query("skip") == "1"
		},
		ValidationListeners: []sessionware.ValidationListener{
			func(_ *fiber.Ctx, s *access.Session, p *access.Principal) error {
				seen = append(seen, s.ID+":"+p.ID)
				return nil
			},
		},
	})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/whoami?skip=1", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "anonymous", body)
	assert.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: sessionware.DefaultCookieName, Value: "sid"})
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"sid:p-1"}, seen)
}

func TestCustomLookup(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "from-query").Return(&access.Session{ID: "from-query"}, member, nil)

	app := newApp(sessionware.Config{Resolver: resolver, TokenLookup: "query:sid"})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/whoami?sid=from-query", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body)
}

func TestRequireAdminHandler(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return sessionware.DefaultErrorHandler(c, err)
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		switch c.Query("as") {
		case "admin":
			c.Locals(sessionware.DefaultContextKey, admin)
		case "member":
			c.Locals(sessionware.DefaultContextKey, member)
		}
		return c.Next()
	})
	app.Get("/admin", sessionware.RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	tests := []struct {
		as     string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"member", http.StatusForbidden},
		{"admin", http.StatusOK},
	}
	for _, tt := range tests {
		status, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/admin?as="+tt.as, nil))
		assert.Equal(t, tt.status, status, "as=%q", tt.as)
	}
}

func TestNewPanicsWithoutResolver(t *testing.T) {
	assert.Panics(t, func() {
		sessionware.New()
	})
}

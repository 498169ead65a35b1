package csrf_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-access/middleware/csrf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = csrf.DeriveKey("csrf-test-secret")

func newApp(cfg csrf.Config) *fiber.App {
	app := fiber.New()
	app.Use(csrf.New(cfg))
	app.Get("/token", func(c *fiber.Ctx) error {
		return c.SendString(csrf.Token(c))
	})
	app.Post("/action", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func issue(t *testing.T, app *fiber.App, sid string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.AddCookie(&http.Cookie{Name: csrf.DefaultCookieName, Value: sid})
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := resp.Header.Get(csrf.DefaultHeaderName)
	require.NotEmpty(t, token)
	return token
}

func TestMiddleware(t *testing.T) {
	app := newApp(csrf.Config{SecureKey: testKey})
	token := issue(t, app, "session-a")

	tests := []struct {
		name   string
		sid    string
		header string
		form   string
		want   int
	}{
		{name: "no session cookie", want: http.StatusNoContent},
		{name: "header token", sid: "session-a", header: token, want: http.StatusNoContent},
		{name: "form token", sid: "session-a", form: token, want: http.StatusNoContent},
		{name: "missing token", sid: "session-a", want: http.StatusForbidden},
		{name: "other session", sid: "session-b", header: token, want: http.StatusForbidden},
		{name: "garbage", sid: "session-a", header: "not-a-token", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.form != "" {
				body := url.Values{csrf.DefaultFormFieldName: {tt.form}}.Encode()
				req = httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(body))
				req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/action", nil)
			}
			if tt.sid != "" {
				req.AddCookie(&http.Cookie{Name: csrf.DefaultCookieName, Value: tt.sid})
			}
			if tt.header != "" {
				req.Header.Set(csrf.DefaultHeaderName, tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestNextSkips(t *testing.T) {
	app := newApp(csrf.Config{
		SecureKey: testKey,
		Next: func(c *fiber.Ctx) bool {
			return c.Get("X-Internal") == "1"
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/action", nil)
	req.AddCookie(&http.Cookie{Name: csrf.DefaultCookieName, Value: "session-a"})
	req.Header.Set("X-Internal", "1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestVerify(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	token, err := csrf.Issue(testKey, "session-a", issued)
	require.NoError(t, err)

	assert.NoError(t, csrf.Verify(testKey, "session-a", token, issued.Add(time.Hour), time.Hour*24))
	assert.ErrorIs(t, csrf.Verify(testKey, "session-a", token, issued.Add(25*time.Hour), 24*time.Hour), csrf.ErrTokenExpired)
	assert.NoError(t, csrf.Verify(testKey, "session-a", token, issued.Add(1000*time.Hour), 0))
	assert.ErrorIs(t, csrf.Verify(testKey, "session-b", token, issued, 0), csrf.ErrTokenMismatch)
	assert.ErrorIs(t, csrf.Verify(csrf.DeriveKey("other"), "session-a", token, issued, 0), csrf.ErrTokenMismatch)
	assert.ErrorIs(t, csrf.Verify(testKey, "session-a", "", issued, 0), csrf.ErrTokenMissing)
	assert.NotContains(t, token, "session-a")
}

func TestNewPanicsOnShortKey(t *testing.T) {
	assert.Panics(t, func() {
		csrf.New(csrf.Config{SecureKey: []byte("short")})
	})
}

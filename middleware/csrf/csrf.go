// Package csrf guards cookie authenticated requests with tokens bound to the
// caller's session.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

var ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_MISSING").
	WithCode(goerrors.CodeForbidden)

var ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_MISMATCH").
	WithCode(goerrors.CodeForbidden)

var ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_EXPIRED").
	WithCode(goerrors.CodeForbidden)

const (
	// DefaultHeaderName carries the token on requests and on responses.
	DefaultHeaderName    = "X-CSRF-Token"
	DefaultFormFieldName = "_token"
	DefaultContextKey    = "csrf_token"
	DefaultCookieName    = "access_session"
	DefaultExpiration    = 24 * time.Hour

	nonceLength = 16
	minKeyLen   = 32
)

// Config defines the configuration for the CSRF middleware.
type Config struct {
	// Next skips the middleware when it returns true.
	Next func(c *fiber.Ctx) bool

	// SecureKey signs tokens. It must be at least 32 bytes.
	SecureKey []byte

	// SessionID returns the value the token is bound to. Requests for which
	// it returns "" are not checked. Defaults to the DefaultCookieName cookie.
	SessionID func(c *fiber.Ctx) string

	HeaderName    string
	FormFieldName string
	ContextKey    string
	SafeMethods   []string
	Expiration    time.Duration

	ErrorHandler fiber.ErrorHandler

	Now func() time.Time
}

// New returns the CSRF middleware. It panics when SecureKey is too short.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		sid := cfg.SessionID(c)
		if sid == "" {
			return c.Next()
		}

		token, err := Issue(cfg.SecureKey, sid, cfg.Now())
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		c.Locals(cfg.ContextKey, token)
		c.Set(cfg.HeaderName, token)

		if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
			return c.Next()
		}

		received := c.Get(cfg.HeaderName)
		if received == "" {
			received = c.FormValue(cfg.FormFieldName)
		}
		if err := Verify(cfg.SecureKey, sid, received, cfg.Now(), cfg.Expiration); err != nil {
			return cfg.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

// Token returns the token issued for the current request, or "".
func Token(c *fiber.Ctx, contextKey ...string) string {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	token, _ := c.Locals(key).(string)
	return token
}

// Issue signs a token for sessionID. The token is
// base64url("unix:nonce:mac") and does not contain the session id.
func Issue(key []byte, sessionID string, at time.Time) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate CSRF nonce")
	}

	head := strconv.FormatInt(at.UTC().Unix(), 10) + ":" + hex.EncodeToString(nonce)
	mac := sign(key, head, sessionID)
	raw := head + ":" + hex.EncodeToString(mac)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// Verify checks token against sessionID. A zero expiration disables the
// age check.
func Verify(key []byte, sessionID, token string, now time.Time, expiration time.Duration) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	got, err := hex.DecodeString(parts[2])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(got, sign(key, parts[0]+":"+parts[1], sessionID)) {
		return ErrTokenMismatch
	}

	if expiration > 0 && now.UTC().After(time.Unix(issued, 0).Add(expiration)) {
		return ErrTokenExpired
	}
	return nil
}

func sign(key []byte, head, sessionID string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(head))
	mac.Write([]byte{0})
	mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}

// DeriveKey stretches an application secret into a key for this package.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte("csrf:" + secret))
	return sum[:]
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if len(cfg.SecureKey) < minKeyLen {
		panic(fmt.Errorf("csrf: secure key must be at least %d bytes, got %d", minKeyLen, len(cfg.SecureKey)))
	}

	if cfg.SessionID == nil {
		cfg.SessionID = func(c *fiber.Ctx) string {
			return c.Cookies(DefaultCookieName)
		}
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultExpiration
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return c.Status(rich.Code).SendString(rich.Message)
	}
	return c.Status(fiber.StatusInternalServerError).SendString("CSRF validation error")
}

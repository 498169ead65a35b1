package access

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func (defLogger) Info(msg string, args ...any)  { slog.Info(msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func (defLogger) Error(msg string, args ...any) { slog.Error(msg, args...) }

// NewSlogLogger adapts a *slog.Logger to Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return slogLogger{l: l}
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// Config holds access options
type Config interface {
	GetSigningKey() string
	GetVerificationMaxAge() time.Duration
	GetSessionIdleTimeout() time.Duration
	GetStalenessWindow() time.Duration
	GetVerificationURL() string
	GetCredentialRules() CredentialRules
}

// Mailer delivers verification links. Implementations own their retry policy.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, principal *Principal, verificationURL string) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, principal *Principal, verificationURL string) error

// SendVerificationEmail implements Mailer.
func (f MailerFunc) SendVerificationEmail(ctx context.Context, principal *Principal, verificationURL string) error {
	if f == nil {
		return nil
	}
	return f(ctx, principal, verificationURL)
}

type noopMailer struct{}

func (noopMailer) SendVerificationEmail(context.Context, *Principal, string) error {
	return nil
}

const (
	// DefaultVerificationMaxAge is the lifetime of an email verification token.
	DefaultVerificationMaxAge = time.Hour
	// DefaultSessionIdleTimeout is the sliding idle window of a session.
	DefaultSessionIdleTimeout = 300 * time.Second
	// DefaultStalenessWindow is the age after which unverified accounts are evicted.
	DefaultStalenessWindow = 7 * 24 * time.Hour
)

// StaticConfig is a plain Config implementation, handy for tests and embedding.
type StaticConfig struct {
	SigningKey         string
	VerificationMaxAge time.Duration
	SessionIdleTimeout time.Duration
	StalenessWindow    time.Duration
	VerificationURL    string
	CredentialRules    CredentialRules
}

func (c StaticConfig) GetSigningKey() string { return c.SigningKey }

func (c StaticConfig) GetVerificationMaxAge() time.Duration {
	if c.VerificationMaxAge <= 0 {
		return DefaultVerificationMaxAge
	}
	return c.VerificationMaxAge
}

func (c StaticConfig) GetSessionIdleTimeout() time.Duration {
	if c.SessionIdleTimeout <= 0 {
		return DefaultSessionIdleTimeout
	}
	return c.SessionIdleTimeout
}

func (c StaticConfig) GetStalenessWindow() time.Duration {
	if c.StalenessWindow <= 0 {
		return DefaultStalenessWindow
	}
	return c.StalenessWindow
}

func (c StaticConfig) GetVerificationURL() string { return c.VerificationURL }

func (c StaticConfig) GetCredentialRules() CredentialRules {
	if c.CredentialRules.isZero() {
		return DefaultCredentialRules()
	}
	return c.CredentialRules
}

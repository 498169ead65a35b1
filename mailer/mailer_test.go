package mailer_test

import (
	"context"
	"errors"
	"html/template"
	"net/smtp"
	"strings"
	"testing"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/mailer"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

type fakeSMTP struct {
	sent []sentMail
	err  error
}

func (f *fakeSMTP) send(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
	return nil
}

var alice = &access.Principal{ID: "p-1", Username: "alice", Email: "alice@example.com"}

func TestSMTPMailerSendsVerificationLink(t *testing.T) {
	fake := &fakeSMTP{}
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m := mailer.NewSMTPMailer("smtp.example.com", 587, "noreply@example.com",
		mailer.WithSendFunc(fake.send),
		mailer.WithSMTPAuth("mailer", "secret"),
		mailer.WithSMTPClock(func() time.Time { return fixed }),
	)

	url := "https://example.com/auth/verify/tok.en-1"
	require.NoError(t, m.SendVerificationEmail(context.Background(), alice, url))
	require.Len(t, fake.sent, 1)

	got := fake.sent[0]
	assert.Equal(t, "smtp.example.com:587", got.addr)
	assert.NotNil(t, got.auth)
	assert.Equal(t, "noreply@example.com", got.from)
	assert.Equal(t, []string{"alice@example.com"}, got.to)

	assert.Contains(t, got.msg, "To: alice@example.com\r\n")
	assert.Contains(t, got.msg, "Subject: "+mailer.DefaultSubject+"\r\n")
	assert.Contains(t, got.msg, "Date: "+fixed.Format(time.RFC1123Z))
	assert.Contains(t, got.msg, `Content-Type: text/html; charset="UTF-8"`)
	assert.Contains(t, got.msg, `href="`+url+`"`)
	assert.Contains(t, got.msg, "<strong>alice</strong>")
	assert.Contains(t, got.msg, "expires in 1 hour")
}

func TestSMTPMailerWithoutAuth(t *testing.T) {
	fake := &fakeSMTP{}
	m := mailer.NewSMTPMailer("localhost", 25, "noreply@example.com", mailer.WithSendFunc(fake.send))

	require.NoError(t, m.SendVerificationEmail(context.Background(), alice, "https://example.com/v/1"))
	require.Len(t, fake.sent, 1)
	assert.Nil(t, fake.sent[0].auth)
}

func TestSMTPMailerEscapesUsername(t *testing.T) {
	m := mailer.NewSMTPMailer("localhost", 25, "noreply@example.com")

	msg, err := m.Compose(&access.Principal{Username: "<script>", Email: "x@example.com"}, "https://example.com/v/1")
	require.NoError(t, err)
	assert.NotContains(t, string(msg), "<script>")
	assert.Contains(t, string(msg), "&lt;script&gt;")
}

func TestSMTPMailerCustomTemplateAndLifetime(t *testing.T) {
	tmpl := template.Must(template.New("custom").Parse(`{{ .Email }} {{ .URL }} {{ .ExpiresIn }}`))
	m := mailer.NewSMTPMailer("localhost", 25, "noreply@example.com",
		mailer.WithTemplate(tmpl),
		mailer.WithSubject("Confirm"),
		mailer.WithLinkLifetime(30*time.Minute),
	)

	msg, err := m.Compose(alice, "https://example.com/v/2")
	require.NoError(t, err)

	body := string(msg)
	assert.Contains(t, body, "Subject: Confirm\r\n")
	assert.True(t, strings.HasSuffix(body, "alice@example.com https://example.com/v/2 30 minutes"))
}

func TestSMTPMailerSendFailure(t *testing.T) {
	boom := errors.New("connection refused")
	m := mailer.NewSMTPMailer("localhost", 25, "noreply@example.com",
		mailer.WithSendFunc((&fakeSMTP{err: boom}).send))

	err := m.SendVerificationEmail(context.Background(), alice, "https://example.com/v/1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var gerr *goerrors.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, goerrors.CategoryExternal, gerr.Category)
	assert.Equal(t, "MAIL_SEND_FAILED", gerr.TextCode)
}

func TestSMTPMailerCanceledContext(t *testing.T) {
	fake := &fakeSMTP{}
	m := mailer.NewSMTPMailer("localhost", 25, "noreply@example.com", mailer.WithSendFunc(fake.send))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.SendVerificationEmail(ctx, alice, "https://example.com/v/1"), context.Canceled)
	assert.Empty(t, fake.sent)
}

type infoLogger struct {
	args []any
}

func (l *infoLogger) Debug(string, ...any) {}
func (l *infoLogger) Warn(string, ...any)  {}
func (l *infoLogger) Error(string, ...any) {}
func (l *infoLogger) Info(_ string, args ...any) {
	l.args = append(l.args, args...)
}

func TestLogMailer(t *testing.T) {
	logger := &infoLogger{}
	m := mailer.NewLogMailer(logger)

	require.NoError(t, m.SendVerificationEmail(context.Background(), alice, "https://example.com/v/3"))
	assert.Contains(t, logger.args, "https://example.com/v/3")
	assert.Contains(t, logger.args, "alice@example.com")
}

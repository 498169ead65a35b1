package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
)

const DefaultSubject = "Please verify your email address"

const verificationTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{ .Subject }}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <p>Hello <strong>{{ .Username }}</strong>,</p>
  <p>Thanks for signing up. Confirm your email address to activate your account:</p>
  <p><a href="{{ .URL }}">Verify email</a></p>
  <p>If the link does not open, paste this address into your browser:</p>
  <p><code>{{ .URL }}</code></p>
  <p>The link expires in {{ .ExpiresIn }}. If you did not register, ignore this message.</p>
</body>
</html>
`

// VerificationData is passed to the verification template.
type VerificationData struct {
	Subject   string
	Username  string
	Email     string
	URL       string
	ExpiresIn string
}

// LogMailer writes verification links to the logger instead of sending mail.
// Useful in development and for the CLI.
type LogMailer struct {
	logger access.Logger
}

var _ access.Mailer = (*LogMailer)(nil)

func NewLogMailer(logger access.Logger) *LogMailer {
	if logger == nil {
		logger = access.NewSlogLogger(nil)
	}
	return &LogMailer{logger: logger}
}

// SendVerificationEmail implements access.Mailer.
func (m *LogMailer) SendVerificationEmail(ctx context.Context, principal *access.Principal, verificationURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("verification email",
		"principal_id", principal.ID,
		"to", principal.Email,
		"url", verificationURL,
	)
	return nil
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer renders an HTML verification message and delivers it over SMTP.
type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	from    string
	subject string
	expires time.Duration
	tmpl    *template.Template
	send    SendFunc
	now     func() time.Time
	logger  access.Logger
}

var _ access.Mailer = (*SMTPMailer)(nil)

// SMTPOption customizes an SMTPMailer.
type SMTPOption func(*SMTPMailer)

// WithSMTPAuth sets PLAIN auth for the given host.
func WithSMTPAuth(username, password string) SMTPOption {
	return func(m *SMTPMailer) {
		if username == "" {
			return
		}
		host, _, _ := net.SplitHostPort(m.addr)
		m.auth = smtp.PlainAuth("", username, password, host)
	}
}

func WithSubject(subject string) SMTPOption {
	return func(m *SMTPMailer) {
		if strings.TrimSpace(subject) != "" {
			m.subject = subject
		}
	}
}

// WithLinkLifetime sets the lifetime quoted in the message body.
func WithLinkLifetime(d time.Duration) SMTPOption {
	return func(m *SMTPMailer) {
		if d > 0 {
			m.expires = d
		}
	}
}

// WithTemplate replaces the HTML body template. It is executed with
// VerificationData.
func WithTemplate(tmpl *template.Template) SMTPOption {
	return func(m *SMTPMailer) {
		if tmpl != nil {
			m.tmpl = tmpl
		}
	}
}

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(m *SMTPMailer) {
		if fn != nil {
			m.send = fn
		}
	}
}

func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(m *SMTPMailer) {
		if now != nil {
			m.now = now
		}
	}
}

func WithSMTPLogger(logger access.Logger) SMTPOption {
	return func(m *SMTPMailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSMTPMailer creates a mailer for host:port sending from from.
func NewSMTPMailer(host string, port int, from string, opts ...SMTPOption) *SMTPMailer {
	m := &SMTPMailer{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		from:    from,
		subject: DefaultSubject,
		expires: access.DefaultVerificationMaxAge,
		tmpl:    template.Must(template.New("verification").Parse(verificationTemplate)),
		send:    smtp.SendMail,
		now:     time.Now,
		logger:  access.NewSlogLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// SendVerificationEmail implements access.Mailer.
func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, principal *access.Principal, verificationURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.Compose(principal, verificationURL)
	if err != nil {
		return err
	}

	if err := m.send(m.addr, m.auth, m.from, []string{principal.Email}, msg); err != nil {
		m.logger.Error("smtp send failed", "to", principal.Email, "addr", m.addr, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send verification email").
			WithTextCode("MAIL_SEND_FAILED")
	}
	m.logger.Debug("verification email sent", "principal_id", principal.ID, "to", principal.Email)
	return nil
}

// Compose renders the full RFC 5322 message.
func (m *SMTPMailer) Compose(principal *access.Principal, verificationURL string) ([]byte, error) {
	var body bytes.Buffer
	err := m.tmpl.Execute(&body, VerificationData{
		Subject:   m.subject,
		Username:  principal.Username,
		Email:     principal.Email,
		URL:       verificationURL,
		ExpiresIn: humanDuration(m.expires),
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render verification email").
			WithTextCode("MAIL_TEMPLATE")
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", m.from)
	header("To", principal.Email)
	header("Subject", mime.QEncoding.Encode("utf-8", m.subject))
	header("Date", m.now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return strconv.Itoa(n) + " hours"
	case d%time.Minute == 0 && d >= time.Minute:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return strconv.Itoa(n) + " minutes"
	}
	return d.String()
}

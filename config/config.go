package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

const (
	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

// Environment variables read by Load after the file.
const (
	EnvSecretKey      = "ACCESS_SECRET_KEY"
	EnvDatabaseDriver = "ACCESS_DATABASE_DRIVER"
	EnvDatabaseDSN    = "ACCESS_DATABASE_DSN"
	EnvMongoURI       = "ACCESS_MONGO_URI"
	EnvHTTPAddr       = "ACCESS_HTTP_ADDR"
	EnvMailPassword   = "ACCESS_MAIL_PASSWORD"
)

const DefaultCleanupInterval = 24 * time.Hour

// Config is the application configuration. It implements access.Config.
type Config struct {
	SecretKey          string                 `yaml:"secret_key"`
	VerificationURL    string                 `yaml:"verification_url"`
	VerificationMaxAge time.Duration          `yaml:"verification_max_age"`
	SessionIdleTimeout time.Duration          `yaml:"session_idle_timeout"`
	StalenessWindow    time.Duration          `yaml:"staleness_window"`
	CleanupInterval    time.Duration          `yaml:"cleanup_interval"`
	BcryptCost         int                    `yaml:"bcrypt_cost"`
	Credentials        access.CredentialRules `yaml:"credentials"`
	Database           Database               `yaml:"database"`
	HTTP               HTTP                   `yaml:"http"`
	Mail               Mail                   `yaml:"mail"`
	Log                Log                    `yaml:"log"`
}

type Database struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	PingTimeout   time.Duration `yaml:"ping_timeout"`
	AutoMigrate   bool          `yaml:"auto_migrate"`
}

type HTTP struct {
	Addr         string        `yaml:"addr"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
	CSRF         bool          `yaml:"csrf"`
	// RememberFor is the cookie lifetime for "remember me" logins. The server
	// side session still follows the idle timeout.
	RememberFor  time.Duration `yaml:"remember_for"`
}

type Mail struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var _ access.Config = (*Config)(nil)

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		VerificationURL:    "http://localhost:8080/auth/verify",
		VerificationMaxAge: access.DefaultVerificationMaxAge,
		SessionIdleTimeout: access.DefaultSessionIdleTimeout,
		StalenessWindow:    access.DefaultStalenessWindow,
		CleanupInterval:    DefaultCleanupInterval,
		Credentials:        access.DefaultCredentialRules(),
		Database: Database{
			Driver:        DriverSQLite,
			DSN:           "file:access.db?cache=shared",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "access",
			PingTimeout:   5 * time.Second,
			AutoMigrate:   true,
		},
		HTTP: HTTP{
			Addr:        ":8080",
			CookieName:  "access_session",
			CSRF:        true,
			RememberFor: 30 * 24 * time.Hour,
		},
		Mail: Mail{
			Driver: MailDriverLog,
			Host:   "localhost",
			Port:   587,
			From:   "noreply@example.com",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, then the YAML file at path when given, then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.Decode(data)
}

// Decode merges YAML into c.
func (c *Config) Decode(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration file").
			WithTextCode("CONFIG_DECODE")
	}
	return nil
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside
// tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvSecretKey, &c.SecretKey)
	str(EnvDatabaseDriver, &c.Database.Driver)
	str(EnvDatabaseDSN, &c.Database.DSN)
	str(EnvMongoURI, &c.Database.MongoURI)
	str(EnvHTTPAddr, &c.HTTP.Addr)
	str(EnvMailPassword, &c.Mail.Password)

	if v, ok := lookup("ACCESS_BCRYPT_COST"); ok && v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "ACCESS_BCRYPT_COST must be an integer").
				WithTextCode("CONFIG_ENV")
		}
		c.BcryptCost = cost
	}
	return nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.SecretKey, validation.Required.Error("secret key is required"), validation.Length(16, 0)),
		validation.Field(&c.VerificationURL, validation.Required, is.URL),
		validation.Field(&c.VerificationMaxAge, validation.Min(time.Second)),
		validation.Field(&c.SessionIdleTimeout, validation.Min(time.Second)),
		validation.Field(&c.StalenessWindow, validation.Min(time.Hour)),
		validation.Field(&c.CleanupInterval, validation.Min(time.Minute)),
		validation.Field(&c.BcryptCost, validation.When(c.BcryptCost != 0, validation.Min(4), validation.Max(31))),
		validation.Field(&c.Database),
		validation.Field(&c.Mail),
		validation.Field(&c.Log),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration").
			WithTextCode("CONFIG_INVALID")
	}
	return nil
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(DriverSQLite, DriverPostgres, DriverMongo, DriverMemory)),
		validation.Field(&d.DSN, validation.When(d.Driver == DriverSQLite || d.Driver == DriverPostgres, validation.Required)),
		validation.Field(&d.MongoURI, validation.When(d.Driver == DriverMongo, validation.Required)),
		validation.Field(&d.MongoDatabase, validation.When(d.Driver == DriverMongo, validation.Required)),
	)
}

func (m Mail) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Driver, validation.Required, validation.In(MailDriverLog, MailDriverSMTP)),
		validation.Field(&m.Host, validation.When(m.Driver == MailDriverSMTP, validation.Required)),
		validation.Field(&m.Port, validation.When(m.Driver == MailDriverSMTP, validation.Required, validation.Max(65535))),
		validation.Field(&m.From, validation.Required, is.EmailFormat),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func (c *Config) GetSigningKey() string                       { return c.SecretKey }
func (c *Config) GetVerificationMaxAge() time.Duration        { return c.VerificationMaxAge }
func (c *Config) GetSessionIdleTimeout() time.Duration        { return c.SessionIdleTimeout }
func (c *Config) GetStalenessWindow() time.Duration           { return c.StalenessWindow }
func (c *Config) GetVerificationURL() string                  { return c.VerificationURL }
func (c *Config) GetCredentialRules() access.CredentialRules { return c.Credentials }

// NewLogger builds the slog logger described by Log.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenPurpose tags what a token may be used for.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email-verification"
	PurposePasswordReset     TokenPurpose = "password-reset"
)

type purposeClaims struct {
	Purpose TokenPurpose `json:"pur"`
	jwt.RegisteredClaims
}

// TokenCodec issues and validates signed, time boxed tokens. It keeps no
// state besides the signing key, so tokens can not be revoked individually.
type TokenCodec struct {
	signingKey []byte
	now        func() time.Time
	logger     Logger
}

// TokenCodecOption customizes codec construction.
type TokenCodecOption func(*TokenCodec)

// WithTokenCodecClock injects a custom clock (useful for tests).
func WithTokenCodecClock(clock func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithTokenCodecLogger overrides the codec logger.
func WithTokenCodecLogger(logger Logger) TokenCodecOption {
	return func(c *TokenCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTokenCodec creates a codec signing with key.
func NewTokenCodec(signingKey string, opts ...TokenCodecOption) *TokenCodec {
	c := &TokenCodec{
		signingKey: []byte(signingKey),
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Issue signs a token for subject restricted to purpose.
func (c *TokenCodec) Issue(subject string, purpose TokenPurpose) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", goerrors.New("token subject can not be empty", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	if len(c.signingKey) == 0 {
		return "", goerrors.New("token signing key is not configured", goerrors.CategoryInternal)
	}

	claims := &purposeClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// Validate checks signature, purpose and age, returning the subject.
// A token is expired once issued-at plus maxAge is before now.
func (c *TokenCodec) Validate(token string, purpose TokenPurpose, maxAge time.Duration) (string, error) {
	claims := &purposeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) && !errors.Is(err, jwt.ErrTokenMalformed) {
			c.logger.Debug("token codec rejected token", "error", err)
		}
		return "", ErrBadSignature
	}

	if !parsed.Valid || claims.Purpose != purpose || claims.Subject == "" || claims.IssuedAt == nil {
		return "", ErrBadSignature
	}

	if claims.IssuedAt.Time.Add(maxAge).Before(c.now()) {
		return "", ErrTokenExpired
	}

	return claims.Subject, nil
}

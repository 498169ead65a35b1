package access

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// CredentialRules configures the username and password format checks.
type CredentialRules struct {
	UsernamePattern string `yaml:"username_pattern" json:"username_pattern"`
	UsernameMin     int    `yaml:"username_min" json:"username_min"`
	UsernameMax     int    `yaml:"username_max" json:"username_max"`
	PasswordMin     int    `yaml:"password_min" json:"password_min"`
	PasswordMax     int    `yaml:"password_max" json:"password_max"`
	RequireUpper    bool   `yaml:"require_upper" json:"require_upper"`
	RequireLower    bool   `yaml:"require_lower" json:"require_lower"`
	RequireDigit    bool   `yaml:"require_digit" json:"require_digit"`
}

// DefaultCredentialRules: usernames of 3-20 letters, digits or underscores and
// passwords of 6-20 chars mixing upper, lower and digits.
func DefaultCredentialRules() CredentialRules {
	return CredentialRules{
		UsernamePattern: `^[a-zA-Z0-9_]+$`,
		UsernameMin:     3,
		UsernameMax:     20,
		PasswordMin:     6,
		PasswordMax:     20,
		RequireUpper:    true,
		RequireLower:    true,
		RequireDigit:    true,
	}
}

func (r CredentialRules) isZero() bool {
	return r == CredentialRules{}
}

// RegisterInput is the payload accepted by AccountManager.Register.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims fields and lowercases the email.
func (in RegisterInput) Normalize() RegisterInput {
	return RegisterInput{
		Username: strings.TrimSpace(in.Username),
		Email:    NormalizeEmail(in.Email),
		Password: in.Password,
	}
}

// ValidateRegistration checks in against the rules.
func (r CredentialRules) ValidateRegistration(in RegisterInput) error {
	usernameRules, err := r.usernameRules()
	if err != nil {
		return err
	}

	err = validation.ValidateStruct(&in,
		validation.Field(&in.Username, usernameRules...),
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, r.passwordRules()...),
	)
	return validationError(err, "invalid registration")
}

// ValidatePassword checks a single password, used by password changes.
func (r CredentialRules) ValidatePassword(password string) error {
	err := validation.Errors{
		"password": validation.Validate(password, r.passwordRules()...),
	}.Filter()
	return validationError(err, "invalid password")
}

func (r CredentialRules) usernameRules() ([]validation.Rule, error) {
	rules := []validation.Rule{
		validation.Required,
		validation.RuneLength(r.UsernameMin, r.UsernameMax),
	}
	if r.UsernamePattern != "" {
		re, err := regexp.Compile(r.UsernamePattern)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid username pattern")
		}
		rules = append(rules, validation.Match(re).Error("may only contain letters, digits and underscores"))
	}
	return rules, nil
}

func (r CredentialRules) passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.RuneLength(r.PasswordMin, r.PasswordMax),
		validation.By(r.passwordComplexity),
	}
}

func (r CredentialRules) passwordComplexity(value any) error {
	s, _ := value.(string)
	var upper, lower, digit bool
	for _, c := range s {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		}
	}

	switch {
	case r.RequireUpper && !upper:
		return errors.New("must contain an uppercase letter")
	case r.RequireLower && !lower:
		return errors.New("must contain a lowercase letter")
	case r.RequireDigit && !digit:
		return errors.New("must contain a digit")
	}
	return nil
}

package httpapi

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	access "github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
)

// RegistrationRequest is the self sign-up payload. Credential format rules
// are enforced by the account manager.
type RegistrationRequest struct {
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r RegistrationRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword,
			validation.Required,
			validation.By(equals(r.Password, "passwords do not match")),
		),
	), "invalid registration")
}

func (r RegistrationRequest) Input() access.RegisterInput {
	return access.RegisterInput{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
	}
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

func (r LoginRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	), "invalid login")
}

type ResendRequest struct {
	Email string `form:"email" json:"email"`
}

func (r ResendRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	), "invalid email")
}

type PasswordChangeRequest struct {
	Current         string `form:"current_password" json:"current_password"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordChangeRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Current, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword,
			validation.Required,
			validation.By(equals(r.Password, "passwords do not match")),
		),
	), "invalid password change")
}

// CreatePrincipalRequest is the operator variant of registration.
type CreatePrincipalRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Admin    bool   `json:"admin"`
}

func (r CreatePrincipalRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	), "invalid principal")
}

type TagsRequest struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// PolicyRequest replaces the policy of a resource. AccessLevel accepts the
// same spellings as access.ParseAccessLevel.
type PolicyRequest struct {
	AccessLevel         string   `json:"access_level"`
	RequiredRoles       []string `json:"required_roles"`
	RequiredPermissions []string `json:"required_permissions"`
	IsPublic            bool     `json:"is_public"`
}

func (r PolicyRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.AccessLevel, validation.Required, validation.By(knownLevel)),
	), "invalid access policy")
}

func (r PolicyRequest) Policy() access.AccessPolicy {
	level, _ := access.ParseAccessLevel(r.AccessLevel)
	return access.AccessPolicy{
		AccessLevel:         level,
		RequiredRoles:       r.RequiredRoles,
		RequiredPermissions: r.RequiredPermissions,
		IsPublic:            r.IsPublic,
	}
}

type ResourceRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Level       int    `json:"level"`
	Parent      string `json:"parent"`
	Rank        int    `json:"rank"`
	ShowInMenu  *bool  `json:"show_in_menu"`
	PolicyRequest
}

func (r ResourceRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Level, validation.Required, validation.In(1, 2)),
		validation.Field(&r.Parent, validation.When(r.Level == 2, validation.Required)),
		validation.Field(&r.AccessLevel, validation.By(knownLevel)),
	), "invalid resource")
}

// Node builds an active node. Visibility in the menu defaults to true.
func (r ResourceRequest) Node() *access.MenuNode {
	n := &access.MenuNode{
		Name:        r.Name,
		Title:       r.Title,
		Path:        r.Path,
		Icon:        r.Icon,
		Description: r.Description,
		Level:       access.MenuLevel(r.Level),
		Parent:      r.Parent,
		Rank:        r.Rank,
		ShowInMenu:  r.ShowInMenu == nil || *r.ShowInMenu,
		Active:      true,
	}
	if r.AccessLevel != "" {
		n.SetPolicy(r.Policy())
	}
	return n
}

// CleanupRequest runs an on-demand sweep. Zero days uses the configured
// staleness window.
type CleanupRequest struct {
	Days          int  `json:"days"`
	IncludeAdmins bool `json:"include_admins"`
}

func (r CleanupRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Days, validation.Min(0)),
	), "invalid cleanup request")
}

func (r CleanupRequest) Staleness(fallback time.Duration) time.Duration {
	if r.Days <= 0 {
		return fallback
	}
	return time.Duration(r.Days) * 24 * time.Hour
}

func equals(want, message string) validation.RuleFunc {
	return func(value any) error {
		if s, _ := value.(string); s != want {
			return errors.New(message)
		}
		return nil
	}
}

func knownLevel(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, ok := access.ParseAccessLevel(s); !ok {
		return errors.New("unknown access level")
	}
	return nil
}

func invalid(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.FromOzzoValidation(err, message).
		WithTextCode(access.TextCodeValidationFailed).
		WithCode(goerrors.CodeBadRequest)
}

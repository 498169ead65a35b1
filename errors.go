package access

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidationFailed  = "VALIDATION_FAILED"
	TextCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	TextCodeDuplicateUsername = "DUPLICATE_USERNAME"
	TextCodeDuplicateResource = "DUPLICATE_RESOURCE"
	TextCodeUpdateConflict    = "CONCURRENT_UPDATE"
	TextCodeAlreadyVerified   = "ALREADY_VERIFIED"
	TextCodeBadSignature      = "BAD_SIGNATURE"
	TextCodeUnknownSubject    = "UNKNOWN_SUBJECT"
	TextCodeSessionExpired    = "SESSION_EXPIRED"
	TextCodeForbidden         = "FORBIDDEN"
	TextCodePrincipalNotFound = "PRINCIPAL_NOT_FOUND"
	TextCodeResourceNotFound  = "RESOURCE_NOT_FOUND"
	TextCodeResourceInUse     = "RESOURCE_HAS_CHILDREN"
	TextCodeInvalidMenuNode   = "INVALID_MENU_NODE"
	TextCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	textCodeInvalidTransition = "INVALID_PRINCIPAL_TRANSITION"
)

// ErrValidation is reachable through errors.Is from every input validation
// failure. The returned error also carries the field messages.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(goerrors.TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateEmail is returned when the email already belongs to a principal.
var ErrDuplicateEmail = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrDuplicateUsername is returned when the username is already taken.
var ErrDuplicateUsername = goerrors.New("username is already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateUsername).
	WithCode(goerrors.CodeConflict)

// ErrUpdateConflict is returned when a conditional update lost a race.
var ErrUpdateConflict = goerrors.New("principal was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeUpdateConflict).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyVerified is returned by resend when there is nothing to verify.
var ErrAlreadyVerified = goerrors.New("email is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials covers both unknown identifiers and wrong passwords.
var ErrInvalidCredentials = goerrors.New("invalid username or password", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotVerified is returned when the principal has not confirmed their email.
var ErrNotVerified = goerrors.New("email address is not verified", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeVerificationRequired).
	WithCode(goerrors.CodeForbidden)

// ErrDisabled is returned when the principal is not active.
var ErrDisabled = goerrors.New("account is disabled", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeAccountDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrTokenExpired is returned when a token is older than its max age.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrBadSignature is returned for tampered, malformed or wrong purpose tokens.
var ErrBadSignature = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeBadSignature).
	WithCode(goerrors.CodeBadRequest)

// ErrUnknownSubject is returned when a valid token names a missing principal.
var ErrUnknownSubject = goerrors.New("token subject not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUnknownSubject).
	WithCode(goerrors.CodeNotFound)

// ErrSessionExpired is returned when a session idled past its deadline.
var ErrSessionExpired = goerrors.New("session has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionNotFound is returned when no session matches the given id.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when an authenticated principal fails a policy.
var ErrForbidden = goerrors.New("access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrPrincipalNotFound is returned when a lookup by id, email or username misses.
var ErrPrincipalNotFound = goerrors.New("principal not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePrincipalNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrResourceNotFound is returned for unknown menu resources.
var ErrResourceNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeResourceNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateResource is returned when a resource name is already in use.
var ErrDuplicateResource = goerrors.New("resource already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateResource).
	WithCode(goerrors.CodeConflict)

// ErrResourceHasChildren is returned when removing a level-1 node with children.
var ErrResourceHasChildren = goerrors.New("resource has child nodes", goerrors.CategoryConflict).
	WithTextCode(TextCodeResourceInUse).
	WithCode(goerrors.CodeConflict)

// ErrInvalidMenuNode is returned for nodes with a bad level or parent.
var ErrInvalidMenuNode = goerrors.New("invalid menu node", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidMenuNode).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid principal state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrStoreUnavailable marks failures of the backing store.
var ErrStoreUnavailable = goerrors.New("store unavailable", goerrors.CategoryExternal).
	WithTextCode(TextCodeStoreUnavailable).
	WithCode(goerrors.CodeInternal)

// StoreError tags a driver failure with ErrStoreUnavailable while keeping the
// cause reachable through errors.Is / errors.As.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsStoreError reports whether err came from the backing store.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func validationError(err error, message string) error {
	if err == nil {
		return nil
	}
	verr := goerrors.FromOzzoValidation(err, message).
		WithTextCode(TextCodeValidationFailed).
		WithCode(goerrors.CodeBadRequest)
	if verr.Source == nil {
		verr.Source = ErrValidation
	} else {
		verr.Source = goerrors.Join(ErrValidation, verr.Source)
	}
	return verr
}

package access

import (
	"slices"
	"strings"
)

// AccessLevel is the minimum trust a principal needs to reach a resource.
type AccessLevel string

const (
	AccessPublic   AccessLevel = "public"
	AccessAllUsers AccessLevel = "all"
	AccessVerified AccessLevel = "verified"
	AccessAdmin    AccessLevel = "admin"
	AccessCustom   AccessLevel = "custom"
)

// ParseAccessLevel maps user input to a level. Unknown values are returned
// verbatim with ok=false and will deny when evaluated.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return AccessPublic, true
	case "all", "allusers", "all_users", "all-users":
		return AccessAllUsers, true
	case "verified":
		return AccessVerified, true
	case "admin":
		return AccessAdmin, true
	case "custom":
		return AccessCustom, true
	}
	return AccessLevel(s), false
}

// Known reports whether the level is one of the recognised values.
func (l AccessLevel) Known() bool {
	switch l {
	case AccessPublic, AccessAllUsers, AccessVerified, AccessAdmin, AccessCustom:
		return true
	}
	return false
}

// AccessPolicy is the declarative requirement attached to a resource.
type AccessPolicy struct {
	AccessLevel         AccessLevel `json:"access_level" yaml:"access_level"`
	RequiredRoles       []string    `json:"required_roles,omitempty" yaml:"required_roles"`
	RequiredPermissions []string    `json:"required_permissions,omitempty" yaml:"required_permissions"`
	IsPublic            bool        `json:"is_public" yaml:"is_public"`
}

// Decision is the outcome of evaluating a policy.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Allowed is shorthand for d == Allow.
func (d Decision) Allowed() bool {
	return d == Allow
}

// Decide evaluates policy for principal. A nil principal is anonymous.
// Evaluation order: public, authentication, all, verified, admin, custom.
// Anything else denies.
func Decide(policy AccessPolicy, principal *Principal) Decision {
	if policy.IsPublic || policy.AccessLevel == AccessPublic {
		return Allow
	}

	if principal == nil || principal.ID == "" {
		return Deny
	}

	switch policy.AccessLevel {
	case AccessAllUsers:
		return Allow
	case AccessVerified:
		return when(principal.EmailVerified)
	case AccessAdmin:
		return when(principal.IsAdmin)
	case AccessCustom:
		if len(policy.RequiredRoles) == 0 && len(policy.RequiredPermissions) == 0 {
			return Allow
		}
		return when(containsAll(principal.Roles, policy.RequiredRoles) &&
			containsAll(principal.Permissions, policy.RequiredPermissions))
	}

	return Deny
}

func when(ok bool) Decision {
	if ok {
		return Allow
	}
	return Deny
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

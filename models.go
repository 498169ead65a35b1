package access

import (
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Principal is the account model
type Principal struct {
	bun.BaseModel `bun:"table:principals,alias:p" bson:"-" json:"-"`

	ID            string    `bun:"id,pk" bson:"_id" json:"id"`
	Email         string    `bun:"email,notnull,unique" bson:"email" json:"email"`
	Username      string    `bun:"username,notnull,unique" bson:"username" json:"username"`
	PasswordHash  string    `bun:"password_hash,notnull" bson:"password_hash" json:"-"`
	Active        bool      `bun:"is_active,notnull" bson:"is_active" json:"is_active"`
	EmailVerified bool      `bun:"email_verified,notnull" bson:"email_verified" json:"email_verified"`
	IsAdmin       bool      `bun:"is_admin,notnull" bson:"is_admin" json:"is_admin"`
	Roles         []string  `bun:"roles,type:jsonb" bson:"roles,omitempty" json:"roles,omitempty"`
	Permissions   []string  `bun:"permissions,type:jsonb" bson:"permissions,omitempty" json:"permissions,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" bson:"updated_at" json:"updated_at"`
}

// Usable reports whether the principal may establish a session.
func (p *Principal) Usable() bool {
	return p != nil && p.Active && p.EmailVerified
}

// HasRole reports whether the principal carries the role tag.
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// HasPermission reports whether the principal carries the permission tag.
func (p *Principal) HasPermission(perm string) bool {
	return p != nil && slices.Contains(p.Permissions, perm)
}

// Clone returns a deep copy so stores never share slices with callers.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = slices.Clone(p.Roles)
	c.Permissions = slices.Clone(p.Permissions)
	return &c
}

// PrincipalFlags holds the columns that define a principal's status.
type PrincipalFlags struct {
	Active        bool
	EmailVerified bool
	IsAdmin       bool
}

// Flags returns the status flags of p.
func (p *Principal) Flags() PrincipalFlags {
	return PrincipalFlags{Active: p.Active, EmailVerified: p.EmailVerified, IsAdmin: p.IsAdmin}
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is a server side login context with a sliding idle deadline.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s" bson:"-" json:"-"`

	ID          string    `bun:"id,pk" bson:"_id" json:"id"`
	PrincipalID string    `bun:"principal_id,notnull" bson:"principal_id" json:"principal_id"`
	Remember    bool      `bun:"remember,notnull" bson:"remember" json:"remember"`
	CreatedAt   time.Time `bun:"created_at,notnull" bson:"created_at" json:"created_at"`
	LastSeenAt  time.Time `bun:"last_seen_at,notnull" bson:"last_seen_at" json:"last_seen_at"`
	ExpiresAt   time.Time `bun:"expires_at,notnull" bson:"expires_at" json:"expires_at"`
}

// Expired reports whether the idle deadline has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// MenuLevel is the depth of a menu node.
type MenuLevel int

const (
	MenuLevelTop   MenuLevel = 1
	MenuLevelChild MenuLevel = 2
)

// MenuNode is a named resource in the two level menu tree. Its policy fields
// decide who can reach it.
type MenuNode struct {
	bun.BaseModel `bun:"table:menu_nodes,alias:mn" bson:"-" json:"-"`

	Seq                 int64       `bun:"seq,pk,autoincrement" bson:"seq" json:"seq"`
	Name                string      `bun:"name,notnull,unique" bson:"_id" json:"name"`
	Title               string      `bun:"title" bson:"title" json:"title"`
	Path                string      `bun:"path" bson:"path" json:"path"`
	Icon                string      `bun:"icon" bson:"icon,omitempty" json:"icon,omitempty"`
	Description         string      `bun:"description" bson:"description,omitempty" json:"description,omitempty"`
	Level               MenuLevel   `bun:"level,notnull" bson:"level" json:"level"`
	Parent              string      `bun:"parent" bson:"parent,omitempty" json:"parent,omitempty"`
	Rank                int         `bun:"rank,notnull" bson:"rank" json:"rank"`
	ShowInMenu          bool        `bun:"show_in_menu,notnull" bson:"show_in_menu" json:"show_in_menu"`
	Active              bool        `bun:"is_active,notnull" bson:"is_active" json:"is_active"`
	AccessLevel         AccessLevel `bun:"access_level,notnull" bson:"access_level" json:"access_level"`
	RequiredRoles       []string    `bun:"required_roles,type:jsonb" bson:"required_roles,omitempty" json:"required_roles,omitempty"`
	RequiredPermissions []string    `bun:"required_permissions,type:jsonb" bson:"required_permissions,omitempty" json:"required_permissions,omitempty"`
	IsPublic            bool        `bun:"is_public,notnull" bson:"is_public" json:"is_public"`
	CreatedAt           time.Time   `bun:"created_at,notnull" bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `bun:"updated_at,notnull" bson:"updated_at" json:"updated_at"`
}

// Policy returns the access policy carried by the node.
func (n *MenuNode) Policy() AccessPolicy {
	return AccessPolicy{
		AccessLevel:         n.AccessLevel,
		RequiredRoles:       slices.Clone(n.RequiredRoles),
		RequiredPermissions: slices.Clone(n.RequiredPermissions),
		IsPublic:            n.IsPublic,
	}
}

// SetPolicy copies policy into the node.
func (n *MenuNode) SetPolicy(policy AccessPolicy) {
	n.AccessLevel = policy.AccessLevel
	n.RequiredRoles = slices.Clone(policy.RequiredRoles)
	n.RequiredPermissions = slices.Clone(policy.RequiredPermissions)
	n.IsPublic = policy.IsPublic
}

// Clone returns a deep copy of the node.
func (n *MenuNode) Clone() *MenuNode {
	if n == nil {
		return nil
	}
	c := *n
	c.RequiredRoles = slices.Clone(n.RequiredRoles)
	c.RequiredPermissions = slices.Clone(n.RequiredPermissions)
	return &c
}

package model

import (
	"strings"
	"time"
)

// Role is the access level of a staff account.  Roles are stored as
// lowercase strings in the `users.role` column.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return r, true
	}
	return "", false
}

// User represents a staff account as stored in the `users` table.  The
// json tags are omitted here because handlers build their own response
// types and the password hash must never leave the service layer.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login name.
//  Email        – unique email address, also accepted as a login name.
//  PasswordHash – bcrypt hash of the password.
//  FullName     – display name.
//  Role         – admin, manager or employee.
//  IsActive     – deactivated accounts cannot log in or refresh.
//  LastLogin    – time of the last successful login (nil if never).
type User struct {
	ID           uint64     // users.id
	Username     string     // users.username
	Email        string     // users.email
	PasswordHash string     // users.password_hash
	FullName     string     // users.full_name
	Role         Role       // users.role
	IsActive     bool       // users.is_active
	CreatedAt    time.Time  // users.created_at
	UpdatedAt    time.Time  // users.updated_at
	LastLogin    *time.Time // users.last_login (nullable)
}

// Principal returns the request-scoped identity derived from u.
func (u User) Principal() Principal {
	return Principal{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
	}
}

// Principal is the authenticated identity attached to a request.  It is
// never persisted.
type Principal struct {
	ID       uint64
	Username string
	Email    string
	FullName string
	Role     Role
}

// UserPatch carries the admin-editable fields of a user.  Nil fields are
// left untouched.
type UserPatch struct {
	FullName *string
	Role     *Role
	IsActive *bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.FullName == nil && p.Role == nil && p.IsActive == nil
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and carries the metadata of the device
// that obtained it.  The raw token is not stored; only its SHA‑256 hash.
type RefreshToken struct {
	ID         uint64    // refresh_tokens.id
	UserID     uint64    // refresh_tokens.user_id
	TokenHash  string    // refresh_tokens.token_hash
	ExpiresAt  time.Time // refresh_tokens.expires_at
	CreatedAt  time.Time // refresh_tokens.created_at
	LastUsedAt time.Time // refresh_tokens.last_used_at
	UserAgent  string    // refresh_tokens.user_agent (empty when unknown)
	IPAddress  string    // refresh_tokens.ip_address (empty when unknown)
	IsRevoked  bool      // refresh_tokens.is_revoked
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Active reports whether the token can still be redeemed at now.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && !t.Expired(now)
}

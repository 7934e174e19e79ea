package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles an identity can hold.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// ParseRole normalises s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// User is an identity that owns tokens and at most one account.
type User struct {
	ID             int64
	Username       string
	FirstName      string
	LastName       string
	Email          string
	Role           Role
	OrganizationID string
	Organization   string
}

// Token is one issued bearer credential. Only the SHA-256 of the credential
// is kept; the credential itself never reaches storage.
type Token struct {
	ID        string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Live reports whether the token is neither expired nor revoked at now.
func (t *Token) Live(now time.Time) bool {
	if t == nil || t.Revoked {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// OwnedBy reports whether u is the identity this token was issued to.
func (t *Token) OwnedBy(u *User) bool {
	return t != nil && u != nil && t.UserID == u.ID
}

// Account is auxiliary profile data, one per user.
type Account struct {
	ID          int64
	UserID      int64
	DisplayName string
	Phone       string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BelongsTo reports whether the account is the profile of u.
func (a *Account) BelongsTo(u *User) bool {
	return a != nil && u != nil && a.UserID == u.ID
}

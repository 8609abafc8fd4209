// Package users manages the dashboard accounts that operate the clinic
// assistant.
package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStaff
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrLastAdmin          = errors.New("cannot remove the last administrator")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUser        = errors.New("invalid user")
)

// User is a dashboard account. Permissions gate dashboard sections per user.
type User struct {
	ID           int64           `json:"id"`
	Email        string          `json:"email"`
	Role         Role            `json:"role"`
	Permissions  map[string]bool `json:"permissions"`
	PasswordHash string          `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Repository interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u User) (*User, error)
	// Update writes email, role and permissions, and the hash when non-empty.
	// Demoting the last admin fails with ErrLastAdmin.
	Update(ctx context.Context, u User) (*User, error)
	// Delete fails with ErrLastAdmin when u is the only admin left.
	Delete(ctx context.Context, id int64) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

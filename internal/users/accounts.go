package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

const minPasswordLength = 8

// Accounts applies password hashing and validation on top of a Repository.
type Accounts struct {
	repo   Repository
	logger *logging.Logger
	cost   int
}

func NewAccounts(repo Repository, logger *logging.Logger) *Accounts {
	if logger == nil {
		logger = logging.Default()
	}
	return &Accounts{repo: repo, logger: logger, cost: bcrypt.DefaultCost}
}

// UserInput is the dashboard's create/update payload. An empty Password on
// update keeps the current one.
type UserInput struct {
	Email       string          `json:"email"`
	Password    string          `json:"password"`
	Role        Role            `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

// Authenticate checks email and password, returning ErrInvalidCredentials for
// an unknown email or a wrong password alike.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := a.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		a.logger.Info("login rejected", "email", u.Email)
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (a *Accounts) List(ctx context.Context) ([]User, error) {
	return a.repo.List(ctx)
}

func (a *Accounts) Create(ctx context.Context, in UserInput) (*User, error) {
	if in.Role == "" {
		in.Role = RoleStaff
	}
	if err := validate(in, true); err != nil {
		return nil, err
	}
	hash, err := a.hash(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := a.repo.Create(ctx, User{
		Email:        in.Email,
		Role:         in.Role,
		Permissions:  in.Permissions,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("user created", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (a *Accounts) Update(ctx context.Context, id int64, in UserInput) (*User, error) {
	if err := validate(in, false); err != nil {
		return nil, err
	}
	var hash string
	if in.Password != "" {
		h, err := a.hash(in.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	return a.repo.Update(ctx, User{
		ID:           id,
		Email:        in.Email,
		Role:         in.Role,
		Permissions:  in.Permissions,
		PasswordHash: hash,
	})
}

func (a *Accounts) Delete(ctx context.Context, id int64) error {
	if err := a.repo.Delete(ctx, id); err != nil {
		return err
	}
	a.logger.Info("user deleted", "user_id", id)
	return nil
}

// EnsureAdmin creates an admin with the given credentials unless the email
// already exists.
func (a *Accounts) EnsureAdmin(ctx context.Context, email, password string) (*User, error) {
	u, err := a.repo.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return a.Create(ctx, UserInput{Email: email, Password: password, Role: RoleAdmin})
}

func (a *Accounts) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func validate(in UserInput, requirePassword bool) error {
	if !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if !in.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, in.Role)
	}
	if (requirePassword || in.Password != "") && len(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidUser, minPasswordLength)
	}
	return nil
}

package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-assistant/internal/db"
)

const userColumns = `id, email, role, permissions, password_hash, created_at`

type PgRepository struct {
	db db.Querier
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	var perms []byte
	if err := row.Scan(&u.ID, &u.Email, &role, &perms, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.Permissions = map[string]bool{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &u, nil
}

func encodePermissions(p map[string]bool) ([]byte, error) {
	if p == nil {
		p = map[string]bool{}
	}
	return json.Marshal(p)
}

func (r *PgRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *PgRepository) Get(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PgRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
}

func (r *PgRepository) Create(ctx context.Context, u User) (*User, error) {
	perms, err := encodePermissions(u.Permissions)
	if err != nil {
		return nil, err
	}
	created, err := scanUser(r.db.QueryRow(ctx, `
		INSERT INTO users (email, role, permissions, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		normalizeEmail(u.Email), string(u.Role), perms, u.PasswordHash,
	))
	if db.IsUniqueViolation(err, "") {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, u User) (*User, error) {
	perms, err := encodePermissions(u.Permissions)
	if err != nil {
		return nil, err
	}

	var updated *User
	err = db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		current, err := lockRole(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if current == RoleAdmin && u.Role != RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx); err != nil {
				return err
			}
		}

		updated, err = scanUser(tx.QueryRow(ctx, `
			UPDATE users SET
				email = $2,
				role = $3,
				permissions = $4,
				password_hash = CASE WHEN $5::text <> '' THEN $5::text ELSE password_hash END
			WHERE id = $1
			RETURNING `+userColumns,
			u.ID, normalizeEmail(u.Email), string(u.Role), perms, u.PasswordHash,
		))
		return err
	})
	if db.IsUniqueViolation(err, "") {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		role, err := lockRole(ctx, tx, id)
		if err != nil {
			return err
		}
		if role == RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

func lockRole(ctx context.Context, tx pgx.Tx, id int64) (Role, error) {
	var role string
	err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock user: %w", err)
	}
	return Role(role), nil
}

// ensureOtherAdmin locks every admin row so two concurrent removals cannot
// both see a second admin.
func ensureOtherAdmin(ctx context.Context, tx pgx.Tx) error {
	var admins int64
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT id FROM users WHERE role = 'admin' FOR UPDATE
		) a`).Scan(&admins)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins <= 1 {
		return ErrLastAdmin
	}
	return nil
}

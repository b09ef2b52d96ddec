package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectUser = `SELECT id, email, name, role_key, is_active, created_at FROM users`

// GetUser loads one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, selectUser+` WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// ListByRole returns all holders of roleKey.
func (r *Repository) ListByRole(ctx context.Context, roleKey string) ([]User, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectUser+` WHERE role_key = $1 ORDER BY id`, roleKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountByRole aggregates users per role.
func (r *Repository) CountByRole(ctx context.Context) (map[string]RoleCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT role_key, COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM users GROUP BY role_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]RoleCount)
	for rows.Next() {
		var key string
		var total, active int
		if err := rows.Scan(&key, &total, &active); err != nil {
			return nil, err
		}
		out[key] = RoleCount{Total: total, Active: active}
	}
	return out, rows.Err()
}

// Upsert inserts or updates a user by email, used by seeding.
func (r *Repository) Upsert(ctx context.Context, u User) (User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO users (email, name, role_key, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role_key = EXCLUDED.role_key, is_active = EXCLUDED.is_active
		RETURNING id, email, name, role_key, is_active, created_at`, u.Email, u.Name, u.RoleKey, u.IsActive)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RoleKey, &u.IsActive, &u.CreatedAt)
	return u, err
}

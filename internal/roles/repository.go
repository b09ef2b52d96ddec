package roles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
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

const selectRole = `SELECT r.key, r.display_name, r.hierarchy_level, r.protected, r.updated_at,
	COALESCE(array_agg(rp.permission_key ORDER BY rp.permission_key) FILTER (WHERE rp.permission_key IS NOT NULL), '{}')
	FROM roles r LEFT JOIN role_permissions rp ON rp.role_key = r.key`

// GetRole loads a role with its defaults.
func (r *Repository) GetRole(ctx context.Context, key string) (Role, error) {
	return r.getRole(ctx, key, false)
}

// GetRoleForUpdate loads a role and locks its row until the transaction ends.
func (r *Repository) GetRoleForUpdate(ctx context.Context, key string) (Role, error) {
	return r.getRole(ctx, key, true)
}

func (r *Repository) getRole(ctx context.Context, key string, forUpdate bool) (Role, error) {
	q := db.Conn(ctx, r.pool)
	if forUpdate {
		var locked string
		err := q.QueryRow(ctx, `SELECT key FROM roles WHERE key = $1 FOR UPDATE`, key).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		if err != nil {
			return Role{}, err
		}
	}
	role, err := scanRole(q.QueryRow(ctx, selectRole+` WHERE r.key = $1 GROUP BY r.key`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

// ListRoles returns all roles, highest level first.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectRole+` GROUP BY r.key ORDER BY r.hierarchy_level DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// ReplacePermissions rewrites the role's defaults. It must run inside a transaction.
func (r *Repository) ReplacePermissions(ctx context.Context, key string, set permissions.Set, at time.Time) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_key = $1`, key); err != nil {
		return err
	}
	if set.Len() > 0 {
		if _, err := q.Exec(ctx, `INSERT INTO role_permissions (role_key, permission_key)
			SELECT $1, unnest($2::text[])`, key, set.Sorted()); err != nil {
			return err
		}
	}
	tag, err := q.Exec(ctx, `UPDATE roles SET updated_at = $2 WHERE key = $1`, key, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// InsertIfAbsent inserts a seeded role and its defaults unless the key exists.
func (r *Repository) InsertIfAbsent(ctx context.Context, role Role) (bool, error) {
	q := db.Conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `INSERT INTO roles (key, display_name, hierarchy_level, protected, updated_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING`,
		role.Key, role.DisplayName, int(role.Level), role.Protected, role.UpdatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if role.Permissions.Len() > 0 {
		if _, err := q.Exec(ctx, `INSERT INTO role_permissions (role_key, permission_key)
			SELECT $1, unnest($2::text[])`, role.Key, role.Permissions.Sorted()); err != nil {
			return false, err
		}
	}
	return true, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var level int
	var keys []string
	if err := row.Scan(&role.Key, &role.DisplayName, &level, &role.Protected, &role.UpdatedAt, &keys); err != nil {
		return Role{}, err
	}
	role.Level = Level(level)
	role.Permissions = permissions.NewSet(keys...)
	role.UpdatedAt = role.UpdatedAt.UTC()
	return role, nil
}

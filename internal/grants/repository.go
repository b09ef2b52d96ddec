package grants

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectGrant = `SELECT id, user_id, permission_key, granted_by, reason, granted_at, expires_at,
	revoked, revoked_by, revoked_at, COALESCE(revoke_reason, '') FROM custom_permission_grants`

// lockUserSQL keys the lock on the full bigint user id.
const lockUserSQL = `SELECT pg_advisory_xact_lock(hashtextextended('custom_permission_grants:' || $1::bigint::text, 0))`

// LockUser takes a transaction scoped advisory lock on the user, so the
// active-grant check holds across replicas.
func (r *Repository) LockUser(ctx context.Context, userID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, lockUserSQL, userID)
	return err
}

// Insert stores a new grant.
func (r *Repository) Insert(ctx context.Context, g Grant) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO custom_permission_grants
		(id, user_id, permission_key, granted_by, reason, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.UserID, g.PermissionKey, g.GrantedBy, g.Reason, g.GrantedAt, toPgTime(g.ExpiresAt))
	return err
}

// ListByUser returns every grant of the user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectGrant+` WHERE user_id = $1 ORDER BY granted_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	return collectGrants(rows)
}

// ListUnrevoked returns the user's never revoked grants.
func (r *Repository) ListUnrevoked(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectGrant+` WHERE user_id = $1 AND NOT revoked ORDER BY granted_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	return collectGrants(rows)
}

// MarkRevoked revokes the listed grants.
func (r *Repository) MarkRevoked(ctx context.Context, ids []uuid.UUID, by int64, at time.Time, reason string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE custom_permission_grants
		SET revoked = TRUE, revoked_by = $2, revoked_at = $3, revoke_reason = NULLIF($4, '')
		WHERE id = ANY($1) AND NOT revoked`, ids, by, at, reason)
	return err
}

func collectGrants(rows pgx.Rows) ([]Grant, error) {
	defer rows.Close()
	out := make([]Grant, 0)
	for rows.Next() {
		var g Grant
		var expiresAt, revokedAt pgtype.Timestamptz
		var revokedBy pgtype.Int8
		if err := rows.Scan(&g.ID, &g.UserID, &g.PermissionKey, &g.GrantedBy, &g.Reason, &g.GrantedAt,
			&expiresAt, &g.Revoked, &revokedBy, &revokedAt, &g.RevokeReason); err != nil {
			return nil, err
		}
		g.GrantedAt = g.GrantedAt.UTC()
		g.ExpiresAt = fromPgTime(expiresAt)
		g.RevokedAt = fromPgTime(revokedAt)
		if revokedBy.Valid {
			by := revokedBy.Int64
			g.RevokedBy = &by
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func toPgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromPgTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

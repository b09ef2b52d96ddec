package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Repository is the PostgreSQL audit store. A trigger rejects UPDATE and
// DELETE on audit_log, so rows cannot change after commit.
type Repository struct {
	pool *pgxpool.Pool
	tx   *db.PoolTransactor
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, tx: db.NewPoolTransactor(pool)}
}

const selectEntry = `SELECT id, action_type, target_type, target_id, performed_by, performed_at,
	old_value, new_value, reason, prev_checksum, checksum FROM audit_log`

const filterClause = ` WHERE ($1::text IS NULL OR action_type = $1)
	AND ($2::text IS NULL OR target_type = $2)
	AND ($3::text IS NULL OR target_id = $3)
	AND ($4::bigint IS NULL OR performed_by = $4)
	AND ($5::timestamptz IS NULL OR performed_at >= $5)
	AND ($6::timestamptz IS NULL OR performed_at <= $6)`

// Append implements Store. The chain head is read under a transaction scoped
// advisory lock so concurrent appends link linearly.
func (r *Repository) Append(ctx context.Context, e Entry, seal SealFunc) (Entry, error) {
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('audit_log_chain'))`); err != nil {
			return fmt.Errorf("lock chain: %w", err)
		}
		err := q.QueryRow(ctx, `SELECT checksum FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&e.PrevChecksum)
		if errors.Is(err, pgx.ErrNoRows) {
			e.PrevChecksum = ""
		} else if err != nil {
			return fmt.Errorf("read chain head: %w", err)
		}
		if err := q.QueryRow(ctx, `SELECT nextval('audit_log_id_seq')`).Scan(&e.ID); err != nil {
			return fmt.Errorf("next id: %w", err)
		}
		e.Checksum = seal(e.PrevChecksum, e)
		_, err = q.Exec(ctx, `INSERT INTO audit_log
			(id, action_type, target_type, target_id, performed_by, performed_at, old_value, new_value, reason, prev_checksum, checksum)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, string(e.ActionType), string(e.TargetType), e.TargetID, e.PerformedBy, e.PerformedAt,
			jsonArg(e.OldValue), jsonArg(e.NewValue), e.Reason, e.PrevChecksum, e.Checksum)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}
	return e, nil
}

// Query implements Store.
func (r *Repository) Query(ctx context.Context, f Filters, offset, limit int) ([]Entry, int, error) {
	q := db.Conn(ctx, r.pool)
	args := filterArgs(f)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+filterClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, selectEntry+filterClause+` ORDER BY performed_at DESC, id DESC LIMIT $7 OFFSET $8`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	entries, err := collectEntries(rows)
	return entries, total, err
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectEntry+` WHERE id = $1`, id)
	if err != nil {
		return Entry{}, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, shared.ErrNotFound
	}
	return entries[0], nil
}

// Scan implements Store.
func (r *Repository) Scan(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, selectEntry+` WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var action, target string
		var oldValue, newValue []byte
		if err := rows.Scan(&e.ID, &action, &target, &e.TargetID, &e.PerformedBy, &e.PerformedAt,
			&oldValue, &newValue, &e.Reason, &e.PrevChecksum, &e.Checksum); err != nil {
			return nil, err
		}
		e.ActionType = ActionType(action)
		e.TargetType = TargetType(target)
		e.PerformedAt = e.PerformedAt.UTC()
		e.OldValue = oldValue
		e.NewValue = newValue
		out = append(out, e)
	}
	return out, rows.Err()
}

func filterArgs(f Filters) []any {
	var performedBy pgtype.Int8
	if f.PerformedBy != nil {
		performedBy = pgtype.Int8{Int64: *f.PerformedBy, Valid: true}
	}
	return []any{
		optionalText(string(f.ActionType)),
		optionalText(string(f.TargetType)),
		optionalText(f.TargetID),
		performedBy,
		toPgTime(f.StartDate),
		toPgTime(f.EndDate),
	}
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func toPgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

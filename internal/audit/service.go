package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

const (
	exportBatch = 500
	verifyBatch = 1000
)

// Store persists entries. It never exposes mutation of an existing entry.
type Store interface {
	// Append assigns the next id and previous checksum, seals e and persists it,
	// joining the transaction carried by ctx.
	Append(ctx context.Context, e Entry, seal SealFunc) (Entry, error)
	// Query returns one page ordered by performedAt then id, both descending, and the total.
	Query(ctx context.Context, f Filters, offset, limit int) ([]Entry, int, error)
	Get(ctx context.Context, id int64) (Entry, error)
	// Scan returns up to limit entries with id > afterID in ascending id order.
	Scan(ctx context.Context, afterID int64, limit int) ([]Entry, error)
}

// Service is the audit logger shared by every mutating component.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the audit service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records e and returns its id. Any store failure is reported as a
// retryable consistency error so the caller's transaction rolls back.
func (s *Service) Append(ctx context.Context, e Entry) (int64, error) {
	if e.ActionType == "" || e.TargetType == "" || e.TargetID == "" {
		return 0, fmt.Errorf("audit: entry requires action, target type and target id")
	}
	// Postgres keeps microseconds; sealing the stored precision keeps the chain verifiable.
	e.PerformedAt = s.now().UTC().Truncate(time.Microsecond)
	stored, err := s.store.Append(ctx, e, Seal)
	if err != nil {
		s.logger.Error("audit append failed",
			slog.String("action_type", string(e.ActionType)),
			slog.String("target_id", e.TargetID),
			slog.Any("error", err))
		return 0, shared.Wrap(shared.KindConsistency, "audit log unavailable; change was not applied", err)
	}
	return stored.ID, nil
}

// Query returns the filtered page, newest first.
func (s *Service) Query(ctx context.Context, f Filters, page, limit int) (Page, error) {
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return Page{}, shared.E(shared.KindValidation, "startDate must not be after endDate")
	}
	page, limit = shared.NormalizePage(page, limit)
	rows, total, err := s.store.Query(ctx, f, shared.Offset(page, limit), limit)
	if err != nil {
		return Page{}, fmt.Errorf("audit: query: %w", err)
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Page{Data: rows, Pagination: shared.NewPagination(page, limit, total)}, nil
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	e, err := s.store.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Entry{}, shared.Wrap(shared.KindNotFound, fmt.Sprintf("audit entry %d not found", id), err)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("audit: get %d: %w", id, err)
	}
	return e, nil
}

// Export returns every entry matching f, newest first.
func (s *Service) Export(ctx context.Context, f Filters) ([]Entry, error) {
	out := make([]Entry, 0)
	for offset := 0; ; offset += exportBatch {
		rows, total, err := s.store.Query(ctx, f, offset, exportBatch)
		if err != nil {
			return nil, fmt.Errorf("audit: export: %w", err)
		}
		out = append(out, rows...)
		if len(rows) < exportBatch || len(out) >= total {
			return out, nil
		}
	}
}

// Verify walks the whole chain in id order and reports the first broken link.
func (s *Service) Verify(ctx context.Context) (VerifyReport, error) {
	v := newChainVerifier()
	var after int64
	for {
		rows, err := s.store.Scan(ctx, after, verifyBatch)
		if err != nil {
			return VerifyReport{}, fmt.Errorf("audit: verify: %w", err)
		}
		for _, e := range rows {
			if !v.feed(e) {
				s.logger.Warn("audit chain broken", slog.Int64("entry_id", e.ID), slog.String("problem", v.report.Problem))
				return v.report, nil
			}
			after = e.ID
		}
		if len(rows) < verifyBatch {
			return v.report, nil
		}
	}
}

// Diff is the read-side difference between two permission set snapshots.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// HasSetSnapshots reports whether e stores permission sets that RoleDiff can compare.
func HasSetSnapshots(e Entry) bool {
	return e.ActionType == ActionRoleUpdate || e.ActionType == ActionReset
}

// RoleDiff computes added = new − old and removed = old − new.
func RoleDiff(e Entry) (Diff, error) {
	if !HasSetSnapshots(e) {
		return Diff{}, shared.E(shared.KindValidation, "%s entries do not carry permission set snapshots", e.ActionType)
	}
	var before, after permissions.Set
	if err := decodeSet(e.OldValue, &before); err != nil {
		return Diff{}, fmt.Errorf("audit: decode old value of %d: %w", e.ID, err)
	}
	if err := decodeSet(e.NewValue, &after); err != nil {
		return Diff{}, fmt.Errorf("audit: decode new value of %d: %w", e.ID, err)
	}
	return Diff{
		Added:   after.Difference(before).Sorted(),
		Removed: before.Difference(after).Sorted(),
	}, nil
}

func decodeSet(raw json.RawMessage, dst *permissions.Set) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = permissions.NewSet()
		return nil
	}
	return json.Unmarshal(raw, dst)
}

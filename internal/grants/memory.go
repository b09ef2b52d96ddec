package grants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// MemoryRepository keeps grants in process.
type MemoryRepository struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]Grant
}

// NewMemoryRepository builds an in-memory grant store holding seed.
func NewMemoryRepository(seed ...Grant) *MemoryRepository {
	repo := &MemoryRepository{grants: make(map[uuid.UUID]Grant, len(seed))}
	for _, g := range seed {
		repo.grants[g.ID] = g
	}
	return repo
}

// LockUser implements RepositoryPort. The service's keyed lock already
// serializes writers in process.
func (m *MemoryRepository) LockUser(context.Context, int64) error { return nil }

// Insert implements RepositoryPort.
func (m *MemoryRepository) Insert(ctx context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[g.ID] = g
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.grants, g.ID)
		m.mu.Unlock()
	})
	return nil
}

// ListByUser implements RepositoryPort.
func (m *MemoryRepository) ListByUser(_ context.Context, userID int64) ([]Grant, error) {
	return m.filter(func(g Grant) bool { return g.UserID == userID }), nil
}

// ListUnrevoked implements RepositoryPort.
func (m *MemoryRepository) ListUnrevoked(_ context.Context, userID int64) ([]Grant, error) {
	return m.filter(func(g Grant) bool { return g.UserID == userID && !g.Revoked }), nil
}

// MarkRevoked implements RepositoryPort.
func (m *MemoryRepository) MarkRevoked(ctx context.Context, ids []uuid.UUID, by int64, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := make([]Grant, 0, len(ids))
	for _, id := range ids {
		g, ok := m.grants[id]
		if !ok {
			return shared.ErrNotFound
		}
		prev = append(prev, g)
	}
	for _, g := range prev {
		revokedBy, revokedAt := by, at
		g.Revoked = true
		g.RevokedBy = &revokedBy
		g.RevokedAt = &revokedAt
		g.RevokeReason = reason
		m.grants[g.ID] = g
	}
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		for _, g := range prev {
			m.grants[g.ID] = g
		}
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryRepository) filter(keep func(Grant) bool) []Grant {
	m.mu.RLock()
	out := make([]Grant, 0)
	for _, g := range m.grants {
		if keep(g) {
			out = append(out, g)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.After(out[j].GrantedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

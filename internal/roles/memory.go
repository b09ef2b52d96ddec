package roles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// MemoryRepository keeps the catalog in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewMemoryRepository builds an in-memory catalog holding seed.
func NewMemoryRepository(seed ...Role) *MemoryRepository {
	repo := &MemoryRepository{roles: make(map[string]Role, len(seed))}
	for _, role := range seed {
		repo.roles[role.Key] = role
	}
	return repo
}

// GetRole implements RepositoryPort.
func (m *MemoryRepository) GetRole(_ context.Context, key string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[key]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

// GetRoleForUpdate implements RepositoryPort. Writers are already serialized
// by the role lock and the memory transactor.
func (m *MemoryRepository) GetRoleForUpdate(ctx context.Context, key string) (Role, error) {
	return m.GetRole(ctx, key)
}

// ListRoles implements RepositoryPort.
func (m *MemoryRepository) ListRoles(context.Context) ([]Role, error) {
	m.mu.RLock()
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out, nil
}

// ReplacePermissions implements RepositoryPort.
func (m *MemoryRepository) ReplacePermissions(ctx context.Context, key string, set permissions.Set, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.roles[key]
	if !ok {
		return shared.ErrNotFound
	}
	next := prev
	next.Permissions = set
	next.UpdatedAt = at
	m.roles[key] = next
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		m.roles[key] = prev
		m.mu.Unlock()
	})
	return nil
}

// InsertIfAbsent implements RepositoryPort.
func (m *MemoryRepository) InsertIfAbsent(ctx context.Context, role Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.Key]; ok {
		return false, nil
	}
	m.roles[role.Key] = role
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.roles, role.Key)
		m.mu.Unlock()
	})
	return true, nil
}

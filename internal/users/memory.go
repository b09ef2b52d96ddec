package users

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

//go:embed fixtures.yaml
var devFixtures []byte

// MemoryRepository keeps users in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[int64]User
}

// NewMemoryRepository builds an empty in-memory store.
func NewMemoryRepository(seed ...User) *MemoryRepository {
	repo := &MemoryRepository{users: make(map[int64]User)}
	for _, u := range seed {
		repo.Put(u)
	}
	return repo
}

// Put inserts or replaces a user.
func (m *MemoryRepository) Put(u User) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

// GetUser implements RepositoryPort.
func (m *MemoryRepository) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

// ListByRole implements RepositoryPort.
func (m *MemoryRepository) ListByRole(_ context.Context, roleKey string) ([]User, error) {
	m.mu.RLock()
	out := make([]User, 0)
	for _, u := range m.users {
		if u.RoleKey == roleKey {
			out = append(out, u)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountByRole implements RepositoryPort.
func (m *MemoryRepository) CountByRole(context.Context) (map[string]RoleCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]RoleCount)
	for _, u := range m.users {
		c := out[u.RoleKey]
		c.Total++
		if u.IsActive {
			c.Active++
		}
		out[u.RoleKey] = c
	}
	return out, nil
}

type fixtureFile struct {
	Users []User `yaml:"users"`
}

// LoadFixtures parses a YAML user list.
func LoadFixtures(r io.Reader) ([]User, error) {
	var file fixtureFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("users: decode fixtures: %w", err)
	}
	return file.Users, nil
}

// DevFixtures returns the users bundled for local development.
func DevFixtures() ([]User, error) {
	return LoadFixtures(bytes.NewReader(devFixtures))
}

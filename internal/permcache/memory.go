package permcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process Cache: a TTL bound LRU of snapshots plus
// generation counters.
type Memory struct {
	snaps *lru.LRU[int64, Snapshot]

	mu     sync.RWMutex
	global int64
	roles  map[string]int64
	users  map[int64]int64
}

// NewMemory builds a Memory cache holding at most size snapshots for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Memory{
		snaps: lru.NewLRU[int64, Snapshot](size, nil, ttl),
		roles: make(map[string]int64),
		users: make(map[int64]int64),
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, userID int64) (Snapshot, bool, error) {
	snap, ok := m.snaps.Get(userID)
	return snap, ok, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, snap Snapshot) error {
	m.snaps.Add(snap.UserID, snap)
	return nil
}

// Stamp implements Cache.
func (m *Memory) Stamp(_ context.Context, userID int64, roleKey string) (Stamp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stamp{Global: m.global, Role: m.roles[roleKey], User: m.users[userID]}, nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, userID int64) error {
	m.mu.Lock()
	m.users[userID]++
	m.mu.Unlock()
	m.snaps.Remove(userID)
	return nil
}

// InvalidateRole implements Cache. Snapshots of holders go stale on their
// next read instead of being scanned now.
func (m *Memory) InvalidateRole(_ context.Context, roleKey string) error {
	m.mu.Lock()
	m.roles[roleKey]++
	m.mu.Unlock()
	return nil
}

// InvalidateAll implements Cache.
func (m *Memory) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	m.global++
	m.mu.Unlock()
	m.snaps.Purge()
	return nil
}

// Len reports the number of cached snapshots.
func (m *Memory) Len() int { return m.snaps.Len() }

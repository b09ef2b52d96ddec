package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// MemoryStore keeps the chain in process. Entries are only ever appended;
// a rolled back transaction withdraws the entry it appended.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, e Entry, seal SealFunc) (Entry, error) {
	m.mu.Lock()
	e.ID = m.nextID
	m.nextID++
	if n := len(m.entries); n > 0 {
		e.PrevChecksum = m.entries[n-1].Checksum
	} else {
		e.PrevChecksum = ""
	}
	e.Checksum = seal(e.PrevChecksum, e)
	m.entries = append(m.entries, e)
	m.mu.Unlock()

	id := e.ID
	db.OnRollback(ctx, func() { m.withdraw(id) })
	return e, nil
}

func (m *MemoryStore) withdraw(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, f Filters, offset, limit int) ([]Entry, int, error) {
	m.mu.RLock()
	matched := make([]Entry, 0)
	for _, e := range m.entries {
		if matches(f, e) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.PerformedAt.Equal(b.PerformedAt) {
			return a.PerformedAt.After(b.PerformedAt)
		}
		return a.ID > b.ID
	})
	total := len(matched)
	if offset < 0 || offset >= total {
		return []Entry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]Entry(nil), matched[offset:end]...), total, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id int64) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, shared.ErrNotFound
}

// Scan implements Store.
func (m *MemoryStore) Scan(_ context.Context, afterID int64, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, limit)
	for _, e := range m.entries {
		if e.ID <= afterID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matches(f Filters, e Entry) bool {
	switch {
	case f.ActionType != "" && e.ActionType != f.ActionType:
		return false
	case f.TargetType != "" && e.TargetType != f.TargetType:
		return false
	case f.TargetID != "" && e.TargetID != f.TargetID:
		return false
	case f.PerformedBy != nil && e.PerformedBy != *f.PerformedBy:
		return false
	case f.StartDate != nil && e.PerformedAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && e.PerformedAt.After(*f.EndDate):
		return false
	}
	return true
}

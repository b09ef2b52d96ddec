package db

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memTx struct {
	mu   sync.Mutex
	undo []func()
}

// MemoryTransactor gives in-memory stores all-or-nothing semantics. Stores
// register compensating actions with OnRollback; they run in reverse order
// when fn fails. Outermost transactions are serialized, so an undo always
// reverts the newest writes. The zero value is ready to use.
type MemoryTransactor struct {
	mu sync.Mutex
}

// NewMemoryTransactor constructs a MemoryTransactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// WithTx runs fn and replays the undo log if it returns an error or panics.
func (t *MemoryTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (t *memTx) rollback() {
	t.mu.Lock()
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// OnRollback registers undo against the memory transaction in ctx. Outside a
// transaction it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok || undo == nil {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}

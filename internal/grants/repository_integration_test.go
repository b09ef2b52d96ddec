//go:build integration

package grants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db/dbtest"
)

func TestLockUserKeysOnFullID(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewRepository(pool)
	tx := db.NewPoolTransactor(pool)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tx.WithTx(ctx, func(ctx context.Context) error {
			if err := repo.LockUser(ctx, 1); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	select {
	case <-held:
	case err := <-done:
		t.Fatalf("first lock: %v", err)
	}
	defer func() {
		close(release)
		require.NoError(t, <-done)
	}()

	// Same low 32 bits as user 1.
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tx.WithTx(waitCtx, func(ctx context.Context) error {
		return repo.LockUser(ctx, 1+1<<32)
	}))

	blockedCtx, cancelBlocked := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelBlocked()
	err := tx.WithTx(blockedCtx, func(ctx context.Context) error {
		return repo.LockUser(ctx, 1)
	})
	require.Error(t, err)
}

package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func TestDevFixturesLoad(t *testing.T) {
	fixtures, err := DevFixtures()
	require.NoError(t, err)
	require.Len(t, fixtures, 7)
	assert.Equal(t, "super_admin", fixtures[0].RoleKey)
	assert.True(t, fixtures[0].IsActive)
	assert.False(t, fixtures[5].IsActive)
}

func TestMemoryRepositoryCounts(t *testing.T) {
	repo := NewMemoryRepository(
		User{ID: 1, RoleKey: "admin", IsActive: true},
		User{ID: 2, RoleKey: "viewer", IsActive: true},
		User{ID: 3, RoleKey: "viewer", IsActive: false},
	)
	counts, err := repo.CountByRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RoleCount{Total: 1, Active: 1}, counts["admin"])
	assert.Equal(t, RoleCount{Total: 2, Active: 1}, counts["viewer"])

	holders, err := repo.ListByRole(context.Background(), "viewer")
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, int64(2), holders[0].ID)
}

func TestServiceGetUserNotFound(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.GetUser(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
	assert.Equal(t, "user 99 not found", err.Error())
}

package analytics

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

type stubRoles struct{ list []roles.Role }

func (s stubRoles) ListRoles(context.Context) ([]roles.Role, error) { return s.list, nil }

type countingUsers struct {
	counts map[string]users.RoleCount
	calls  int
}

func (c *countingUsers) CountByRole(context.Context) (map[string]users.RoleCount, error) {
	c.calls++
	return c.counts, nil
}

func catalog() stubRoles {
	return stubRoles{list: []roles.Role{
		{Key: "admin", DisplayName: "Administrator", Level: 6},
		{Key: "coordinator", DisplayName: "Coordinator", Level: 4},
		{Key: "viewer", DisplayName: "Viewer", Level: 1},
	}}
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestRoleDistributionJoinsCounts(t *testing.T) {
	counter := &countingUsers{counts: map[string]users.RoleCount{
		"admin":  {Total: 3, Active: 2},
		"viewer": {Total: 1, Active: 1},
		"legacy": {Total: 9, Active: 9},
	}}
	svc := NewService(catalog(), counter, nil)

	stats, err := svc.RoleDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RoleStat{
		{Role: "admin", DisplayName: "Administrator", Level: 6, TotalUsers: 3, ActiveUsers: 2, InactiveUsers: 1},
		{Role: "coordinator", DisplayName: "Coordinator", Level: 4},
		{Role: "viewer", DisplayName: "Viewer", Level: 1, TotalUsers: 1, ActiveUsers: 1},
	}, stats)
}

func TestRoleDistributionCaches(t *testing.T) {
	cache, mr := newTestCache(t)
	counter := &countingUsers{counts: map[string]users.RoleCount{"admin": {Total: 1, Active: 1}}}
	svc := NewService(catalog(), counter, cache)
	ctx := context.Background()

	first, err := svc.RoleDistribution(ctx)
	require.NoError(t, err)
	second, err := svc.RoleDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)
	assert.True(t, mr.Exists("authz:analytics:role_distribution:v1"))

	counter.counts = map[string]users.RoleCount{"admin": {Total: 2, Active: 1}}
	ver, err := cache.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)

	refreshed, err := svc.RoleDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
	assert.Equal(t, 1, refreshed[0].InactiveUsers)
}

func TestRoleDistributionExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	counter := &countingUsers{counts: map[string]users.RoleCount{}}
	svc := NewService(catalog(), counter, cache)
	ctx := context.Background()

	_, err := svc.RoleDistribution(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = svc.RoleDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}

func TestNilCacheBuildsPlainKeys(t *testing.T) {
	var cache *Cache
	key, err := cache.BuildKey(context.Background(), "role_distribution")
	require.NoError(t, err)
	assert.Equal(t, "authz:analytics:role_distribution", key)

	ver, err := cache.Bump(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ver)
}

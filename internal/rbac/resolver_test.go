package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/grants"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

var (
	adminActor   = roles.Actor{UserID: 2, RoleKey: "admin", Level: 6}
	managerActor = roles.Actor{UserID: 3, RoleKey: "manager", Level: 5}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type lookupCounter struct {
	mu      sync.Mutex
	results map[string]int
}

func (c *lookupCounter) CacheLookup(result string) {
	c.mu.Lock()
	if c.results == nil {
		c.results = make(map[string]int)
	}
	c.results[result]++
	c.mu.Unlock()
}

func (c *lookupCounter) ObserveResolve(time.Duration) {}

func (c *lookupCounter) count(result string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[result]
}

// hookedGrants wraps a GrantSource, counting loads and running hook before
// each read and after once the read returned.
type hookedGrants struct {
	GrantSource
	loads atomic.Int32
	hook  func(ctx context.Context, userID int64)
	after func(ctx context.Context, userID int64)
}

func (h *hookedGrants) ListUnrevoked(ctx context.Context, userID int64) ([]grants.Grant, error) {
	h.loads.Add(1)
	if h.hook != nil {
		h.hook(ctx, userID)
	}
	list, err := h.GrantSource.ListUnrevoked(ctx, userID)
	if h.after != nil {
		h.after(ctx, userID)
	}
	return list, err
}

type fixture struct {
	resolver  *Resolver
	roles     *roles.Service
	grants    *grants.Service
	grantRepo *grants.MemoryRepository
	source    *hookedGrants
	audit     *audit.Service
	cache     *permcache.Memory
	clock     *testClock
	lookups   *lookupCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := permissions.MustDefault()
	seeds, err := roles.DefaultSeeds()
	require.NoError(t, err)
	built, err := roles.BuildAll(registry, seeds)
	require.NoError(t, err)
	people, err := users.DevFixtures()
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
	tx := db.NewMemoryTransactor()
	auditSvc := audit.NewService(audit.NewMemoryStore(), audit.WithClock(clock.Now))
	cache := permcache.NewMemory(100, time.Hour)
	inv := permcache.NewInvalidator(cache, nil, nil)
	userSvc := users.NewService(users.NewMemoryRepository(people...))
	roleSvc := roles.NewService(roles.NewMemoryRepository(built...), registry, tx, auditSvc,
		roles.WithInvalidator(inv), roles.WithClock(clock.Now))
	grantRepo := grants.NewMemoryRepository()
	grantSvc := grants.NewService(grantRepo, registry, userSvc, roleSvc, tx, auditSvc,
		grants.WithInvalidator(inv), grants.WithClock(clock.Now))
	source := &hookedGrants{GrantSource: grantSvc}
	lookups := &lookupCounter{}
	resolver := NewResolver(userSvc, roleSvc, source, cache, auditSvc, WithClock(clock.Now), WithMetrics(lookups))

	return &fixture{
		resolver:  resolver,
		roles:     roleSvc,
		grants:    grantSvc,
		grantRepo: grantRepo,
		source:    source,
		audit:     auditSvc,
		cache:     cache,
		clock:     clock,
		lookups:   lookups,
	}
}

func TestResolveEqualsRoleDefaultsWithoutGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	people, err := users.DevFixtures()
	require.NoError(t, err)

	for _, u := range people {
		role, err := f.roles.GetRole(ctx, u.RoleKey)
		require.NoError(t, err)
		set, err := f.resolver.Resolve(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, role.Permissions.Equal(set), "user %d (%s)", u.ID, u.RoleKey)
	}
}

func TestResolveServesCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), f.source.loads.Load())
	assert.Equal(t, 1, f.lookups.count(observability.LookupMiss))
	assert.Equal(t, 1, f.lookups.count(observability.LookupHit))
}

func TestRoleUpdateStalesHolderSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.resolver.Resolve(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.create", "assets.read"}, before.Sorted())

	_, err = f.roles.UpdateCategoryPermissions(ctx, "coordinator", "ASSET_MANAGEMENT",
		[]string{"assets.read", "assets.create", "assets.assign"}, adminActor, "dispatch duty")
	require.NoError(t, err)

	after, err := f.resolver.Resolve(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.assign", "assets.create", "assets.read"}, after.Sorted())
	assert.Equal(t, 1, f.lookups.count(observability.LookupStale))
}

func TestGrantThenRevokeRestoresResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)

	_, err = f.grants.Grant(ctx, 7, "reports.export", managerActor, "month end", nil)
	require.NoError(t, err)
	granted, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.True(t, granted.Contains("reports.export"))

	require.NoError(t, f.grants.Revoke(ctx, 7, "reports.export", managerActor, "done"))
	after, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestResetCustomRestoresRoleDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"reports.export", "assets.assign", "standby.read"} {
		_, err := f.grants.Grant(ctx, 5, key, managerActor, "cover shift", nil)
		require.NoError(t, err)
	}
	require.NoError(t, f.grants.Revoke(ctx, 5, "standby.read", managerActor, "not needed"))
	_, err := f.grants.ResetCustom(ctx, 5, managerActor, "")
	require.NoError(t, err)

	role, err := f.roles.GetRole(ctx, "operator")
	require.NoError(t, err)
	set, err := f.resolver.Resolve(ctx, 5)
	require.NoError(t, err)
	assert.True(t, role.Permissions.Equal(set))
}

func TestExpiryIsEvaluatedOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiry := f.clock.Now().Add(time.Hour)
	_, err := f.grants.Grant(ctx, 7, "reports.export", managerActor, "audit prep", &expiry)
	require.NoError(t, err)

	ok, err := f.resolver.HasPermission(ctx, 7, "reports.export")
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(2 * time.Hour)
	ok, err = f.resolver.HasPermission(ctx, 7, "reports.export")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.lookups.count(observability.LookupHit))
}

func TestExpiredGrantExcludedButListed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := f.clock.Now().Add(-24 * time.Hour)
	require.NoError(t, f.grantRepo.Insert(ctx, grants.Grant{
		ID:            uuid.New(),
		UserID:        7,
		PermissionKey: "reports.export",
		GrantedBy:     3,
		Reason:        "quarter close",
		GrantedAt:     yesterday.Add(-24 * time.Hour),
		ExpiresAt:     &yesterday,
	}))

	ok, err := f.resolver.HasPermission(ctx, 7, "reports.export")
	require.NoError(t, err)
	assert.False(t, ok)

	detail, err := f.resolver.Detail(ctx, 7)
	require.NoError(t, err)
	require.Len(t, detail.CustomGrants, 1)
	assert.False(t, detail.CustomGrants[0].Revoked)
	assert.False(t, detail.EffectivePermissions.Contains("reports.export"))
	assert.True(t, detail.RolePermissions.Equal(detail.EffectivePermissions))
}

func TestConcurrentMissesLoadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := make(chan struct{})
	f.source.hook = func(context.Context, int64) { <-release }

	var wg sync.WaitGroup
	results := make([]permissions.Set, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := f.resolver.Resolve(ctx, 4)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = set
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.source.loads.Load())
	for _, set := range results {
		assert.Equal(t, []string{"assets.create", "assets.read"}, set.Sorted())
	}
}

func TestRacingFillIsNeverServedAfterBump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A grant commits while the first load is between its stamp read and its fill.
	f.source.hook = func(ctx context.Context, userID int64) {
		f.source.hook = nil
		_, err := f.grants.Grant(ctx, userID, "reports.export", managerActor, "racing", nil)
		require.NoError(t, err)
	}
	_, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)

	set, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.True(t, set.Contains("reports.export"))
	assert.Equal(t, 1, f.lookups.count(observability.LookupStale))
	assert.Equal(t, int32(2), f.source.loads.Load())
}

func TestResolveAfterGrantSkipsInFlightLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loaded := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.source.after = func(context.Context, int64) {
		once.Do(func() {
			close(loaded)
			<-release
		})
	}

	early := make(chan permissions.Set, 1)
	go func() {
		set, err := f.resolver.Resolve(ctx, 7)
		if err != nil {
			t.Error(err)
		}
		early <- set
	}()
	<-loaded

	_, err := f.grants.Grant(ctx, 7, "reports.export", managerActor, "month end", nil)
	require.NoError(t, err)

	late := make(chan permissions.Set, 1)
	go func() {
		set, err := f.resolver.Resolve(ctx, 7)
		if err != nil {
			t.Error(err)
		}
		late <- set
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.False(t, (<-early).Contains("reports.export"))
	assert.True(t, (<-late).Contains("reports.export"))
	assert.Equal(t, int32(2), f.source.loads.Load())

	cached, err := f.resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.True(t, cached.Contains("reports.export"))
}

func TestMembershipHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.resolver.HasPermission(ctx, 7, "reports.read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.HasPermission(ctx, 7, "reports")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.resolver.HasAny(ctx, 7, "reports.export", "tickets.read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.HasAll(ctx, 7, "reports.read", "reports.export")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestResolveWithoutCache(t *testing.T) {
	f := newFixture(t)
	resolver := NewResolver(f.resolver.users, f.roles, f.grants, nil, f.audit)
	set, err := resolver.Resolve(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.create", "assets.read"}, set.Sorted())
}

func TestActor(t *testing.T) {
	f := newFixture(t)
	actor, err := f.resolver.Actor(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, roles.Actor{UserID: 4, RoleKey: "coordinator", Level: 4}, actor)
}

func TestClearCacheScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := int64(7)

	require.NoError(t, f.resolver.ClearCache(ctx, adminActor, ClearScope{UserID: &userID}))
	require.NoError(t, f.resolver.ClearCache(ctx, adminActor, ClearScope{RoleKey: "viewer"}))
	require.NoError(t, f.resolver.ClearCache(ctx, adminActor, ClearScope{}))

	stamp, err := f.cache.Stamp(ctx, 7, "viewer")
	require.NoError(t, err)
	assert.Equal(t, permcache.Stamp{Global: 1, Role: 1, User: 1}, stamp)

	page, err := f.audit.Query(ctx, audit.Filters{ActionType: audit.ActionCacheClear}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	targets := map[audit.TargetType]string{}
	for _, e := range page.Data {
		targets[e.TargetType] = e.TargetID
		assert.Equal(t, adminActor.UserID, e.PerformedBy)
	}
	assert.Equal(t, map[audit.TargetType]string{
		audit.TargetUser:   "7",
		audit.TargetRole:   "viewer",
		audit.TargetSystem: audit.SystemTarget,
	}, targets)
}

func TestClearCacheRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := int64(7)
	missing := int64(404)

	err := f.resolver.ClearCache(ctx, managerActor, ClearScope{})
	assert.True(t, shared.IsKind(err, shared.KindAuthorization))

	err = f.resolver.ClearCache(ctx, adminActor, ClearScope{UserID: &userID, RoleKey: "viewer"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	err = f.resolver.ClearCache(ctx, adminActor, ClearScope{UserID: &missing})
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	err = f.resolver.ClearCache(ctx, adminActor, ClearScope{RoleKey: "auditor"})
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	page, err := f.audit.Query(ctx, audit.Filters{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestAuthorizeGuard(t *testing.T) {
	set := permissions.NewSet("assets.read", "tickets.read")

	assert.True(t, Authorize(set))
	assert.True(t, Authorize(set, "assets.read", "tickets.read"))
	assert.False(t, Authorize(set, "assets.read", "assets.create"))
	assert.True(t, AuthorizeAny(set, "assets.create", "tickets.read"))
	assert.False(t, AuthorizeAny(set, "assets.create"))
	assert.False(t, Authorize(set, "assets.*"))
}

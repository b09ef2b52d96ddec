package grants

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

const (
	coordinatorUser = int64(4)
	operatorUser    = int64(5)
	viewerUser      = int64(7)
)

var (
	manager  = roles.Actor{UserID: 3, RoleKey: "manager", Level: 5}
	operator = roles.Actor{UserID: 5, RoleKey: "operator", Level: 3}
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

type countingInvalidator struct {
	mu    sync.Mutex
	users []int64
}

func (c *countingInvalidator) Invalidate(_ context.Context, userID int64) {
	c.mu.Lock()
	c.users = append(c.users, userID)
	c.mu.Unlock()
}

type fixture struct {
	svc         *Service
	repo        *MemoryRepository
	audit       *audit.Service
	clock       *testClock
	invalidator *countingInvalidator
}

func newFixture(t *testing.T, auditor AuditAppender) fixture {
	t.Helper()
	registry := permissions.MustDefault()
	seeds, err := roles.DefaultSeeds()
	require.NoError(t, err)
	built, err := roles.BuildAll(registry, seeds)
	require.NoError(t, err)
	fixtures, err := users.DevFixtures()
	require.NoError(t, err)

	tx := db.NewMemoryTransactor()
	auditSvc := audit.NewService(audit.NewMemoryStore())
	if auditor == nil {
		auditor = auditSvc
	}
	roleSvc := roles.NewService(roles.NewMemoryRepository(built...), registry, tx, auditSvc)
	clock := &testClock{t: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
	repo := NewMemoryRepository()
	inv := &countingInvalidator{}
	svc := NewService(repo, registry, users.NewService(users.NewMemoryRepository(fixtures...)), roleSvc, tx, auditor,
		WithClock(clock.Now), WithInvalidator(inv))
	return fixture{svc: svc, repo: repo, audit: auditSvc, clock: clock, invalidator: inv}
}

func (f fixture) entries(t *testing.T, action audit.ActionType) []audit.Entry {
	t.Helper()
	page, err := f.audit.Query(context.Background(), audit.Filters{ActionType: action}, 1, 100)
	require.NoError(t, err)
	return page.Data
}

func (f fixture) activeKeys(t *testing.T, userID int64) []string {
	t.Helper()
	list, err := f.svc.ListActive(context.Background(), userID, f.clock.Now())
	require.NoError(t, err)
	return ActiveKeys(list, f.clock.Now()).Sorted()
}

func TestGrantRecordsAuditAndInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	expires := f.clock.Now().Add(72 * time.Hour)

	g, err := f.svc.Grant(context.Background(), viewerUser, "reports.export", manager, "quarter close", &expires)
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID.String())
	assert.Equal(t, viewerUser, g.UserID)
	assert.Equal(t, int64(3), g.GrantedBy)
	assert.False(t, g.Revoked)
	require.NotNil(t, g.ExpiresAt)
	assert.True(t, g.ExpiresAt.Equal(expires))

	entries := f.entries(t, audit.ActionGrant)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.TargetUser, entries[0].TargetType)
	assert.Equal(t, "7", entries[0].TargetID)
	assert.Equal(t, "quarter close", entries[0].Reason)
	assert.JSONEq(t, `{"permissionKey":"reports.export","expiresAt":"2025-06-05T09:30:00Z"}`, string(entries[0].NewValue))
	assert.Equal(t, []int64{viewerUser}, f.invalidator.users)
	assert.Equal(t, []string{"reports.export"}, f.activeKeys(t, viewerUser))
}

func TestGrantValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()
	past := now.Add(-time.Minute)

	_, err := f.svc.Grant(ctx, viewerUser, "reports.shred", manager, "why not", nil)
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	assert.ErrorIs(t, err, permissions.ErrUnknownPermission)

	_, err = f.svc.Grant(ctx, viewerUser, "reports.export", manager, "   ", nil)
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = f.svc.Grant(ctx, viewerUser, "reports.export", manager, "late", &past)
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = f.svc.Grant(ctx, viewerUser, "reports.export", manager, "now", &now)
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = f.svc.Grant(ctx, 404, "reports.export", manager, "ghost", nil)
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	assert.Empty(t, f.entries(t, ""))
	assert.Empty(t, f.invalidator.users)
}

func TestGrantRequiresHigherActor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, coordinatorUser, "assets.assign", operator, "help out", nil)
	assert.True(t, shared.IsKind(err, shared.KindAuthorization))

	_, err = f.svc.Grant(ctx, operatorUser, "assets.assign", operator, "self service", nil)
	assert.True(t, shared.IsKind(err, shared.KindAuthorization))

	err = f.svc.Revoke(ctx, coordinatorUser, "assets.assign", operator, "undo")
	assert.True(t, shared.IsKind(err, shared.KindAuthorization))

	_, err = f.svc.ResetCustom(ctx, coordinatorUser, operator, "")
	assert.True(t, shared.IsKind(err, shared.KindAuthorization))
}

func TestDuplicateActiveGrantConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, viewerUser, "tickets.create", manager, "helpdesk rota", nil)
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, viewerUser, "tickets.create", manager, "again", nil)
	assert.True(t, shared.IsKind(err, shared.KindConflict))
	assert.Len(t, f.entries(t, audit.ActionGrant), 1)

	require.NoError(t, f.svc.Revoke(ctx, viewerUser, "tickets.create", manager, "rota ended"))
	_, err = f.svc.Grant(ctx, viewerUser, "tickets.create", manager, "rota resumed", nil)
	require.NoError(t, err)
}

func TestExpiredGrantDoesNotBlockNewGrant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	soon := f.clock.Now().Add(time.Hour)
	_, err := f.svc.Grant(ctx, viewerUser, "tickets.create", manager, "one hour", &soon)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Grant(ctx, viewerUser, "tickets.create", manager, "another hour", nil)
	require.NoError(t, err)
}

func TestConcurrentGrantsYieldOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Grant(context.Background(), viewerUser, "standby.read", manager, "race", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case shared.IsKind(err, shared.KindConflict):
				conflicts++
			default:
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, conflicts)
}

func TestGrantStampsTimeAfterLockWait(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	unlock, err := f.svc.locker.Lock(ctx, shared.UserLockKey(viewerUser))
	require.NoError(t, err)

	type result struct {
		g   Grant
		err error
	}
	done := make(chan result, 1)
	go func() {
		g, err := f.svc.Grant(ctx, viewerUser, "standby.read", manager, "night shift", nil)
		done <- result{g, err}
	}()
	time.Sleep(20 * time.Millisecond)
	f.clock.Advance(2 * time.Hour)
	unlock()

	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.g.GrantedAt.Equal(f.clock.Now()), "granted at %s", res.g.GrantedAt)
}

func TestGrantExpiringDuringLockWaitIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)
	unlock, err := f.svc.locker.Lock(ctx, shared.UserLockKey(viewerUser))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Grant(ctx, viewerUser, "standby.read", manager, "night shift", &expires)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	f.clock.Advance(2 * time.Hour)
	unlock()

	err = <-done
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	assert.Empty(t, f.entries(t, audit.ActionGrant))
	assert.Empty(t, f.activeKeys(t, viewerUser))
}

func TestGrantThenRevokeRestoresActiveSet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, key := range []string{"assets.assign", "assets.read", "cache.clear"} {
		before := f.activeKeys(t, viewerUser)
		_, err := f.svc.Grant(ctx, viewerUser, key, manager, "temporary", nil)
		require.NoError(t, err)
		require.NoError(t, f.svc.Revoke(ctx, viewerUser, key, manager, "done"))
		assert.Equal(t, before, f.activeKeys(t, viewerUser), key)
	}
}

func TestRevokeAuditSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Grant(ctx, viewerUser, "reports.export", manager, "quarter close", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, viewerUser, "reports.export", manager, "quarter closed"))

	entries := f.entries(t, audit.ActionRevoke)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"permissionKey":"reports.export","expiresAt":null}`, string(entries[0].OldValue))
	assert.JSONEq(t, `{"revoked":true}`, string(entries[0].NewValue))

	list, err := f.svc.ListGrants(ctx, viewerUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Revoked)
	require.NotNil(t, list[0].RevokedBy)
	assert.Equal(t, int64(3), *list[0].RevokedBy)
	assert.Equal(t, "quarter closed", list[0].RevokeReason)
}

func TestRevokeCannotMaskRoleDefaults(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.svc.Revoke(ctx, viewerUser, "assets.read", manager, "suppress default")
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	err = f.svc.Revoke(ctx, viewerUser, "reports.export", manager, "never granted")
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	err = f.svc.Revoke(ctx, viewerUser, "reports.export", manager, "")
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	assert.Empty(t, f.entries(t, ""))
}

func TestResetRevokesOnlyActiveGrants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	soon := f.clock.Now().Add(time.Hour)
	_, err := f.svc.Grant(ctx, viewerUser, "standby.read", manager, "short", &soon)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	for _, key := range []string{"tickets.create", "reports.export"} {
		_, err := f.svc.Grant(ctx, viewerUser, key, manager, "long", nil)
		require.NoError(t, err)
	}
	invalidationsBefore := len(f.invalidator.users)

	result, err := f.svc.ResetCustom(ctx, viewerUser, manager, "offboarding")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RevokedCount)
	assert.Empty(t, f.activeKeys(t, viewerUser))
	assert.Len(t, f.invalidator.users, invalidationsBefore+1)

	entries := f.entries(t, audit.ActionReset)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `["reports.export","tickets.create"]`, string(entries[0].OldValue))
	assert.JSONEq(t, `[]`, string(entries[0].NewValue))
	diff, err := audit.RoleDiff(entries[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"reports.export", "tickets.create"}, diff.Removed)

	list, err := f.svc.ListGrants(ctx, viewerUser)
	require.NoError(t, err)
	require.Len(t, list, 3)
	expired := list[2]
	assert.Equal(t, "standby.read", expired.PermissionKey)
	assert.False(t, expired.Revoked)
}

func TestResetWithoutActiveGrantsIsSilent(t *testing.T) {
	f := newFixture(t, nil)
	result, err := f.svc.ResetCustom(context.Background(), viewerUser, manager, "")
	require.NoError(t, err)
	assert.Equal(t, ResetResult{}, result)
	assert.Empty(t, f.entries(t, ""))
	assert.Empty(t, f.invalidator.users)
}

func TestGrantExpiredYesterdayIsListedButInactive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	yesterday := f.clock.Now().Add(-24 * time.Hour)
	seeded := Grant{
		UserID:        viewerUser,
		PermissionKey: "reports.export",
		GrantedBy:     3,
		Reason:        "audit season",
		GrantedAt:     yesterday.Add(-48 * time.Hour),
		ExpiresAt:     &yesterday,
	}
	seeded.ID = newGrantID(t)
	require.NoError(t, f.repo.Insert(ctx, seeded))

	assert.NotContains(t, f.activeKeys(t, viewerUser), "reports.export")
	list, err := f.svc.ListGrants(ctx, viewerUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Revoked)
	assert.Equal(t, "reports.export", list[0].PermissionKey)

	_, err = f.svc.Grant(ctx, viewerUser, "reports.export", manager, "audit season", &yesterday)
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestAuditFailureRollsBackGrant(t *testing.T) {
	f := newFixture(t, failingAuditor{})
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, viewerUser, "reports.export", manager, "quarter close", nil)
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindConsistency))

	list, err := f.svc.ListGrants(ctx, viewerUser)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.invalidator.users)
}

type failingAuditor struct{}

func (failingAuditor) Append(context.Context, audit.Entry) (int64, error) {
	return 0, shared.Wrap(shared.KindConsistency, "audit log unavailable; change was not applied", errors.New("timeout"))
}

func TestGrantJSONShape(t *testing.T) {
	raw, err := json.Marshal(Grant{PermissionKey: "assets.read"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"expiresAt":null`)
	assert.NotContains(t, string(raw), "revokedBy")
}

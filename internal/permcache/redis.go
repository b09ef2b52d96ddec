package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	genGlobalKey = "authz:gen:global"
	bumpChannel  = "authz.bump"
)

func genRoleKey(roleKey string) string { return "authz:gen:role:" + roleKey }

func genUserKey(userID int64) string { return "authz:gen:user:" + strconv.FormatInt(userID, 10) }

func snapKey(userID int64) string { return "authz:snap:" + strconv.FormatInt(userID, 10) }

// Redis is a Cache shared by every replica using the same Redis. Generations
// live under authz:gen:* and every bump is announced on authz.bump.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	origin string
}

// NewRedis builds a Redis cache whose snapshots expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, origin: uuid.NewString()}
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, userID int64) (Snapshot, bool, error) {
	payload, err := c.client.Get(ctx, snapKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("permcache: get %d: %w", userID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		// A payload from an incompatible build is treated as a miss.
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Set implements Cache.
func (c *Redis) Set(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, snapKey(snap.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("permcache: set %d: %w", snap.UserID, err)
	}
	return nil
}

// Stamp implements Cache. Missing counters read as zero.
func (c *Redis) Stamp(ctx context.Context, userID int64, roleKey string) (Stamp, error) {
	vals, err := c.client.MGet(ctx, genGlobalKey, genRoleKey(roleKey), genUserKey(userID)).Result()
	if err != nil {
		return Stamp{}, fmt.Errorf("permcache: stamp %d: %w", userID, err)
	}
	gens := make([]int64, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Stamp{}, fmt.Errorf("permcache: stamp %d: %w", userID, err)
		}
		gens[i] = n
	}
	return Stamp{Global: gens[0], Role: gens[1], User: gens[2]}, nil
}

// Invalidate implements Cache.
func (c *Redis) Invalidate(ctx context.Context, userID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genUserKey(userID))
		pipe.Del(ctx, snapKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("permcache: invalidate user %d: %w", userID, err)
	}
	return c.announce(ctx, Bump{Scope: ScopeUser, Key: strconv.FormatInt(userID, 10)})
}

// InvalidateRole implements Cache.
func (c *Redis) InvalidateRole(ctx context.Context, roleKey string) error {
	if err := c.client.Incr(ctx, genRoleKey(roleKey)).Err(); err != nil {
		return fmt.Errorf("permcache: invalidate role %s: %w", roleKey, err)
	}
	return c.announce(ctx, Bump{Scope: ScopeRole, Key: roleKey})
}

// InvalidateAll implements Cache.
func (c *Redis) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, genGlobalKey).Err(); err != nil {
		return fmt.Errorf("permcache: invalidate all: %w", err)
	}
	return c.announce(ctx, Bump{Scope: ScopeGlobal})
}

func (c *Redis) announce(ctx context.Context, b Bump) error {
	b.Origin = c.origin
	if err := c.client.Publish(ctx, bumpChannel, b.encode()).Err(); err != nil {
		return fmt.Errorf("permcache: publish bump: %w", err)
	}
	return nil
}

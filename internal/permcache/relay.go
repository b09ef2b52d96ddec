package permcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bump announces one generation increment on the bump channel.
type Bump struct {
	Origin string
	Scope  string
	Key    string
}

func (b Bump) encode() string {
	return strings.Join([]string{b.Origin, b.Scope, b.Key}, "|")
}

func decodeBump(payload string) (Bump, bool) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return Bump{}, false
	}
	b := Bump{Origin: parts[0], Scope: parts[1], Key: parts[2]}
	switch b.Scope {
	case ScopeUser, ScopeRole, ScopeGlobal:
		return b, true
	default:
		return Bump{}, false
	}
}

// Relay keeps snapshots in process and exchanges bumps with the other
// replicas over Redis pub/sub. Reads never touch Redis.
type Relay struct {
	local  *Memory
	client *redis.Client
	origin string
	logger *slog.Logger
}

// NewRelay wraps local. A nil logger falls back to slog.Default.
func NewRelay(local *Memory, client *redis.Client, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{local: local, client: client, origin: uuid.NewString(), logger: logger}
}

// Get implements Cache.
func (r *Relay) Get(ctx context.Context, userID int64) (Snapshot, bool, error) {
	return r.local.Get(ctx, userID)
}

// Set implements Cache.
func (r *Relay) Set(ctx context.Context, snap Snapshot) error {
	return r.local.Set(ctx, snap)
}

// Stamp implements Cache.
func (r *Relay) Stamp(ctx context.Context, userID int64, roleKey string) (Stamp, error) {
	return r.local.Stamp(ctx, userID, roleKey)
}

// Invalidate implements Cache.
func (r *Relay) Invalidate(ctx context.Context, userID int64) error {
	_ = r.local.Invalidate(ctx, userID)
	return r.publish(ctx, Bump{Scope: ScopeUser, Key: strconv.FormatInt(userID, 10)})
}

// InvalidateRole implements Cache.
func (r *Relay) InvalidateRole(ctx context.Context, roleKey string) error {
	_ = r.local.InvalidateRole(ctx, roleKey)
	return r.publish(ctx, Bump{Scope: ScopeRole, Key: roleKey})
}

// InvalidateAll implements Cache.
func (r *Relay) InvalidateAll(ctx context.Context) error {
	_ = r.local.InvalidateAll(ctx)
	return r.publish(ctx, Bump{Scope: ScopeGlobal})
}

func (r *Relay) publish(ctx context.Context, b Bump) error {
	b.Origin = r.origin
	if err := r.client.Publish(ctx, bumpChannel, b.encode()).Err(); err != nil {
		return fmt.Errorf("permcache: publish bump: %w", err)
	}
	return nil
}

// Listen subscribes to bump announcements and applies the ones published by
// other replicas until ctx is done. It returns once the subscription is live.
func (r *Relay) Listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("permcache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.apply(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (r *Relay) apply(ctx context.Context, payload string) {
	b, ok := decodeBump(payload)
	if !ok {
		r.logger.Warn("permission cache bump ignored", slog.String("payload", payload))
		return
	}
	if b.Origin == r.origin {
		return
	}
	switch b.Scope {
	case ScopeUser:
		id, err := strconv.ParseInt(b.Key, 10, 64)
		if err != nil {
			r.logger.Warn("permission cache bump ignored", slog.String("payload", payload))
			return
		}
		_ = r.local.Invalidate(ctx, id)
	case ScopeRole:
		_ = r.local.InvalidateRole(ctx, b.Key)
	case ScopeGlobal:
		_ = r.local.InvalidateAll(ctx)
	}
	r.logger.Debug("permission cache bump applied",
		slog.String("scope", b.Scope),
		slog.String("key", b.Key))
}

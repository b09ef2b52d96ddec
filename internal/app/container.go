package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-access/internal/analytics"
	analytichttp "github.com/odyssey-erp/odyssey-access/internal/analytics/http"
	"github.com/odyssey-erp/odyssey-access/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-access/internal/audit/http"
	"github.com/odyssey-erp/odyssey-access/internal/grants"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

// Container holds the services wired for the configured drivers.
type Container struct {
	Config    *Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Registry  *permissions.Registry
	Users     *users.Service
	Roles     *roles.Service
	Grants    *grants.Service
	Audit     *audit.Service
	Resolver  *rbac.Resolver
	Analytics *analytics.Service
	// AnalyticsCache is disabled when no Redis is configured.
	AnalyticsCache *analytics.Cache
	// Jobs is nil when no Redis is configured.
	Jobs *jobs.Client

	permCache permcache.Cache
	redis     *redis.Client
	inspector *asynq.Inspector
	closers   []func()
}

// NewContainer opens the configured backends and builds every service. The
// permission cache relay listens until ctx is done.
func NewContainer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.Config
	registry, err := permissions.Default()
	if err != nil {
		return err
	}
	c.Registry = registry

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		c.redis = client
		c.onClose(func() {
			if err := client.Close(); err != nil {
				c.Logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	stores, err := c.openStores(ctx)
	if err != nil {
		return err
	}

	permCache, err := c.permissionCache(ctx)
	if err != nil {
		return err
	}
	c.permCache = permCache
	authz := c.Metrics.Authz()
	invalidator := permcache.NewInvalidator(permCache, c.Logger, authz)

	var locker shared.Locker = shared.NewLocalLocker()
	if cfg.LockDriver == DriverRedis {
		locker = cache.NewLocker(c.redis, cfg.LockTTL)
	}

	if c.redis != nil {
		opts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client, err := jobs.NewClient(opts)
		if err != nil {
			return err
		}
		c.Jobs = client
		c.inspector = asynq.NewInspector(opts)
		c.onClose(func() {
			if err := c.inspector.Close(); err != nil {
				c.Logger.Warn("inspector close", slog.Any("error", err))
			}
			if err := client.Close(); err != nil {
				c.Logger.Warn("jobs client close", slog.Any("error", err))
			}
		})
	}

	c.Audit = audit.NewService(stores.audit, audit.WithLogger(c.Logger))
	c.Users = users.NewService(stores.users)

	roleOpts := []roles.Option{
		roles.WithLocker(locker),
		roles.WithInvalidator(invalidator),
		roles.WithMetrics(authz),
		roles.WithLogger(c.Logger),
	}
	if cfg.WarmupOnRoleUpdate && c.Jobs != nil {
		roleOpts = append(roleOpts, roles.WithWarmup(c.Jobs))
	}
	c.Roles = roles.NewService(stores.roles, registry, stores.tx, c.Audit, roleOpts...)

	seeds, err := roles.DefaultSeeds()
	if err != nil {
		return err
	}
	if _, err := c.Roles.Provision(ctx, seeds); err != nil {
		return err
	}

	c.Grants = grants.NewService(stores.grants, registry, c.Users, c.Roles, stores.tx, c.Audit,
		grants.WithLocker(locker),
		grants.WithInvalidator(invalidator),
		grants.WithMetrics(authz),
		grants.WithLogger(c.Logger),
	)

	c.Resolver = rbac.NewResolver(c.Users, c.Roles, c.Grants, permCache, c.Audit,
		rbac.WithMetrics(authz),
		rbac.WithLogger(c.Logger),
	)

	c.AnalyticsCache = analytics.NewCache(c.redis, cfg.AnalyticsCacheTTL)
	c.Analytics = analytics.NewService(c.Roles, c.Users, c.AnalyticsCache)
	return nil
}

type stores struct {
	tx     db.Transactor
	users  users.RepositoryPort
	roles  roles.RepositoryPort
	grants grants.RepositoryPort
	audit  audit.Store
}

func (c *Container) openStores(ctx context.Context) (stores, error) {
	if c.Config.StoreDriver != DriverPostgres {
		fixtures, err := users.DevFixtures()
		if err != nil {
			return stores{}, err
		}
		c.Logger.Info("using in-memory stores", slog.Int("users", len(fixtures)))
		return stores{
			tx:     db.NewMemoryTransactor(),
			users:  users.NewMemoryRepository(fixtures...),
			roles:  roles.NewMemoryRepository(),
			grants: grants.NewMemoryRepository(),
			audit:  audit.NewMemoryStore(),
		}, nil
	}

	pool, err := db.New(ctx, c.Config.PGDSN)
	if err != nil {
		return stores{}, err
	}
	c.onClose(pool.Close)
	if c.Config.PGMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return stores{}, err
		}
	}
	return postgresStores(pool), nil
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		tx:     db.NewPoolTransactor(pool),
		users:  users.NewRepository(pool),
		roles:  roles.NewRepository(pool),
		grants: grants.NewRepository(pool),
		audit:  audit.NewRepository(pool),
	}
}

func (c *Container) permissionCache(ctx context.Context) (permcache.Cache, error) {
	cfg := c.Config
	if cfg.CacheDriver == DriverRedis {
		return permcache.NewRedis(c.redis, cfg.PermissionCacheTTL), nil
	}
	local := permcache.NewMemory(cfg.PermissionCacheSize, cfg.PermissionCacheTTL)
	if c.redis == nil {
		return local, nil
	}
	relay := permcache.NewRelay(local, c.redis, c.Logger)
	if err := relay.Listen(ctx); err != nil {
		return nil, err
	}
	return relay, nil
}

// Router builds the HTTP handler serving the API, health and metrics.
func (c *Container) Router() http.Handler {
	guard := rbac.NewMiddleware(c.Resolver, c.Config.AuthUserHeader, c.Logger)
	return NewRouter(RouterParams{
		Logger:       c.Logger,
		Config:       c.Config,
		Authenticate: guard.Authenticate,
		API: []RouteMounter{
			permissions.NewHandler(c.Registry, guard),
			roles.NewHandler(c.Logger, c.Roles, c.Users, guard),
			grants.NewHandler(c.Logger, c.Grants, guard),
			rbac.NewHandler(c.Logger, c.Resolver, guard),
			audithttp.NewHandler(c.Logger, c.Audit, guard),
			analytichttp.NewHandler(c.Logger, c.Analytics, guard),
		},
		JobHandler: jobs.NewHandler(c.inspector, c.Logger),
		Metrics:    c.Metrics,
	})
}

// RedisOpts returns the asynq connection options, or false without Redis.
func (c *Container) RedisOpts() (asynq.RedisClientOpt, bool) {
	if c.Config.RedisAddr == "" {
		return asynq.RedisClientOpt{}, false
	}
	return asynq.RedisClientOpt{Addr: c.Config.RedisAddr}, true
}

// Close releases backends in reverse opening order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Container) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

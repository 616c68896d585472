package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/config"
	"agentprobe_api/internal/export"
	"agentprobe_api/internal/maintenance"
	"agentprobe_api/internal/middleware"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/queue"
	"agentprobe_api/internal/ratelimit"
	"agentprobe_api/internal/registry"
	"agentprobe_api/internal/security"
	"agentprobe_api/internal/stats"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/utils"
)

const (
	apiPrefix        = "/api/v1"
	downloadPath     = apiPrefix + "/export/download/"
	serviceName      = "AgentProbe Community API"
	serviceVersion   = "1.0.0"
	maxRequestBodyKB = 1024
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config    *config.Config
	Clock     clock.Clock
	DB        *storage.DB
	Redis     *storage.RedisClient // nil unless Redis is enabled
	Registry  *registry.Registry
	Limiter   *ratelimit.Limiter
	IPLimiter *ratelimit.IPLimiter
	Security  *security.Log
	Gate      *middleware.Gate
	Stats     *stats.Aggregator
	Exporter  *export.Exporter
	Downloads *export.LocalStore // nil when exports go to S3
	Cleanup   *maintenance.Job

	// Background worker for async security events, nil on the synchronous path
	SecurityWorker *security.QueueWriter
	securityQueue  queue.Queue[*models.SecurityEvent]
	securityDLQ    queue.DeadLetterQueue[*models.SecurityEvent]

	startedAt time.Time
	ownsDB    bool
	ownsRedis bool
}

// Option customizes NewRouter.
type Option func(*routerOptions)

type routerOptions struct {
	clock clock.Clock
	db    *storage.DB
	redis *redis.Client
}

// WithClock replaces the wall clock used by every time-dependent component.
func WithClock(clk clock.Clock) Option {
	return func(o *routerOptions) { o.clock = clk }
}

// WithDB uses an already opened and migrated database instead of opening
// one from the configuration. The caller keeps ownership.
func WithDB(db *storage.DB) Option {
	return func(o *routerOptions) { o.db = db }
}

// WithRedis uses an existing Redis client when Redis is enabled. The caller
// keeps ownership.
func WithRedis(client *redis.Client) Option {
	return func(o *routerOptions) { o.redis = client }
}

// NewRouter creates an HTTP handler with all dependencies wired up. Call
// Start on the returned dependencies to run the background workers and
// Close to release them.
func NewRouter(cfg *config.Config, opts ...Option) (http.Handler, *Dependencies, error) {
	o := routerOptions{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{Config: cfg, Clock: o.clock, startedAt: o.clock.Now()}

	if err := deps.initStorage(cfg, o); err != nil {
		return nil, nil, err
	}
	if err := deps.initServices(cfg); err != nil {
		deps.Close()
		return nil, nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	handler := middleware.RequestGuard(deps.IPLimiter, deps.Security)(mux)
	return handler, deps, nil
}

func (d *Dependencies) initStorage(cfg *config.Config, o routerOptions) error {
	d.DB = o.db
	if d.DB == nil {
		db, err := storage.NewDB(storage.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			APIKeyCacheSize: cfg.Cache.APIKeyCacheSize,
			APIKeyCacheTTL:  cfg.Cache.APIKeyCacheTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		d.DB = db
		d.ownsDB = true

		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
	}

	if !cfg.Redis.Enabled {
		return nil
	}
	if o.redis != nil {
		d.Redis = storage.WrapRedisClient(o.redis)
		return nil
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = cfg.Redis.Address
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	client, err := storage.NewRedisClient(redisCfg)
	if err != nil {
		d.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	d.Redis = client
	d.ownsRedis = true
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	keys := d.DB.NewAPIKeyRepository()
	events := d.DB.NewSecurityEventRepository()

	// Rate limit windows
	var windows ratelimit.WindowStore = d.DB.NewRateLimitRepository()
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		windows = ratelimit.NewRedisStore(d.Redis.Client(), cfg.RateLimit.Retention)
	}
	d.Limiter = ratelimit.NewLimiter(windows, d.Clock, cfg.RateLimit.FailOpen)
	d.IPLimiter = ratelimit.NewIPLimiter(ratelimit.IPLimiterConfig{
		Limit:          cfg.RateLimit.IPLimit,
		Window:         cfg.RateLimit.IPWindow,
		BurstPerSecond: cfg.RateLimit.IPBurstPerSecond,
		Burst:          cfg.RateLimit.IPBurst,
	}, d.Clock)

	// Security audit trail
	d.Security = security.NewLog(events, d.Clock)
	if cfg.Security.AsyncEvents {
		if err := d.initSecurityQueue(cfg, events); err != nil {
			return err
		}
	}

	d.Registry = registry.New(keys, d.Clock)
	d.Gate = middleware.NewGate(keys, d.Limiter, d.Security, d.Clock, cfg.AuthRealm)
	d.Stats = stats.New(d.DB.NewResultRepository(), d.DB.NewStatsRepository(), d.Clock)

	// Export downloads
	var store export.Store
	if cfg.Export.S3Bucket != "" {
		s3Store, err := export.NewS3Store(context.Background(), cfg.Export.S3Bucket, cfg.Export.S3Region, cfg.Export.S3Prefix, cfg.Export.URLTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize export store: %w", err)
		}
		store = s3Store
	} else {
		d.Downloads = export.NewLocalStore(cfg.Cache.ExportCacheSize, cfg.Export.URLTTL, cfg.JWTSecret, downloadPath, d.Clock)
		store = d.Downloads
	}
	d.Exporter = export.NewExporter(d.DB.NewResultRepository(), store, d.Clock)

	tasks := []maintenance.Task{
		maintenance.RateLimitTask(d.Limiter, cfg.RateLimit.Retention),
		maintenance.SweepTask("ip_limits", d.IPLimiter.Cleanup),
		maintenance.ExpiredKeysTask(d.Registry),
		maintenance.SweepTask("api_key_cache", d.DB.CleanupExpiredCacheEntries),
	}
	if d.Downloads != nil {
		tasks = append(tasks, maintenance.SweepTask("exports", d.Downloads.CleanupExpired))
	}
	d.Cleanup = maintenance.NewJob(cfg.Cleanup.Interval, tasks...)

	return nil
}

func (d *Dependencies) initSecurityQueue(cfg *config.Config, events security.Store) error {
	qcfg := queue.DefaultConfig(cfg.Security.QueueName)
	qcfg.BatchSize = cfg.Security.BatchSize
	qcfg.BatchTimeout = cfg.Security.BatchTimeout
	qcfg.MaxRetries = cfg.Security.MaxRetries
	qcfg.RetryBackoff = cfg.Security.RetryBackoff

	if d.Redis != nil {
		q, err := queue.NewRedisQueue[*models.SecurityEvent](d.Redis.Client(), qcfg)
		if err != nil {
			return fmt.Errorf("failed to create security event queue: %w", err)
		}
		dlq, err := queue.NewRedisDeadLetterQueue[*models.SecurityEvent](d.Redis.Client(), qcfg)
		if err != nil {
			return fmt.Errorf("failed to create security event DLQ: %w", err)
		}
		d.securityQueue, d.securityDLQ = q, dlq
	} else {
		d.securityQueue = queue.NewMemoryQueue[*models.SecurityEvent](qcfg)
		d.securityDLQ = queue.NewMemoryDeadLetterQueue[*models.SecurityEvent]()
	}

	d.SecurityWorker = security.NewQueueWriter(d.securityQueue, d.securityDLQ, events, qcfg)
	d.Security.SetWriter(d.SecurityWorker)
	return nil
}

// Start launches the background workers.
func (d *Dependencies) Start(ctx context.Context) {
	if d.SecurityWorker != nil {
		d.SecurityWorker.Start(ctx)
	}
	d.Cleanup.Start(ctx)
}

// Close stops the workers, flushing queued security events, then releases
// the connections NewRouter opened.
func (d *Dependencies) Close() error {
	var errs []error

	if d.Cleanup != nil {
		d.Cleanup.Stop()
	}
	if d.SecurityWorker != nil {
		if err := d.SecurityWorker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop security worker: %w", err))
		}
	}
	if d.securityQueue != nil {
		if err := d.securityQueue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close security queue: %w", err))
		}
	}
	if d.securityDLQ != nil {
		if err := d.securityDLQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close security DLQ: %w", err))
		}
	}
	if d.ownsRedis && d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.ownsDB && d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	gate := deps.Gate
	keys := &KeysHandler{registry: deps.Registry, limiter: deps.Limiter, events: deps.Security}
	results := &ResultsHandler{stats: deps.Stats}
	st := &StatsHandler{stats: deps.Stats}
	exp := &ExportHandler{exporter: deps.Exporter, downloads: deps.Downloads}
	ops := &OpsHandler{deps: deps}

	// Public
	mux.HandleFunc("GET /health", ops.Health)
	mux.HandleFunc("GET /{$}", ops.Root)
	if deps.Downloads != nil {
		mux.HandleFunc("GET "+downloadPath+"{token}", exp.Download)
	}

	// Key management
	handle(mux, "POST /api/v1/auth/keys", gate.AdminOnly(), keys.Create)
	handle(mux, "GET /api/v1/auth/keys", gate.KeyManagement(), keys.List)
	handle(mux, "GET /api/v1/auth/keys/{keyId}", gate.KeyManagement(), keys.Get)
	handle(mux, "PUT /api/v1/auth/keys/{keyId}", gate.KeyManagement(), keys.Update)
	handle(mux, "DELETE /api/v1/auth/keys/{keyId}", gate.KeyManagement(), keys.Delete)
	handle(mux, "POST /api/v1/auth/keys/{keyId}/reactivate", gate.KeyManagement(), keys.Reactivate)
	handle(mux, "POST /api/v1/auth/keys/{keyId}/rate-limit/reset", gate.AdminOnly(), keys.ResetRateLimit)
	handle(mux, "GET /api/v1/auth/rate-limit", gate.ReadOnly(), keys.RateLimitStatus)
	handle(mux, "GET /api/v1/auth/security-events", gate.AdminOnly(), keys.SecurityEvents)

	// Results
	handle(mux, "POST /api/v1/results", gate.WriteAccess(), results.Submit)
	handle(mux, "POST /api/v1/results/batch", gate.WriteAccess(), results.SubmitBatch)
	handle(mux, "GET /api/v1/results", gate.ReadOnly(), results.List)

	// Statistics
	handle(mux, "GET /api/v1/leaderboard", gate.ReadOnly(), st.Leaderboard)
	handle(mux, "GET /api/v1/stats/aggregate", gate.ReadOnly(), st.Aggregate)
	handle(mux, "POST /api/v1/compare/tools", gate.ReadOnly(), st.CompareTools)
	handle(mux, "GET /api/v1/scenarios/difficulty", gate.ReadOnly(), st.Difficulty)
	handle(mux, "GET /api/v1/stats/tool/{tool}", gate.ReadOnly(), st.Tool)
	handle(mux, "GET /api/v1/stats/scenario/{tool}/{scenario}", gate.ReadOnly(), st.Scenario)

	// Export
	handle(mux, "POST /api/v1/export", gate.ReadOnly(), exp.Export)

	// Operations
	handle(mux, "GET /api/v1/internal/cleanup", gate.AdminOnly(), ops.Cleanup)
	handle(mux, "GET /api/v1/internal/security-queue", gate.AdminOnly(), ops.SecurityQueue)
	handle(mux, "POST /api/v1/internal/security-queue/dead-letter/{id}/retry", gate.AdminOnly(), ops.RetryDeadLetter)

	mux.HandleFunc("/", notFound)
}

func handle(mux *http.ServeMux, pattern string, mw func(http.Handler) http.Handler, h http.HandlerFunc) {
	mux.Handle(pattern, mw(h))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithErrorCode(w, r, http.StatusNotFound, "Not found", "The requested endpoint does not exist", "NOT_FOUND")
}

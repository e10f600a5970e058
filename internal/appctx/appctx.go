// Package appctx wires every CORTEX component into a single running
// process: the durable store, the in-memory collaborators (registry,
// controller, health poller, selector, auth guard, usage recorder, metrics
// collector), and the background tasks each one owns.
//
// Grounded on the teacher's cmd/infer-gateway/app package (Server.Run
// constructing the datastore, controllers and router in dependency order
// and starting their background loops before serving traffic), generalized
// from the teacher's single apiserver-backed datastore to CORTEX's
// Postgres-backed registry plus its independent background tasks (health
// poller, usage recorder, retention janitor, deployment ETA ticker).
package appctx

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apikeys"
	"cortex.dev/cortex/internal/auth"
	"cortex.dev/cortex/internal/clock"
	"cortex.dev/cortex/internal/config"
	"cortex.dev/cortex/internal/configstore"
	"cortex.dev/cortex/internal/controller"
	"cortex.dev/cortex/internal/dbmigrate"
	"cortex.dev/cortex/internal/deployment"
	"cortex.dev/cortex/internal/health"
	"cortex.dev/cortex/internal/identity"
	"cortex.dev/cortex/internal/logging"
	"cortex.dev/cortex/internal/metrics"
	"cortex.dev/cortex/internal/registry"
	"cortex.dev/cortex/internal/selector"
	"cortex.dev/cortex/internal/usage"
)

// minPort/maxPort bound the host ports the container controller allocates
// for backend containers.
const (
	minPort = 20000
	maxPort = 29999

	snapshotCacheCapacity = 4096
)

// App holds every wired component a CLI command or an HTTP handler needs.
type App struct {
	Config *config.Config
	Log    *logging.Root

	DB    *sqlx.DB
	Redis *redis.Client

	Registry   registry.Registry
	Controller *controller.Service
	Health     *health.Poller
	Selector   *selector.Selector
	Guard      *auth.Guard
	APIKeys    apikeys.Store
	Identity   identity.Store
	Usage      *usage.Recorder
	UsageQuery usage.Reader
	Retention  *usage.Janitor
	Metrics    *metrics.Collector
	HealthPub  *metrics.HealthPublisher
	Deployment *deployment.Runner
	ConfigKV   configstore.Store
}

// New loads configuration, opens the durable stores, applies pending
// migrations, and constructs every component. It does not start any
// background task; call Run for that.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	root := logging.NewRoot(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	log := root.NewLogger("appctx")

	if err := dbmigrate.Apply(cfg.DatabaseDSN, log); err != nil {
		return nil, fmt.Errorf("applying schema migrations: %w", err)
	}

	db, err := sqlx.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	reg := registry.New(db, root.NewLogger("registry"))

	dockerRunner := controller.NewDockerRunner(root.NewLogger("controller"))
	ports := controller.NewPortAllocator(minPort, maxPort)
	ctrl := controller.NewService(reg, dockerRunner, ports, cfg.OfflineMode, root.NewLogger("controller"))

	brk := selector.NewBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown, clock.New())

	metricsCollector := metrics.New()

	sel := selector.New(reg, brk, metricsCollector)

	healthPoller, err := health.New(reg, brk, cfg.HealthPollInterval, snapshotCacheCapacity, root.NewLogger("health"))
	if err != nil {
		return nil, fmt.Errorf("constructing health poller: %w", err)
	}
	healthPub := metrics.NewHealthPublisher(metricsCollector, reg, healthPoller, cfg.HealthPollInterval)

	keyStore := apikeys.New(db)
	identityStore := identity.New(db)

	var sessionSigner *auth.SessionSigner
	if cfg.SessionKey != "" {
		sessionSigner, err = auth.NewSessionSigner([]byte(cfg.SessionKey), cfg.SessionTTL, "cortex")
		if err != nil {
			return nil, fmt.Errorf("constructing session signer: %w", err)
		}
	}

	authenticator := auth.New(keyStore, sessionSigner, auth.Config{DevAllowAllKeys: cfg.DevAllowAllKeys})

	var limiter auth.Limiter
	var tracker auth.ConcurrencyTracker
	if redisClient != nil {
		limiter = auth.NewGlobalLimiter(redisClient, "cortex:ratelimit", cfg.RateLimitRequests, cfg.RateLimitWindow)
		tracker = auth.NewGlobalConcurrencyTracker(redisClient, "cortex:concurrency", cfg.ConcurrencyCap)
	} else {
		limiter = auth.NewLocalLimiter(float64(cfg.RateLimitRequests)/cfg.RateLimitWindow.Seconds(), cfg.RateLimitRequests)
		tracker = auth.NewLocalConcurrencyTracker(cfg.ConcurrencyCap)
	}
	gate := auth.NewGate(limiter, tracker)
	guard := auth.NewGuard(authenticator, gate)

	usageStore := usage.NewPostgresStore(db)
	recorder := usage.NewRecorder(usageStore, usage.Config{
		QueueCapacity: cfg.UsageQueueCapacity,
		Workers:       cfg.UsageWorkers,
	}, root.NewLogger("usage"))
	retention := usage.NewJanitor(usageStore, cfg.UsageRetention, root.NewLogger("usage-retention"))
	usageReader := usage.NewReader(db)

	deploymentStore := deployment.NewPostgresStore(db)
	runner := deployment.NewRunner(deploymentStore, root.NewLogger("deployment"))

	kv := configstore.New(db)

	return &App{
		Config:     cfg,
		Log:        root,
		DB:         db,
		Redis:      redisClient,
		Registry:   reg,
		Controller: ctrl,
		Health:     healthPoller,
		Selector:   sel,
		Guard:      guard,
		APIKeys:    keyStore,
		Identity:   identityStore,
		Usage:      recorder,
		UsageQuery: usageReader,
		Retention:  retention,
		Metrics:    metricsCollector,
		HealthPub:  healthPub,
		Deployment: runner,
		ConfigKV:   kv,
	}, nil
}

// Run starts every background task and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.Usage.Start(ctx)
	go a.Health.Run(ctx)
	go a.HealthPub.Run(ctx)

	if err := a.Retention.Start(ctx, "@daily"); err != nil {
		a.Log.NewLogger("appctx").WithError(err).Error("failed to start usage retention janitor")
	}
	if err := a.Deployment.StartETATicker("@every 5s"); err != nil {
		a.Log.NewLogger("appctx").WithError(err).Error("failed to start deployment ETA ticker")
	}

	<-ctx.Done()
	a.Retention.Stop()
	a.Deployment.StopETATicker()
}

// Close releases the durable store connections.
func (a *App) Close() error {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	return a.DB.Close()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	appconfig "notify-pipeline/internal/config"
	apphttp "notify-pipeline/internal/handler/http"
	"notify-pipeline/internal/handler/http/respond"
	pgRepo "notify-pipeline/internal/infra/adapter/persistence/postgres"
	"notify-pipeline/internal/infra/cache"
	"notify-pipeline/internal/infra/db"
	"notify-pipeline/internal/infra/directory"
	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/infra/queue"
	"notify-pipeline/internal/infra/scheduler"
	workerPkg "notify-pipeline/internal/infra/worker"
	"notify-pipeline/internal/observability/logging"
	"notify-pipeline/internal/observability/tracing"
	pkgconfig "notify-pipeline/internal/pkg/config"
	"notify-pipeline/internal/repository"
	"notify-pipeline/internal/resilience/circuitbreaker"
	"notify-pipeline/internal/resilience/retry"
	"notify-pipeline/internal/usecase/compensation"
	"notify-pipeline/internal/usecase/dispatch"
	"notify-pipeline/internal/usecase/recall"
	"notify-pipeline/internal/usecase/schedule"
	envconfig "notify-pipeline/pkg/config"
)

// Engine keys of the background sweeps. Schedule jobs use schedule.JobKey.
const (
	jobCompensation    = "compensation"
	jobScheduleMonitor = "schedule-monitor"
	jobDedupSweep      = "dedup-sweep"
)

// cacheStore is a dedup cache backend that can purge its expired entries.
type cacheStore interface {
	repository.DedupCacheStore
	Sweep(ctx context.Context) (int, error)
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker failed", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := workerPkg.NewWorkerMetrics()
	cfg := workerPkg.LoadConfigFromEnv(logger, metrics)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	logger.Info("worker configuration loaded",
		slog.String("timezone", cfg.Timezone),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.Bool("scheduler_enabled", cfg.SchedulerEnabled),
		slog.Int("shard_size", cfg.ShardSize),
		slog.Int("http_port", cfg.HTTPPort))

	shutdownTracing := tracing.Init(cfg.TraceSampleRatio)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to stop tracer provider", slog.Any("error", err))
		}
	}()

	apps, err := appconfig.LoadAppRegistry(envconfig.GetEnvString("APPS_CONFIG_PATH", "config/apps.yaml"))
	if err != nil {
		return err
	}
	logger.Info("app registry loaded", slog.Any("apps", apps.IDs()))

	database, err := openDatabase(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	bodies := pgRepo.NewMessageBodyRepo(database)
	logs := pgRepo.NewDeliveryLogRepo(database)
	records := pgRepo.NewRecallRecordRepo(database)
	schedules := pgRepo.NewScheduleRepo(database)

	store := newCacheStore(cfg, database)
	dedup := dispatch.NewDedupCache(store, cfg.DedupBodyTTL, cfg.DedupDeliveryTTL)

	gw := gateway.NewClient(gateway.Config{BaseURL: apps.BaseURL, Timeout: cfg.GatewayTimeout}, apps)
	directoryClient := gateway.NewClient(gateway.Config{
		BaseURL: apps.BaseURL,
		Timeout: cfg.GatewayTimeout,
		Retry:   retry.DirectoryConfig(),
	}, apps)
	resolver := directory.NewResolver(directoryClient, directory.Config{AppID: apps.DirectoryAppID})

	q, err := newQueue(cfg)
	if err != nil {
		return err
	}

	svc := dispatch.NewService(bodies, logs, dedup, q, resolver, apps, dispatch.Config{
		MaxRecipients:  cfg.MaxRecipients,
		InsertChunk:    cfg.InsertChunk,
		ShardSize:      cfg.ShardSize,
		DeliveryWindow: cfg.DedupDeliveryTTL,
	})
	shardWorker := dispatch.NewWorker(bodies, logs, gw, resolver, cfg.GatewayTimeout)
	coordinator := recall.NewCoordinator(logs, bodies, records, gw, dedup)

	engine := scheduler.New(loc)
	manager := schedule.NewManager(schedules, bodies, logs, svc, resolver, engine, cfg.MaxRecipients)
	supervisor := compensation.NewSupervisor(logs, svc, compensation.Config{
		MaxRetries: cfg.CompensationMaxRetries,
		StaleAfter: cfg.CompensationStaleAfter,
		BatchLimit: cfg.CompensationBatchLimit,
		Location:   loc,
	})

	health := &apphttp.HealthHandler{
		Deps:    map[string]apphttp.Pinger{"database": database},
		Timeout: 2 * time.Second,
	}
	routes := apphttp.RouterConfig{
		Logger:         logger,
		Health:         health,
		Dispatcher:     svc,
		Recaller:       coordinator,
		Callbacks:      logs,
		Uploader:       gw,
		RequestTimeout: cfg.HTTPRequestTimeout,
	}
	// Schedule jobs live in this process's engine, so only the scheduler
	// replica accepts schedule commands.
	if cfg.SchedulerEnabled {
		routes.Schedules = manager
	}
	server := workerPkg.NewServer(fmt.Sprintf(":%d", cfg.HTTPPort), apphttp.NewRouter(routes), logger, cfg.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Consume(gctx, shardWorker.Handle)
	})
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.SchedulerEnabled {
		if err := startScheduler(gctx, logger, cfg, engine, metrics, manager, supervisor, store); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	} else {
		logger.Info("scheduler disabled on this replica")
	}

	health.SetReady(true)
	logger.Info("worker started")

	<-gctx.Done()
	health.SetReady(false)
	logger.Info("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop failed", slog.Any("error", err))
	}
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Error("queue shutdown failed", slog.Any("error", err))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

// openDatabase connects and applies the schema.
func openDatabase(ctx context.Context, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := envconfig.GetEnvRequired("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	connCfg := db.ConnectionConfigFromEnv(pkgconfig.NewLoader(logger, nil))

	// The database container may still be starting: allow about half a minute.
	startup := retry.DBConfig()
	startup.MaxAttempts = 10
	startup.InitialDelay = time.Second
	startup.MaxDelay = 5 * time.Second

	var database *sql.DB
	err = retry.WithBackoff(ctx, startup, func() error {
		d, err := db.Open(dsn, connCfg)
		if err != nil {
			logger.Info("database not ready, retrying", slog.String("error", respond.SanitizeError(err)))
			return err
		}
		database = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.MigrateUp(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

func newCacheStore(cfg *workerPkg.PipelineConfig, database *sql.DB) cacheStore {
	if cfg.CacheBackend == workerPkg.BackendPostgres {
		return pgRepo.NewDedupCacheStore(circuitbreaker.NewDBCircuitBreaker(database))
	}
	return cache.NewMemory()
}

func newQueue(cfg *workerPkg.PipelineConfig) (queue.Queue, error) {
	if cfg.QueueBackend == workerPkg.BackendAMQP {
		url, err := envconfig.GetEnvRequired("AMQP_URL")
		if err != nil {
			return nil, err
		}
		return queue.DialAMQP(url, queue.AMQPConfig{
			QueueName:   envconfig.GetEnvString("AMQP_QUEUE", "notify_shards"),
			Workers:     cfg.QueueWorkers,
			Prefetch:    envconfig.GetEnvInt("AMQP_PREFETCH", cfg.QueueWorkers),
			MaxAttempts: cfg.QueueMaxAttempts,
		})
	}
	return queue.NewMemory(queue.MemoryConfig{
		Workers:     cfg.QueueWorkers,
		Buffer:      cfg.QueueBuffer,
		MaxAttempts: cfg.QueueMaxAttempts,
	}), nil
}

// startScheduler registers the sweeps, restores enabled schedules and
// starts the engine.
func startScheduler(
	ctx context.Context,
	logger *slog.Logger,
	cfg *workerPkg.PipelineConfig,
	engine *scheduler.Engine,
	metrics *workerPkg.WorkerMetrics,
	manager *schedule.Manager,
	supervisor *compensation.Supervisor,
	store cacheStore,
) error {
	sweeps := []struct {
		key      string
		interval time.Duration
		run      func(context.Context) error
	}{
		{jobCompensation, cfg.CompensationInterval, func(ctx context.Context) error {
			_, err := supervisor.Sweep(ctx)
			return err
		}},
		{jobScheduleMonitor, cfg.ScheduleMonitorInterval, func(ctx context.Context) error {
			_, err := manager.Monitor(ctx)
			return err
		}},
		{jobDedupSweep, cfg.CacheSweepInterval, func(ctx context.Context) error {
			n, err := store.Sweep(ctx)
			if err == nil && n > 0 {
				logger.Debug("dedup cache swept", slog.Int("removed", n))
			}
			return err
		}},
	}
	for _, s := range sweeps {
		if _, err := engine.Register(s.key, "@every "+s.interval.String(), trackedJob(logger, metrics, s.key, s.run)); err != nil {
			return fmt.Errorf("register %s job: %w", s.key, err)
		}
	}

	restored, err := manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	engine.Start()
	logger.Info("scheduler started",
		slog.Int("schedules", restored),
		slog.Duration("compensation_interval", cfg.CompensationInterval),
		slog.Duration("monitor_interval", cfg.ScheduleMonitorInterval))
	return nil
}

func trackedJob(logger *slog.Logger, metrics *workerPkg.WorkerMetrics, name string, fn func(context.Context) error) scheduler.Job {
	return func(ctx context.Context) {
		if err := metrics.Track(ctx, name, fn); err != nil {
			logger.Error("periodic job failed",
				slog.String("job", name),
				slog.String("error", respond.SanitizeError(err)))
		}
	}
}

package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"notify-pipeline/internal/pkg/config"
)

// Queue and cache backends accepted by PipelineConfig.
const (
	BackendMemory   = "memory"
	BackendAMQP     = "amqp"
	BackendPostgres = "postgres"
)

// PipelineConfig holds every tunable of the worker process. Each field maps to
// one environment variable, listed in LoadConfigFromEnv.
type PipelineConfig struct {
	// Timezone is the IANA zone for schedule cron expressions, deadlines and
	// the compensation day boundary.
	Timezone string

	MaxRecipients int
	InsertChunk   int
	ShardSize     int

	DedupBodyTTL     time.Duration
	DedupDeliveryTTL time.Duration
	// CacheSweepInterval is how often expired dedup entries are purged.
	CacheSweepInterval time.Duration

	GatewayTimeout time.Duration

	CompensationInterval   time.Duration
	CompensationStaleAfter time.Duration
	CompensationMaxRetries int
	CompensationBatchLimit int

	ScheduleMonitorInterval time.Duration
	// SchedulerEnabled marks the replica that runs the engine, the monitor
	// and the compensation sweep. Exactly one replica should set it.
	SchedulerEnabled bool

	QueueBackend     string
	QueueWorkers     int
	QueueBuffer      int
	QueueMaxAttempts int

	CacheBackend string

	HTTPPort           int
	HTTPRequestTimeout time.Duration
	ShutdownTimeout    time.Duration
	TraceSampleRatio   float64
}

func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		Timezone:                "Asia/Tokyo",
		MaxRecipients:           10000,
		InsertChunk:             500,
		ShardSize:               50,
		DedupBodyTTL:            168 * time.Hour,
		DedupDeliveryTTL:        24 * time.Hour,
		CacheSweepInterval:      10 * time.Minute,
		GatewayTimeout:          15 * time.Second,
		CompensationInterval:    5 * time.Minute,
		CompensationStaleAfter:  30 * time.Minute,
		CompensationMaxRetries:  3,
		CompensationBatchLimit:  1000,
		ScheduleMonitorInterval: time.Minute,
		SchedulerEnabled:        true,
		QueueBackend:            BackendMemory,
		QueueWorkers:            4,
		QueueBuffer:             256,
		QueueMaxAttempts:        3,
		CacheBackend:            BackendMemory,
		HTTPPort:                8080,
		HTTPRequestTimeout:      30 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		TraceSampleRatio:        0.1,
	}
}

// Location loads Timezone. Validate guarantees it succeeds.
func (c *PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks every field and reports all failures together.
func (c *PipelineConfig) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("timezone", config.ValidateTimezone(c.Timezone))
	check("dispatch max recipients", config.ValidateIntRange(c.MaxRecipients, 1, 100000))
	check("dispatch insert chunk", config.ValidateIntRange(c.InsertChunk, 1, 5000))
	check("dispatch shard size", config.ValidateIntRange(c.ShardSize, 1, 1000))
	check("dedup body ttl", config.ValidatePositiveDuration(c.DedupBodyTTL))
	check("dedup delivery ttl", config.ValidatePositiveDuration(c.DedupDeliveryTTL))
	check("cache sweep interval", config.ValidatePositiveDuration(c.CacheSweepInterval))
	check("gateway timeout", config.ValidateDuration(c.GatewayTimeout, time.Second, 5*time.Minute))
	check("compensation interval", config.ValidateDuration(c.CompensationInterval, 10*time.Second, 24*time.Hour))
	check("compensation stale after", config.ValidatePositiveDuration(c.CompensationStaleAfter))
	check("compensation max retries", config.ValidateIntRange(c.CompensationMaxRetries, 1, 20))
	check("compensation batch limit", config.ValidateIntRange(c.CompensationBatchLimit, 1, 100000))
	check("schedule monitor interval", config.ValidateDuration(c.ScheduleMonitorInterval, time.Second, time.Hour))
	check("queue backend", config.ValidateOneOf(BackendMemory, BackendAMQP)(c.QueueBackend))
	check("queue workers", config.ValidateIntRange(c.QueueWorkers, 1, 256))
	check("queue buffer", config.ValidateIntRange(c.QueueBuffer, 1, 100000))
	check("queue max attempts", config.ValidateIntRange(c.QueueMaxAttempts, 1, 20))
	check("cache backend", config.ValidateOneOf(BackendMemory, BackendPostgres)(c.CacheBackend))
	check("http port", config.ValidateIntRange(c.HTTPPort, 1024, 65535))
	check("http request timeout", config.ValidatePositiveDuration(c.HTTPRequestTimeout))
	check("shutdown timeout", config.ValidatePositiveDuration(c.ShutdownTimeout))
	check("trace sample ratio", validateRatio(c.TraceSampleRatio))

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// LoadConfigFromEnv reads the pipeline configuration. Invalid values fall
// back to their defaults with a warning and a fallback metric; loading never
// fails.
//
// Environment variables:
//
//	SCHEDULER_TIMEZONE         (Asia/Tokyo)
//	DISPATCH_MAX_RECIPIENTS    (10000)
//	DISPATCH_INSERT_CHUNK      (500)
//	DISPATCH_SHARD_SIZE        (50)
//	DEDUP_BODY_TTL             (168h)
//	DEDUP_DELIVERY_TTL         (24h)
//	DEDUP_SWEEP_INTERVAL       (10m)
//	GATEWAY_TIMEOUT            (15s)
//	COMPENSATION_INTERVAL      (5m)
//	COMPENSATION_STALE_AFTER   (30m)
//	COMPENSATION_MAX_RETRIES   (3)
//	COMPENSATION_BATCH_LIMIT   (1000)
//	SCHEDULE_MONITOR_INTERVAL  (1m)
//	SCHEDULER_ENABLED          (true)
//	QUEUE_BACKEND              (memory|amqp)
//	QUEUE_WORKERS              (4)
//	QUEUE_BUFFER               (256)
//	QUEUE_MAX_ATTEMPTS         (3)
//	CACHE_BACKEND              (memory|postgres)
//	HTTP_PORT                  (8080)
//	HTTP_REQUEST_TIMEOUT       (30s)
//	SHUTDOWN_TIMEOUT           (30s)
//	TRACE_SAMPLE_RATIO         (0.1)
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) *PipelineConfig {
	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(logger, cm)
	cfg := DefaultConfig()

	intIn := func(min, max int) func(int) error {
		return func(v int) error { return config.ValidateIntRange(v, min, max) }
	}
	durIn := func(min, max time.Duration) func(time.Duration) error {
		return func(d time.Duration) error { return config.ValidateDuration(d, min, max) }
	}

	cfg.Timezone = config.Apply(l, "timezone",
		config.LoadEnvString("SCHEDULER_TIMEZONE", cfg.Timezone, config.ValidateTimezone))

	cfg.MaxRecipients = config.Apply(l, "dispatch_max_recipients",
		config.LoadEnvInt("DISPATCH_MAX_RECIPIENTS", cfg.MaxRecipients, intIn(1, 100000)))
	cfg.InsertChunk = config.Apply(l, "dispatch_insert_chunk",
		config.LoadEnvInt("DISPATCH_INSERT_CHUNK", cfg.InsertChunk, intIn(1, 5000)))
	cfg.ShardSize = config.Apply(l, "dispatch_shard_size",
		config.LoadEnvInt("DISPATCH_SHARD_SIZE", cfg.ShardSize, intIn(1, 1000)))

	cfg.DedupBodyTTL = config.Apply(l, "dedup_body_ttl",
		config.LoadEnvDuration("DEDUP_BODY_TTL", cfg.DedupBodyTTL, config.ValidatePositiveDuration))
	cfg.DedupDeliveryTTL = config.Apply(l, "dedup_delivery_ttl",
		config.LoadEnvDuration("DEDUP_DELIVERY_TTL", cfg.DedupDeliveryTTL, config.ValidatePositiveDuration))
	cfg.CacheSweepInterval = config.Apply(l, "dedup_sweep_interval",
		config.LoadEnvDuration("DEDUP_SWEEP_INTERVAL", cfg.CacheSweepInterval, config.ValidatePositiveDuration))

	cfg.GatewayTimeout = config.Apply(l, "gateway_timeout",
		config.LoadEnvDuration("GATEWAY_TIMEOUT", cfg.GatewayTimeout, durIn(time.Second, 5*time.Minute)))

	cfg.CompensationInterval = config.Apply(l, "compensation_interval",
		config.LoadEnvDuration("COMPENSATION_INTERVAL", cfg.CompensationInterval, durIn(10*time.Second, 24*time.Hour)))
	cfg.CompensationStaleAfter = config.Apply(l, "compensation_stale_after",
		config.LoadEnvDuration("COMPENSATION_STALE_AFTER", cfg.CompensationStaleAfter, config.ValidatePositiveDuration))
	cfg.CompensationMaxRetries = config.Apply(l, "compensation_max_retries",
		config.LoadEnvInt("COMPENSATION_MAX_RETRIES", cfg.CompensationMaxRetries, intIn(1, 20)))
	cfg.CompensationBatchLimit = config.Apply(l, "compensation_batch_limit",
		config.LoadEnvInt("COMPENSATION_BATCH_LIMIT", cfg.CompensationBatchLimit, intIn(1, 100000)))

	cfg.ScheduleMonitorInterval = config.Apply(l, "schedule_monitor_interval",
		config.LoadEnvDuration("SCHEDULE_MONITOR_INTERVAL", cfg.ScheduleMonitorInterval, durIn(time.Second, time.Hour)))
	cfg.SchedulerEnabled = config.Apply(l, "scheduler_enabled",
		config.LoadEnvBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled))

	cfg.QueueBackend = config.Apply(l, "queue_backend",
		config.LoadEnvString("QUEUE_BACKEND", cfg.QueueBackend, config.ValidateOneOf(BackendMemory, BackendAMQP)))
	cfg.QueueWorkers = config.Apply(l, "queue_workers",
		config.LoadEnvInt("QUEUE_WORKERS", cfg.QueueWorkers, intIn(1, 256)))
	cfg.QueueBuffer = config.Apply(l, "queue_buffer",
		config.LoadEnvInt("QUEUE_BUFFER", cfg.QueueBuffer, intIn(1, 100000)))
	cfg.QueueMaxAttempts = config.Apply(l, "queue_max_attempts",
		config.LoadEnvInt("QUEUE_MAX_ATTEMPTS", cfg.QueueMaxAttempts, intIn(1, 20)))

	cfg.CacheBackend = config.Apply(l, "cache_backend",
		config.LoadEnvString("CACHE_BACKEND", cfg.CacheBackend, config.ValidateOneOf(BackendMemory, BackendPostgres)))

	cfg.HTTPPort = config.Apply(l, "http_port",
		config.LoadEnvInt("HTTP_PORT", cfg.HTTPPort, intIn(1024, 65535)))
	cfg.HTTPRequestTimeout = config.Apply(l, "http_request_timeout",
		config.LoadEnvDuration("HTTP_REQUEST_TIMEOUT", cfg.HTTPRequestTimeout, config.ValidatePositiveDuration))
	cfg.ShutdownTimeout = config.Apply(l, "shutdown_timeout",
		config.LoadEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout, config.ValidatePositiveDuration))
	cfg.TraceSampleRatio = config.Apply(l, "trace_sample_ratio",
		config.LoadEnv("TRACE_SAMPLE_RATIO", cfg.TraceSampleRatio, parseFloat, validateRatio))

	l.Finish()
	return &cfg
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number format")
	}
	return v, nil
}

func validateRatio(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("ratio %v out of range [0, 1]", v)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/circuitbreaker"
	infraconfig "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/config"
	infragin "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/profiling"
	infraredis "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/api"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/config"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/handler"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/tracking"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if pprofServer := profiling.StartPprofServer(log); pprofServer != nil {
		defer func() { _ = pprofServer.Close() }()
	}

	deps, err := connect(cfg, log)
	if err != nil {
		log.Error("Failed to connect dependencies", logger.Error(err))
		return 1
	}
	defer deps.close()

	return runServer(cfg, log, deps)
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	configPath := infraconfig.GetConfigPath("config.yml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(cfg.Logging.Logger(cfg.Service.Debug))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// dependencies holds the external connections. Either may be nil.
type dependencies struct {
	db    *sqlx.DB
	redis *redis.Client
}

// connect opens Postgres when the queue sink needs it and Redis when enabled.
func connect(cfg *config.Config, log logger.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.Sink.Kind == config.SinkQueue {
		db, err := storage.Connect(cfg.Database.Storage())
		if err != nil {
			return nil, err
		}
		deps.db = db
		log.Info("Database connected",
			logger.String("host", cfg.Database.Host),
			logger.Int("port", cfg.Database.Port),
			logger.String("database", cfg.Database.Database),
		)
	}

	if cfg.Redis.Enabled {
		client, err := infraredis.NewClient(context.Background(), cfg.Redis.Config)
		if err != nil {
			deps.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		deps.redis = client
		log.Info("Redis connected", logger.String("address", cfg.Redis.Address))
	}

	return deps, nil
}

func (d *dependencies) close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// runServer wires the gateway, the page registry and the HTTP server and
// blocks until shutdown.
func runServer(cfg *config.Config, log logger.Logger, deps *dependencies) int {
	m := metrics.New()

	sink, stopSink := buildSink(cfg, log, deps, m)
	defer stopSink()

	gw := gateway.New(sink,
		gateway.WithLogger(log),
		gateway.WithDevelopment(cfg.Sink.Development),
		gateway.WithDedupWindow(cfg.Sink.DedupWindow),
		gateway.WithObserver(m),
	)

	registry := tracking.NewRegistry(gw,
		tracking.WithIdleTimeout(cfg.Tracking.PageIdleTimeout),
		tracking.WithRegistryLogger(log),
		tracking.WithGauge(m.PagesLive),
	)
	defer registry.CloseAll()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Tracking.SweepSchedule, func() { registry.SweepNow() }); err != nil {
		log.Error("Invalid sweep schedule", logger.String("schedule", cfg.Tracking.SweepSchedule), logger.Error(err))
		return 1
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	regions := handler.MemoryRegionOpener()
	if deps.redis != nil {
		regions = handler.RedisRegionOpener(deps.redis, cfg.Redis.SessionTTL)
	}

	var events handler.EventLister
	if deps.db != nil {
		events = storage.NewEventRepository(deps.db)
	}

	handlers := api.Handlers{
		Pageview: handler.NewPageviewHandler(regions, registry, gw, clockwork.NewRealClock(), log),
		Page:     handler.NewPageHandler(registry, m, events),
	}

	// done stops the rate limiter's cleanup goroutine.
	done := make(chan struct{})
	defer close(done)

	server := api.NewServer(handlers, m, cfg, healthChecks(deps), done, log)
	if cfg.Auth.JWTSecret == "" && events != nil {
		log.Warn("AUTH_JWT_SECRET is empty; the events API is unauthenticated")
	}

	log.Info("Engagement tracker starting",
		logger.Int("port", cfg.Service.Port),
		logger.String("sink", cfg.Sink.Kind),
		logger.Bool("redis", deps.redis != nil),
	)

	if err := server.RunWithGracefulShutdown(context.Background()); err != nil {
		log.Error("Server error", logger.Error(err))
		return 1
	}

	log.Info("Engagement tracker exited cleanly")
	return 0
}

// buildSink picks the gateway sink. The stream sink sits behind a circuit
// breaker so a Redis outage does not hold every emit for the forward timeout.
// The returned stop function flushes anything still buffered.
func buildSink(cfg *config.Config, log logger.Logger, deps *dependencies, m *metrics.Metrics) (gateway.Sink, func()) {
	switch cfg.Sink.Kind {
	case config.SinkStream:
		publisher := storage.NewStreamPublisher(deps.redis, cfg.Sink.Stream, log)
		breaker := circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("Event stream circuit changed",
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		})
		forward := func(ctx context.Context, event domain.Event) error {
			return breaker.Execute(ctx, func(ctx context.Context) error {
				return publisher.Forward(ctx, event)
			})
		}
		return gateway.SelectSink(forward, nil), func() {}
	case config.SinkQueue:
		buf := storage.NewBuffer(cfg.Service.BufferSize)
		store := storage.NewStore(deps.db.DB, buf, log, cfg.Service.FlushInterval, cfg.Service.FlushThreshold)
		store.Start()
		m.RegisterBufferDepth(buf.Len)
		return gateway.SelectSink(nil, buf), store.Stop
	default:
		return gateway.NopSink(), func() {}
	}
}

func healthChecks(deps *dependencies) map[string]infragin.HealthChecker {
	checks := make(map[string]infragin.HealthChecker)
	if deps.db != nil {
		checks["database"] = infragin.PingChecker(deps.db.PingContext, false)
	}
	if deps.redis != nil {
		checks["redis"] = infragin.PingChecker(func(ctx context.Context) error {
			return deps.redis.Ping(ctx).Err()
		}, false)
	}
	return checks
}

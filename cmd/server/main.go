package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/adapter/httpserver"
	"github.com/pscheid92/relay/internal/adapter/memory"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/pscheid92/relay/internal/adapter/postgres"
	"github.com/pscheid92/relay/internal/adapter/redis"
	"github.com/pscheid92/relay/internal/app"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/platform/config"
	"github.com/pscheid92/relay/internal/platform/logging"
	"github.com/pscheid92/relay/internal/platform/retry"
	"github.com/pscheid92/relay/internal/platform/version"
	"github.com/pscheid92/relay/internal/relay"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func startupPolicy(backend string) retry.Policy {
	p := retry.StartupPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Backend not reachable, retrying", "backend", backend, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

func setupDB(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, clock clockwork.Clock) *pgxpool.Pool {
	tracer := postgres.NewMetricsTracer(metrics.NewDatabaseMetrics(reg), clock)

	pool, err := retry.Do(ctx, startupPolicy("postgres"), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, storeMetrics *metrics.StoreMetrics, clock clockwork.Clock) *goredis.Client {
	hooks := []goredis.Hook{
		redis.NewMetricsHook(metrics.NewRedisMetrics(reg), clock),
		redis.NewCircuitBreakerHook(storeMetrics, redis.DefaultBreakerSettings),
	}

	client, err := retry.Do(ctx, startupPolicy("redis"), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return redis.NewClient(ctx, cfg.RedisURL, hooks...)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupStore builds the configured backend and returns it with its cleanup function.
func setupStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, storeMetrics *metrics.StoreMetrics, clock clockwork.Clock) (domain.ValueStore, func()) {
	switch cfg.Backend() {
	case domain.BackendPostgres:
		pool := setupDB(ctx, cfg, reg, clock)
		return postgres.NewValueStore(pool, cfg.DefaultValue, postgres.DefaultHistoryLimit), pool.Close
	case domain.BackendRedis:
		client := setupRedis(ctx, cfg, reg, storeMetrics, clock)
		return redis.NewValueStore(client, cfg.DefaultValue, redis.DefaultHistoryLimit, clock), func() { _ = client.Close() }
	default:
		return memory.NewValueStore(cfg.DefaultValue, memory.DefaultHistoryLimit, clock), func() {}
	}
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, manager *relay.Manager, channel *broadcast.Channel, stopTicker context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked connections are invisible to http.Server, so the relay drains first.
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Error("Relay shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopTicker()
		channel.Close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"version", version.Get().String(),
		"env", cfg.AppEnv,
		"mode", cfg.Mode(),
		"backend", cfg.Backend(),
		"echo", cfg.RelayEcho,
	)

	reg := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(reg)

	backend, closeBackend := setupStore(context.Background(), cfg, reg, storeMetrics, clock)
	defer closeBackend()
	store := app.NewGuardedStore(backend, storeMetrics, clock, app.DefaultBreakerSettings)

	channel, err := broadcast.New(cfg.ChannelCapacity)
	if err != nil {
		slog.Error("Failed to create broadcast channel", "error", err)
		os.Exit(1)
	}
	metrics.RegisterChannelStats(reg, channel)

	manager, err := relay.NewManager(channel, store, metrics.NewRelayMetrics(reg), relay.Options{
		Mode:           cfg.Mode(),
		Echo:           cfg.RelayEcho,
		DefaultValue:   &cfg.DefaultValue,
		MaxMessageSize: cfg.MaxMessageSize,
		CheckOrigin:    relay.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		Limits: relay.NewLimits(relay.LimitsConfig{
			MaxConnections: int64(cfg.MaxWebSocketConnections),
			MaxPerIP:       cfg.MaxConnectionsPerIP,
			RatePerSecond:  cfg.ConnectionRatePerSecond,
			Burst:          cfg.ConnectionBurst,
		}, clock),
		Clock: clock,
	})
	if err != nil {
		slog.Error("Failed to create relay", "error", err)
		os.Exit(1)
	}

	tickerCtx, stopTicker := context.WithCancel(context.Background())
	go app.NewStatsTicker(channel, manager, clock, app.DefaultStatsInterval, logger).Run(tickerCtx)

	srv := httpserver.NewServer(cfg, manager, reg, clock, []httpserver.HealthCheck{
		{Name: "store", Check: store.Ping},
	})

	done := runGracefulShutdown(cfg, srv, manager, channel, stopTicker)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/teleconsult-scheduling/internal/api"
	"github.com/hackgods/teleconsult-scheduling/internal/config"
	"github.com/hackgods/teleconsult-scheduling/internal/db"
	"github.com/hackgods/teleconsult-scheduling/internal/logging"
	"github.com/hackgods/teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/teleconsult-scheduling/internal/notify"
	"github.com/hackgods/teleconsult-scheduling/internal/provisioning"
	redisclient "github.com/hackgods/teleconsult-scheduling/internal/redis"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("lock_ttl", cfg.LockTTL),
		zap.Duration("provisioning_timeout", cfg.ProvisioningTimeout))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		migrator, err := db.NewMigrator(pgPool, logger)
		if err != nil {
			return err
		}
		err = migrator.Up(rootCtx)
		_ = migrator.Close()
		if err != nil {
			return err
		}
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var provisioner reservation.Provisioner
	if cfg.ProvisioningURL == "" {
		logger.Warn("PROVISIONING_URL is empty, meetings are minted locally")
		provisioner = provisioning.NewLocal(logger)
	} else {
		provisioner = provisioning.NewClient(cfg.ProvisioningURL, cfg.ProvisioningToken)
	}

	var notifier reservation.Notifier
	if cfg.RabbitMQURL == "" {
		notifier = notify.NewLogNotifier(logger)
	} else {
		pub := notify.NewPublisher(cfg.RabbitMQURL, cfg.NotifyQueue, logger)
		defer func() { _ = pub.Close() }()
		notifier = pub
	}

	svc := reservation.NewService(
		reservation.NewPgRepository(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait),
		provisioner,
		cfg,
		reservation.WithNotifier(notifier),
		reservation.WithMetrics(metrics.New(reg)),
		reservation.WithLogger(logger.Named("reservation")),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Logger:   logger.Named("http"),
		Gatherer: reg,
		Checks: []api.Check{
			{Name: "postgres", Critical: true, Ping: func(ctx context.Context) error { return db.Ping(ctx, pgPool) }},
			{Name: "redis", Critical: false, Ping: func(ctx context.Context) error { return redisclient.Ping(ctx, rdb) }},
		},
		Env:                    cfg.Env,
		Version:                version,
		DefaultDurationMinutes: cfg.DefaultDurationMinutes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

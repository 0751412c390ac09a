package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/bunshop/bunshop-backend/internal/cron"
	"github.com/bunshop/bunshop-backend/internal/orders"
	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/metrics"
	"github.com/bunshop/bunshop-backend/pkg/redis"
)

const metricsAddr = ":9091"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "bunshop-cron"}).
			Error(context.Background(), "loading config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "bunshop-cron",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker terminated", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return multierr.Append(err, dbClient.Close())
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	cronMetrics := metrics.NewCronJobMetrics(promRegistry)

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, logg)
	if err != nil {
		return err
	}

	ttlJob, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:    logg,
		Lifecycle: ordersSvc,
		Orders:    ordersRepo,
	})
	if err != nil {
		return err
	}

	registry := cron.NewRegistry()
	registry.Register(ttlJob)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), 0)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server failed", err)
		}
	}()

	logg.Info(ctx, "cron worker started")
	runErr := service.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return multierr.Combine(
		runErr,
		metricsServer.Shutdown(shutdownCtx),
		dbClient.Close(),
		redisClient.Close(),
	)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/bunshop/bunshop-backend/api"
	"github.com/bunshop/bunshop-backend/api/controllers"
	"github.com/bunshop/bunshop-backend/api/controllers/webhooks"
	"github.com/bunshop/bunshop-backend/api/routes"
	"github.com/bunshop/bunshop-backend/internal/capacity"
	"github.com/bunshop/bunshop-backend/internal/catalog"
	"github.com/bunshop/bunshop-backend/internal/orders"
	"github.com/bunshop/bunshop-backend/internal/reservations"
	stripewebhook "github.com/bunshop/bunshop-backend/internal/webhooks/stripe"
	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/migrate"
	"github.com/bunshop/bunshop-backend/pkg/redis"
	"github.com/bunshop/bunshop-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger().Error(context.Background(), "loading config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "bunshop-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api terminated", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return multierr.Append(err, dbClient.Close())
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return multierr.Combine(err, dbClient.Close(), redisClient.Close())
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	ledger := capacity.NewLedger()

	catalogSvc, err := catalog.NewService(dbClient, catalogRepo, ledger, cfg.Reservation)
	if err != nil {
		return err
	}
	ordersSvc, err := orders.NewService(ordersRepo, logg)
	if err != nil {
		return err
	}
	reservationsSvc, err := reservations.NewService(
		dbClient, catalogRepo, ordersRepo, ledger, stripeClient, logg, cfg.Reservation,
	)
	if err != nil {
		return err
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Lifecycle: ordersSvc,
		Resolver:  ordersRepo,
		Logger:    logg,
	})
	if err != nil {
		return err
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.WebhookIdemTTL, "stripe-webhook")
	if err != nil {
		return err
	}
	stripeController, err := webhooks.NewStripeController(webhookSvc, webhookGuard, stripeClient.SigningSecret(), logg)
	if err != nil {
		return err
	}

	router := routes.New(logg, routes.Controllers{
		Health:  controllers.NewHealthController(dbClient, redisClient, logg),
		Catalog: controllers.NewCatalogController(catalogSvc, logg),
		Orders:  controllers.NewOrdersController(reservationsSvc, ordersSvc, logg),
		Stripe:  stripeController,
	})

	server := api.NewServer(cfg.App, router, logg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return multierr.Combine(err, dbClient.Close(), redisClient.Close())
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	return multierr.Combine(
		server.Shutdown(shutdownCtx),
		dbClient.Close(),
		redisClient.Close(),
	)
}

func bootLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "bunshop-api"})
}

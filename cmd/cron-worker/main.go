package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweveninteriosolutions-wq/billing-backend/internal/alerts"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/cron"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/procurement"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/metrics"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/migrate"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/redis"
)

// repoStockReader supplies the alert evaluator with current stock, reading
// the ledger repository directly to avoid the service's evaluator dependency.
type repoStockReader struct {
	repo ledger.Repository
}

func (r repoStockReader) GetStock(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error) {
	record, err := r.repo.GetRecord(ctx, variantID, branchID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &models.StockRecord{VariantID: variantID, BranchID: branchID}, nil
	}
	return record, nil
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	branchID, err := uuid.Parse(cfg.Service.BranchID)
	if err != nil {
		logg.Error(context.Background(), "invalid branch id in config", err)
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	alertsService, err := alerts.NewService(
		alerts.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		repoStockReader{repo: ledgerRepo},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create alerts service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledgerRepo, dbClient, outboxService, alertsService, branchID, cfg.Ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewReservationSweepJob(cron.ReservationSweepJobParams{
		Logger: logg,
		Ledger: ledgerService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweep job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	procurementRepo := procurement.NewRepository(dbClient.DB())
	ratingJob, err := cron.NewRatingRecomputeJob(cron.RatingRecomputeJobParams{
		Logger:  logg,
		Orders:  procurementRepo,
		Ratings: procurementRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rating recompute job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockKey, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(sweepJob, retentionJob, ratingJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

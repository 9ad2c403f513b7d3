package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/sweveninteriosolutions-wq/billing-backend/internal/alerts"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/branchsync"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/migrate"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/idempotency"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/pubsub"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/redis"
)

// repoStockReader reads current stock for the alert evaluator straight from
// the ledger repository, sidestepping the service's own evaluator dependency.
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
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	branchID, err := uuid.Parse(cfg.Service.BranchID)
	requireResource(ctx, logg, "branch id", err)

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	err = migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	alertsService, err := alerts.NewService(
		alerts.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		repoStockReader{repo: ledgerRepo},
	)
	requireResource(ctx, logg, "alerts service", err)

	ledgerService, err := ledger.NewService(ledgerRepo, dbClient, outboxService, alertsService, branchID, cfg.Ledger)
	requireResource(ctx, logg, "ledger service", err)

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	syncConsumer, err := branchsync.NewConsumer(
		ledgerService,
		pubsubClient.MovementsSubscription(),
		idempotencyManager,
		logg,
	)
	requireResource(ctx, logg, "branch sync consumer", err)

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: syncConsumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
		"branch_id":   branchID.String(),
	})
	logg.Info(runCtx, "starting branch sync worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "branch sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "branch sync worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

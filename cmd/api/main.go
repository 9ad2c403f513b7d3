package main

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/routes"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/alerts"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/documents"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/payments"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/procurement"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/migrate"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/redis"
)

// repoStockReader feeds the alert evaluator current stock without going
// through the ledger service, which itself depends on the evaluator.
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
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

	documentsService, err := documents.NewService(
		documents.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		ledgerService,
		cfg.Invoice,
		cfg.Ledger,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create documents service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		payments.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		cfg.Loyalty,
		cfg.Ledger,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	procurementService, err := procurement.NewService(
		procurement.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		ledgerService,
		cfg.Ledger,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create procurement service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"branch_id": branchID.String(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Ledger:      ledgerService,
			Alerts:      alertsService,
			Documents:   documentsService,
			Payments:    paymentsService,
			Procurement: procurementService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

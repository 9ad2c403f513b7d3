package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/controllers"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/middleware"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/alerts"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/dispatch"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/documents"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/payments"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/procurement"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	pkgredis "github.com/sweveninteriosolutions-wq/billing-backend/pkg/redis"
)

// Dependencies carries everything the HTTP surface needs. Readiness
// pingers may be nil, in which case the probe reports them skipped.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       *pkgredis.Client
	Ledger      ledger.Service
	Alerts      alerts.Service
	Documents   documents.Service
	Payments    payments.Service
	Procurement procurement.Service
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"postgres": deps.DB,
			"redis":    pingerOrNil(deps.Redis),
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		var idempotencyStore pkgredis.IdempotencyStore
		if deps.Redis != nil {
			idempotencyStore = deps.Redis
		}
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/stock", func(r chi.Router) {
			r.With(middleware.Authorize(dispatch.CommandStockReserve, logg)).Post("/reserve", controllers.StockReserve(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockRelease, logg)).Post("/release", controllers.StockRelease(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockDeduct, logg)).Post("/deduct", controllers.StockDeduct(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockReplenish, logg)).Post("/replenish", controllers.StockReplenish(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockAdjust, logg)).Post("/adjust", controllers.StockAdjust(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockTransfer, logg)).Post("/transfer", controllers.StockTransfer(deps.Ledger, logg))

			r.With(middleware.Authorize(dispatch.CommandThresholdSet, logg)).Put("/thresholds", controllers.ThresholdSet(deps.Alerts, logg))
			r.With(middleware.Authorize(dispatch.CommandThresholdRead, logg)).Get("/thresholds/{variantId}/{branchId}", controllers.ThresholdGet(deps.Alerts, logg))
			r.With(middleware.Authorize(dispatch.CommandThresholdRead, logg)).Get("/alerts/{branchId}", controllers.ThresholdListLow(deps.Alerts, logg))

			r.With(middleware.Authorize(dispatch.CommandStockRead, logg)).Get("/{variantId}/{branchId}", controllers.StockGet(deps.Ledger, logg))
			r.With(middleware.Authorize(dispatch.CommandStockRead, logg)).Get("/{variantId}/{branchId}/movements", controllers.StockMovements(deps.Ledger, logg))
		})

		r.Route("/documents", func(r chi.Router) {
			r.With(middleware.Authorize(dispatch.CommandDocumentCreate, logg)).Post("/", controllers.DocumentCreate(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentRead, logg)).Get("/", controllers.DocumentList(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentRead, logg)).Get("/{documentId}", controllers.DocumentGet(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentApprove, logg)).Post("/{documentId}/approve", controllers.DocumentApprove(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentConvert, logg)).Post("/{documentId}/convert", controllers.DocumentConvert(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentInvoice, logg)).Post("/{documentId}/invoice", controllers.DocumentInvoice(deps.Documents, logg))
			r.With(middleware.Authorize(dispatch.CommandDocumentCancel, logg)).Post("/{documentId}/cancel", controllers.DocumentCancel(deps.Documents, logg))

			r.With(middleware.Authorize(dispatch.CommandPaymentApply, logg)).Post("/{documentId}/payments", controllers.PaymentApply(deps.Payments, logg))
			r.With(middleware.Authorize(dispatch.CommandPaymentRead, logg)).Get("/{documentId}/payments", controllers.PaymentList(deps.Payments, logg))
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.With(middleware.Authorize(dispatch.CommandPurchaseCreate, logg)).Post("/", controllers.PurchaseCreate(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseRead, logg)).Get("/", controllers.PurchaseList(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseRead, logg)).Get("/{orderId}", controllers.PurchaseGet(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseApprove, logg)).Post("/{orderId}/approve", controllers.PurchaseApprove(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseReceive, logg)).Post("/{orderId}/receipts", controllers.PurchaseReceive(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseRead, logg)).Get("/{orderId}/receipts", controllers.PurchaseReceipts(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseClose, logg)).Post("/{orderId}/close", controllers.PurchaseClose(deps.Procurement, logg))
			r.With(middleware.Authorize(dispatch.CommandPurchaseCancel, logg)).Post("/{orderId}/cancel", controllers.PurchaseCancel(deps.Procurement, logg))
		})

		r.With(middleware.Authorize(dispatch.CommandPaymentRead, logg)).
			Get("/customers/{customerId}/loyalty", controllers.LoyaltyList(deps.Payments, logg))

		r.With(middleware.Authorize(dispatch.CommandPurchaseRead, logg)).
			Get("/suppliers/{supplierId}/rating", controllers.SupplierRating(deps.Procurement, logg))
	})

	return r
}

func pingerOrNil(client *pkgredis.Client) controllers.Pinger {
	if client == nil {
		return nil
	}
	return client
}

package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/responses"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/validators"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/procurement"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

type purchaseItemRequest struct {
	VariantID     string `json:"variant_id" validate:"required,uuid"`
	Qty           int    `json:"qty" validate:"required,gt=0"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"min=0"`
}

type purchaseCreateRequest struct {
	SupplierID string                `json:"supplier_id" validate:"required,uuid"`
	BranchID   string                `json:"branch_id" validate:"required,uuid"`
	ExpectedAt *time.Time            `json:"expected_at"`
	Items      []purchaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

// PurchaseCreate raises a purchase order against a supplier.
func PurchaseCreate(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload purchaseCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]procurement.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, procurement.ItemInput{
				VariantID:     uuid.MustParse(item.VariantID),
				Qty:           item.Qty,
				UnitCostCents: item.UnitCostCents,
			})
		}

		order, err := svc.Create(r.Context(), procurement.CreateInput{
			SupplierID:  uuid.MustParse(payload.SupplierID),
			BranchID:    uuid.MustParse(payload.BranchID),
			ExpectedAt:  payload.ExpectedAt,
			Items:       items,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseResponseFromModel(order))
	}
}

// PurchaseApprove moves a requested order to approved.
func PurchaseApprove(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return purchaseActionHandler(svc.Approve, logg)
}

// PurchaseClose short-closes an order before full delivery.
func PurchaseClose(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return purchaseActionHandler(svc.Close, logg)
}

// PurchaseCancel voids an order that has not received goods.
func PurchaseCancel(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return purchaseActionHandler(svc.Cancel, logg)
}

func purchaseActionHandler(
	fn func(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error),
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := fn(r.Context(), orderID, actorFromContext(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, purchaseResponseFromModel(order))
	}
}

type receiptLineRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

type purchaseReceiveRequest struct {
	Lines      []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
	ReceivedAt *time.Time           `json:"received_at"`
	Note       *string              `json:"note"`
}

// PurchaseReceive posts a goods receipt and replenishes branch stock.
func PurchaseReceive(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseReceiveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]procurement.ReceiptLineInput, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, procurement.ReceiptLineInput{
				VariantID: uuid.MustParse(line.VariantID),
				Qty:       line.Qty,
			})
		}

		var note *string
		if payload.Note != nil {
			sanitized := validators.SanitizeString(*payload.Note, 500)
			if sanitized != "" {
				note = &sanitized
			}
		}

		order, err := svc.ReceiveGRN(r.Context(), orderID, procurement.ReceiveInput{
			Lines:       lines,
			ReceivedAt:  payload.ReceivedAt,
			Note:        note,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, purchaseResponseFromModel(order))
	}
}

// PurchaseGet returns an order with its items.
func PurchaseGet(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, purchaseResponseFromModel(order))
	}
}

// PurchaseList filters orders by supplier, branch and status.
func PurchaseList(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := procurement.ListQuery{Limit: limit, Offset: offset}

		if supplierID, parseErr := validators.ParseQueryUUID(r, "supplier_id"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		} else if supplierID != uuid.Nil {
			query.SupplierID = &supplierID
		}

		if branchID, parseErr := validators.ParseQueryUUID(r, "branch_id"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		} else if branchID != uuid.Nil {
			query.BranchID = &branchID
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParsePurchaseOrderStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid purchase order status"))
				return
			}
			query.Status = &status
		}

		orders, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]purchaseResponse, 0, len(orders))
		for i := range orders {
			items = append(items, purchaseResponseFromModel(&orders[i]))
		}
		responses.WriteSuccess(w, map[string]any{"purchase_orders": items})
	}
}

// PurchaseReceipts lists the goods receipts posted against an order.
func PurchaseReceipts(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipts, err := svc.ListReceipts(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]receiptResponse, 0, len(receipts))
		for i := range receipts {
			items = append(items, receiptResponseFromModel(&receipts[i]))
		}
		responses.WriteSuccess(w, map[string]any{"receipts": items})
	}
}

// SupplierRating returns the running delivery score for a supplier.
func SupplierRating(svc procurement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supplierID, err := parsePathUUID(r, "supplierId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rating, err := svc.GetRating(r.Context(), supplierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ratingResponseFromModel(rating))
	}
}

type purchaseItemResponse struct {
	ID            uuid.UUID `json:"id"`
	VariantID     uuid.UUID `json:"variant_id"`
	OrderedQty    int       `json:"ordered_qty"`
	ReceivedQty   int       `json:"received_qty"`
	UnitCostCents int64     `json:"unit_cost_cents"`
}

type purchaseResponse struct {
	ID         uuid.UUID                 `json:"id"`
	SupplierID uuid.UUID                 `json:"supplier_id"`
	BranchID   uuid.UUID                 `json:"branch_id"`
	Status     enums.PurchaseOrderStatus `json:"status"`
	ExpectedAt *time.Time                `json:"expected_at,omitempty"`
	ClosedAt   *time.Time                `json:"closed_at,omitempty"`
	Items      []purchaseItemResponse    `json:"items"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

func purchaseResponseFromModel(m *models.PurchaseOrder) purchaseResponse {
	items := make([]purchaseItemResponse, 0, len(m.Items))
	for _, item := range m.Items {
		items = append(items, purchaseItemResponse{
			ID:            item.ID,
			VariantID:     item.VariantID,
			OrderedQty:    item.OrderedQty,
			ReceivedQty:   item.ReceivedQty,
			UnitCostCents: item.UnitCostCents,
		})
	}
	return purchaseResponse{
		ID:         m.ID,
		SupplierID: m.SupplierID,
		BranchID:   m.BranchID,
		Status:     m.Status,
		ExpectedAt: m.ExpectedAt,
		ClosedAt:   m.ClosedAt,
		Items:      items,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type receiptLineResponse struct {
	VariantID uuid.UUID `json:"variant_id"`
	Qty       int       `json:"qty"`
}

type receiptResponse struct {
	ID         uuid.UUID             `json:"id"`
	ReceivedAt time.Time             `json:"received_at"`
	Note       *string               `json:"note,omitempty"`
	Lines      []receiptLineResponse `json:"lines"`
}

func receiptResponseFromModel(m *models.GoodsReceipt) receiptResponse {
	lines := make([]receiptLineResponse, 0, len(m.Lines))
	for _, line := range m.Lines {
		lines = append(lines, receiptLineResponse{VariantID: line.VariantID, Qty: line.Qty})
	}
	return receiptResponse{
		ID:         m.ID,
		ReceivedAt: m.ReceivedAt,
		Note:       m.Note,
		Lines:      lines,
	}
}

type ratingResponse struct {
	SupplierID   uuid.UUID `json:"supplier_id"`
	OnTimeBps    int       `json:"on_time_bps"`
	FillRateBps  int       `json:"fill_rate_bps"`
	OrdersClosed int       `json:"orders_closed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func ratingResponseFromModel(m *models.VendorRating) ratingResponse {
	return ratingResponse{
		SupplierID:   m.SupplierID,
		OnTimeBps:    m.OnTimeBps,
		FillRateBps:  m.FillRateBps,
		OrdersClosed: m.OrdersClosed,
		UpdatedAt:    m.UpdatedAt,
	}
}

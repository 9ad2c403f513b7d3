package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/middleware"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/responses"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/validators"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

// actorFromContext resolves the authenticated user for movement audit rows.
func actorFromContext(r *http.Request) *uuid.UUID {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func parsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid path parameter").
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

type stockHoldRequest struct {
	Reference string     `json:"reference" validate:"required"`
	VariantID string     `json:"variant_id" validate:"required,uuid"`
	BranchID  string     `json:"branch_id" validate:"required,uuid"`
	Qty       int        `json:"qty" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// StockReserve places a hold on available stock under a reference.
func StockReserve(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockHoldRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		variantID := uuid.MustParse(payload.VariantID)
		branchID := uuid.MustParse(payload.BranchID)

		reservation, err := svc.Reserve(r.Context(), ledger.ReserveInput{
			Reference:   validators.SanitizeString(payload.Reference, 120),
			VariantID:   variantID,
			BranchID:    branchID,
			Qty:         payload.Qty,
			ActorUserID: actorFromContext(r),
			ExpiresAt:   payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, reservationResponseFromModel(reservation))
	}
}

type stockReferenceRequest struct {
	Reference string `json:"reference" validate:"required"`
	VariantID string `json:"variant_id" validate:"required,uuid"`
	BranchID  string `json:"branch_id" validate:"required,uuid"`
}

// StockRelease returns a held reservation to available stock.
func StockRelease(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockReferenceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.Release(r.Context(), ledger.ReleaseInput{
			Reference:   validators.SanitizeString(payload.Reference, 120),
			VariantID:   uuid.MustParse(payload.VariantID),
			BranchID:    uuid.MustParse(payload.BranchID),
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"released": true})
	}
}

// StockDeduct consumes a held reservation, removing stock from on-hand.
func StockDeduct(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockReferenceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.Deduct(r.Context(), ledger.DeductInput{
			Reference:   validators.SanitizeString(payload.Reference, 120),
			VariantID:   uuid.MustParse(payload.VariantID),
			BranchID:    uuid.MustParse(payload.BranchID),
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"deducted": true})
	}
}

type stockReplenishRequest struct {
	Reference string `json:"reference" validate:"required"`
	VariantID string `json:"variant_id" validate:"required,uuid"`
	BranchID  string `json:"branch_id" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

// StockReplenish adds received quantity to on-hand stock.
func StockReplenish(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockReplenishRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.Replenish(r.Context(), ledger.ReplenishInput{
			Reference:   validators.SanitizeString(payload.Reference, 120),
			VariantID:   uuid.MustParse(payload.VariantID),
			BranchID:    uuid.MustParse(payload.BranchID),
			Qty:         payload.Qty,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"replenished": true})
	}
}

type stockAdjustRequest struct {
	Reference string  `json:"reference" validate:"required"`
	VariantID string  `json:"variant_id" validate:"required,uuid"`
	BranchID  string  `json:"branch_id" validate:"required,uuid"`
	Delta     int     `json:"delta" validate:"required"`
	Note      *string `json:"note"`
}

// StockAdjust applies a signed manual correction to on-hand stock.
func StockAdjust(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockAdjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var note *string
		if payload.Note != nil {
			sanitized := validators.SanitizeString(*payload.Note, 500)
			if sanitized != "" {
				note = &sanitized
			}
		}

		err := svc.Adjust(r.Context(), ledger.AdjustInput{
			Reference:   validators.SanitizeString(payload.Reference, 120),
			VariantID:   uuid.MustParse(payload.VariantID),
			BranchID:    uuid.MustParse(payload.BranchID),
			Delta:       payload.Delta,
			Note:        note,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"adjusted": true})
	}
}

type stockTransferRequest struct {
	Reference    string `json:"reference" validate:"required"`
	VariantID    string `json:"variant_id" validate:"required,uuid"`
	FromBranchID string `json:"from_branch_id" validate:"required,uuid"`
	ToBranchID   string `json:"to_branch_id" validate:"required,uuid"`
	Qty          int    `json:"qty" validate:"required,gt=0"`
}

// StockTransfer moves available stock between two branches atomically.
func StockTransfer(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload stockTransferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.Transfer(r.Context(), ledger.TransferInput{
			Reference:    validators.SanitizeString(payload.Reference, 120),
			VariantID:    uuid.MustParse(payload.VariantID),
			FromBranchID: uuid.MustParse(payload.FromBranchID),
			ToBranchID:   uuid.MustParse(payload.ToBranchID),
			Qty:          payload.Qty,
			ActorUserID:  actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"transferred": true})
	}
}

// StockGet returns the stock record for a variant at a branch.
func StockGet(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := parsePathUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		branchID, err := parsePathUUID(r, "branchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetStock(r.Context(), variantID, branchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, stockResponseFromModel(record))
	}
}

// StockMovements lists the audit trail for a variant at a branch.
func StockMovements(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := parsePathUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		branchID, err := parsePathUUID(r, "branchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := ledger.MovementQuery{VariantID: variantID, BranchID: branchID, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, parseErr := enums.ParseMovementKind(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid movement kind"))
				return
			}
			query.Kind = &kind
		}

		movements, err := svc.ListMovements(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]movementResponse, 0, len(movements))
		for _, mv := range movements {
			items = append(items, movementResponseFromModel(mv))
		}
		responses.WriteSuccess(w, map[string]any{"movements": items})
	}
}

type stockResponse struct {
	VariantID uuid.UUID `json:"variant_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	OnHand    int       `json:"on_hand"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func stockResponseFromModel(m *models.StockRecord) stockResponse {
	return stockResponse{
		VariantID: m.VariantID,
		BranchID:  m.BranchID,
		OnHand:    m.OnHand,
		Reserved:  m.Reserved,
		Available: m.Available(),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

type reservationResponse struct {
	ID        uuid.UUID               `json:"id"`
	Reference string                  `json:"reference"`
	VariantID uuid.UUID               `json:"variant_id"`
	BranchID  uuid.UUID               `json:"branch_id"`
	Qty       int                     `json:"qty"`
	Status    enums.ReservationStatus `json:"status"`
	ExpiresAt *time.Time              `json:"expires_at"`
	CreatedAt time.Time               `json:"created_at"`
}

func reservationResponseFromModel(m *models.StockReservation) reservationResponse {
	return reservationResponse{
		ID:        m.ID,
		Reference: m.Reference,
		VariantID: m.VariantID,
		BranchID:  m.BranchID,
		Qty:       m.Qty,
		Status:    m.Status,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}

type movementResponse struct {
	ID             uuid.UUID          `json:"id"`
	VariantID      uuid.UUID          `json:"variant_id"`
	BranchID       uuid.UUID          `json:"branch_id"`
	OriginBranchID uuid.UUID          `json:"origin_branch_id"`
	Kind           enums.MovementKind `json:"kind"`
	Delta          int                `json:"delta"`
	Reference      string             `json:"reference"`
	Seq            int64              `json:"seq"`
	Note           *string            `json:"note,omitempty"`
	RecordedAt     time.Time          `json:"recorded_at"`
}

func movementResponseFromModel(m models.StockMovement) movementResponse {
	return movementResponse{
		ID:             m.ID,
		VariantID:      m.VariantID,
		BranchID:       m.BranchID,
		OriginBranchID: m.OriginBranchID,
		Kind:           m.Kind,
		Delta:          m.Delta,
		Reference:      m.Reference,
		Seq:            m.Seq,
		Note:           m.Note,
		RecordedAt:     m.RecordedAt,
	}
}

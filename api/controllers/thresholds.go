package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/responses"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/validators"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/alerts"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

type thresholdSetRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	BranchID  string `json:"branch_id" validate:"required,uuid"`
	Threshold *int   `json:"threshold" validate:"required"`
}

// ThresholdSet writes the low-stock floor and re-evaluates the alert state.
func ThresholdSet(svc alerts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload thresholdSetRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Threshold == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "threshold is required"))
			return
		}

		threshold, err := svc.SetThreshold(r.Context(), alerts.SetThresholdInput{
			VariantID: uuid.MustParse(payload.VariantID),
			BranchID:  uuid.MustParse(payload.BranchID),
			Threshold: *payload.Threshold,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, thresholdResponseFromModel(threshold))
	}
}

// ThresholdGet returns the configured floor for a variant at a branch.
func ThresholdGet(svc alerts.Service, logg *logger.Logger) http.HandlerFunc {
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

		threshold, err := svc.GetThreshold(r.Context(), variantID, branchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, thresholdResponseFromModel(threshold))
	}
}

// ThresholdListLow lists variants currently below their floor at a branch.
func ThresholdListLow(svc alerts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		branchID, err := parsePathUUID(r, "branchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		low, err := svc.ListLow(r.Context(), branchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]thresholdResponse, 0, len(low))
		for _, th := range low {
			items = append(items, thresholdResponseFromModel(&th))
		}
		responses.WriteSuccess(w, map[string]any{"alerts": items})
	}
}

type thresholdResponse struct {
	VariantID uuid.UUID `json:"variant_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	Threshold int       `json:"threshold"`
	AlertLow  bool      `json:"alert_low"`
	UpdatedAt time.Time `json:"updated_at"`
}

func thresholdResponseFromModel(m *models.StockThreshold) thresholdResponse {
	return thresholdResponse{
		VariantID: m.VariantID,
		BranchID:  m.BranchID,
		Threshold: m.Threshold,
		AlertLow:  m.AlertLow,
		UpdatedAt: m.UpdatedAt,
	}
}

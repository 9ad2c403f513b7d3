package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/responses"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/validators"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/documents"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

type documentLineRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

type documentCreateRequest struct {
	BranchID   string                `json:"branch_id" validate:"required,uuid"`
	CustomerID string                `json:"customer_id" validate:"required,uuid"`
	Lines      []documentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// DocumentCreate opens a draft sales document with catalog-priced lines.
func DocumentCreate(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload documentCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]documents.LineInput, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, documents.LineInput{
				VariantID: uuid.MustParse(line.VariantID),
				Qty:       line.Qty,
			})
		}

		doc, err := svc.CreateDraft(r.Context(), documents.CreateDraftInput{
			BranchID:    uuid.MustParse(payload.BranchID),
			CustomerID:  uuid.MustParse(payload.CustomerID),
			Lines:       lines,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, documentResponseFromModel(doc))
	}
}

// DocumentApprove freezes totals and moves the draft to approved.
func DocumentApprove(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return documentTransitionHandler(svc.Approve, logg)
}

// DocumentConvert reserves stock for every line and marks the document converted.
func DocumentConvert(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return documentTransitionHandler(svc.Convert, logg)
}

// DocumentInvoice deducts reserved stock and assigns the invoice number.
func DocumentInvoice(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return documentTransitionHandler(svc.Invoice, logg)
}

func documentTransitionHandler(
	fn func(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error),
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := parsePathUUID(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		doc, err := fn(r.Context(), documentID, actorFromContext(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, documentResponseFromModel(doc))
	}
}

type documentCancelRequest struct {
	Note *string `json:"note"`
}

// DocumentCancel voids the document, releasing any held stock.
func DocumentCancel(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := parsePathUUID(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var note *string
		if r.ContentLength > 0 {
			var payload documentCancelRequest
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if payload.Note != nil {
				sanitized := validators.SanitizeString(*payload.Note, 500)
				if sanitized != "" {
					note = &sanitized
				}
			}
		}

		doc, err := svc.Cancel(r.Context(), documentID, actorFromContext(r), note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, documentResponseFromModel(doc))
	}
}

// DocumentGet returns a document with its lines.
func DocumentGet(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := parsePathUUID(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		doc, err := svc.Get(r.Context(), documentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, documentResponseFromModel(doc))
	}
}

// DocumentList filters documents by branch, customer and stage.
func DocumentList(svc documents.Service, logg *logger.Logger) http.HandlerFunc {
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

		query := documents.ListQuery{Limit: limit, Offset: offset}

		if branchID, parseErr := validators.ParseQueryUUID(r, "branch_id"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		} else if branchID != uuid.Nil {
			query.BranchID = &branchID
		}

		if customerID, parseErr := validators.ParseQueryUUID(r, "customer_id"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		} else if customerID != uuid.Nil {
			query.CustomerID = &customerID
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
			stage, parseErr := enums.ParseDocumentStage(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid document stage"))
				return
			}
			query.Stage = &stage
		}

		docs, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]documentResponse, 0, len(docs))
		for i := range docs {
			items = append(items, documentResponseFromModel(&docs[i]))
		}
		responses.WriteSuccess(w, map[string]any{"documents": items})
	}
}

type documentLineResponse struct {
	ID             uuid.UUID `json:"id"`
	VariantID      uuid.UUID `json:"variant_id"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TaxRateBps     int       `json:"tax_rate_bps"`
	TotalCents     int64     `json:"total_cents"`
}

type documentResponse struct {
	ID               uuid.UUID              `json:"id"`
	BranchID         uuid.UUID              `json:"branch_id"`
	CustomerID       uuid.UUID              `json:"customer_id"`
	Stage            enums.DocumentStage    `json:"stage"`
	InvoiceNumber    *string                `json:"invoice_number,omitempty"`
	SubtotalCents    int64                  `json:"subtotal_cents"`
	TaxCents         int64                  `json:"tax_cents"`
	GrandTotalCents  int64                  `json:"grand_total_cents"`
	PaidCents        int64                  `json:"paid_cents"`
	OutstandingCents int64                  `json:"outstanding_cents"`
	Lines            []documentLineResponse `json:"lines"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func documentResponseFromModel(m *models.SalesDocument) documentResponse {
	lines := make([]documentLineResponse, 0, len(m.Lines))
	for _, line := range m.Lines {
		lines = append(lines, documentLineResponse{
			ID:             line.ID,
			VariantID:      line.VariantID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			TaxRateBps:     line.TaxRateBps,
			TotalCents:     line.TotalCents,
		})
	}
	return documentResponse{
		ID:               m.ID,
		BranchID:         m.BranchID,
		CustomerID:       m.CustomerID,
		Stage:            m.Stage,
		InvoiceNumber:    m.InvoiceNumber,
		SubtotalCents:    m.SubtotalCents,
		TaxCents:         m.TaxCents,
		GrandTotalCents:  m.GrandTotalCents,
		PaidCents:        m.PaidCents,
		OutstandingCents: m.OutstandingCents(),
		Lines:            lines,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/api/responses"
	"github.com/sweveninteriosolutions-wq/billing-backend/api/validators"
	"github.com/sweveninteriosolutions-wq/billing-backend/internal/payments"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
)

type paymentApplyRequest struct {
	AmountCents int64   `json:"amount_cents" validate:"required,gt=0"`
	Method      string  `json:"method" validate:"required"`
	Reference   *string `json:"reference"`
}

// PaymentApply records money against an invoiced document.
func PaymentApply(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := parsePathUUID(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentApplyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.Method))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method"))
			return
		}

		var reference *string
		if payload.Reference != nil {
			sanitized := validators.SanitizeString(*payload.Reference, 120)
			if sanitized != "" {
				reference = &sanitized
			}
		}

		doc, err := svc.Apply(r.Context(), payments.ApplyInput{
			DocumentID:  documentID,
			AmountCents: payload.AmountCents,
			Method:      method,
			Reference:   reference,
			ActorUserID: actorFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, documentResponseFromModel(doc))
	}
}

// PaymentList returns the payments applied to a document in receipt order.
func PaymentList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := parsePathUUID(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.ListByDocument(r.Context(), documentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]paymentResponse, 0, len(items))
		for _, payment := range items {
			out = append(out, paymentResponseFromModel(payment))
		}
		responses.WriteSuccess(w, map[string]any{"payments": out})
	}
}

// LoyaltyList returns a customer's loyalty postings, newest first.
func LoyaltyList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := parsePathUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.ListLoyaltyByCustomer(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]loyaltyResponse, 0, len(items))
		for _, transaction := range items {
			out = append(out, loyaltyResponse{
				ID:         transaction.ID,
				CustomerID: transaction.CustomerID,
				DocumentID: transaction.DocumentID,
				Points:     transaction.Points,
				CreatedAt:  transaction.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"loyalty": out})
	}
}

type loyaltyResponse struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Points     int64     `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

type paymentResponse struct {
	ID          uuid.UUID           `json:"id"`
	DocumentID  uuid.UUID           `json:"document_id"`
	Method      enums.PaymentMethod `json:"method"`
	AmountCents int64               `json:"amount_cents"`
	Reference   *string             `json:"reference,omitempty"`
	ReceivedAt  time.Time           `json:"received_at"`
}

func paymentResponseFromModel(m models.Payment) paymentResponse {
	return paymentResponse{
		ID:          m.ID,
		DocumentID:  m.DocumentID,
		Method:      m.Method,
		AmountCents: m.AmountCents,
		Reference:   m.Reference,
		ReceivedAt:  m.ReceivedAt,
	}
}

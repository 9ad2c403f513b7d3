package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service applies money against invoiced documents. The final payment
// settles the document and posts loyalty points, once per document.
type Service interface {
	Apply(ctx context.Context, input ApplyInput) (*models.SalesDocument, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Payment, error)
	ListLoyaltyByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LoyaltyTransaction, error)
}

type ApplyInput struct {
	DocumentID  uuid.UUID
	AmountCents int64
	Method      enums.PaymentMethod
	Reference   *string
	ActorUserID *uuid.UUID
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	rate    decimal.Decimal
	retries config.LedgerConfig
	now     func() time.Time
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, loyalty config.LoyaltyConfig, retries config.LedgerConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	rate, err := decimal.NewFromString(loyalty.Rate)
	if err != nil {
		return nil, fmt.Errorf("parsing loyalty rate %q: %w", loyalty.Rate, err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("loyalty rate must not be negative")
	}
	if retries.ConflictRetries <= 0 {
		retries.ConflictRetries = 5
	}
	if retries.RetryBackoff <= 0 {
		retries.RetryBackoff = 25 * time.Millisecond
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  ob,
		rate:    rate,
		retries: retries,
		now:     time.Now,
	}, nil
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*models.SalesDocument, error) {
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodePaymentMismatch, "payment amount must be positive")
	}

	backoff := retry.WithMaxRetries(uint64(s.retries.ConflictRetries), retry.NewConstant(s.retries.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.applyTx(ctx, tx, input)
		})
		if err != nil && pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	document, err := s.repo.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading document")
	}
	return document, nil
}

func (s *service) applyTx(ctx context.Context, tx *gorm.DB, input ApplyInput) error {
	repo := s.repo.WithTx(tx)

	document, err := repo.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading document")
	}
	if document == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	if document.Stage != enums.DocumentStageInvoiced && document.Stage != enums.DocumentStagePartiallyPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "document is not accepting payments").
			WithDetails(map[string]any{"stage": document.Stage.String()})
	}

	outstanding := document.OutstandingCents()
	if input.AmountCents > outstanding {
		return pkgerrors.New(pkgerrors.CodePaymentMismatch, "payment exceeds outstanding balance").
			WithDetails(map[string]any{
				"amount_cents":      input.AmountCents,
				"outstanding_cents": outstanding,
			})
	}

	newPaid := document.PaidCents + input.AmountCents
	toStage := enums.DocumentStagePartiallyPaid
	settled := newPaid == document.GrandTotalCents
	if settled {
		toStage = enums.DocumentStageSettled
	}

	ok, err := repo.ApplyGuarded(ctx, document.ID, document.Stage, toStage, document.PaidCents, newPaid)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating balance")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "document balance changed concurrently")
	}

	receivedAt := s.now().UTC()
	if err := repo.InsertPayment(ctx, &models.Payment{
		DocumentID:  document.ID,
		Method:      input.Method,
		AmountCents: input.AmountCents,
		Reference:   input.Reference,
		ActorUserID: input.ActorUserID,
		ReceivedAt:  receivedAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording payment")
	}

	if toStage != document.Stage {
		if err := repo.InsertTransition(ctx, &models.DocumentTransition{
			DocumentID:  document.ID,
			FromStage:   document.Stage,
			ToStage:     toStage,
			ActorUserID: input.ActorUserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording transition")
		}
		branchID := document.BranchID
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDocumentStageChanged,
			AggregateType: enums.AggregateSalesDocument,
			AggregateID:   document.ID,
			BranchID:      &branchID,
			Version:       1,
			OccurredAt:    receivedAt,
			Data: payloads.DocumentStageChangedEvent{
				DocumentID: document.ID,
				BranchID:   document.BranchID,
				CustomerID: document.CustomerID,
				FromStage:  document.Stage,
				ToStage:    toStage,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing stage event")
		}
	}

	if settled {
		return s.settle(ctx, tx, repo, document, receivedAt)
	}
	return nil
}

// settle posts loyalty for the whole grand total. The unique index on the
// loyalty table's document id makes a double settlement impossible.
func (s *service) settle(ctx context.Context, tx *gorm.DB, repo Repository, document *models.SalesDocument, settledAt time.Time) error {
	points := s.loyaltyPoints(document.GrandTotalCents)
	if points > 0 {
		if err := repo.InsertLoyalty(ctx, &models.LoyaltyTransaction{
			CustomerID: document.CustomerID,
			DocumentID: document.ID,
			Points:     points,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "posting loyalty")
		}
		if err := repo.AddCustomerPoints(ctx, document.CustomerID, points); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "crediting customer")
		}
	}

	invoiceNumber := ""
	if document.InvoiceNumber != nil {
		invoiceNumber = *document.InvoiceNumber
	}
	branchID := document.BranchID
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceSettled,
		AggregateType: enums.AggregateSalesDocument,
		AggregateID:   document.ID,
		BranchID:      &branchID,
		Version:       1,
		OccurredAt:    settledAt,
		Data: payloads.InvoiceSettledEvent{
			DocumentID:      document.ID,
			InvoiceNumber:   invoiceNumber,
			CustomerID:      document.CustomerID,
			BranchID:        document.BranchID,
			GrandTotalCents: document.GrandTotalCents,
			LoyaltyPoints:   points,
			SettledAt:       settledAt,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing settlement event")
	}
	return nil
}

// loyaltyPoints is floor(grand total in currency units times the rate).
func (s *service) loyaltyPoints(grandTotalCents int64) int64 {
	return decimal.NewFromInt(grandTotalCents).
		Div(decimal.NewFromInt(100)).
		Mul(s.rate).
		Floor().
		IntPart()
}

func (s *service) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Payment, error) {
	payments, err := s.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payments")
	}
	return payments, nil
}

func (s *service) ListLoyaltyByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LoyaltyTransaction, error) {
	transactions, err := s.repo.ListLoyaltyByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing loyalty transactions")
	}
	return transactions, nil
}

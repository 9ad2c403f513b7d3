package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
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

// stockLedger is the slice of the ledger the document workflow drives.
// All calls are tx-scoped so a failed transition rolls its stock effects
// back together with the stage change.
type stockLedger interface {
	ReserveTx(ctx context.Context, tx *gorm.DB, input ledger.ReserveInput) (*models.StockReservation, error)
	DeductReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error
	ReleaseReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error
}

// Service walks a sales document through draft, approval, conversion,
// invoicing and settlement-adjacent stages. One document converts to at
// most one invoice.
type Service interface {
	CreateDraft(ctx context.Context, input CreateDraftInput) (*models.SalesDocument, error)
	Approve(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error)
	Convert(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error)
	Invoice(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error)
	Cancel(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID, note *string) (*models.SalesDocument, error)

	Get(ctx context.Context, documentID uuid.UUID) (*models.SalesDocument, error)
	List(ctx context.Context, query ListQuery) ([]models.SalesDocument, error)
}

type CreateDraftInput struct {
	BranchID    uuid.UUID
	CustomerID  uuid.UUID
	Lines       []LineInput
	ActorUserID *uuid.UUID
}

type LineInput struct {
	VariantID uuid.UUID
	Qty       int
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ledger  stockLedger
	invoice config.InvoiceConfig
	retries config.LedgerConfig
	now     func() time.Time
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, ledger stockLedger, invoice config.InvoiceConfig, retries config.LedgerConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("documents repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if invoice.NumberPrefix == "" {
		invoice.NumberPrefix = "INV"
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
		ledger:  ledger,
		invoice: invoice,
		retries: retries,
		now:     time.Now,
	}, nil
}

// Reference returns the ledger reference under which a document's stock is
// held. Reservations, deductions and releases all key off it.
func Reference(documentID uuid.UUID) string {
	return "doc:" + documentID.String()
}

func (s *service) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.retries.ConflictRetries), retry.NewConstant(s.retries.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *service) CreateDraft(ctx context.Context, input CreateDraftInput) (*models.SalesDocument, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "document requires at least one line")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		// Reservations are keyed (reference, variant, branch), so a second
		// line for the same variant could never hold its own stock.
		if _, dup := seen[line.VariantID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant listed more than once").
				WithDetails(map[string]any{"variant_id": line.VariantID.String()})
		}
		seen[line.VariantID] = struct{}{}
	}

	customer, err := s.repo.GetCustomer(ctx, input.CustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}

	document := &models.SalesDocument{
		ID:         uuid.New(),
		BranchID:   input.BranchID,
		CustomerID: input.CustomerID,
		Stage:      enums.DocumentStageDraft,
	}
	for _, line := range input.Lines {
		variant, err := s.repo.GetVariant(ctx, line.VariantID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variant")
		}
		if variant == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
				WithDetails(map[string]any{"variant_id": line.VariantID.String()})
		}
		if !variant.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is inactive").
				WithDetails(map[string]any{"sku": variant.SKU})
		}
		unitPrice := variant.UnitPriceCents
		effective, err := s.repo.GetEffectivePrice(ctx, line.VariantID, s.now())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading effective price")
		}
		if effective != nil {
			unitPrice = effective.UnitPriceCents
		}

		// Price and tax are frozen here; catalog edits never reprice the line.
		document.Lines = append(document.Lines, models.DocumentLine{
			VariantID:      line.VariantID,
			Qty:            line.Qty,
			UnitPriceCents: unitPrice,
			TaxRateBps:     variant.TaxRateBps,
		})
	}

	if err := s.repo.Create(ctx, document); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating document")
	}
	return document, nil
}

func (s *service) Approve(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error) {
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			document, err := s.loadForTransition(ctx, repo, documentID, enums.DocumentStageDraft)
			if err != nil {
				return err
			}
			if len(document.Lines) == 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "document requires at least one line")
			}

			subtotal, tax := int64(0), int64(0)
			for _, line := range document.Lines {
				lineSubtotal := int64(line.Qty) * line.UnitPriceCents
				lineTax := taxCents(lineSubtotal, line.TaxRateBps)
				if err := repo.UpdateLineTotals(ctx, line.ID, lineSubtotal+lineTax); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "freezing line total")
				}
				subtotal += lineSubtotal
				tax += lineTax
			}

			return s.transition(ctx, tx, repo, document, enums.DocumentStageApproved, actorUserID, nil, map[string]any{
				"subtotal_cents":    subtotal,
				"tax_cents":         tax,
				"grand_total_cents": subtotal + tax,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, documentID)
}

func (s *service) Convert(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error) {
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			document, err := s.loadForTransition(ctx, repo, documentID, enums.DocumentStageApproved)
			if err != nil {
				return err
			}

			// Reserve every line; any failure rolls the whole conversion back.
			for _, line := range document.Lines {
				if _, err := s.ledger.ReserveTx(ctx, tx, ledger.ReserveInput{
					Reference:   Reference(document.ID),
					VariantID:   line.VariantID,
					BranchID:    document.BranchID,
					Qty:         line.Qty,
					ActorUserID: actorUserID,
				}); err != nil {
					return err
				}
			}

			return s.transition(ctx, tx, repo, document, enums.DocumentStageConverted, actorUserID, nil, nil)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, documentID)
}

func (s *service) Invoice(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID) (*models.SalesDocument, error) {
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			document, err := s.loadForTransition(ctx, repo, documentID, enums.DocumentStageConverted)
			if err != nil {
				return err
			}

			if err := s.ledger.DeductReferenceTx(ctx, tx, Reference(document.ID), actorUserID); err != nil {
				return err
			}

			number := s.invoiceNumber(document.ID)
			return s.transition(ctx, tx, repo, document, enums.DocumentStageInvoiced, actorUserID, nil, map[string]any{
				"invoice_number": number,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, documentID)
}

func (s *service) Cancel(ctx context.Context, documentID uuid.UUID, actorUserID *uuid.UUID, note *string) (*models.SalesDocument, error) {
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			document, err := repo.GetByID(ctx, documentID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading document")
			}
			if document == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
			}

			switch document.Stage {
			case enums.DocumentStageDraft, enums.DocumentStageApproved:
				// No stock was touched yet.
			case enums.DocumentStageConverted:
				if err := s.ledger.ReleaseReferenceTx(ctx, tx, Reference(document.ID), actorUserID); err != nil {
					return err
				}
			default:
				// Issued invoices are immutable; reversal needs a credit note.
				return pkgerrors.New(pkgerrors.CodeStateConflict, "document cannot be cancelled").
					WithDetails(map[string]any{"stage": document.Stage.String()})
			}

			return s.transition(ctx, tx, repo, document, enums.DocumentStageCancelled, actorUserID, note, nil)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, documentID)
}

func (s *service) Get(ctx context.Context, documentID uuid.UUID) (*models.SalesDocument, error) {
	document, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading document")
	}
	if document == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	return document, nil
}

func (s *service) List(ctx context.Context, query ListQuery) ([]models.SalesDocument, error) {
	documents, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing documents")
	}
	return documents, nil
}

func (s *service) loadForTransition(ctx context.Context, repo Repository, documentID uuid.UUID, expected enums.DocumentStage) (*models.SalesDocument, error) {
	document, err := repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading document")
	}
	if document == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	if document.Stage != expected {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "document is not in the required stage").
			WithDetails(map[string]any{"stage": document.Stage.String(), "required": expected.String()})
	}
	return document, nil
}

// transition performs the guarded stage move, records the audit row and queues
// the stage-change event, all inside the caller's transaction.
func (s *service) transition(ctx context.Context, tx *gorm.DB, repo Repository, document *models.SalesDocument,
	to enums.DocumentStage, actorUserID *uuid.UUID, note *string, updates map[string]any) error {
	ok, err := repo.UpdateStageGuarded(ctx, document.ID, document.Stage, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating document stage")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "document stage changed concurrently")
	}

	if err := repo.InsertTransition(ctx, &models.DocumentTransition{
		DocumentID:  document.ID,
		FromStage:   document.Stage,
		ToStage:     to,
		ActorUserID: actorUserID,
		Note:        note,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording transition")
	}

	branchID := document.BranchID
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentStageChanged,
		AggregateType: enums.AggregateSalesDocument,
		AggregateID:   document.ID,
		BranchID:      &branchID,
		Version:       1,
		OccurredAt:    s.now().UTC(),
		Data: payloads.DocumentStageChangedEvent{
			DocumentID: document.ID,
			BranchID:   document.BranchID,
			CustomerID: document.CustomerID,
			FromStage:  document.Stage,
			ToStage:    to,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing stage event")
	}
	return nil
}

func (s *service) invoiceNumber(documentID uuid.UUID) string {
	return fmt.Sprintf("%s-%X", s.invoice.NumberPrefix, documentID[0:6])
}

// taxCents computes the tax on an integer-cent subtotal at a basis-point
// rate, rounded half-even to the minor unit.
func taxCents(subtotalCents int64, rateBps int) int64 {
	return decimal.NewFromInt(subtotalCents).
		Mul(decimal.NewFromInt(int64(rateBps))).
		Div(decimal.NewFromInt(10000)).
		RoundBank(0).
		IntPart()
}

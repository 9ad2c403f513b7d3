package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
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

type stockLedger interface {
	ReplenishTx(ctx context.Context, tx *gorm.DB, input ledger.ReplenishInput) error
}

// Service runs the purchase order lifecycle. Goods receipts post ledger
// replenishments and refresh the supplier's rating; a fully received
// order closes.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.PurchaseOrder, error)
	Approve(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error)
	ReceiveGRN(ctx context.Context, orderID uuid.UUID, input ReceiveInput) (*models.PurchaseOrder, error)
	Close(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error)

	Get(ctx context.Context, orderID uuid.UUID) (*models.PurchaseOrder, error)
	List(ctx context.Context, query ListQuery) ([]models.PurchaseOrder, error)
	ListReceipts(ctx context.Context, orderID uuid.UUID) ([]models.GoodsReceipt, error)
	GetRating(ctx context.Context, supplierID uuid.UUID) (*models.VendorRating, error)
}

type CreateInput struct {
	SupplierID  uuid.UUID
	BranchID    uuid.UUID
	ExpectedAt  *time.Time
	Items       []ItemInput
	ActorUserID *uuid.UUID
}

type ItemInput struct {
	VariantID     uuid.UUID
	Qty           int
	UnitCostCents int64
}

type ReceiveInput struct {
	Lines       []ReceiptLineInput
	ReceivedAt  *time.Time
	Note        *string
	ActorUserID *uuid.UUID
}

type ReceiptLineInput struct {
	VariantID uuid.UUID
	Qty       int
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ledger  stockLedger
	retries config.LedgerConfig
	now     func() time.Time
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, ledger stockLedger, retries config.LedgerConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("procurement repository required")
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
		retries: retries,
		now:     time.Now,
	}, nil
}

// Reference returns the ledger reference replenishments from one receipt
// are posted under.
func Reference(receiptID uuid.UUID) string {
	return "grn:" + receiptID.String()
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

func (s *service) Create(ctx context.Context, input CreateInput) (*models.PurchaseOrder, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase order requires at least one item")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "ordered quantity must be positive")
		}
		if item.UnitCostCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit cost must not be negative")
		}
		// Receipts match lines to items by variant, so each variant gets
		// one item.
		if _, dup := seen[item.VariantID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant listed more than once").
				WithDetails(map[string]any{"variant_id": item.VariantID.String()})
		}
		seen[item.VariantID] = struct{}{}
	}

	supplier, err := s.repo.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading supplier")
	}
	if supplier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "supplier not found")
	}
	if !supplier.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "supplier is inactive")
	}

	order := &models.PurchaseOrder{
		ID:          uuid.New(),
		SupplierID:  input.SupplierID,
		BranchID:    input.BranchID,
		Status:      enums.PurchaseOrderStatusRequested,
		ExpectedAt:  input.ExpectedAt,
		ActorUserID: input.ActorUserID,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, models.PurchaseItem{
			VariantID:     item.VariantID,
			OrderedQty:    item.Qty,
			UnitCostCents: item.UnitCostCents,
		})
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating purchase order")
	}
	return order, nil
}

func (s *service) Approve(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error) {
	err := s.transitionStatus(ctx, orderID, enums.PurchaseOrderStatusRequested, enums.PurchaseOrderStatusApproved, nil)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.PurchaseOrderStatusRequested && order.Status != enums.PurchaseOrderStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase order cannot be cancelled").
			WithDetails(map[string]any{"status": order.Status.String()})
	}
	if err := s.transitionStatus(ctx, orderID, order.Status, enums.PurchaseOrderStatusCancelled, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) ReceiveGRN(ctx context.Context, orderID uuid.UUID, input ReceiveInput) (*models.PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt requires at least one line")
	}
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "received quantity must be positive")
		}
	}
	receivedAt := s.now().UTC()
	if input.ReceivedAt != nil {
		receivedAt = input.ReceivedAt.UTC()
	}

	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			order, err := repo.GetByID(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase order")
			}
			if order == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "purchase order not found")
			}
			if !order.Status.CanReceive() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "purchase order is not accepting receipts").
					WithDetails(map[string]any{"status": order.Status.String()})
			}

			itemsByVariant := make(map[uuid.UUID]*models.PurchaseItem, len(order.Items))
			for i := range order.Items {
				itemsByVariant[order.Items[i].VariantID] = &order.Items[i]
			}

			receipt := &models.GoodsReceipt{
				ID:              uuid.New(),
				PurchaseOrderID: order.ID,
				ReceivedAt:      receivedAt,
				ActorUserID:     input.ActorUserID,
				Note:            input.Note,
			}

			// Validate every line before posting anything; an over-receipt
			// rejects the whole GRN. Quantities are tallied per variant so
			// repeated lines cannot slip past the cap one line at a time.
			pending := make(map[uuid.UUID]int, len(input.Lines))
			for _, line := range input.Lines {
				item, ok := itemsByVariant[line.VariantID]
				if !ok {
					return pkgerrors.New(pkgerrors.CodeValidation, "variant is not on the purchase order").
						WithDetails(map[string]any{"variant_id": line.VariantID.String()})
				}
				pending[line.VariantID] += line.Qty
				if item.ReceivedQty+pending[line.VariantID] > item.OrderedQty {
					return pkgerrors.New(pkgerrors.CodeValidation, "received quantity exceeds ordered quantity").
						WithDetails(map[string]any{
							"variant_id":  line.VariantID.String(),
							"ordered":     item.OrderedQty,
							"received":    item.ReceivedQty,
							"delivery":    pending[line.VariantID],
							"outstanding": item.OrderedQty - item.ReceivedQty,
						})
				}
			}

			for _, line := range input.Lines {
				item := itemsByVariant[line.VariantID]
				if err := repo.AddReceivedQty(ctx, item.ID, line.Qty); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating received quantity")
				}
				item.ReceivedQty += line.Qty
				if err := s.ledger.ReplenishTx(ctx, tx, ledger.ReplenishInput{
					Reference:   Reference(receipt.ID),
					VariantID:   line.VariantID,
					BranchID:    order.BranchID,
					Qty:         line.Qty,
					ActorUserID: input.ActorUserID,
				}); err != nil {
					return err
				}
				receipt.Lines = append(receipt.Lines, models.GoodsReceiptLine{
					VariantID: line.VariantID,
					Qty:       line.Qty,
				})
			}

			if err := repo.CreateReceipt(ctx, receipt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording receipt")
			}

			complete := true
			for _, item := range order.Items {
				if item.ReceivedQty < item.OrderedQty {
					complete = false
					break
				}
			}
			if complete {
				return s.closeTx(ctx, tx, repo, order, receivedAt)
			}
			if order.Status != enums.PurchaseOrderStatusPartiallyReceived {
				ok, err := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, enums.PurchaseOrderStatusPartiallyReceived, nil)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating status")
				}
				if !ok {
					return pkgerrors.New(pkgerrors.CodeConflict, "purchase order changed concurrently")
				}
			}
			// Every receipt refreshes the rating, not just the closing one.
			return s.refreshRating(ctx, repo, order.SupplierID)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) Close(ctx context.Context, orderID uuid.UUID, actorUserID *uuid.UUID) (*models.PurchaseOrder, error) {
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := repo.GetByID(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase order")
			}
			if order == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "purchase order not found")
			}
			if !order.Status.CanReceive() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "purchase order cannot be closed").
					WithDetails(map[string]any{"status": order.Status.String()})
			}
			return s.closeTx(ctx, tx, repo, order, s.now().UTC())
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// closeTx finalizes the order, refreshes the supplier's rating and
// queues the closed event.
func (s *service) closeTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.PurchaseOrder, closedAt time.Time) error {
	ok, err := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, enums.PurchaseOrderStatusClosed, map[string]any{
		"closed_at": closedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing purchase order")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "purchase order changed concurrently")
	}

	ordered, received := 0, 0
	for _, item := range order.Items {
		ordered += item.OrderedQty
		received += item.ReceivedQty
	}

	if err := s.refreshRating(ctx, repo, order.SupplierID); err != nil {
		return err
	}

	branchID := order.BranchID
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPurchaseOrderClosed,
		AggregateType: enums.AggregatePurchaseOrder,
		AggregateID:   order.ID,
		BranchID:      &branchID,
		Version:       1,
		OccurredAt:    closedAt,
		Data: payloads.PurchaseOrderClosedEvent{
			PurchaseOrderID: order.ID,
			SupplierID:      order.SupplierID,
			BranchID:        order.BranchID,
			OrderedQty:      ordered,
			ReceivedQty:     received,
			ExpectedAt:      order.ExpectedAt,
			ClosedAt:        closedAt,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing closed event")
	}
	return nil
}

// refreshRating rebuilds the supplier's rating from its orders as they
// stand in this transaction.
func (s *service) refreshRating(ctx context.Context, repo Repository, supplierID uuid.UUID) error {
	orders, err := repo.List(ctx, ListQuery{SupplierID: &supplierID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing supplier orders")
	}
	rating := ComputeRating(supplierID, orders)
	if rating == nil {
		return nil
	}
	if err := repo.SaveRating(ctx, rating); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving vendor rating")
	}
	return nil
}

func (s *service) transitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.PurchaseOrderStatus, updates map[string]any) error {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != from {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "purchase order is not in the required status").
			WithDetails(map[string]any{"status": order.Status.String(), "required": from.String()})
	}
	ok, err := s.repo.UpdateStatusGuarded(ctx, orderID, from, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "purchase order changed concurrently")
	}
	return nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.PurchaseOrder, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase order not found")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, query ListQuery) ([]models.PurchaseOrder, error) {
	orders, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing purchase orders")
	}
	return orders, nil
}

func (s *service) ListReceipts(ctx context.Context, orderID uuid.UUID) ([]models.GoodsReceipt, error) {
	receipts, err := s.repo.ListReceipts(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing receipts")
	}
	return receipts, nil
}

func (s *service) GetRating(ctx context.Context, supplierID uuid.UUID) (*models.VendorRating, error) {
	rating, err := s.repo.GetRating(ctx, supplierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading vendor rating")
	}
	if rating == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor rating not found")
	}
	return rating, nil
}

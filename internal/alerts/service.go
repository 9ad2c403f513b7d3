package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

type stockReader interface {
	GetStock(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error)
}

// Service tracks per-variant low-stock state. A variant is low while
// available stock sits below its threshold; events fire only on the
// crossing, not on every mutation while low.
type Service interface {
	Evaluate(ctx context.Context, tx *gorm.DB, variantID, branchID uuid.UUID, available int) error
	SetThreshold(ctx context.Context, input SetThresholdInput) (*models.StockThreshold, error)
	GetThreshold(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockThreshold, error)
	ListLow(ctx context.Context, branchID uuid.UUID) ([]models.StockThreshold, error)
}

type SetThresholdInput struct {
	VariantID uuid.UUID
	BranchID  uuid.UUID
	Threshold int
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	stock  stockReader
	now    func() time.Time
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, stock stockReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("alerts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, stock: stock, now: time.Now}, nil
}

// Evaluate runs inside the ledger's transaction so an alert flip commits or
// rolls back together with the movement that caused it.
func (s *service) Evaluate(ctx context.Context, tx *gorm.DB, variantID, branchID uuid.UUID, available int) error {
	repo := s.repo.WithTx(tx)

	threshold, err := repo.Get(ctx, variantID, branchID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock threshold")
	}
	if threshold == nil {
		return nil
	}

	low := available < threshold.Threshold
	if low == threshold.AlertLow {
		return nil
	}

	if err := repo.SetAlertLow(ctx, variantID, branchID, low); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating alert state")
	}

	changedAt := s.now().UTC()
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockAlertChanged,
		AggregateType: enums.AggregateStockRecord,
		AggregateID:   variantID,
		BranchID:      &branchID,
		Version:       1,
		OccurredAt:    changedAt,
		Data: payloads.StockAlertChangedEvent{
			VariantID: variantID,
			BranchID:  branchID,
			Available: available,
			Threshold: threshold.Threshold,
			Low:       low,
			ChangedAt: changedAt,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing alert event")
	}
	return nil
}

// SetThreshold stores the floor and immediately re-evaluates against current
// stock, so lowering a threshold can clear an alert without a movement.
func (s *service) SetThreshold(ctx context.Context, input SetThresholdInput) (*models.StockThreshold, error) {
	if input.Threshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must not be negative")
	}

	record, err := s.stock.GetStock(ctx, input.VariantID, input.BranchID)
	if err != nil {
		return nil, err
	}
	available := record.OnHand - record.Reserved

	var result *models.StockThreshold
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		threshold := &models.StockThreshold{
			VariantID: input.VariantID,
			BranchID:  input.BranchID,
			Threshold: input.Threshold,
		}
		if existing, err := repo.Get(ctx, input.VariantID, input.BranchID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock threshold")
		} else if existing != nil {
			threshold.AlertLow = existing.AlertLow
		}
		if err := repo.Upsert(ctx, threshold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving stock threshold")
		}
		if err := s.Evaluate(ctx, tx, input.VariantID, input.BranchID, available); err != nil {
			return err
		}
		result, err = repo.Get(ctx, input.VariantID, input.BranchID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading stock threshold")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GetThreshold(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockThreshold, error) {
	threshold, err := s.repo.Get(ctx, variantID, branchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock threshold")
	}
	if threshold == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "threshold not found")
	}
	return threshold, nil
}

func (s *service) ListLow(ctx context.Context, branchID uuid.UUID) ([]models.StockThreshold, error) {
	thresholds, err := s.repo.ListLow(ctx, branchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing low-stock alerts")
	}
	return thresholds, nil
}

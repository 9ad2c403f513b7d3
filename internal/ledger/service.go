package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	dbpkg "github.com/sweveninteriosolutions-wq/billing-backend/pkg/db"
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

// AlertEvaluator re-checks the low-stock state after a mutation, inside the
// same transaction, so alert flips land atomically with the movement.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, tx *gorm.DB, variantID, branchID uuid.UUID, available int) error
}

// Service defines the stock ledger operations.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.StockReservation, error)
	Release(ctx context.Context, input ReleaseInput) error
	Deduct(ctx context.Context, input DeductInput) error
	Replenish(ctx context.Context, input ReplenishInput) error
	Adjust(ctx context.Context, input AdjustInput) error
	Transfer(ctx context.Context, input TransferInput) error

	// Tx-scoped variants compose into a caller-owned transaction, used by
	// the document workflow so conversion stays all-or-nothing.
	ReserveTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.StockReservation, error)
	DeductReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error
	ReleaseReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error
	ReplenishTx(ctx context.Context, tx *gorm.DB, input ReplenishInput) error

	ApplyRemote(ctx context.Context, event payloads.StockMovementRecordedEvent) error
	ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error)

	GetStock(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error)
	ListMovements(ctx context.Context, query MovementQuery) ([]models.StockMovement, error)
}

// ReserveInput holds quantity against a reference until conversion.
type ReserveInput struct {
	Reference   string
	VariantID   uuid.UUID
	BranchID    uuid.UUID
	Qty         int
	ActorUserID *uuid.UUID
	ExpiresAt   *time.Time
}

// ReleaseInput returns a single reservation to available stock.
type ReleaseInput struct {
	Reference   string
	VariantID   uuid.UUID
	BranchID    uuid.UUID
	ActorUserID *uuid.UUID
}

// DeductInput consumes a single held reservation.
type DeductInput struct {
	Reference   string
	VariantID   uuid.UUID
	BranchID    uuid.UUID
	ActorUserID *uuid.UUID
}

// ReplenishInput adds received goods to on-hand stock.
type ReplenishInput struct {
	Reference   string
	VariantID   uuid.UUID
	BranchID    uuid.UUID
	Qty         int
	ActorUserID *uuid.UUID
}

// AdjustInput applies a signed manual correction to on-hand stock.
type AdjustInput struct {
	Reference   string
	VariantID   uuid.UUID
	BranchID    uuid.UUID
	Delta       int
	Note        *string
	ActorUserID *uuid.UUID
}

// TransferInput moves available stock between two branches atomically.
type TransferInput struct {
	Reference    string
	VariantID    uuid.UUID
	FromBranchID uuid.UUID
	ToBranchID   uuid.UUID
	Qty          int
	ActorUserID  *uuid.UUID
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	alerts   AlertEvaluator
	branchID uuid.UUID
	cfg      config.LedgerConfig
	now      func() time.Time
}

// NewService wires the stock ledger with its collaborators. branchID names
// the branch this process writes for; movements from other branches arrive
// through ApplyRemote only.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, alerts AlertEvaluator, branchID uuid.UUID, cfg config.LedgerConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert evaluator required")
	}
	if branchID == uuid.Nil {
		return nil, fmt.Errorf("branch id required")
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   ob,
		alerts:   alerts,
		branchID: branchID,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// withConflictRetry replays the whole operation when an optimistic version
// race is lost. Every attempt re-reads current state inside a fresh tx.
func (s *service) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.ConflictRetries), retry.NewConstant(s.cfg.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.StockReservation, error) {
	var reservation *models.StockReservation
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			reservation, err = s.ReserveTx(ctx, tx, input)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) ReserveTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.StockReservation, error) {
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation reference is required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.GetReservation(ctx, input.Reference, input.VariantID, input.BranchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if existing != nil {
		// Same reference retried: the first write already holds the stock.
		return existing, nil
	}

	if _, err := s.applyAndPublish(ctx, tx, movement{
		ID:             uuid.New(),
		VariantID:      input.VariantID,
		BranchID:       input.BranchID,
		OriginBranchID: s.branchID,
		Kind:           enums.MovementKindReserve,
		Delta:          input.Qty,
		Reference:      input.Reference,
		ActorUserID:    input.ActorUserID,
		RecordedAt:     s.now().UTC(),
	}); err != nil {
		return nil, err
	}

	reservation := &models.StockReservation{
		Reference: input.Reference,
		VariantID: input.VariantID,
		BranchID:  input.BranchID,
		Qty:       input.Qty,
		Status:    enums.ReservationStatusActive,
		ExpiresAt: input.ExpiresAt,
	}
	if reservation.ExpiresAt == nil && s.cfg.ReservationTTL > 0 {
		expires := s.now().UTC().Add(s.cfg.ReservationTTL)
		reservation.ExpiresAt = &expires
	}
	if err := repo.CreateReservation(ctx, reservation); err != nil {
		if dbpkg.IsUniqueViolation(err, "uniq_reservation_ref_variant_branch") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation raced")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating reservation")
	}
	return reservation, nil
}

func (s *service) Release(ctx context.Context, input ReleaseInput) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.settleReservation(ctx, tx, input.Reference, input.VariantID, input.BranchID,
				enums.MovementKindRelease, enums.ReservationStatusReleased, input.ActorUserID)
		})
	})
}

func (s *service) Deduct(ctx context.Context, input DeductInput) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.settleReservation(ctx, tx, input.Reference, input.VariantID, input.BranchID,
				enums.MovementKindDeduct, enums.ReservationStatusDeducted, input.ActorUserID)
		})
	})
}

// settleReservation finishes an active reservation as either a release or a
// deduct. Finished reservations are left untouched so retries are no-ops.
func (s *service) settleReservation(ctx context.Context, tx *gorm.DB, reference string, variantID, branchID uuid.UUID,
	kind enums.MovementKind, toStatus enums.ReservationStatus, actorUserID *uuid.UUID) error {
	repo := s.repo.WithTx(tx)

	reservation, err := repo.GetReservation(ctx, reference, variantID, branchID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if reservation == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	if reservation.Status != enums.ReservationStatusActive {
		if reservation.Status == toStatus {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already settled").
			WithDetails(map[string]any{"status": reservation.Status.String()})
	}

	if _, err := s.applyAndPublish(ctx, tx, movement{
		ID:             uuid.New(),
		VariantID:      variantID,
		BranchID:       branchID,
		OriginBranchID: s.branchID,
		Kind:           kind,
		Delta:          -reservation.Qty,
		Reference:      reference,
		ActorUserID:    actorUserID,
		RecordedAt:     s.now().UTC(),
	}); err != nil {
		return err
	}

	return repo.UpdateReservationStatus(ctx, reservation.ID, toStatus)
}

// DeductReferenceTx consumes every active reservation held under a reference.
func (s *service) DeductReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error {
	return s.settleReferenceTx(ctx, tx, reference, enums.MovementKindDeduct, enums.ReservationStatusDeducted, actorUserID)
}

// ReleaseReferenceTx returns every active reservation held under a reference.
func (s *service) ReleaseReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error {
	return s.settleReferenceTx(ctx, tx, reference, enums.MovementKindRelease, enums.ReservationStatusReleased, actorUserID)
}

func (s *service) settleReferenceTx(ctx context.Context, tx *gorm.DB, reference string,
	kind enums.MovementKind, toStatus enums.ReservationStatus, actorUserID *uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	reservations, err := repo.ListActiveByReference(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing reservations")
	}
	for _, reservation := range reservations {
		if err := s.settleReservation(ctx, tx, reference, reservation.VariantID, reservation.BranchID,
			kind, toStatus, actorUserID); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Replenish(ctx context.Context, input ReplenishInput) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.ReplenishTx(ctx, tx, input)
		})
	})
}

func (s *service) ReplenishTx(ctx context.Context, tx *gorm.DB, input ReplenishInput) error {
	if input.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "replenish quantity must be positive")
	}
	_, err := s.applyAndPublish(ctx, tx, movement{
		ID:             uuid.New(),
		VariantID:      input.VariantID,
		BranchID:       input.BranchID,
		OriginBranchID: s.branchID,
		Kind:           enums.MovementKindReplenish,
		Delta:          input.Qty,
		Reference:      input.Reference,
		ActorUserID:    input.ActorUserID,
		RecordedAt:     s.now().UTC(),
	})
	return err
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) error {
	if input.Delta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta must be non-zero")
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.applyAndPublish(ctx, tx, movement{
				ID:             uuid.New(),
				VariantID:      input.VariantID,
				BranchID:       input.BranchID,
				OriginBranchID: s.branchID,
				Kind:           enums.MovementKindAdjustment,
				Delta:          input.Delta,
				Reference:      input.Reference,
				ActorUserID:    input.ActorUserID,
				Note:           input.Note,
				RecordedAt:     s.now().UTC(),
			})
			return err
		})
	})
}

func (s *service) Transfer(ctx context.Context, input TransferInput) error {
	if input.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer quantity must be positive")
	}
	if input.FromBranchID == input.ToBranchID {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer branches must differ")
	}
	note := fmt.Sprintf("transfer to branch %s", input.ToBranchID)
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if _, err := s.applyAndPublish(ctx, tx, movement{
				ID:             uuid.New(),
				VariantID:      input.VariantID,
				BranchID:       input.FromBranchID,
				OriginBranchID: s.branchID,
				Kind:           enums.MovementKindAdjustment,
				Delta:          -input.Qty,
				Reference:      input.Reference,
				ActorUserID:    input.ActorUserID,
				Note:           &note,
				RecordedAt:     s.now().UTC(),
			}); err != nil {
				return err
			}
			_, err := s.applyAndPublish(ctx, tx, movement{
				ID:             uuid.New(),
				VariantID:      input.VariantID,
				BranchID:       input.ToBranchID,
				OriginBranchID: s.branchID,
				Kind:           enums.MovementKindReplenish,
				Delta:          input.Qty,
				Reference:      input.Reference,
				ActorUserID:    input.ActorUserID,
				RecordedAt:     s.now().UTC(),
			})
			return err
		})
	})
}

// ApplyRemote replays a movement replicated from another branch. Replays are
// idempotent on the movement id and never re-emit replication events.
func (s *service) ApplyRemote(ctx context.Context, event payloads.StockMovementRecordedEvent) error {
	if event.OriginBranchID == s.branchID {
		return nil
	}
	if event.MovementID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "movement id is required")
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			exists, err := repo.MovementExists(ctx, event.MovementID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking movement")
			}
			if exists {
				return nil
			}
			seq := event.Seq
			result, err := s.apply(ctx, tx, movement{
				ID:             event.MovementID,
				VariantID:      event.VariantID,
				BranchID:       event.BranchID,
				OriginBranchID: event.OriginBranchID,
				Kind:           event.Kind,
				Delta:          event.Delta,
				Reference:      event.Reference,
				RecordedAt:     event.RecordedAt,
				Seq:            &seq,
			})
			if err != nil {
				return err
			}
			return s.alerts.Evaluate(ctx, tx, event.VariantID, event.BranchID, result.Available)
		})
	})
}

// ExpireReservations releases active reservations whose TTL has passed.
// A failed release does not block the remaining reservations in the batch.
func (s *service) ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired reservations")
	}
	count := 0
	var errs []error
	for _, reservation := range expired {
		err := s.withConflictRetry(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.settleReservation(ctx, tx, reservation.Reference, reservation.VariantID, reservation.BranchID,
					enums.MovementKindRelease, enums.ReservationStatusExpired, nil)
			})
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, multierr.Combine(errs...)
}

func (s *service) GetStock(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error) {
	record, err := s.repo.GetRecord(ctx, variantID, branchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock record")
	}
	if record == nil {
		return &models.StockRecord{VariantID: variantID, BranchID: branchID}, nil
	}
	return record, nil
}

func (s *service) ListMovements(ctx context.Context, query MovementQuery) ([]models.StockMovement, error) {
	return s.repo.ListMovements(ctx, query)
}

// applyAndPublish runs a local movement, re-evaluates the low-stock alert and
// queues the replication event, all inside the caller's transaction.
func (s *service) applyAndPublish(ctx context.Context, tx *gorm.DB, mv movement) (*applied, error) {
	result, err := s.apply(ctx, tx, mv)
	if err != nil {
		return nil, err
	}
	if err := s.alerts.Evaluate(ctx, tx, mv.VariantID, mv.BranchID, result.Available); err != nil {
		return nil, err
	}
	branchID := mv.BranchID
	seq := result.Seq
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockMovementRecorded,
		AggregateType: enums.AggregateStockRecord,
		AggregateID:   mv.VariantID,
		BranchID:      &branchID,
		Seq:           &seq,
		Version:       1,
		OccurredAt:    mv.RecordedAt,
		Data: payloads.StockMovementRecordedEvent{
			MovementID:     mv.ID,
			VariantID:      mv.VariantID,
			BranchID:       mv.BranchID,
			OriginBranchID: mv.OriginBranchID,
			Kind:           mv.Kind,
			Delta:          mv.Delta,
			Reference:      mv.Reference,
			Seq:            result.Seq,
			RecordedAt:     mv.RecordedAt,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing movement event")
	}
	return result, nil
}

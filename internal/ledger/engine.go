package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
)

// movement is the tx-scoped unit every ledger operation reduces to. Delta is
// the signed change applied to the kind's counter: reserved for reserve and
// release, on_hand for replenish and adjustment, and both for deduct (a
// deduct consumes held stock, so reserved drops by the same amount).
type movement struct {
	ID             uuid.UUID
	VariantID      uuid.UUID
	BranchID       uuid.UUID
	OriginBranchID uuid.UUID
	Kind           enums.MovementKind
	Delta          int
	Reference      string
	ActorUserID    *uuid.UUID
	Note           *string
	RecordedAt     time.Time

	// Seq is set only when replaying a remote movement, which already
	// carries the sequence its origin branch assigned.
	Seq *int64
}

// applied captures the record state after a movement lands, for alert checks
// and outbox payloads.
type applied struct {
	Seq       int64
	OnHand    int
	Reserved  int
	Available int
}

// apply mutates the stock record under the version guard, assigns the branch
// sequence and writes the audit row. Callers run it inside a transaction;
// a false version guard surfaces as CONCURRENCY_CONFLICT so the workflow
// retry loop can re-read and replay.
func (s *service) apply(ctx context.Context, tx *gorm.DB, mv movement) (*applied, error) {
	repo := s.repo.WithTx(tx)

	record, err := repo.GetRecord(ctx, mv.VariantID, mv.BranchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock record")
	}
	created := false
	if record == nil {
		record = &models.StockRecord{VariantID: mv.VariantID, BranchID: mv.BranchID}
		created = true
	}

	expected := record.Version
	onHand, reserved := record.OnHand, record.Reserved

	switch mv.Kind {
	case enums.MovementKindReserve:
		if mv.Delta > onHand-reserved {
			return nil, insufficientStock(mv, onHand-reserved)
		}
		reserved += mv.Delta
	case enums.MovementKindRelease:
		if reserved+mv.Delta < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "release exceeds reserved quantity")
		}
		reserved += mv.Delta
	case enums.MovementKindDeduct:
		if reserved+mv.Delta < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "deduct exceeds reserved quantity")
		}
		onHand += mv.Delta
		reserved += mv.Delta
	case enums.MovementKindReplenish:
		onHand += mv.Delta
	case enums.MovementKindAdjustment:
		onHand += mv.Delta
		if onHand < reserved {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment would drop on-hand below reserved").
				WithDetails(map[string]any{"on_hand": onHand, "reserved": reserved})
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown movement kind")
	}

	if onHand < 0 {
		return nil, insufficientStock(mv, record.OnHand)
	}

	record.OnHand = onHand
	record.Reserved = reserved

	if created {
		record.Version = 1
		if err := repo.CreateRecord(ctx, record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "creating stock record")
		}
	} else {
		ok, err := repo.UpdateRecordGuarded(ctx, record, expected)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating stock record")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "stock record version changed")
		}
	}

	var seq int64
	if mv.Seq != nil {
		seq = *mv.Seq
	} else {
		seq, err = repo.NextSeq(ctx, mv.OriginBranchID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocating branch sequence")
		}
	}

	row := models.StockMovement{
		ID:             mv.ID,
		VariantID:      mv.VariantID,
		BranchID:       mv.BranchID,
		OriginBranchID: mv.OriginBranchID,
		Kind:           mv.Kind,
		Delta:          mv.Delta,
		Reference:      mv.Reference,
		ActorUserID:    mv.ActorUserID,
		Seq:            seq,
		Note:           mv.Note,
		RecordedAt:     mv.RecordedAt,
	}
	if err := repo.InsertMovement(ctx, &row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "inserting stock movement")
	}

	return &applied{
		Seq:       seq,
		OnHand:    record.OnHand,
		Reserved:  record.Reserved,
		Available: record.OnHand - record.Reserved,
	}, nil
}

func insufficientStock(mv movement, available int) error {
	requested := mv.Delta
	if requested < 0 {
		requested = -requested
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"variant_id": mv.VariantID.String(),
			"branch_id":  mv.BranchID.String(),
			"requested":  requested,
			"available":  available,
		})
}

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// Repository manages persistence for stock records, movements and reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetRecord(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error)
	CreateRecord(ctx context.Context, record *models.StockRecord) error
	// UpdateRecordGuarded writes the record only when the stored version
	// still matches expectedVersion. It reports false on a lost race.
	UpdateRecordGuarded(ctx context.Context, record *models.StockRecord, expectedVersion int64) (bool, error)

	InsertMovement(ctx context.Context, movement *models.StockMovement) error
	MovementExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListMovements(ctx context.Context, query MovementQuery) ([]models.StockMovement, error)

	NextSeq(ctx context.Context, branchID uuid.UUID) (int64, error)

	GetReservation(ctx context.Context, reference string, variantID, branchID uuid.UUID) (*models.StockReservation, error)
	CreateReservation(ctx context.Context, reservation *models.StockReservation) error
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, status enums.ReservationStatus) error
	ListActiveByReference(ctx context.Context, reference string) ([]models.StockReservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error)
}

// MovementQuery filters the movement audit listing.
type MovementQuery struct {
	VariantID uuid.UUID
	BranchID  uuid.UUID
	Kind      *enums.MovementKind
	Limit     int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetRecord(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	err := r.db.WithContext(ctx).
		Where("variant_id = ? AND branch_id = ?", variantID, branchID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) CreateRecord(ctx context.Context, record *models.StockRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateRecordGuarded(ctx context.Context, record *models.StockRecord, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("variant_id = ? AND branch_id = ? AND version = ?", record.VariantID, record.BranchID, expectedVersion).
		Updates(map[string]any{
			"on_hand":  record.OnHand,
			"reserved": record.Reserved,
			"version":  expectedVersion + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) MovementExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListMovements(ctx context.Context, query MovementQuery) ([]models.StockMovement, error) {
	q := r.db.WithContext(ctx).Model(&models.StockMovement{})
	if query.VariantID != uuid.Nil {
		q = q.Where("variant_id = ?", query.VariantID)
	}
	if query.BranchID != uuid.Nil {
		q = q.Where("branch_id = ?", query.BranchID)
	}
	if query.Kind != nil {
		q = q.Where("kind = ?", *query.Kind)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	var movements []models.StockMovement
	err := q.Order("recorded_at DESC").Order("seq DESC").Limit(limit).Find(&movements).Error
	return movements, err
}

// NextSeq hands out the next per-branch movement sequence. The counter row
// is incremented in place so concurrent transactions serialize on it.
func (r *repository) NextSeq(ctx context.Context, branchID uuid.UUID) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.BranchSequence{}).
		Where("branch_id = ?", branchID).
		Update("next_seq", gorm.Expr("next_seq + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		row := models.BranchSequence{BranchID: branchID, NextSeq: 2}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}
	var row models.BranchSequence
	if err := db.Where("branch_id = ?", branchID).First(&row).Error; err != nil {
		return 0, err
	}
	return row.NextSeq - 1, nil
}

func (r *repository) GetReservation(ctx context.Context, reference string, variantID, branchID uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	err := r.db.WithContext(ctx).
		Where("reference = ? AND variant_id = ? AND branch_id = ?", reference, variantID, branchID).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.StockReservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status enums.ReservationStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repository) ListActiveByReference(ctx context.Context, reference string) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("reference = ? AND status = ?", reference, enums.ReservationStatusActive).
		Find(&reservations).Error
	return reservations, err
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var reservations []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.ReservationStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reservations).Error
	return reservations, err
}

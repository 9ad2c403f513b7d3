package alerts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockThreshold, error)
	Upsert(ctx context.Context, threshold *models.StockThreshold) error
	SetAlertLow(ctx context.Context, variantID, branchID uuid.UUID, low bool) error
	ListLow(ctx context.Context, branchID uuid.UUID) ([]models.StockThreshold, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockThreshold, error) {
	var threshold models.StockThreshold
	err := r.db.WithContext(ctx).
		Where("variant_id = ? AND branch_id = ?", variantID, branchID).
		First(&threshold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &threshold, nil
}

func (r *repository) Upsert(ctx context.Context, threshold *models.StockThreshold) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variant_id"}, {Name: "branch_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"threshold", "updated_at"}),
	}).Create(threshold).Error
}

func (r *repository) SetAlertLow(ctx context.Context, variantID, branchID uuid.UUID, low bool) error {
	return r.db.WithContext(ctx).Model(&models.StockThreshold{}).
		Where("variant_id = ? AND branch_id = ?", variantID, branchID).
		Update("alert_low", low).Error
}

func (r *repository) ListLow(ctx context.Context, branchID uuid.UUID) ([]models.StockThreshold, error) {
	var thresholds []models.StockThreshold
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND alert_low = ?", branchID, true).
		Order("variant_id ASC").
		Find(&thresholds).Error
	return thresholds, err
}

package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, document *models.SalesDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SalesDocument, error)
	List(ctx context.Context, query ListQuery) ([]models.SalesDocument, error)

	// UpdateStageGuarded moves a document between stages with a compare-and-set
	// on the current stage, so concurrent transitions on one document cannot
	// both win. Updates beyond the stage ride along in the same statement.
	UpdateStageGuarded(ctx context.Context, id uuid.UUID, from, to enums.DocumentStage, updates map[string]any) (bool, error)
	InsertTransition(ctx context.Context, transition *models.DocumentTransition) error

	UpdateLineTotals(ctx context.Context, lineID uuid.UUID, totalCents int64) error

	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error)

	// GetEffectivePrice returns the newest price record for the variant whose
	// effective_from is at or before the given instant, or nil when the
	// catalog base price still applies.
	GetEffectivePrice(ctx context.Context, variantID uuid.UUID, at time.Time) (*models.VariantPrice, error)
}

type ListQuery struct {
	BranchID   *uuid.UUID
	CustomerID *uuid.UUID
	Stage      *enums.DocumentStage
	Limit      int
	Offset     int
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

func (r *repository) Create(ctx context.Context, document *models.SalesDocument) error {
	if document.ID == uuid.Nil {
		document.ID = uuid.New()
	}
	for i := range document.Lines {
		if document.Lines[i].ID == uuid.Nil {
			document.Lines[i].ID = uuid.New()
		}
		document.Lines[i].DocumentID = document.ID
	}
	return r.db.WithContext(ctx).Create(document).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SalesDocument, error) {
	var document models.SalesDocument
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &document, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.SalesDocument, error) {
	q := r.db.WithContext(ctx).Model(&models.SalesDocument{})
	if query.BranchID != nil {
		q = q.Where("branch_id = ?", *query.BranchID)
	}
	if query.CustomerID != nil {
		q = q.Where("customer_id = ?", *query.CustomerID)
	}
	if query.Stage != nil {
		q = q.Where("stage = ?", *query.Stage)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}
	var documents []models.SalesDocument
	err := q.Order("created_at DESC").Find(&documents).Error
	return documents, err
}

func (r *repository) UpdateStageGuarded(ctx context.Context, id uuid.UUID, from, to enums.DocumentStage, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["stage"] = to
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SalesDocument{}).
		Where("id = ? AND stage = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) InsertTransition(ctx context.Context, transition *models.DocumentTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(transition).Error
}

func (r *repository) UpdateLineTotals(ctx context.Context, lineID uuid.UUID, totalCents int64) error {
	return r.db.WithContext(ctx).Model(&models.DocumentLine{}).
		Where("id = ?", lineID).
		Update("total_cents", totalCents).Error
}

func (r *repository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) GetVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *repository) GetEffectivePrice(ctx context.Context, variantID uuid.UUID, at time.Time) (*models.VariantPrice, error) {
	var price models.VariantPrice
	err := r.db.WithContext(ctx).
		Where("variant_id = ? AND effective_from <= ?", variantID, at).
		Order("effective_from DESC").
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

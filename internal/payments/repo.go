package payments

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

	GetDocument(ctx context.Context, id uuid.UUID) (*models.SalesDocument, error)

	// ApplyGuarded moves paid_cents and the stage in one compare-and-set over
	// both, so two tellers applying payments at once cannot overshoot the
	// grand total.
	ApplyGuarded(ctx context.Context, documentID uuid.UUID, fromStage, toStage enums.DocumentStage, expectedPaid, newPaid int64) (bool, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Payment, error)

	InsertLoyalty(ctx context.Context, loyalty *models.LoyaltyTransaction) error
	ListLoyaltyByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LoyaltyTransaction, error)
	AddCustomerPoints(ctx context.Context, customerID uuid.UUID, points int64) error

	InsertTransition(ctx context.Context, transition *models.DocumentTransition) error
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

func (r *repository) GetDocument(ctx context.Context, id uuid.UUID) (*models.SalesDocument, error) {
	var document models.SalesDocument
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &document, nil
}

func (r *repository) ApplyGuarded(ctx context.Context, documentID uuid.UUID, fromStage, toStage enums.DocumentStage, expectedPaid, newPaid int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.SalesDocument{}).
		Where("id = ? AND stage = ? AND paid_cents = ?", documentID, fromStage, expectedPaid).
		Updates(map[string]any{
			"paid_cents": newPaid,
			"stage":      toStage,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("received_at ASC").
		Find(&payments).Error
	return payments, err
}

func (r *repository) InsertLoyalty(ctx context.Context, loyalty *models.LoyaltyTransaction) error {
	if loyalty.ID == uuid.Nil {
		loyalty.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(loyalty).Error
}

func (r *repository) ListLoyaltyByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LoyaltyTransaction, error) {
	var transactions []models.LoyaltyTransaction
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&transactions).Error
	return transactions, err
}

func (r *repository) AddCustomerPoints(ctx context.Context, customerID uuid.UUID, points int64) error {
	return r.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customerID).
		Update("loyalty_points", gorm.Expr("loyalty_points + ?", points)).Error
}

func (r *repository) InsertTransition(ctx context.Context, transition *models.DocumentTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(transition).Error
}

package procurement

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

	Create(ctx context.Context, order *models.PurchaseOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error)
	List(ctx context.Context, query ListQuery) ([]models.PurchaseOrder, error)

	// UpdateStatusGuarded compare-and-sets the order status so concurrent
	// receipts and closes on one order cannot interleave.
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to enums.PurchaseOrderStatus, updates map[string]any) (bool, error)
	AddReceivedQty(ctx context.Context, itemID uuid.UUID, qty int) error

	CreateReceipt(ctx context.Context, receipt *models.GoodsReceipt) error
	ListReceipts(ctx context.Context, orderID uuid.UUID) ([]models.GoodsReceipt, error)

	GetSupplier(ctx context.Context, id uuid.UUID) (*models.Supplier, error)
	GetRating(ctx context.Context, supplierID uuid.UUID) (*models.VendorRating, error)
	SaveRating(ctx context.Context, rating *models.VendorRating) error
}

type ListQuery struct {
	SupplierID *uuid.UUID
	BranchID   *uuid.UUID
	Status     *enums.PurchaseOrderStatus
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

func (r *repository) Create(ctx context.Context, order *models.PurchaseOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].PurchaseOrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Receipts").
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.PurchaseOrder, error) {
	q := r.db.WithContext(ctx).Model(&models.PurchaseOrder{})
	if query.SupplierID != nil {
		q = q.Where("supplier_id = ?", *query.SupplierID)
	}
	if query.BranchID != nil {
		q = q.Where("branch_id = ?", *query.BranchID)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}
	var orders []models.PurchaseOrder
	err := q.Preload("Items").Preload("Receipts").Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *repository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to enums.PurchaseOrderStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.PurchaseOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) AddReceivedQty(ctx context.Context, itemID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).Model(&models.PurchaseItem{}).
		Where("id = ?", itemID).
		Update("received_qty", gorm.Expr("received_qty + ?", qty)).Error
}

func (r *repository) CreateReceipt(ctx context.Context, receipt *models.GoodsReceipt) error {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	for i := range receipt.Lines {
		if receipt.Lines[i].ID == uuid.Nil {
			receipt.Lines[i].ID = uuid.New()
		}
		receipt.Lines[i].ReceiptID = receipt.ID
	}
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *repository) ListReceipts(ctx context.Context, orderID uuid.UUID) ([]models.GoodsReceipt, error) {
	var receipts []models.GoodsReceipt
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("purchase_order_id = ?", orderID).
		Order("received_at ASC").
		Find(&receipts).Error
	return receipts, err
}

func (r *repository) GetSupplier(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	var supplier models.Supplier
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&supplier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func (r *repository) GetRating(ctx context.Context, supplierID uuid.UUID) (*models.VendorRating, error) {
	var rating models.VendorRating
	err := r.db.WithContext(ctx).Where("supplier_id = ?", supplierID).First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rating, nil
}

func (r *repository) SaveRating(ctx context.Context, rating *models.VendorRating) error {
	return r.db.WithContext(ctx).Save(rating).Error
}

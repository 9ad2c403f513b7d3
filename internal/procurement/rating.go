package procurement

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// ComputeRating derives a supplier's rating from its orders. An order
// counts once it has received a delivery or closed; on-time is judged at
// close, or at the latest receipt while the order is still open. Fill
// rate is received over ordered. Both averages are in basis points.
// Returns nil when no order has anything to judge yet.
func ComputeRating(supplierID uuid.UUID, orders []models.PurchaseOrder) *models.VendorRating {
	onTimeSum, fillSum, rated, closed := 0, 0, 0, 0
	for _, order := range orders {
		judgedAt, ok := deliveryJudgedAt(order)
		if !ok {
			continue
		}
		rated++
		if order.Status == enums.PurchaseOrderStatusClosed {
			closed++
		}

		onTime := 10000
		if order.ExpectedAt != nil && judgedAt.After(*order.ExpectedAt) {
			onTime = 0
		}
		onTimeSum += onTime

		ordered, received := 0, 0
		for _, item := range order.Items {
			ordered += item.OrderedQty
			received += item.ReceivedQty
		}
		if ordered > 0 {
			fillSum += received * 10000 / ordered
		}
	}
	if rated == 0 {
		return nil
	}
	return &models.VendorRating{
		SupplierID:   supplierID,
		OnTimeBps:    onTimeSum / rated,
		FillRateBps:  fillSum / rated,
		OrdersClosed: closed,
		UpdatedAt:    time.Now().UTC(),
	}
}

// deliveryJudgedAt picks the moment an order's punctuality is measured
// against its expected date. Orders with no receipts and no close carry
// no signal yet.
func deliveryJudgedAt(order models.PurchaseOrder) (time.Time, bool) {
	if order.Status == enums.PurchaseOrderStatusClosed {
		if order.ClosedAt != nil {
			return *order.ClosedAt, true
		}
		return order.UpdatedAt, true
	}
	var latest time.Time
	for _, receipt := range order.Receipts {
		if receipt.ReceivedAt.After(latest) {
			latest = receipt.ReceivedAt
		}
	}
	if latest.IsZero() {
		return time.Time{}, false
	}
	return latest, true
}

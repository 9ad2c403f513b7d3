package enums

import "fmt"

// OutboxEventType enumerates the domain events emitted through the outbox.
type OutboxEventType string

const (
	EventStockMovementRecorded OutboxEventType = "stock.movement.recorded"
	EventStockAlertChanged     OutboxEventType = "stock.alert.changed"
	EventDocumentStageChanged  OutboxEventType = "document.stage.changed"
	EventInvoiceSettled        OutboxEventType = "invoice.settled"
	EventPurchaseOrderClosed   OutboxEventType = "purchase_order.closed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventStockMovementRecorded,
	EventStockAlertChanged,
	EventDocumentStageChanged,
	EventInvoiceSettled,
	EventPurchaseOrderClosed,
}

// IsValid reports whether the value is a known OutboxEventType.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateStockRecord   OutboxAggregateType = "stock_record"
	AggregateSalesDocument OutboxAggregateType = "sales_document"
	AggregatePurchaseOrder OutboxAggregateType = "purchase_order"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateStockRecord,
	AggregateSalesDocument,
	AggregatePurchaseOrder,
}

// IsValid reports whether the value is a known OutboxAggregateType.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

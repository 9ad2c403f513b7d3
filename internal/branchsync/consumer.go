package branchsync

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/payloads"
)

const branchSyncConsumer = "branch-sync"

type movementApplier interface {
	ApplyRemote(ctx context.Context, event payloads.StockMovementRecordedEvent) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer replays movements replicated from other branches into the local
// ledger. Redis deduplicates redeliveries cheaply; the ledger's movement-id
// check stays authoritative if the Redis entry has expired.
type Consumer struct {
	ledger       movementApplier
	subscription *pubsub.Subscriber
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds the branch movement consumer.
func NewConsumer(ledger movementApplier, subscription *pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger applier required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("movements subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		ledger:       ledger,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventStockMovementRecorded) {
		c.logg.Info(logCtx, "skipping non-movement event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, branchSyncConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var payload payloads.StockMovementRecordedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse movement payload", err)
		_ = c.idempotency.Delete(ctx, branchSyncConsumer, eventID)
		return processResult{nack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"movement_id":      payload.MovementID.String(),
		"origin_branch_id": payload.OriginBranchID.String(),
		"seq":              payload.Seq,
	})

	if err := c.ledger.ApplyRemote(ctx, payload); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			// Malformed movements never become valid; park them acked.
			c.logg.Error(logCtx, "dropping invalid movement", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "failed to apply movement", err)
		_ = c.idempotency.Delete(ctx, branchSyncConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "remote movement applied")
	return processResult{ack: true}
}

package branchsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/payloads"
)

type fakeApplier struct {
	applied []payloads.StockMovementRecordedEvent
	err     error
}

func (f *fakeApplier) ApplyRemote(_ context.Context, event payloads.StockMovementRecordedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, event)
	return nil
}

type fakeIdempotency struct {
	check    func(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	deleteFn func(ctx context.Context, consumer string, eventID uuid.UUID) error
}

func (f fakeIdempotency) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	return f.check(ctx, consumer, eventID)
}

func (f fakeIdempotency) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return f.deleteFn(ctx, consumer, eventID)
}

func passThroughIdempotency() fakeIdempotency {
	return fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			return nil
		},
	}
}

func mustConsumer(t *testing.T, applier *fakeApplier, manager fakeIdempotency) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(applier, &pubsub.Subscriber{}, manager, logger.New(logger.Options{
		ServiceName: "branchsync-test",
		Level:       logger.ParseLevel("debug"),
		Output:      io.Discard,
	}))
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	return consumer
}

func buildMessage(t *testing.T, eventID uuid.UUID, payload payloads.StockMovementRecordedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event_type": string(enums.EventStockMovementRecorded),
		},
	}
}

func movementPayload() payloads.StockMovementRecordedEvent {
	return payloads.StockMovementRecordedEvent{
		MovementID:     uuid.New(),
		VariantID:      uuid.New(),
		BranchID:       uuid.New(),
		OriginBranchID: uuid.New(),
		Kind:           enums.MovementKindReplenish,
		Delta:          5,
		Reference:      "grn:remote",
		Seq:            3,
		RecordedAt:     time.Now().UTC(),
	}
}

func TestProcessAppliesRemoteMovement(t *testing.T) {
	applier := &fakeApplier{}
	consumer := mustConsumer(t, applier, passThroughIdempotency())
	payload := movementPayload()

	result := consumer.process(context.Background(), buildMessage(t, uuid.New(), payload))
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected one applied movement, got %d", len(applier.applied))
	}
	if applier.applied[0].MovementID != payload.MovementID || applier.applied[0].Seq != 3 {
		t.Fatalf("unexpected applied movement %+v", applier.applied[0])
	}
}

func TestProcessSkipsForeignEventTypes(t *testing.T) {
	applier := &fakeApplier{}
	consumer := mustConsumer(t, applier, passThroughIdempotency())

	msg := buildMessage(t, uuid.New(), movementPayload())
	msg.Attributes["event_type"] = string(enums.EventInvoiceSettled)

	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack for foreign event, got %+v", result)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("foreign events must not reach the ledger")
	}
}

func TestProcessHonorsIdempotencyGuard(t *testing.T) {
	applier := &fakeApplier{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return true, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			return nil
		},
	}
	consumer := mustConsumer(t, applier, manager)

	result := consumer.process(context.Background(), buildMessage(t, uuid.New(), movementPayload()))
	if !result.ack {
		t.Fatalf("expected ack for duplicate, got %+v", result)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("duplicates must not be re-applied")
	}
}

func TestProcessNacksAndReleasesGuardOnApplyFailure(t *testing.T) {
	applier := &fakeApplier{err: pkgerrors.New(pkgerrors.CodeInternal, "db down")}
	deleted := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			deleted = true
			return nil
		},
	}
	consumer := mustConsumer(t, applier, manager)

	result := consumer.process(context.Background(), buildMessage(t, uuid.New(), movementPayload()))
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}
	if !deleted {
		t.Fatalf("failed apply must release the idempotency guard")
	}
}

func TestProcessAcksInvalidMovements(t *testing.T) {
	applier := &fakeApplier{err: pkgerrors.New(pkgerrors.CodeValidation, "movement id is required")}
	consumer := mustConsumer(t, applier, passThroughIdempotency())

	result := consumer.process(context.Background(), buildMessage(t, uuid.New(), movementPayload()))
	if !result.ack || result.nack {
		t.Fatalf("invalid movements must be acked, got %+v", result)
	}
}

func TestProcessNacksWhenIdempotencyUnavailable(t *testing.T) {
	applier := &fakeApplier{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, errors.New("redis down")
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			return nil
		},
	}
	consumer := mustConsumer(t, applier, manager)

	result := consumer.process(context.Background(), buildMessage(t, uuid.New(), movementPayload()))
	if !result.nack {
		t.Fatalf("expected nack when the guard is unavailable, got %+v", result)
	}
}

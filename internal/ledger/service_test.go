package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/config"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/payloads"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		panic("emit outside transaction")
	}
	f.events = append(f.events, event)
	return nil
}

type fakeAlerts struct {
	calls []int
}

func (f *fakeAlerts) Evaluate(_ context.Context, _ *gorm.DB, _, _ uuid.UUID, available int) error {
	f.calls = append(f.calls, available)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.StockRecord{},
		&models.StockMovement{},
		&models.StockReservation{},
		&models.BranchSequence{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, branchID uuid.UUID) (Service, *fakeOutbox, *fakeAlerts) {
	t.Helper()
	ob := &fakeOutbox{}
	alerts := &fakeAlerts{}
	svc, err := NewService(NewRepository(db), &gormTxRunner{db: db}, ob, alerts, branchID, config.LedgerConfig{
		ConflictRetries: 3,
		RetryBackoff:    time.Millisecond,
		ReservationTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, ob, alerts
}

func seedStock(t *testing.T, db *gorm.DB, variantID, branchID uuid.UUID, onHand, reserved int) {
	t.Helper()
	record := models.StockRecord{
		VariantID: variantID,
		BranchID:  branchID,
		OnHand:    onHand,
		Reserved:  reserved,
		Version:   1,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func loadStock(t *testing.T, db *gorm.DB, variantID, branchID uuid.UUID) models.StockRecord {
	t.Helper()
	var record models.StockRecord
	if err := db.Where("variant_id = ? AND branch_id = ?", variantID, branchID).First(&record).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return record
}

func TestReserveHoldsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, ob, alerts := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 0)

	reservation, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-1",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       4,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reservation.Qty != 4 || reservation.Status != enums.ReservationStatusActive {
		t.Fatalf("unexpected reservation %+v", reservation)
	}
	if reservation.ExpiresAt == nil {
		t.Fatalf("expected TTL-derived expiry")
	}

	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 10 || record.Reserved != 4 {
		t.Fatalf("unexpected record state %+v", record)
	}
	if record.Version != 2 {
		t.Fatalf("expected version bump, got %d", record.Version)
	}

	if len(ob.events) != 1 || ob.events[0].EventType != enums.EventStockMovementRecorded {
		t.Fatalf("expected one movement event, got %+v", ob.events)
	}
	if len(alerts.calls) != 1 || alerts.calls[0] != 6 {
		t.Fatalf("expected alert check with available=6, got %v", alerts.calls)
	}
}

func TestReserveRejectsOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, ob, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 5, 3)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-2",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       3,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 5 || record.Reserved != 3 {
		t.Fatalf("failed reserve must not mutate stock: %+v", record)
	}
	if len(ob.events) != 0 {
		t.Fatalf("failed reserve must not emit events")
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	// One connection keeps sqlite happy under parallel writers; the
	// version guard is still what decides who wins.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 3, 0)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), ReserveInput{
				Reference: fmt.Sprintf("doc:rush-%d", i),
				VariantID: variantID,
				BranchID:  branchID,
				Qty:       1,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) && !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			t.Fatalf("caller %d failed unexpectedly: %v", i, err)
		}
	}
	if succeeded == 0 || succeeded > 3 {
		t.Fatalf("expected between 1 and 3 winners, got %d", succeeded)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.Reserved != succeeded {
		t.Fatalf("reserved %d does not match %d winners", record.Reserved, succeeded)
	}
	if record.Reserved > record.OnHand {
		t.Fatalf("reserved exceeds on hand: %+v", record)
	}
}

func TestReserveIsIdempotentPerReference(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, ob, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 0)

	first, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-3",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       4,
	})
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	second, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-3",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       4,
	})
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry must return the original reservation")
	}

	record := loadStock(t, db, variantID, branchID)
	if record.Reserved != 4 {
		t.Fatalf("retry must not double-hold stock: %+v", record)
	}
	if len(ob.events) != 1 {
		t.Fatalf("retry must not emit a second movement")
	}
}

func TestDeductConsumesReservation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 0)

	if _, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-4",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       3,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := svc.Deduct(context.Background(), DeductInput{
		Reference: "doc:order-4",
		VariantID: variantID,
		BranchID:  branchID,
	}); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 7 || record.Reserved != 0 {
		t.Fatalf("unexpected record after deduct %+v", record)
	}

	// Deducting again is a no-op.
	if err := svc.Deduct(context.Background(), DeductInput{
		Reference: "doc:order-4",
		VariantID: variantID,
		BranchID:  branchID,
	}); err != nil {
		t.Fatalf("repeat deduct: %v", err)
	}
	record = loadStock(t, db, variantID, branchID)
	if record.OnHand != 7 {
		t.Fatalf("repeat deduct must not change stock: %+v", record)
	}

	var reservation models.StockReservation
	if err := db.Where("reference = ?", "doc:order-4").First(&reservation).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if reservation.Status != enums.ReservationStatusDeducted {
		t.Fatalf("unexpected reservation status %s", reservation.Status)
	}
}

func TestReleaseReturnsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 0)

	if _, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:order-5",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       5,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(context.Background(), ReleaseInput{
		Reference: "doc:order-5",
		VariantID: variantID,
		BranchID:  branchID,
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 10 || record.Reserved != 0 {
		t.Fatalf("unexpected record after release %+v", record)
	}
}

func TestAdjustCannotDropBelowReserved(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 6)

	err := svc.Adjust(context.Background(), AdjustInput{
		Reference: "audit:shrinkage",
		VariantID: variantID,
		BranchID:  branchID,
		Delta:     -5,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := svc.Adjust(context.Background(), AdjustInput{
		Reference: "audit:shrinkage",
		VariantID: variantID,
		BranchID:  branchID,
		Delta:     -4,
	}); err != nil {
		t.Fatalf("adjust to floor: %v", err)
	}
	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 6 || record.Reserved != 6 {
		t.Fatalf("unexpected record after adjust %+v", record)
	}
}

func TestReplenishCreatesRecord(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)

	if err := svc.Replenish(context.Background(), ReplenishInput{
		Reference: "grn:receipt-1",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       12,
	}); err != nil {
		t.Fatalf("replenish: %v", err)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.OnHand != 12 || record.Reserved != 0 {
		t.Fatalf("unexpected record %+v", record)
	}

	var movement models.StockMovement
	if err := db.Where("reference = ?", "grn:receipt-1").First(&movement).Error; err != nil {
		t.Fatalf("load movement: %v", err)
	}
	if movement.Seq != 1 || movement.Kind != enums.MovementKindReplenish {
		t.Fatalf("unexpected movement %+v", movement)
	}
}

func TestMovementSequencePerBranch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)

	for i := 0; i < 3; i++ {
		if err := svc.Replenish(context.Background(), ReplenishInput{
			Reference: "grn:seq",
			VariantID: variantID,
			BranchID:  branchID,
			Qty:       1,
		}); err != nil {
			t.Fatalf("replenish %d: %v", i, err)
		}
	}

	var movements []models.StockMovement
	if err := db.Where("origin_branch_id = ?", branchID).Order("seq ASC").Find(&movements).Error; err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(movements))
	}
	for i, movement := range movements {
		if movement.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, movement.Seq)
		}
	}
}

func TestTransferMovesStockBetweenBranches(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	otherBranch := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 2)

	if err := svc.Transfer(context.Background(), TransferInput{
		Reference:    "transfer:t-1",
		VariantID:    variantID,
		FromBranchID: branchID,
		ToBranchID:   otherBranch,
		Qty:          5,
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	source := loadStock(t, db, variantID, branchID)
	dest := loadStock(t, db, variantID, otherBranch)
	if source.OnHand != 5 || dest.OnHand != 5 {
		t.Fatalf("unexpected transfer result source=%+v dest=%+v", source, dest)
	}

	// Transferring more than on-hand minus reserved must fail atomically.
	err := svc.Transfer(context.Background(), TransferInput{
		Reference:    "transfer:t-2",
		VariantID:    variantID,
		FromBranchID: branchID,
		ToBranchID:   otherBranch,
		Qty:          4,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	dest = loadStock(t, db, variantID, otherBranch)
	if dest.OnHand != 5 {
		t.Fatalf("failed transfer must not land at destination: %+v", dest)
	}
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	localBranch := uuid.New()
	remoteBranch := uuid.New()
	variantID := uuid.New()
	svc, ob, _ := newTestService(t, db, localBranch)

	event := payloads.StockMovementRecordedEvent{
		MovementID:     uuid.New(),
		VariantID:      variantID,
		BranchID:       remoteBranch,
		OriginBranchID: remoteBranch,
		Kind:           enums.MovementKindReplenish,
		Delta:          8,
		Reference:      "grn:remote-1",
		Seq:            1,
		RecordedAt:     time.Now().UTC(),
	}

	if err := svc.ApplyRemote(context.Background(), event); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if err := svc.ApplyRemote(context.Background(), event); err != nil {
		t.Fatalf("repeat apply remote: %v", err)
	}

	record := loadStock(t, db, variantID, remoteBranch)
	if record.OnHand != 8 {
		t.Fatalf("duplicate apply must not double-count: %+v", record)
	}

	var count int64
	if err := db.Model(&models.StockMovement{}).Where("id = ?", event.MovementID).Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single movement row, got %d", count)
	}
	if len(ob.events) != 0 {
		t.Fatalf("remote applies must not re-emit replication events")
	}
}

func TestApplyRemoteSkipsOwnBranch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	localBranch := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, localBranch)

	err := svc.ApplyRemote(context.Background(), payloads.StockMovementRecordedEvent{
		MovementID:     uuid.New(),
		VariantID:      variantID,
		BranchID:       localBranch,
		OriginBranchID: localBranch,
		Kind:           enums.MovementKindReplenish,
		Delta:          3,
		Seq:            1,
	})
	if err != nil {
		t.Fatalf("apply remote: %v", err)
	}

	var count int64
	if err := db.Model(&models.StockMovement{}).Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 0 {
		t.Fatalf("own-branch events must be skipped")
	}
}

func TestExpireReservations(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	branchID := uuid.New()
	variantID := uuid.New()
	svc, _, _ := newTestService(t, db, branchID)
	seedStock(t, db, variantID, branchID, 10, 0)

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := svc.Reserve(context.Background(), ReserveInput{
		Reference: "doc:stale",
		VariantID: variantID,
		BranchID:  branchID,
		Qty:       2,
		ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	count, err := svc.ExpireReservations(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one expiry, got %d", count)
	}

	record := loadStock(t, db, variantID, branchID)
	if record.Reserved != 0 {
		t.Fatalf("expired hold must be returned: %+v", record)
	}

	var reservation models.StockReservation
	if err := db.Where("reference = ?", "doc:stale").First(&reservation).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if reservation.Status != enums.ReservationStatusExpired {
		t.Fatalf("unexpected status %s", reservation.Status)
	}
}

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sweveninteriosolutions-wq/billing-backend/internal/ledger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/db/models"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/logger"
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/outbox/payloads"
)

type testLedgerService struct {
	reserveFn       func(ctx context.Context, input ledger.ReserveInput) (*models.StockReservation, error)
	adjustFn        func(ctx context.Context, input ledger.AdjustInput) error
	getStockFn      func(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error)
	listMovementsFn func(ctx context.Context, query ledger.MovementQuery) ([]models.StockMovement, error)
}

func (s *testLedgerService) Reserve(ctx context.Context, input ledger.ReserveInput) (*models.StockReservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, input)
	}
	return nil, nil
}

func (s *testLedgerService) Release(ctx context.Context, input ledger.ReleaseInput) error { return nil }
func (s *testLedgerService) Deduct(ctx context.Context, input ledger.DeductInput) error   { return nil }
func (s *testLedgerService) Replenish(ctx context.Context, input ledger.ReplenishInput) error {
	return nil
}

func (s *testLedgerService) Adjust(ctx context.Context, input ledger.AdjustInput) error {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, input)
	}
	return nil
}

func (s *testLedgerService) Transfer(ctx context.Context, input ledger.TransferInput) error {
	return nil
}

func (s *testLedgerService) ReserveTx(ctx context.Context, tx *gorm.DB, input ledger.ReserveInput) (*models.StockReservation, error) {
	return nil, nil
}

func (s *testLedgerService) DeductReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error {
	return nil
}

func (s *testLedgerService) ReleaseReferenceTx(ctx context.Context, tx *gorm.DB, reference string, actorUserID *uuid.UUID) error {
	return nil
}

func (s *testLedgerService) ReplenishTx(ctx context.Context, tx *gorm.DB, input ledger.ReplenishInput) error {
	return nil
}

func (s *testLedgerService) ApplyRemote(ctx context.Context, event payloads.StockMovementRecordedEvent) error {
	return nil
}

func (s *testLedgerService) ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	return 0, nil
}

func (s *testLedgerService) GetStock(ctx context.Context, variantID, branchID uuid.UUID) (*models.StockRecord, error) {
	if s.getStockFn != nil {
		return s.getStockFn(ctx, variantID, branchID)
	}
	return nil, nil
}

func (s *testLedgerService) ListMovements(ctx context.Context, query ledger.MovementQuery) ([]models.StockMovement, error) {
	if s.listMovementsFn != nil {
		return s.listMovementsFn(ctx, query)
	}
	return nil, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler(resp, req)
	return resp
}

func TestStockReserveSuccess(t *testing.T) {
	variantID := uuid.New()
	branchID := uuid.New()
	var captured ledger.ReserveInput
	svc := &testLedgerService{
		reserveFn: func(ctx context.Context, input ledger.ReserveInput) (*models.StockReservation, error) {
			captured = input
			return &models.StockReservation{
				ID:        uuid.New(),
				Reference: input.Reference,
				VariantID: input.VariantID,
				BranchID:  input.BranchID,
				Qty:       input.Qty,
			}, nil
		},
	}

	resp := postJSON(t, StockReserve(svc, testLogger()), "/api/v1/stock/reserve", map[string]any{
		"reference":  "doc:abc",
		"variant_id": variantID.String(),
		"branch_id":  branchID.String(),
		"qty":        3,
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.VariantID != variantID || captured.BranchID != branchID {
		t.Fatalf("unexpected input %+v", captured)
	}
	if captured.Qty != 3 {
		t.Fatalf("expected qty 3 got %d", captured.Qty)
	}
}

func TestStockReserveRejectsMissingQty(t *testing.T) {
	called := false
	svc := &testLedgerService{
		reserveFn: func(ctx context.Context, input ledger.ReserveInput) (*models.StockReservation, error) {
			called = true
			return nil, nil
		},
	}

	resp := postJSON(t, StockReserve(svc, testLogger()), "/api/v1/stock/reserve", map[string]any{
		"reference":  "doc:abc",
		"variant_id": uuid.NewString(),
		"branch_id":  uuid.NewString(),
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if called {
		t.Fatal("service should not be called on validation failure")
	}
}

func TestStockReserveSurfacesInsufficientStock(t *testing.T) {
	svc := &testLedgerService{
		reserveFn: func(ctx context.Context, input ledger.ReserveInput) (*models.StockReservation, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"requested": input.Qty, "available": 1})
		},
	}

	resp := postJSON(t, StockReserve(svc, testLogger()), "/api/v1/stock/reserve", map[string]any{
		"reference":  "doc:abc",
		"variant_id": uuid.NewString(),
		"branch_id":  uuid.NewString(),
		"qty":        5,
	})

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeInsufficientStock) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestStockAdjustPassesNote(t *testing.T) {
	var captured ledger.AdjustInput
	svc := &testLedgerService{
		adjustFn: func(ctx context.Context, input ledger.AdjustInput) error {
			captured = input
			return nil
		},
	}

	resp := postJSON(t, StockAdjust(svc, testLogger()), "/api/v1/stock/adjust", map[string]any{
		"reference":  "count:2026-02",
		"variant_id": uuid.NewString(),
		"branch_id":  uuid.NewString(),
		"delta":      -4,
		"note":       "  cycle count  ",
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Delta != -4 {
		t.Fatalf("expected delta -4 got %d", captured.Delta)
	}
	if captured.Note == nil || *captured.Note != "cycle count" {
		t.Fatalf("expected trimmed note, got %v", captured.Note)
	}
}

func TestStockGetReturnsAvailable(t *testing.T) {
	variantID := uuid.New()
	branchID := uuid.New()
	svc := &testLedgerService{
		getStockFn: func(ctx context.Context, vID, bID uuid.UUID) (*models.StockRecord, error) {
			return &models.StockRecord{VariantID: vID, BranchID: bID, OnHand: 10, Reserved: 4, Version: 7}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/"+variantID.String()+"/"+branchID.String(), nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("variantId", variantID.String())
	routeCtx.URLParams.Add("branchId", branchID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	StockGet(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var body struct {
		Data stockResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Available != 6 {
		t.Fatalf("expected available 6 got %d", body.Data.Available)
	}
}

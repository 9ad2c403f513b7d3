package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor(t *testing.T) {
	meta := MetadataFor(CodeInsufficientStock)
	if meta.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", meta.HTTPStatus)
	}
	if meta.Retryable {
		t.Fatal("insufficient stock must not be retryable")
	}

	meta = MetadataFor(CodeConflict)
	if !meta.Retryable {
		t.Fatal("concurrency conflicts are retryable")
	}

	meta = MetadataFor(Code("UNKNOWN"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown codes fall back to internal, got %d", meta.HTTPStatus)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stdErrors.New("row not found")
	err := Wrap(CodeNotFound, cause, "reservation missing")

	if err.Code() != CodeNotFound {
		t.Fatalf("unexpected code: %s", err.Code())
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if got := err.Error(); got != "NOT_FOUND: reservation missing" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestAsThroughChain(t *testing.T) {
	inner := New(CodePaymentMismatch, "amount exceeds balance")
	outer := fmt.Errorf("apply payment: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through fmt wrap")
	}
	if typed.Code() != CodePaymentMismatch {
		t.Fatalf("unexpected code: %s", typed.Code())
	}

	if As(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors must not convert")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("convert: %w", New(CodeInsufficientStock, "variant short"))
	if !HasCode(err, CodeInsufficientStock) {
		t.Fatal("expected insufficient stock code")
	}
	if HasCode(err, CodeConflict) {
		t.Fatal("unexpected conflict code")
	}
	if HasCode(nil, CodeConflict) {
		t.Fatal("nil error has no code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "bad line").WithDetails(map[string]string{"qty": "must be positive"})
	details, ok := err.Details().(map[string]string)
	if !ok || details["qty"] != "must be positive" {
		t.Fatalf("unexpected details: %+v", err.Details())
	}
}

package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTransient, "inventory down").
		WithCause(root).
		WithRetryable(true)

	if GetErrorCode(err) != ErrTransient {
		t.Fatalf("expected code %s, got %s", ErrTransient, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedClassification(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("activity failed: %w", NewNonRetryable("invalid credit card expiry"))
	if IsRetryable(wrapped) {
		t.Fatalf("non-retryable error must stay non-retryable through wrapping")
	}
	if !IsErrorCode(wrapped, ErrInvalidInput) {
		t.Fatalf("expected %s, got %s", ErrInvalidInput, GetErrorCode(wrapped))
	}
}

func TestIsRetryable_PlainErrors(t *testing.T) {
	t.Parallel()

	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
	if !IsRetryable(errors.New("boom")) {
		t.Fatalf("unclassified errors default to transient")
	}
	if GetErrorCode(errors.New("boom")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

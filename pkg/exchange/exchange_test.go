package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestRejectReason(t *testing.T) {
	err := newRejectError("margin is insufficient")

	if !errors.Is(err, ErrOrderRejected) {
		t.Fatal("reject error must match ErrOrderRejected")
	}
	if got := RejectReason(err); got != "margin is insufficient" {
		t.Fatalf("expected reject reason, got %q", got)
	}

	// 包装后仍可提取
	wrapped := fmt.Errorf("place order: %w", err)
	if got := RejectReason(wrapped); got != "margin is insufficient" {
		t.Fatalf("expected reason through wrapping, got %q", got)
	}
}

func TestRejectReasonOnOtherErrors(t *testing.T) {
	if got := RejectReason(ErrOrderTimeout); got != "" {
		t.Fatalf("timeout is not a reject, got %q", got)
	}
	if got := RejectReason(errors.New("network down")); got != "" {
		t.Fatalf("plain error is not a reject, got %q", got)
	}
}

package nats

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	wrapped := newErr(ErrCodeTimeout, "Subscription.NextMsg", errors.New("deadline exceeded"))
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatal("errors.Is(wrapped, ErrTimeout) = false, want true (same code)")
	}
	if errors.Is(wrapped, ErrConnectionClosed) {
		t.Fatal("errors.Is(wrapped, ErrConnectionClosed) = true, want false (different code)")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := newErr(ErrCodeIO, "conn.flush", inner)
	if !errors.Is(wrapped, inner) {
		t.Fatal("errors.Is(wrapped, inner) = false, want true via Unwrap")
	}
}

func TestErrorMessageIncludesOpAndWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := newErr(ErrCodeIO, "nats.Connect", inner)
	want := "nats.Connect: io error: connection refused"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorCodeStringUnknown(t *testing.T) {
	if got := ErrorCode(999).String(); got != "unknown" {
		t.Fatalf("String() for an unrecognized code = %q, want unknown", got)
	}
}

package nats

import (
	"testing"
	"time"
)

func TestLibraryConfigWriteDeadline(t *testing.T) {
	c := libraryConfig{DefaultWriteDeadlineMs: 500}
	if got := c.writeDeadline(); got != 500*time.Millisecond {
		t.Fatalf("writeDeadline() = %v, want 500ms", got)
	}
}

func TestLibraryConfigUseGlobalMessageDelivery(t *testing.T) {
	if (libraryConfig{}).useGlobalMessageDelivery() {
		t.Fatal("useGlobalMessageDelivery() = true for an empty env var, want false")
	}
	if !(libraryConfig{DefaultToLibMsgDelivery: "1"}).useGlobalMessageDelivery() {
		t.Fatal("useGlobalMessageDelivery() = false when the env var is set, want true")
	}
}

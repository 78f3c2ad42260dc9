package nats

import (
	"testing"
	"time"
)

func TestConsumerConfigMismatchPushPullMode(t *testing.T) {
	existing := &ConsumerConfig{DeliverSubject: "deliver.x"}
	requested := &ConsumerConfig{} // pull
	if got := consumerConfigMismatch(existing, requested); got == "" {
		t.Fatal("push consumer vs pull request should mismatch")
	}
}

func TestConsumerConfigMismatchIgnoresDefaults(t *testing.T) {
	existing := &ConsumerConfig{
		DeliverSubject: "deliver.x",
		AckPolicy:      AckExplicit,
		AckWait:        30 * time.Second,
		MaxDeliver:     5,
	}
	// Requested config only states the mode and ack policy; everything it
	// left zero is "server default" and must not be compared.
	requested := &ConsumerConfig{DeliverSubject: "deliver.y", AckPolicy: AckExplicit}
	if got := consumerConfigMismatch(existing, requested); got != "" {
		t.Fatalf("mismatch = %q, want none for zero-valued requested fields", got)
	}
}

func TestConsumerConfigMismatchNamesTheField(t *testing.T) {
	existing := &ConsumerConfig{DeliverSubject: "d", AckWait: 30 * time.Second}
	requested := &ConsumerConfig{DeliverSubject: "d", AckWait: 10 * time.Second}
	if got := consumerConfigMismatch(existing, requested); got != "ack_wait" {
		t.Fatalf("mismatch = %q, want ack_wait", got)
	}
}

func TestWatchdogEscalatesOnSecondConsecutiveMiss(t *testing.T) {
	j := &jsSubMeta{}
	if j.noteWatchdogFire() {
		t.Fatal("first silent fire escalated; want it to only count a miss")
	}
	if !j.noteWatchdogFire() {
		t.Fatal("second consecutive silent fire did not escalate")
	}
	if j.hbMissed != 0 {
		t.Fatalf("hbMissed after escalation = %d, want reset to 0", j.hbMissed)
	}
}

func TestWatchdogActivityResetsMissCount(t *testing.T) {
	j := &jsSubMeta{}
	j.noteWatchdogFire() // miss 1
	j.active = true      // a heartbeat arrived
	if j.noteWatchdogFire() {
		t.Fatal("fire after activity escalated")
	}
	if j.hbMissed != 0 {
		t.Fatalf("hbMissed after activity = %d, want 0", j.hbMissed)
	}
	if j.active {
		t.Fatal("watchdog fire did not consume the activity flag")
	}
}

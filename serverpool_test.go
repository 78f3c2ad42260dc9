package nats

import (
	"testing"
	"time"
)

func TestServerPoolDedup(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222", "nats://a:4222", "nats://b:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	if got := len(p.urls()); got != 2 {
		t.Fatalf("len(urls) = %d, want 2", got)
	}
}

func TestServerPoolDiscoverDedupAndNewFlag(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	if added := p.discover([]string{"nats://a:4222"}); added {
		t.Fatal("discover() of an already-known server reported added=true")
	}
	if added := p.discover([]string{"nats://c:4222"}); !added {
		t.Fatal("discover() of a new server reported added=false")
	}
	if got := len(p.urls()); got != 2 {
		t.Fatalf("len(urls) = %d, want 2", got)
	}
}

func TestServerPoolPickNextSkipsExhaustedEntries(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222", "nats://b:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	a := p.entries[0]
	a.attempts = 5

	cand, _, ok := p.pickNext(0, 0, 5)
	if !ok {
		t.Fatal("pickNext() ok = false, want true (b still under max)")
	}
	if cand.key() != p.entries[1].key() {
		t.Fatalf("pickNext() picked %s, want entry b", cand.key())
	}
}

func TestServerPoolPickNextAllExhausted(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	p.entries[0].attempts = 3
	if _, _, ok := p.pickNext(0, 0, 3); ok {
		t.Fatal("pickNext() ok = true, want false once every entry hit maxAttempts")
	}
}

func TestServerPoolMarkAttemptAndConnected(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	e := p.entries[0]
	p.markAttempt(e, ErrNoServers)
	if e.attempts != 1 {
		t.Fatalf("attempts = %d, want 1", e.attempts)
	}
	p.markConnected(e)
	if e.attempts != 0 || e.lastError != nil {
		t.Fatalf("after markConnected: attempts=%d lastError=%v, want 0/nil", e.attempts, e.lastError)
	}
	if p.idx != 0 {
		t.Fatalf("idx = %d, want 0", p.idx)
	}
}

func TestServerPoolPickNextBackoff(t *testing.T) {
	p, err := newServerPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("newServerPool() error = %v", err)
	}
	e := p.entries[0]
	p.markAttempt(e, nil)

	_, delay, ok := p.pickNext(time.Hour, 0, -1)
	if !ok {
		t.Fatal("pickNext() ok = false")
	}
	if delay <= 0 {
		t.Fatalf("delay = %v, want > 0 immediately after a failed attempt with a long reconnectWait", delay)
	}
}

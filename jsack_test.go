package nats

import (
	"testing"
	"time"
)

func TestMsgAckRejectsNonJetStreamMessage(t *testing.T) {
	m := &Msg{Reply: "some.reply"} // no jsMeta: not a jetstream delivery
	if err := m.Ack(); err == nil {
		t.Fatal("Ack() on a non-jetstream message returned nil error, want an error")
	}
	if err := m.Nak(); err == nil {
		t.Fatal("Nak() on a non-jetstream message returned nil error, want an error")
	}
}

func TestMsgAckRejectsNoReplySubject(t *testing.T) {
	m := &Msg{jsMeta: &jsMsgMeta{}}
	if err := m.Ack(); err == nil {
		t.Fatal("Ack() with no reply subject returned nil error, want an error")
	}
}

// TestMsgAckIdempotent exercises spec.md §8's "Ack(msg) is idempotent on the
// client (no-op after first successful ack)" without a live connection: once
// ackd is set, Ack/Term must return before touching the (nil) connection.
func TestMsgAckIdempotent(t *testing.T) {
	m := &Msg{Reply: "$JS.ACK.s.c.1.1.1.0.0", jsMeta: &jsMsgMeta{}, ackd: true}
	if err := m.Ack(); err != nil {
		t.Fatalf("Ack() on an already-acked message = %v, want nil", err)
	}
	if err := m.Term(); err != nil {
		t.Fatalf("Term() on an already-acked message = %v, want nil", err)
	}
}

func newTestAsyncPublisher() *jsAsyncPublisher {
	return &jsAsyncPublisher{
		js:          &JetStreamContext{},
		pending:     make(map[string]*pubAckFuture),
		nodes:       make(map[string]*dlNode),
		notify:      make(chan struct{}, 1),
		maxPending:  defaultMaxAsyncPending,
		stallWait:   defaultStallWait,
		defaultWait: DefaultTimeout,
	}
}

// TestDeadlineListStaysOrdered checks the deadline list's ordering:
// inserting out of order must still produce a list walkable head-to-tail in
// ascending expiry.
func TestDeadlineListStaysOrdered(t *testing.T) {
	p := newTestAsyncPublisher()
	base := time.Now()
	p.mu.Lock()
	p.insertDeadline("c", base.Add(30*time.Second))
	p.insertDeadline("a", base.Add(10*time.Second))
	p.insertDeadline("b", base.Add(20*time.Second))
	p.insertDeadline("d", base.Add(5*time.Second)) // earlier than current head
	p.mu.Unlock()

	var order []string
	for n := p.dlHead; n != nil; n = n.next {
		order = append(order, n.token)
	}
	want := []string{"d", "a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("deadline list order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("deadline list order = %v, want %v", order, want)
		}
	}
	if p.dlHead.token != "d" || p.dlTail.token != "c" {
		t.Fatalf("head/tail = %s/%s, want d/c", p.dlHead.token, p.dlTail.token)
	}
}

// TestDeadlineListRemoveSplicesAndRearmsHead confirms removing the head
// leaves the list consistent and every node still reachable is still
// tracked in the token->node map.
func TestDeadlineListRemoveSplicesAndRearmsHead(t *testing.T) {
	p := newTestAsyncPublisher()
	base := time.Now()
	p.mu.Lock()
	p.insertDeadline("a", base.Add(10*time.Second))
	p.insertDeadline("b", base.Add(20*time.Second))
	p.insertDeadline("c", base.Add(30*time.Second))
	p.removeDeadline("a")
	p.mu.Unlock()

	if p.dlHead == nil || p.dlHead.token != "b" {
		t.Fatalf("head after removing a = %v, want b", p.dlHead)
	}
	if _, ok := p.nodes["a"]; ok {
		t.Fatal("removeDeadline left a stale entry in the token->node map")
	}
	if len(p.nodes) != 2 {
		t.Fatalf("nodes map has %d entries, want 2", len(p.nodes))
	}
}

// TestResolveRemovesFromBothMapAndDeadlineList is the direct check of the
// spec.md §8 invariant: resolving a token must remove it from the pending
// map and the deadline list together.
func TestResolveRemovesFromBothMapAndDeadlineList(t *testing.T) {
	p := newTestAsyncPublisher()
	fut := &pubAckFuture{ok: make(chan *PubAck, 1), err: make(chan error, 1)}
	p.mu.Lock()
	p.pending["tok"] = fut
	p.insertDeadline("tok", time.Now().Add(time.Minute))
	p.mu.Unlock()

	p.resolve("tok", &PubAck{Stream: "S", Sequence: 1}, nil)

	p.mu.Lock()
	_, inPending := p.pending["tok"]
	_, inDeadlines := p.nodes["tok"]
	p.mu.Unlock()
	if inPending || inDeadlines {
		t.Fatalf("resolve() left tok in pending=%v nodes=%v, want both false", inPending, inDeadlines)
	}

	select {
	case ack := <-fut.ok:
		if ack.Stream != "S" || ack.Sequence != 1 {
			t.Fatalf("ack delivered = %+v", ack)
		}
	default:
		t.Fatal("resolve() did not deliver the ack on fut.Ok()")
	}
}

// TestDeadlineFireResolvesExpiredWithTimeout exercises the timer-driven
// path: onDeadlineFire must resolve every expired entry with ErrTimeout and
// leave not-yet-expired entries in place.
func TestDeadlineFireResolvesExpiredWithTimeout(t *testing.T) {
	p := newTestAsyncPublisher()
	expired := &pubAckFuture{ok: make(chan *PubAck, 1), err: make(chan error, 1)}
	notExpired := &pubAckFuture{ok: make(chan *PubAck, 1), err: make(chan error, 1)}

	p.mu.Lock()
	p.pending["expired"] = expired
	p.pending["fresh"] = notExpired
	p.insertDeadline("expired", time.Now().Add(-time.Second))
	p.insertDeadline("fresh", time.Now().Add(time.Hour))
	p.mu.Unlock()

	p.onDeadlineFire()

	select {
	case err := <-expired.err:
		if err != ErrTimeout {
			t.Fatalf("expired future error = %v, want ErrTimeout", err)
		}
	default:
		t.Fatal("expired token was not resolved by onDeadlineFire")
	}

	p.mu.Lock()
	_, stillPending := p.pending["fresh"]
	p.mu.Unlock()
	if !stillPending {
		t.Fatal("onDeadlineFire resolved a not-yet-expired entry")
	}
}

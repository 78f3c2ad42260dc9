package nats

import "testing"

func TestMsgQueueFIFO(t *testing.T) {
	q := newMsgQueue()
	m1 := &Msg{Subject: "a", Data: []byte("1")}
	m2 := &Msg{Subject: "a", Data: []byte("2")}
	m3 := &Msg{Subject: "a", Data: []byte("3")}
	q.push(dispatchItem{kind: itemUser, msg: m1})
	q.push(dispatchItem{kind: itemUser, msg: m2})
	q.push(dispatchItem{kind: itemUser, msg: m3})

	for _, want := range []*Msg{m1, m2, m3} {
		it, ok, timedOut := q.pop(nil)
		if !ok || timedOut {
			t.Fatalf("pop() = (ok=%v timedOut=%v), want ok=true", ok, timedOut)
		}
		if it.msg != want {
			t.Fatalf("pop() returned %v, want %v (FIFO order)", it.msg, want)
		}
	}
}

func TestMsgQueueStatsTrackOnlyUserItems(t *testing.T) {
	q := newMsgQueue()
	q.push(dispatchItem{kind: itemUser, msg: &Msg{Data: []byte("hello")}})
	q.push(dispatchItem{kind: itemDrainSignal})

	msgs, _ := q.stats()
	if msgs != 1 {
		t.Fatalf("stats() msgs = %d, want 1 (synthetic items must not count)", msgs)
	}

	q.pop(nil) // user item
	msgs, bytes := q.stats()
	if msgs != 0 || bytes != 0 {
		t.Fatalf("stats() after dequeue = (%d, %d), want (0, 0)", msgs, bytes)
	}
}

func TestMsgQueueDrainDestroyUnblocksPop(t *testing.T) {
	q := newMsgQueue()
	done := make(chan struct{})
	go func() {
		_, ok, timedOut := q.pop(nil)
		if ok || timedOut {
			t.Errorf("pop() after drainDestroy = (ok=%v timedOut=%v), want both false", ok, timedOut)
		}
		close(done)
	}()
	q.drainDestroy()
	<-done
}

// fakeDispatchTarget records items synchronously without running a worker
// loop, isolating Subscription.deliver's limit/accounting logic (spec.md
// §4.5, §8 boundary behaviours) from the dispatcher goroutines.
type fakeDispatchTarget struct {
	items []dispatchItem
}

func (f *fakeDispatchTarget) enqueue(it dispatchItem) { f.items = append(f.items, it) }

func TestSubscriptionDeliverSlowConsumerBoundary(t *testing.T) {
	sub := newSubscription(nil, 1, "foo", "", nil, SubscriptionOptions{PendingMsgsLimit: 10, PendingBytesLimit: 1 << 20})
	fake := &fakeDispatchTarget{}
	sub.dispatcher = fake

	var dropped int
	var slowConsumerFires int
	for i := 0; i < 11; i++ {
		d, became := sub.deliver(&Msg{Subject: "foo", Data: []byte("x")})
		if d {
			dropped++
		}
		if became {
			slowConsumerFires++
		}
	}

	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1 (11th arrival over a limit of 10)", dropped)
	}
	if slowConsumerFires != 1 {
		t.Fatalf("slow-consumer fired %d times, want exactly 1 (once per episode)", slowConsumerFires)
	}
	stats := sub.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("Stats().Dropped = %d, want 1", stats.Dropped)
	}
	if !stats.SlowConsumer {
		t.Fatal("Stats().SlowConsumer = false, want true")
	}
	if len(fake.items) != 10 {
		t.Fatalf("enqueued items = %d, want 10 (the dropped 11th never reaches the dispatcher)", len(fake.items))
	}
}

func TestSubscriptionDeliverSlowConsumerClearsOnRoomAgain(t *testing.T) {
	sub := newSubscription(nil, 1, "foo", "", nil, SubscriptionOptions{PendingMsgsLimit: 1, PendingBytesLimit: 1 << 20})
	sub.dispatcher = &fakeDispatchTarget{}

	sub.deliver(&Msg{Data: []byte("x")}) // fills the single slot
	dropped, became := sub.deliver(&Msg{Data: []byte("x")})
	if !dropped || !became {
		t.Fatalf("second deliver = (dropped=%v became=%v), want (true, true)", dropped, became)
	}

	sub.onDequeue(&Msg{Data: []byte("x")}) // dispatcher drains the one pending message
	dropped, _ = sub.deliver(&Msg{Data: []byte("y")})
	if dropped {
		t.Fatal("deliver() after draining below the limit still dropped")
	}
	if sub.Stats().SlowConsumer {
		t.Fatal("SlowConsumer flag did not clear once a message was accepted again")
	}
}

package nats

import "testing"

func TestKeepAheadHandlerPrimesFullWindow(t *testing.T) {
	next := defaultKeepAheadHandler(8, 0, 0)
	req, send := next(FetchCounters{})
	if !send || req.Batch != 8 {
		t.Fatalf("initial request = (%+v, %v), want batch 8", req, send)
	}
}

func TestKeepAheadHandlerTopsUpToWindow(t *testing.T) {
	next := defaultKeepAheadHandler(8, 0, 0)
	// 10 requested, 5 delivered: 5 in flight, so top up by 3 to reach 8.
	req, send := next(FetchCounters{RequestedMsgs: 10, DeliveredMsgs: 5})
	if !send || req.Batch != 3 {
		t.Fatalf("top-up request = (%+v, %v), want batch 3", req, send)
	}
}

func TestKeepAheadHandlerIdleAtFullWindow(t *testing.T) {
	next := defaultKeepAheadHandler(8, 0, 0)
	if _, send := next(FetchCounters{RequestedMsgs: 8}); send {
		t.Fatal("handler requested more while a full window is already outstanding")
	}
}

func TestKeepAheadHandlerBoundedByMaxMessages(t *testing.T) {
	next := defaultKeepAheadHandler(8, 10, 0)
	req, send := next(FetchCounters{RequestedMsgs: 7, DeliveredMsgs: 7})
	if !send || req.Batch != 3 {
		t.Fatalf("request near MaxMessages = (%+v, %v), want batch 3 (10-7)", req, send)
	}
	if _, send := next(FetchCounters{RequestedMsgs: 10, DeliveredMsgs: 10}); send {
		t.Fatal("handler requested past MaxMessages")
	}
}

func TestKeepAheadHandlerBoundedByMaxBytes(t *testing.T) {
	next := defaultKeepAheadHandler(8, 0, 1000)
	req, send := next(FetchCounters{RequestedMsgs: 2, DeliveredMsgs: 2, ReceivedBytes: 400})
	if !send || req.MaxBytes != 600 {
		t.Fatalf("request = (%+v, %v), want max_bytes 600 (remaining budget)", req, send)
	}
	if _, send := next(FetchCounters{RequestedMsgs: 2, DeliveredMsgs: 2, ReceivedBytes: 1000}); send {
		t.Fatal("handler requested after the byte budget was consumed")
	}
}

func TestRefreshAfterExpiryFloorsRequested(t *testing.T) {
	fs := newFetchState(0, 0, false)
	fs.async = true
	// No nextHandler: requestMore is a no-op, so only the floor is observed.
	fs.requestedMsgs = 20
	fs.gotMsgs = 12

	fs.refreshAfterExpiry()

	fs.mu.Lock()
	got := fs.requestedMsgs
	fs.mu.Unlock()
	if got != 12 {
		t.Fatalf("requestedMsgs after expiry = %d, want floored to 12 (received)", got)
	}
}

func TestMaybeFetchMoreStoresTerminalStatusAtBudget(t *testing.T) {
	fs := newFetchState(3, 0, false)
	fs.async = true
	fs.deliveredMsgs = 2

	fs.maybeFetchMore(100)

	if st := fs.status(); st != fetchStatusMaxMessages {
		t.Fatalf("terminal status after delivering the MaxMessages-th message = %v, want max messages", st)
	}
}

func TestMaybeFetchMoreStoresMaxBytesStatus(t *testing.T) {
	fs := newFetchState(0, 250, false)
	fs.async = true
	fs.deliveredBytes = 200

	fs.maybeFetchMore(100) // crosses 250

	if st := fs.status(); st != fetchStatusMaxBytes {
		t.Fatalf("terminal status after crossing MaxBytes = %v, want max bytes", st)
	}
}

func TestCompleteFiresOnCompleteOnceWithMappedError(t *testing.T) {
	fs := newFetchState(0, 0, false)
	fs.async = true
	var calls int
	var got error
	fs.onComplete = func(err error) {
		calls++
		got = err
	}

	fs.complete(fetchStatusMissedHeartbeat)
	fs.complete(fetchStatusOK) // second complete must not re-fire

	if calls != 1 {
		t.Fatalf("OnComplete fired %d times, want 1", calls)
	}
	e, ok := got.(*Error)
	if !ok || e.Code != ErrCodeMissedHeartbeat {
		t.Fatalf("OnComplete error = %v, want missed-heartbeat code", got)
	}
}

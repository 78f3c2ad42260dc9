package nats

import "testing"

func TestParseAckReplySubject(t *testing.T) {
	reply := "$JS.ACK.mydomain.accthash.ORDERS.d1.2.42.7.1700000000.5"
	m := parseAckReplySubject(reply)

	if m.domain != "mydomain" || m.accountHash != "accthash" {
		t.Fatalf("domain/account = %q/%q", m.domain, m.accountHash)
	}
	if m.stream != "ORDERS" || m.consumer != "d1" {
		t.Fatalf("stream/consumer = %q/%q", m.stream, m.consumer)
	}
	if m.numDelivered != 2 || m.streamSeq != 42 || m.consumerSeq != 7 {
		t.Fatalf("numDelivered/streamSeq/consumerSeq = %d/%d/%d", m.numDelivered, m.streamSeq, m.consumerSeq)
	}
	if m.timestamp != 1700000000 || m.numPending != 5 {
		t.Fatalf("timestamp/numPending = %d/%d", m.timestamp, m.numPending)
	}
}

func TestParseAckReplySubjectNoDomain(t *testing.T) {
	reply := "$JS.ACK._.accthash.ORDERS.d1.1.1.1.1700000000.0"
	m := parseAckReplySubject(reply)
	if m.domain != "_" {
		t.Fatalf("domain = %q, want literal %q token for no-domain", m.domain, "_")
	}
	if m.stream != "ORDERS" {
		t.Fatalf("stream = %q", m.stream)
	}
}

func TestParseAckReplySubjectV1(t *testing.T) {
	// The 9-token form carries no domain/account-hash prefix (spec.md §6).
	reply := "$JS.ACK.ORDERS.d1.2.42.7.1700000000.5"
	m := parseAckReplySubject(reply)
	if m.domain != "" || m.accountHash != "" {
		t.Fatalf("v1 form parsed a domain/account = %q/%q, want empty", m.domain, m.accountHash)
	}
	if m.stream != "ORDERS" || m.consumer != "d1" {
		t.Fatalf("stream/consumer = %q/%q", m.stream, m.consumer)
	}
	if m.numDelivered != 2 || m.streamSeq != 42 || m.consumerSeq != 7 || m.numPending != 5 {
		t.Fatalf("counters = %d/%d/%d/%d", m.numDelivered, m.streamSeq, m.consumerSeq, m.numPending)
	}
}

func TestParseAckReplySubjectMalformedIsZeroValue(t *testing.T) {
	m := parseAckReplySubject("$JS.ACK.tooshort")
	if m.stream != "" || m.consumer != "" || m.streamSeq != 0 {
		t.Fatalf("malformed reply should decode to zero value, got %+v", m)
	}
}

func TestFetchStateIsLastMessageByCount(t *testing.T) {
	f := newFetchState(3, 0, false)
	for i := 0; i < 2; i++ {
		f.recordDelivered(10)
		if f.isLastMessage() {
			t.Fatalf("isLastMessage() true before batch of %d was reached (at %d)", 3, i+1)
		}
	}
	f.recordDelivered(10)
	if !f.isLastMessage() {
		t.Fatal("isLastMessage() false after batch count was reached")
	}
}

func TestFetchStateIsLastMessageByBytes(t *testing.T) {
	// fetch(batch=B, maxBytes=M): stops at the first message that would
	// exceed M; that message is still delivered (spec.md §8).
	f := newFetchState(0, 25, false)
	f.recordDelivered(10)
	if f.isLastMessage() {
		t.Fatal("isLastMessage() true before maxBytes was reached")
	}
	f.recordDelivered(20) // 30 total > 25: this message is still delivered
	if !f.isLastMessage() {
		t.Fatal("isLastMessage() false after crossing maxBytes")
	}
}

func TestFetchStateCompleteIsIdempotent(t *testing.T) {
	f := newFetchState(1, 0, false)
	f.complete(fetchStatusTimeout)
	f.complete(fetchStatusOK) // must not panic on double-close of done
	select {
	case <-f.done:
	default:
		t.Fatal("done channel not closed after complete()")
	}
}

func TestJsSubMetaOrderedGapTriggersRecreate(t *testing.T) {
	// With a subject filter, stream sequences can legitimately skip (3 here)
	// while the consumer sequence stays contiguous; a gap must be judged on
	// the consumer sequence, and recreate must restart from the last stream
	// sequence actually seen, not from the consumer sequence.
	var recreateArg uint64 = 999
	var calls int
	j := &jsSubMeta{ordered: true, expectedConsumerSeq: 3, lastStreamSeq: 10, recreateOnGap: func(afterStreamSeq uint64) error {
		calls++
		recreateArg = afterStreamSeq
		return nil
	}}

	msg := &Msg{jsMeta: &jsMsgMeta{streamSeq: 14, consumerSeq: 5}}
	rec := j.onMessageDelivered(msg)
	if rec == nil {
		t.Fatal("gap did not return a recreate thunk: the out-of-order message would reach the user")
	}
	_ = rec()

	if calls != 1 {
		t.Fatalf("recreateOnGap called %d times, want 1", calls)
	}
	if recreateArg != 10 {
		t.Fatalf("recreateOnGap(afterStreamSeq=%d), want 10 (lastStreamSeq before the gap)", recreateArg)
	}
	// The gapped message is suppressed: the sequence cursors must not
	// advance past it, so redelivery resumes from the gap.
	if j.expectedConsumerSeq != 3 {
		t.Fatalf("expectedConsumerSeq after suppressed gap = %d, want 3 (unchanged)", j.expectedConsumerSeq)
	}
	if j.lastStreamSeq != 10 {
		t.Fatalf("lastStreamSeq after suppressed gap = %d, want 10 (unchanged)", j.lastStreamSeq)
	}
}

func TestJsSubMetaNoGapNoRecreate(t *testing.T) {
	var calls int
	j := &jsSubMeta{ordered: true, expectedConsumerSeq: 4, recreateOnGap: func(uint64) error {
		calls++
		return nil
	}}
	if rec := j.onMessageDelivered(&Msg{jsMeta: &jsMsgMeta{streamSeq: 4, consumerSeq: 4}}); rec != nil {
		_ = rec()
	}
	if calls != 0 {
		t.Fatalf("recreateOnGap called %d times, want 0 for a contiguous delivery", calls)
	}
	if j.expectedConsumerSeq != 5 {
		t.Fatalf("expectedConsumerSeq = %d, want 5", j.expectedConsumerSeq)
	}
}

func TestJsSubMetaSubjectFilteredStreamGapNotFalsePositive(t *testing.T) {
	// A subject-filtered stream's stream sequences are not contiguous by
	// design; only a gap in the consumer sequence is a real miss.
	var calls int
	j := &jsSubMeta{ordered: true, expectedConsumerSeq: 2, lastStreamSeq: 7, recreateOnGap: func(uint64) error {
		calls++
		return nil
	}}
	if rec := j.onMessageDelivered(&Msg{jsMeta: &jsMsgMeta{streamSeq: 40, consumerSeq: 2}}); rec != nil {
		_ = rec()
	}
	if calls != 0 {
		t.Fatalf("recreateOnGap called %d times, want 0: a stream-sequence jump alone is not a gap", calls)
	}
}

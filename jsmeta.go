package nats

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// fetchStatus is the terminal-reason sum type for a pull-consumer Fetch
// call (spec.md §4.9): why the batch stopped filling.
type fetchStatus int

const (
	fetchStatusOK fetchStatus = iota
	fetchStatusMaxMessages
	fetchStatusMaxBytes
	fetchStatusTimeout
	fetchStatusNoMessages
	fetchStatusMissedHeartbeat
	fetchStatusConnectionClosed
	fetchStatusConsumerDeleted
	fetchStatusLeadershipChange
)

func (s fetchStatus) String() string {
	switch s {
	case fetchStatusOK:
		return "ok"
	case fetchStatusMaxMessages:
		return "max messages reached"
	case fetchStatusMaxBytes:
		return "max bytes reached"
	case fetchStatusTimeout:
		return "timeout"
	case fetchStatusNoMessages:
		return "no messages"
	case fetchStatusMissedHeartbeat:
		return "missed heartbeat"
	case fetchStatusConnectionClosed:
		return "connection closed"
	case fetchStatusConsumerDeleted:
		return "consumer deleted"
	case fetchStatusLeadershipChange:
		return "leadership change"
	default:
		return "unknown"
	}
}

// toError maps a terminal fetch status to the error handed to a
// PullConsume completion callback (spec.md §4.9 "fetch termination fires a
// user completion callback with a terminal status"). OK and NoMessages map
// to nil; reaching MaxMessages maps to ErrCodeMaxDeliveredMsgs.
func (s fetchStatus) toError() error {
	switch s {
	case fetchStatusOK, fetchStatusNoMessages:
		return nil
	case fetchStatusMaxMessages:
		return newErrf(ErrCodeMaxDeliveredMsgs, "jetstream", s.String())
	case fetchStatusMaxBytes, fetchStatusLeadershipChange:
		return newErrf(ErrCodeLimitReached, "jetstream", s.String())
	case fetchStatusTimeout:
		return ErrTimeout
	case fetchStatusMissedHeartbeat:
		return newErrf(ErrCodeMissedHeartbeat, "jetstream", s.String())
	case fetchStatusConnectionClosed:
		return ErrConnectionClosed
	case fetchStatusConsumerDeleted:
		return newErrf(ErrCodeNotFound, "jetstream", s.String())
	default:
		return newErrf(ErrCodeGeneric, "jetstream", s.String())
	}
}

// ackPolicy mirrors the management-API enum (spec.md §4.9).
type ackPolicy string

const (
	AckExplicit ackPolicy = "explicit"
	AckAll      ackPolicy = "all"
	AckNone     ackPolicy = "none"
)

// deliverPolicy mirrors the management-API enum controlling where a new
// consumer starts reading from in the stream.
type deliverPolicy string

const (
	DeliverAll             deliverPolicy = "all"
	DeliverLast            deliverPolicy = "last"
	DeliverNew             deliverPolicy = "new"
	DeliverByStartSequence deliverPolicy = "by_start_sequence"
	DeliverByStartTime     deliverPolicy = "by_start_time"
	DeliverLastPerSubject  deliverPolicy = "last_per_subject"
)

// jsSubMeta is the jetstream-specific state threaded onto a core
// Subscription (spec.md §4.9): present for push/pull/ordered consumer
// subscriptions, nil for plain core subscriptions. It lives behind
// Subscription.mu, same as the rest of Subscription's fields.
type jsSubMeta struct {
	js *JetStreamContext

	stream   string
	consumer string
	domain   string

	ackPolicy ackPolicy
	ackWait   time.Duration
	manualAck bool

	// ordered consumer bookkeeping (spec.md §4.9 "ordered consumer"): gap
	// detection keys off the delivered (consumer) sequence — with subject
	// filters a stream's sequence numbers are legitimately non-contiguous,
	// so only the consumer sequence can signal a genuine missed delivery.
	// lastStreamSeq is tracked separately because recreation restarts the
	// new consumer from a stream sequence (DeliverByStartSequence), not a
	// consumer sequence.
	ordered             bool
	expectedConsumerSeq uint64
	lastStreamSeq       uint64
	recreateOnGap       func(afterStreamSeq uint64) error

	// active is flipped true whenever a heartbeat or a message arrives, and
	// watched by a missed-heartbeat timer for push consumers with idle
	// heartbeats configured (spec.md §4.9 "missed heartbeat"). hbMissed
	// counts consecutive watchdog fires that saw no activity; the watchdog
	// only escalates after two in a row, so one late heartbeat straddling a
	// fire boundary is not a false positive.
	active   bool
	hbTimer  *Timer
	hbMissed int

	// fcPending holds the flow-control control message's reply subject,
	// acked once the consumer's delivered count catches up to the inbound
	// watermark recorded when the control message arrived (spec.md §4.9
	// flow control); cleared once fcDeliveredReached fires.
	fcPending        string
	fcThresholdCount uint64
	deliveredSinceFC uint64

	// inboundSeq counts every real (non-control) ack-bearing message as it
	// arrives off the wire, ahead of delivery to user code; a flow-control
	// control message's threshold is this watermark at receipt time.
	inboundSeq uint64

	// activeFetch is non-nil only while a pull-consumer Fetch call is
	// in-flight (spec.md §4.9 "pull consumer fetch").
	activeFetch *fetchState
}

// onMessageDelivered updates sequence/flow-control bookkeeping every time a
// real (non-control) message is handed to user code. Caller holds sub.mu
// (the heartbeat watchdog reads these fields under the same lock from the
// timer goroutine). An ordered-consumer gap is reported back as a non-nil
// recreate thunk rather than run here: recreation does management-API round
// trips and must not happen under the lock.
func (j *jsSubMeta) onMessageDelivered(msg *Msg) (recreate func() error) {
	if msg == nil || msg.jsMeta == nil {
		return nil
	}
	j.active = true
	j.deliveredSinceFC++

	if j.ordered {
		if j.expectedConsumerSeq != 0 && msg.jsMeta.consumerSeq != j.expectedConsumerSeq {
			// A gap: the out-of-order message is suppressed (the user never
			// sees it) and the consumer is recreated starting just after
			// the last stream sequence actually seen — the sequence cursors
			// stay put so redelivery resumes from the gap (spec.md §4.9).
			if fn, seq := j.recreateOnGap, j.lastStreamSeq; fn != nil {
				recreate = func() error { return fn(seq) }
			}
			return recreate
		}
		j.expectedConsumerSeq = msg.jsMeta.consumerSeq + 1
		j.lastStreamSeq = msg.jsMeta.streamSeq
	}
	return nil
}

// onInboundMessage records the inbound-sequence watermark for a real
// ack-bearing message as it arrives, before it is queued for delivery
// (spec.md §4.5 "flow-control inbound-sequence is incremented").
func (j *jsSubMeta) onInboundMessage() {
	j.inboundSeq++
}

func (j *jsSubMeta) fcDeliveredReached() bool {
	return j.fcPending != "" && j.deliveredSinceFC >= j.fcThresholdCount
}

// noteWatchdogFire is the heartbeat watchdog's bookkeeping step: it
// consumes the activity flag set by jsInboundHook/onMessageDelivered and
// reports whether this fire crossed the consecutive-miss threshold
// (spec.md §4.9 "after consecutive misses it emits a missed-heartbeat
// event"). Caller holds sub.mu.
func (j *jsSubMeta) noteWatchdogFire() (escalate bool) {
	if j.active {
		j.active = false
		j.hbMissed = 0
		return false
	}
	j.hbMissed++
	if j.hbMissed < 2 {
		return false
	}
	j.hbMissed = 0
	return true
}

// installHeartbeatWatchdog arms a repeating timer at twice the consumer's
// idle-heartbeat interval. A fire that saw neither a heartbeat nor a
// message since the previous fire counts a miss; the second consecutive
// miss posts a missed-heartbeat error on the async bus and, for ordered
// consumers, recreates the consumer from the last observed stream sequence
// on an ephemeral task (spec.md §4.9/§5).
func (nc *Conn) installHeartbeatWatchdog(sub *Subscription, interval time.Duration) {
	if interval <= 0 {
		return
	}
	period := 2 * interval
	fire := func() {
		sub.mu.Lock()
		js := sub.js
		if js == nil || sub.closed {
			sub.mu.Unlock()
			return
		}
		escalate := js.noteWatchdogFire()
		ordered := js.ordered
		recreate := js.recreateOnGap
		lastSeq := js.lastStreamSeq
		fs := js.activeFetch
		t := js.hbTimer
		sub.mu.Unlock()

		if escalate {
			nc.bus.post(asyncEvent{kind: evAsyncError, nc: nc, sub: sub, err: newErrf(ErrCodeMissedHeartbeat, "jetstream", "missed 2 consecutive idle heartbeats")})
			switch {
			case ordered && recreate != nil:
				go func() { _ = recreate(lastSeq) }()
			case fs != nil && fs.async:
				st := fetchStatusMissedHeartbeat
				sub.dispatcher.enqueue(dispatchItem{kind: itemFetchTerminal, sub: sub, fetchState: &st})
			}
		}
		if t != nil {
			t.Reset(period)
		}
	}
	sub.mu.Lock()
	if sub.js != nil {
		sub.js.hbTimer = NewTimer(period, fire)
	}
	sub.mu.Unlock()
}

// fetchState tracks the in-flight Fetch batch's remaining budget and
// completion channel (spec.md §4.9). A synchronous Fetch call creates one
// per call; a background PullConsume keeps a single long-lived one whose
// keep-ahead fields drive the next-request cycle (spec.md §4.9 "async
// pull-fetch").
type fetchState struct {
	mu sync.Mutex

	maxMsgs  int
	maxBytes int

	gotMsgs  int
	gotBytes int

	terminalStatus fetchStatus
	done           chan struct{}
	doneOnce       sync.Once

	// noWait selects between the no-wait and waiting request shapes
	// spec.md §4.9 describes for pull consumers.
	noWait bool

	// Async pull-fetch state, zero for synchronous Fetch calls. The
	// requested/delivered counters feed the NextHandler; onComplete fires
	// exactly once, from complete().
	async          bool
	meta           *jsSubMeta
	reply          string
	expires        time.Duration
	heartbeat      time.Duration
	requestedMsgs  int
	deliveredMsgs  int
	deliveredBytes int
	nextHandler    NextHandler
	onComplete     func(error)
}

func newFetchState(maxMsgs, maxBytes int, noWait bool) *fetchState {
	return &fetchState{maxMsgs: maxMsgs, maxBytes: maxBytes, noWait: noWait, done: make(chan struct{})}
}

func (f *fetchState) status() fetchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminalStatus
}

// setTerminal records why the fetch is ending without resolving it; the
// close path reads it back and completes with it. First reason wins.
func (f *fetchState) setTerminal(st fetchStatus) {
	f.mu.Lock()
	if f.terminalStatus == fetchStatusOK {
		f.terminalStatus = st
	}
	f.mu.Unlock()
}

func (f *fetchState) complete(status fetchStatus) {
	f.mu.Lock()
	f.terminalStatus = status
	onComplete := f.onComplete
	f.mu.Unlock()
	f.doneOnce.Do(func() {
		close(f.done)
		if onComplete != nil {
			onComplete(status.toError())
		}
	})
}

// isLastMessage reports whether the most recently delivered message
// satisfies this fetch's budget (maxMsgs reached, or maxBytes reached).
func (f *fetchState) isLastMessage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxMsgs > 0 && f.gotMsgs >= f.maxMsgs {
		return true
	}
	if f.maxBytes > 0 && f.gotBytes >= f.maxBytes {
		return true
	}
	return false
}

func (f *fetchState) recordDelivered(sz int) {
	f.mu.Lock()
	f.gotMsgs++
	f.gotBytes += sz
	f.mu.Unlock()
}

// jsInboundHook intercepts every message delivered to a jetstream
// subscription before it reaches the ordinary dispatcher path (spec.md
// §4.9): it parses the ack-metadata reply subject, recognizes in-band
// control messages (flow control requests, idle heartbeats, pull-fetch
// terminal statuses carried as status-only HMSG frames), and updates
// per-fetch accounting. Returns true when msg was a control frame fully
// handled here, so the caller must not also run it through the ordinary
// dispatcher path as a user message.
func (nc *Conn) jsInboundHook(sub *Subscription, msg *Msg) bool {
	sub.mu.Lock()
	js := sub.js
	sub.mu.Unlock()
	if js == nil {
		return false
	}

	if msg.Reply != "" && strings.HasPrefix(msg.Reply, "$JS.ACK.") {
		msg.jsMeta = parseAckReplySubject(msg.Reply)
	}

	if status, ok := msg.Header.StatusCode(); ok {
		sub.mu.Lock()
		fs := js.activeFetch
		sub.mu.Unlock()

		// completeSyncFetch resolves a synchronous Fetch's terminal status
		// and enqueues a benign wake item so the Fetch call's queue pop
		// returns immediately instead of waiting out its deadline (the
		// status frame itself never enters the queue).
		completeSyncFetch := func(st fetchStatus) {
			fs.complete(st)
			sub.dispatcher.enqueue(dispatchItem{kind: itemFetchHeartbeat, sub: sub})
		}

		switch status {
		case StatusControlMessage:
			sub.mu.Lock()
			js.active = true
			sub.mu.Unlock()
			if msg.Reply != "" {
				sub.mu.Lock()
				js.fcPending = msg.Reply
				js.fcThresholdCount = js.inboundSeq
				sub.mu.Unlock()
			}
			// Idle heartbeats are only meaningful to an async (push)
			// subscription's dispatcher loop; a pull Fetch's activeFetch
			// resolves its own completion directly below instead.
			if fs == nil {
				sub.dispatcher.enqueue(dispatchItem{kind: itemFetchHeartbeat, sub: sub})
			}
		case StatusNoMessages:
			if fs != nil {
				if fs.async {
					// A background consume just tops its requests back up;
					// "nothing available" is not terminal for it.
					fs.refreshAfterExpiry()
				} else {
					completeSyncFetch(fetchStatusNoMessages)
				}
			}
		case StatusRequestTimeout:
			if fs != nil {
				if fs.async {
					// The held-open request expired server-side; replace it.
					fs.refreshAfterExpiry()
				} else {
					completeSyncFetch(fetchStatusTimeout)
				}
			}
		case StatusConflict:
			if fs != nil {
				if fs.async {
					st := fetchStatusLeadershipChange
					sub.dispatcher.enqueue(dispatchItem{kind: itemFetchTerminal, sub: sub, fetchState: &st})
				} else {
					completeSyncFetch(fetchStatusLeadershipChange)
				}
			} else {
				// A push consumer sees 409 as a leadership-change/consumer-
				// deleted notice, not a Fetch terminal status; surface the
				// server's description text through the async error bus.
				desc := msg.Header.StatusDescription()
				if desc == "" {
					desc = "consumer conflict"
				}
				nc.bus.post(asyncEvent{kind: evAsyncError, nc: nc, sub: sub, err: newErrf(ErrCodeMismatch, "jetstream", desc)})
			}
		}
		return true
	}

	if msg.jsMeta != nil {
		sub.mu.Lock()
		js.onInboundMessage()
		sub.mu.Unlock()
	}

	sub.mu.Lock()
	fetch := js.activeFetch
	sub.mu.Unlock()
	if fetch != nil {
		fetch.recordDelivered(msg.size())
	}
	return false
}

// parseAckReplySubject decodes an ack reply subject (spec.md §6). The v1
// form is "$JS.ACK.<stream>.<consumer>.<numDelivered>.<streamSeq>.
// <consumerSeq>.<timestamp>.<numPending>"; the v2 form prefixes
// "<domain>.<accountHash>." after "$JS.ACK." (a domain token "_" meaning
// no domain) and may append a trailing random token. The two are told
// apart by token count. Malformed subjects yield a zero-value jsMsgMeta
// rather than an error, since a missing/garbled reply subject should not
// crash message delivery.
func parseAckReplySubject(reply string) *jsMsgMeta {
	parts := strings.Split(reply, ".")
	m := &jsMsgMeta{}
	// parts[0] == "$JS", parts[1] == "ACK"
	if len(parts) < 9 {
		return m
	}
	off := 2
	if len(parts) >= 11 {
		m.domain = parts[2]
		m.accountHash = parts[3]
		off = 4
	}
	m.stream = parts[off]
	m.consumer = parts[off+1]
	m.numDelivered = parseUintOrZero(parts[off+2])
	m.streamSeq = parseUintOrZero(parts[off+3])
	m.consumerSeq = parseUintOrZero(parts[off+4])
	m.timestamp = parseInt64OrZero(parts[off+5])
	if len(parts) > off+6 {
		m.numPending = parseUintOrZero(parts[off+6])
	}
	return m
}

func parseUintOrZero(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt64OrZero(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Metadata returns the parsed jetstream delivery metadata for msg, or nil
// if msg was not delivered by a jetstream subscription.
func (m *Msg) Metadata() (domain, stream, consumer string, numDelivered, streamSeq, consumerSeq, numPending uint64, ok bool) {
	if m.jsMeta == nil {
		return "", "", "", 0, 0, 0, 0, false
	}
	jm := m.jsMeta
	return jm.domain, jm.stream, jm.consumer, jm.numDelivered, jm.streamSeq, jm.consumerSeq, jm.numPending, true
}

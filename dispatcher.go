package nats

import (
	"sync"
	"sync/atomic"
	"time"
)

// dispatchItemKind is the tagged variant from spec.md §9: "Control flow via
// synthetic messages" unifies the dispatcher loop by enqueueing drain/
// close/timeout/fetch-expired/fetch-heartbeat markers into the same FIFO as
// real user messages, rather than a parallel signaling path.
type dispatchItemKind int

const (
	itemUser dispatchItemKind = iota
	itemDrainSignal
	itemCloseSignal
	itemTimeoutSignal
	itemFetchHeartbeat
	itemFetchTerminal
)

type dispatchItem struct {
	kind       dispatchItemKind
	msg        *Msg
	sub        *Subscription
	fetchState *fetchStatus // populated for itemFetchTerminal
}

type queueNode struct {
	item dispatchItem
	next *queueNode
}

// msgQueue is the intrusive singly-linked-list dispatch queue (spec.md §3):
// head/tail, counts (msgs, bytes), and a signal used in place of a
// condition variable (a size-1 notify channel plays that role in Go,
// letting pop use select with a deadline for the dedicated-worker timeout
// case spec.md §4.6 describes).
type msgQueue struct {
	mu       sync.Mutex
	head     *queueNode
	tail     *queueNode
	msgs     int
	bytes    int
	shutdown bool
	notify   chan struct{}
}

func newMsgQueue() *msgQueue {
	return &msgQueue{notify: make(chan struct{}, 1)}
}

func (q *msgQueue) push(it dispatchItem) {
	q.mu.Lock()
	n := &queueNode{item: it}
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	if it.kind == itemUser && it.msg != nil {
		q.msgs++
		q.bytes += it.msg.size()
	}
	q.mu.Unlock()
	q.kick()
}

func (q *msgQueue) kick() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the head item. If deadline is non-nil and the
// queue is empty, pop waits until an item arrives or the deadline passes
// (returning ok=false, timedOut=true). If the queue is shut down and empty,
// pop returns ok=false, timedOut=false.
func (q *msgQueue) pop(deadline *time.Time) (dispatchItem, bool, bool) {
	for {
		q.mu.Lock()
		if q.head != nil {
			n := q.head
			q.head = n.next
			if q.head == nil {
				q.tail = nil
			}
			if n.item.kind == itemUser && n.item.msg != nil {
				q.msgs--
				q.bytes -= n.item.msg.size()
			}
			q.mu.Unlock()
			return n.item, true, false
		}
		if q.shutdown {
			q.mu.Unlock()
			return dispatchItem{}, false, false
		}
		q.mu.Unlock()

		if deadline == nil {
			<-q.notify
			continue
		}
		wait := time.Until(*deadline)
		if wait <= 0 {
			return dispatchItem{}, false, true
		}
		timer := time.NewTimer(wait)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return dispatchItem{}, false, true
		}
	}
}

func (q *msgQueue) stats() (msgs, bytes int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.msgs, q.bytes
}

// drainDestroy empties the queue without processing (used on final
// shutdown when a shared pool worker exits, per spec.md §4.6 step 2).
// Discarded user messages still unwind their subscriptions' pending
// counters so the connection-wide gauges don't drift upward across
// subscription teardowns.
func (q *msgQueue) drainDestroy() {
	q.mu.Lock()
	head := q.head
	q.shutdown = true
	q.head, q.tail = nil, nil
	q.msgs, q.bytes = 0, 0
	q.mu.Unlock()
	for n := head; n != nil; n = n.next {
		if n.item.kind == itemUser && n.item.msg != nil && n.item.sub != nil {
			n.item.sub.onDiscard(n.item.msg)
		}
	}
	q.kick()
}

// Subscription is the logical receive endpoint (spec.md §3).
type Subscription struct {
	mu sync.Mutex

	nc      *Conn
	sid     int64
	Subject string
	Queue   string

	cb func(*Msg)

	msgsLimit    int
	bytesLimit   int
	autoUnsubMax int

	pendingMsgs  int
	pendingBytes int
	maxObserved  int
	delivered    int64
	dropped      int64

	timeout      time.Duration
	timeoutTimer *Timer

	closed             bool
	draining           bool
	slowConsumer       bool
	slowConsumerWarned bool
	connClosed         bool

	onCompleteCb func()

	dispatcher dispatchTarget

	// jetstream subscription metadata; nil for core subscriptions.
	js *jsSubMeta

	// syncMode marks a synchronous subscription: NextMsg pops delivered
	// messages from the queue and no dispatcher invokes cb.
	syncMode bool
}

// dispatchTarget abstracts a dedicated or shared-pool dispatcher so
// Subscription's call sites don't need to branch.
type dispatchTarget interface {
	enqueue(it dispatchItem)
}

// newSubscription allocates a Subscription with its control-message inbox
// implicit (the itemDrainSignal/itemCloseSignal/itemTimeoutSignal kinds
// carry no payload, so no preallocated Msg objects are needed the way the
// source's pointer-identity synthetic messages required).
func newSubscription(nc *Conn, sid int64, subject, queue string, cb func(*Msg), opts SubscriptionOptions) *Subscription {
	return &Subscription{
		nc:           nc,
		sid:          sid,
		Subject:      subject,
		Queue:        queue,
		cb:           cb,
		msgsLimit:    opts.PendingMsgsLimit,
		bytesLimit:   opts.PendingBytesLimit,
		autoUnsubMax: opts.AutoUnsubscribeMax,
		timeout:      opts.Timeout,
		onCompleteCb: opts.OnCompleteCb,
	}
}

// deliver enqueues msg onto the subscription per spec.md §4.5: checks
// limits under sub.mu (acquired first, per the invariant lock order:
// connection → subscription-map → subscription → dispatcher), then pushes
// onto the dispatcher's queue.
func (s *Subscription) deliver(msg *Msg) (dropped bool, becameSlowConsumer bool) {
	s.mu.Lock()
	if s.closed || s.draining {
		s.mu.Unlock()
		return true, false
	}
	sz := msg.size()
	if s.pendingMsgs+1 > s.msgsLimit || s.pendingBytes+sz > s.bytesLimit {
		s.dropped++
		already := s.slowConsumerWarned
		s.slowConsumer = true
		s.slowConsumerWarned = true
		s.mu.Unlock()
		return true, !already
	}
	s.pendingMsgs++
	s.pendingBytes += sz
	if s.pendingMsgs > s.maxObserved {
		s.maxObserved = s.pendingMsgs
	}
	s.slowConsumer = false
	disp := s.dispatcher
	nc := s.nc
	s.mu.Unlock()

	msg.sub = s
	// Counted before the enqueue so a fast worker's dequeue-side decrement
	// can never observe the gauge below zero.
	if nc != nil {
		msgs := atomic.AddInt64(&nc.pendingMsgsTotal, 1)
		bytes := atomic.AddInt64(&nc.pendingBytesTotal, int64(sz))
		nc.metrics.setPending(msgs, bytes)
	}
	disp.enqueue(dispatchItem{kind: itemUser, msg: msg, sub: s})
	return false, false
}

// onDequeue updates per-subscription pending accounting when a worker
// removes a real message from the queue — spec.md §9's preserved
// "separate stats queue" ambiguity: stats are tracked against the owning
// subscription at both enqueue and dequeue even when a shared pool's queue
// is a different object from the subscription. A successful dequeue also
// clears any slow-consumer episode (spec.md §8: the flag fires once "until
// a successful dequeue clears the flag"), letting a later overflow start a
// fresh episode and fire the async error again.
func (s *Subscription) onDequeue(msg *Msg) {
	sz := msg.size()
	s.mu.Lock()
	s.pendingMsgs--
	s.pendingBytes -= sz
	s.delivered++
	if s.slowConsumerWarned {
		s.slowConsumer = false
		s.slowConsumerWarned = false
	}
	nc := s.nc
	s.mu.Unlock()

	if nc != nil {
		msgs := atomic.AddInt64(&nc.pendingMsgsTotal, -1)
		bytes := atomic.AddInt64(&nc.pendingBytesTotal, -int64(sz))
		nc.metrics.setPending(msgs, bytes)
	}
}

// onDiscard is onDequeue for messages destroyed at queue teardown instead
// of delivered: pending counters unwind but delivered does not advance.
func (s *Subscription) onDiscard(msg *Msg) {
	sz := msg.size()
	s.mu.Lock()
	s.pendingMsgs--
	s.pendingBytes -= sz
	nc := s.nc
	s.mu.Unlock()

	if nc != nil {
		msgs := atomic.AddInt64(&nc.pendingMsgsTotal, -1)
		bytes := atomic.AddInt64(&nc.pendingBytesTotal, -int64(sz))
		nc.metrics.setPending(msgs, bytes)
	}
}

// Stats mirrors the fields spec.md §3 lists for introspection.
type SubStats struct {
	PendingMsgs  int
	PendingBytes int
	MaxPending   int
	Delivered    int64
	Dropped      int64
	SlowConsumer bool
}

func (s *Subscription) Stats() SubStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubStats{
		PendingMsgs:  s.pendingMsgs,
		PendingBytes: s.pendingBytes,
		MaxPending:   s.maxObserved,
		Delivered:    s.delivered,
		Dropped:      s.dropped,
		SlowConsumer: s.slowConsumer,
	}
}

// SetPendingLimits adjusts limits after subscribe.
func (s *Subscription) SetPendingLimits(msgs, bytes int) {
	s.mu.Lock()
	s.msgsLimit, s.bytesLimit = msgs, bytes
	s.mu.Unlock()
}

// IsValid reports whether the subscription is still usable.
func (s *Subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// NextMsg is the synchronous receive API (spec.md §5 "suspension points"):
// it blocks on the subscription's own queue up to timeout.
func (s *Subscription) NextMsg(timeout time.Duration) (*Msg, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	dedicated, ok := s.dispatcher.(*dedicatedDispatcher)
	s.mu.Unlock()
	if !ok {
		return nil, newErrf(ErrCodeInvalidSubscription, "Subscription.NextMsg", "subscription is not a synchronous/dedicated subscription")
	}

	deadline := time.Now().Add(timeout)
	for {
		it, ok, timedOut := dedicated.queue.pop(&deadline)
		if timedOut {
			return nil, ErrTimeout
		}
		if !ok {
			return nil, ErrConnectionClosed
		}
		switch it.kind {
		case itemUser:
			s.onDequeue(it.msg)
			return it.msg, nil
		case itemDrainSignal, itemCloseSignal:
			return nil, ErrConnectionClosed
		default:
			continue
		}
	}
}

// Unsubscribe removes the subscription, optionally after max additional
// deliveries (spec.md §4.1 autoUnsubscribeMax semantics via AutoUnsubscribe).
func (s *Subscription) Unsubscribe() error {
	return s.nc.unsubscribe(s, 0)
}

// AutoUnsubscribe arranges for the subscription to unsubscribe after max
// total messages have been delivered.
func (s *Subscription) AutoUnsubscribe(max int) error {
	return s.nc.unsubscribe(s, max)
}

// Drain enqueues the drain synthetic at the tail of this subscription's
// queue (spec.md §4.7): everything already queued is still delivered;
// messages arriving afterward are refused by deliver, which drops anything
// for a subscription that is draining.
func (s *Subscription) Drain() error {
	s.mu.Lock()
	if s.closed || s.draining {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	disp := s.dispatcher
	s.mu.Unlock()
	disp.enqueue(dispatchItem{kind: itemDrainSignal, sub: s})
	return nil
}

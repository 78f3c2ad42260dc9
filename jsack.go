package nats

import (
	"encoding/json"
	"sync"
	"time"
)

// PubAckFuture is the handle returned by PublishAsync (spec.md §4.8 "async
// publish"): Ok() resolves once the stream's ack (or an error) arrives.
type PubAckFuture interface {
	Ok() <-chan *PubAck
	Err() <-chan error
}

type pubAckFuture struct {
	ok  chan *PubAck
	err chan error
	msg *Msg // kept for asyncErrHandler's (js, msg, err) signature
}

func (f *pubAckFuture) Ok() <-chan *PubAck { return f.ok }
func (f *pubAckFuture) Err() <-chan error  { return f.err }

// dlNode is one entry in the async publisher's deadline list (spec.md §3
// "linked deadline queue of in-flight publishes, by absolute expiry").
type dlNode struct {
	token  string
	expiry time.Time
	prev   *dlNode
	next   *dlNode
}

// jsAsyncPublisher implements the async-publish stall gate and per-message
// deadline tracking (spec.md §3/§4.8): a bounded number of publishes may be
// outstanding at once; PublishAsync blocks the caller on a channel standing
// in for a condition variable (the same pattern dispatcher.go's msgQueue
// uses) when the gate is full, up to stallWait, then returns a stalled
// error. Every outstanding publish also carries an absolute expiry — either
// its own MaxWait or the context's default wait — tracked in a doubly
// linked list ordered by expiry so the nearest one drives a single shared
// timer; on fire, the context synthesizes a timeout reply for every
// now-expired entry and routes it through the same path as a real ack
// (spec.md §3 "enqueues it via the shared inbox subscription, which routes
// through the normal ack handler"). A single shared inbox subscription
// demultiplexes every real ack by reply-subject token.
type jsAsyncPublisher struct {
	js *JetStreamContext

	mu      sync.Mutex
	pending map[string]*pubAckFuture
	nodes   map[string]*dlNode
	dlHead  *dlNode
	dlTail  *dlNode
	timer   *Timer

	notify chan struct{} // stall-gate wakeup, same role as msgQueue.notify

	maxPending  int
	stallWait   time.Duration
	defaultWait time.Duration

	stalled    uint64
	ackWaiters int

	replySub    *Subscription
	replyPrefix string
}

const (
	defaultMaxAsyncPending = 4096
	defaultStallWait       = 10 * time.Second
)

func newJSAsyncPublisher(js *JetStreamContext) *jsAsyncPublisher {
	maxPending := js.asyncMaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxAsyncPending
	}
	stallWait := js.asyncStallWait
	if stallWait <= 0 {
		stallWait = defaultStallWait
	}
	defaultWait := js.timeout
	if defaultWait <= 0 {
		defaultWait = DefaultTimeout
	}
	return &jsAsyncPublisher{
		js:          js,
		pending:     make(map[string]*pubAckFuture),
		nodes:       make(map[string]*dlNode),
		notify:      make(chan struct{}, 1),
		maxPending:  maxPending,
		stallWait:   stallWait,
		defaultWait: defaultWait,
	}
}

func (p *jsAsyncPublisher) kick() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *jsAsyncPublisher) ensureReplySubscription() error {
	p.mu.Lock()
	if p.replySub != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	prefix := p.js.nc.NewInbox() + "."
	sub, err := p.js.nc.Subscribe(prefix+"*", p.onAck)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.replySub = sub
	p.replyPrefix = prefix
	p.mu.Unlock()
	return nil
}

// insertDeadline adds token's expiry to the sorted list (spec.md §3: O(1)
// at head or tail where possible, O(n) otherwise) and rearms the timer if
// this entry is now nearest. Must be called with p.mu held.
func (p *jsAsyncPublisher) insertDeadline(token string, expiry time.Time) {
	n := &dlNode{token: token, expiry: expiry}
	p.nodes[token] = n

	switch {
	case p.dlTail == nil:
		p.dlHead, p.dlTail = n, n
	case !expiry.Before(p.dlTail.expiry):
		n.prev = p.dlTail
		p.dlTail.next = n
		p.dlTail = n
	case expiry.Before(p.dlHead.expiry):
		n.next = p.dlHead
		p.dlHead.prev = n
		p.dlHead = n
	default:
		cur := p.dlTail
		for cur.prev != nil && cur.prev.expiry.After(expiry) {
			cur = cur.prev
		}
		n.prev = cur.prev
		n.next = cur
		if cur.prev != nil {
			cur.prev.next = n
		} else {
			p.dlHead = n
		}
		cur.prev = n
	}

	if p.dlHead == n {
		p.rearmLocked()
	}
}

// removeDeadline splices token's node out of the list in O(1) and rearms
// the timer if the head changed. Must be called with p.mu held.
func (p *jsAsyncPublisher) removeDeadline(token string) {
	n, ok := p.nodes[token]
	if !ok {
		return
	}
	delete(p.nodes, token)

	wasHead := p.dlHead == n
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		p.dlHead = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		p.dlTail = n.prev
	}

	if wasHead {
		p.rearmLocked()
	}
}

// rearmLocked arms the single shared timer for the nearest remaining
// deadline, or stops it when the list is empty. Must be called with p.mu
// held.
func (p *jsAsyncPublisher) rearmLocked() {
	if p.dlHead == nil {
		if p.timer != nil {
			p.timer.Stop(nil)
		}
		return
	}
	wait := time.Until(p.dlHead.expiry)
	if wait < 0 {
		wait = 0
	}
	if p.timer == nil {
		p.timer = NewTimer(wait, p.onDeadlineFire)
	} else {
		p.timer.Reset(wait)
	}
}

// onDeadlineFire runs on the shared timer-wheel goroutine; it resolves
// every publish whose deadline has passed with a timeout, then rearms for
// whatever remains.
func (p *jsAsyncPublisher) onDeadlineFire() {
	now := time.Now()
	var expired []string
	p.mu.Lock()
	for p.dlHead != nil && !p.dlHead.expiry.After(now) {
		expired = append(expired, p.dlHead.token)
		p.dlHead = p.dlHead.next
		if p.dlHead != nil {
			p.dlHead.prev = nil
		} else {
			p.dlTail = nil
		}
	}
	for _, tok := range expired {
		delete(p.nodes, tok)
	}
	p.rearmLocked()
	p.mu.Unlock()

	for _, tok := range expired {
		p.resolve(tok, nil, ErrTimeout)
	}
}

// onAck is the shared inbox subscription's callback (spec.md §3): it
// decodes the stream's ack envelope and resolves the matching future.
func (p *jsAsyncPublisher) onAck(msg *Msg) {
	token := msg.Subject[len(p.replyPrefix):]

	var env struct {
		apiResponseEnvelope
		PubAck
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		p.resolve(token, nil, newErr(ErrCodeProtocol, "jsAsyncPublisher", err))
		return
	}
	if env.Error != nil {
		p.resolve(token, nil, translateAPIError(env.Error))
		return
	}
	p.resolve(token, &env.PubAck, nil)
}

// resolve removes token from the pending map and the deadline list
// together (spec.md §8 invariant: a token is in the map iff it is in the
// deadline list), delivers the outcome to the future, runs the configured
// handler, and wakes any PublishAsync call stalled on the gate.
func (p *jsAsyncPublisher) resolve(token string, ack *PubAck, err error) {
	p.mu.Lock()
	fut, ok := p.pending[token]
	if ok {
		delete(p.pending, token)
	}
	p.removeDeadline(token)
	errHandler := p.js.asyncErrHandler
	ackHandler := p.js.asyncAckHandler
	js := p.js
	p.mu.Unlock()
	if !ok {
		return
	}
	p.kick()

	if err != nil {
		fut.err <- err
		if errHandler != nil {
			errHandler(js, fut.msg, err)
		}
		return
	}
	fut.ok <- ack
	if ackHandler != nil {
		ackHandler(ack)
	}
}

// publishAsync enqueues m for asynchronous publish, blocking the caller
// only if the stall gate is currently full, up to stallWait (spec.md §3).
func (js *JetStreamContext) publishAsync(m *Msg, opts []PubOpt) (PubAckFuture, error) {
	p := js.publisher
	if err := p.ensureReplySubscription(); err != nil {
		return nil, err
	}

	o := buildPubOptions(opts)
	m.Header = applyExpectHeaders(m.Header, o)

	wait := o.maxWait
	if wait <= 0 {
		wait = p.defaultWait
	}

	deadline := time.Now().Add(p.stallWait)
	p.mu.Lock()
	p.ackWaiters++
	for p.maxPending > 0 && len(p.pending) >= p.maxPending {
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Lock()
			p.ackWaiters--
			p.stalled++
			p.mu.Unlock()
			return nil, newErrf(ErrCodeLimitReached, "JetStreamContext.PublishAsync", "stalled: max pending async publishes reached")
		}
		timer := time.NewTimer(remaining)
		select {
		case <-p.notify:
			timer.Stop()
		case <-timer.C:
		}
		p.mu.Lock()
	}
	p.ackWaiters--
	// Wakeups coalesce in the size-1 notify channel, so a waiter that just
	// claimed a slot passes the baton when capacity remains for another.
	if p.ackWaiters > 0 && len(p.pending)+1 < p.maxPending {
		p.kick()
	}

	token := randToken(12)
	fut := &pubAckFuture{ok: make(chan *PubAck, 1), err: make(chan error, 1), msg: m}
	p.pending[token] = fut
	p.insertDeadline(token, time.Now().Add(wait))
	p.mu.Unlock()

	m.Reply = p.replyPrefix + token
	if err := js.nc.PublishMsg(m); err != nil {
		p.mu.Lock()
		delete(p.pending, token)
		p.removeDeadline(token)
		p.mu.Unlock()
		p.kick()
		return nil, err
	}
	return fut, nil
}

// PublishAsync is the non-blocking counterpart to Publish.
func (js *JetStreamContext) PublishAsync(subject string, data []byte, opts ...PubOpt) (PubAckFuture, error) {
	return js.publishAsync(&Msg{Subject: subject, Data: data}, opts)
}

// PublishMsgAsync is PublishAsync for a caller-built Msg.
func (js *JetStreamContext) PublishMsgAsync(m *Msg, opts ...PubOpt) (PubAckFuture, error) {
	return js.publishAsync(m, opts)
}

// PublishAsyncPending returns the number of async publishes still awaiting
// an ack.
func (js *JetStreamContext) PublishAsyncPending() int {
	js.publisher.mu.Lock()
	defer js.publisher.mu.Unlock()
	return len(js.publisher.pending)
}

// PublishAsyncStalled returns how many times PublishAsync has returned a
// stalled error because the gate did not drain within stallWait (spec.md §3
// counter "stalled").
func (js *JetStreamContext) PublishAsyncStalled() uint64 {
	js.publisher.mu.Lock()
	defer js.publisher.mu.Unlock()
	return js.publisher.stalled
}

// PublishAsyncWaiters returns how many goroutines are currently blocked in
// PublishAsync waiting for the stall gate to drain (spec.md §3 counter
// "ack-waiters").
func (js *JetStreamContext) PublishAsyncWaiters() int {
	js.publisher.mu.Lock()
	defer js.publisher.mu.Unlock()
	return js.publisher.ackWaiters
}

// PublishAsyncComplete blocks until every outstanding async publish has
// been acked or errored, or timeout elapses.
func (js *JetStreamContext) PublishAsyncComplete(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for js.PublishAsyncPending() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// --- Consumer-side acknowledgment (spec.md §4.9 "ack protocol") ---

const (
	ackAckBody      = "+ACK"
	ackNakBody      = "-NAK"
	ackProgressBody = "+WPI"
	ackTermBody     = "+TERM"
)

func (m *Msg) ackReply() (string, error) {
	if m.Reply == "" || m.jsMeta == nil {
		return "", newErrf(ErrCodeInvalidArg, "Msg.Ack", "message was not delivered by a jetstream consumer")
	}
	return m.Reply, nil
}

// Ack acknowledges a message without waiting for the server's
// confirmation (fire-and-forget, the common case per spec.md §4.9).
func (m *Msg) Ack() error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	if m.ackd {
		return nil
	}
	m.ackd = true
	return m.sub.nc.Publish(reply, []byte(ackAckBody))
}

// AckSync acknowledges and waits for the server's reply, guaranteeing the
// ack was durably recorded before returning (spec.md §4.9).
func (m *Msg) AckSync(timeout time.Duration) error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	if m.ackd {
		return nil
	}
	_, err = m.sub.nc.Request(reply, []byte(ackAckBody), timeout)
	if err == nil {
		m.ackd = true
	}
	return err
}

// Nak negatively acknowledges a message, requesting immediate redelivery.
func (m *Msg) Nak() error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	return m.sub.nc.Publish(reply, []byte(ackNakBody))
}

// NakWithDelay negatively acknowledges with a requested redelivery delay.
func (m *Msg) NakWithDelay(delay time.Duration) error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	body, _ := json.Marshal(struct {
		Delay int64 `json:"delay"`
	}{Delay: delay.Nanoseconds()})
	return m.sub.nc.Publish(reply, append([]byte(ackNakBody+" "), body...))
}

// InProgress resets the ack-wait timer without acking or nacking, for
// handlers that need more time (spec.md §4.9).
func (m *Msg) InProgress() error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	return m.sub.nc.Publish(reply, []byte(ackProgressBody))
}

// Term terminates redelivery entirely, telling the server to stop
// attempting to deliver this message again.
func (m *Msg) Term() error {
	reply, err := m.ackReply()
	if err != nil {
		return err
	}
	if m.ackd {
		return nil
	}
	m.ackd = true
	return m.sub.nc.Publish(reply, []byte(ackTermBody))
}

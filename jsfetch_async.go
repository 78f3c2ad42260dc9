package nats

import "time"

// NextRequest is the (batch, max_bytes) pair the next background pull
// request will carry (spec.md §4.9 "async pull-fetch").
type NextRequest struct {
	Batch    int
	MaxBytes int
}

// FetchCounters is the running state a NextHandler decides from: how many
// messages have been requested from the server so far, how many were
// actually handed to the user callback, and the byte totals on both sides.
type FetchCounters struct {
	RequestedMsgs  int
	DeliveredMsgs  int
	ReceivedBytes  int
	DeliveredBytes int
}

// NextHandler decides, from the current counters, whether another pull
// request should be sent and what it should ask for. Returning false stops
// requesting; delivery of already-requested messages continues until the
// fetch's limits terminate it.
type NextHandler func(FetchCounters) (NextRequest, bool)

// defaultKeepAheadHandler is the stock NextHandler (spec.md §4.9): always
// keep up to keepAhead messages requested beyond what has been delivered,
// bounded by the fetch's total MaxMessages/MaxBytes budget.
func defaultKeepAheadHandler(keepAhead, maxMessages, maxBytes int) NextHandler {
	return func(c FetchCounters) (NextRequest, bool) {
		if maxMessages > 0 && c.RequestedMsgs >= maxMessages {
			return NextRequest{}, false
		}
		if maxBytes > 0 && c.ReceivedBytes >= maxBytes {
			return NextRequest{}, false
		}
		ahead := c.RequestedMsgs - c.DeliveredMsgs
		if ahead >= keepAhead {
			return NextRequest{}, false
		}
		batch := keepAhead - ahead
		if maxMessages > 0 && c.RequestedMsgs+batch > maxMessages {
			batch = maxMessages - c.RequestedMsgs
		}
		mb := 0
		if maxBytes > 0 {
			mb = maxBytes - c.ReceivedBytes
		}
		return NextRequest{Batch: batch, MaxBytes: mb}, true
	}
}

// ConsumeOptions configures a background pull consume (spec.md §4.9 "async
// pull-fetch"). MaxMessages/MaxBytes of 0 mean no limit; KeepAhead bounds
// how far requests may run ahead of deliveries; OnComplete fires exactly
// once with nil on a clean stop or the terminal error otherwise; Next
// replaces the default keep-ahead handler.
type ConsumeOptions struct {
	MaxMessages int
	MaxBytes    int
	KeepAhead   int
	Expires     time.Duration
	Heartbeat   time.Duration
	OnComplete  func(error)
	Next        NextHandler
}

const defaultKeepAhead = 16

// PullConsume creates (or binds to) a pull consumer on stream and delivers
// its messages to cb from a background dispatcher, keeping pull requests
// flowing ahead of deliveries per the keep-ahead policy (spec.md §4.9
// "async pull-fetch"). The subscription terminates itself once the
// MaxMessages/MaxBytes budget is consumed, firing OnComplete with the
// terminal status.
func (js *JetStreamContext) PullConsume(stream string, cfg *ConsumerConfig, cb func(*Msg), opts ConsumeOptions) (*Subscription, error) {
	if cb == nil {
		return nil, newErrf(ErrCodeInvalidArg, "JetStreamContext.PullConsume", "nil message callback")
	}
	if cfg == nil {
		cfg = &ConsumerConfig{}
	}
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = AckExplicit
	}
	cfg.DeliverSubject = ""

	if opts.KeepAhead <= 0 {
		opts.KeepAhead = defaultKeepAhead
	}
	if opts.MaxMessages > 0 && opts.KeepAhead > opts.MaxMessages {
		opts.KeepAhead = opts.MaxMessages
	}
	if opts.Expires <= 0 {
		opts.Expires = 30 * time.Second
	}
	next := opts.Next
	if next == nil {
		next = defaultKeepAheadHandler(opts.KeepAhead, opts.MaxMessages, opts.MaxBytes)
	}

	info, err := js.ensureConsumer(stream, cfg)
	if err != nil {
		return nil, err
	}

	inbox := js.nc.NewInbox()
	sub, err := js.nc.subscribe(inbox, "", cb, false, defaultSubOptions())
	if err != nil {
		return nil, err
	}

	meta := &jsSubMeta{
		js:        js,
		stream:    stream,
		consumer:  info.Name,
		ackPolicy: cfg.AckPolicy,
		ackWait:   cfg.AckWait,
	}
	fs := newFetchState(opts.MaxMessages, opts.MaxBytes, false)
	fs.async = true
	fs.meta = meta
	fs.reply = inbox
	fs.expires = opts.Expires
	fs.heartbeat = opts.Heartbeat
	fs.nextHandler = next
	fs.onComplete = opts.OnComplete
	meta.activeFetch = fs

	sub.mu.Lock()
	sub.js = meta
	sub.mu.Unlock()
	js.nc.installHeartbeatWatchdog(sub, opts.Heartbeat)

	// Prime the pipeline with the first request before any delivery has
	// happened.
	fs.requestMore()
	return sub, nil
}

// maybeFetchMore runs once per user delivery, before the callback (spec.md
// §4.6 step 5): it advances the delivered counters and, for a background
// pull consume, tops the outstanding requests back up via the NextHandler.
// Synchronous Fetch calls issue their own requests, so for them this only
// tracks delivery counts.
func (f *fetchState) maybeFetchMore(size int) {
	f.mu.Lock()
	f.deliveredMsgs++
	f.deliveredBytes += size

	// Pre-store the terminal reason the close path will report once the
	// budget is consumed (spec.md §4.6 "close" class reads the stored
	// terminal status).
	if f.async && f.terminalStatus == fetchStatusOK {
		if f.maxMsgs > 0 && f.deliveredMsgs >= f.maxMsgs {
			f.terminalStatus = fetchStatusMaxMessages
		} else if f.maxBytes > 0 && f.deliveredBytes >= f.maxBytes {
			f.terminalStatus = fetchStatusMaxBytes
		}
	}
	f.mu.Unlock()

	f.requestMore()
}

// refreshAfterExpiry forgets the unfilled remainder of requests the server
// reported expired (404/408), so the keep-ahead handler can re-request it,
// then tops the pipeline back up.
func (f *fetchState) refreshAfterExpiry() {
	f.mu.Lock()
	if f.requestedMsgs > f.gotMsgs {
		f.requestedMsgs = f.gotMsgs
	}
	f.mu.Unlock()
	f.requestMore()
}

// requestMore consults the NextHandler and sends one more pull request if
// granted. No-op for synchronous fetches and after termination.
func (f *fetchState) requestMore() {
	f.mu.Lock()
	if !f.async || f.nextHandler == nil {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	counters := FetchCounters{
		RequestedMsgs:  f.requestedMsgs,
		DeliveredMsgs:  f.deliveredMsgs,
		ReceivedBytes:  f.gotBytes,
		DeliveredBytes: f.deliveredBytes,
	}
	req, send := f.nextHandler(counters)
	if !send || req.Batch < 1 {
		f.mu.Unlock()
		return
	}
	f.requestedMsgs += req.Batch
	meta := f.meta
	reply := f.reply
	expires := f.expires
	hb := f.heartbeat
	f.mu.Unlock()

	_ = meta.sendPullRequest(reply, fetchRequest{batch: req.Batch, maxBytes: req.MaxBytes, expires: expires, heartbeat: hb}, false)
}

package nats

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// dedicatedDispatcher is a single worker goroutine bound to one
// subscription (spec.md §4.6 "dedicated worker"), using the subscription's
// own queue so a blocking NextMsg caller and the async-delivery worker
// observe the same FIFO.
type dedicatedDispatcher struct {
	queue *msgQueue
	sub   *Subscription
	done  chan struct{}
}

func newDedicatedDispatcher(sub *Subscription) *dedicatedDispatcher {
	return &dedicatedDispatcher{queue: newMsgQueue(), sub: sub, done: make(chan struct{})}
}

func (d *dedicatedDispatcher) enqueue(it dispatchItem) { d.queue.push(it) }

func (d *dedicatedDispatcher) start() { go d.loop() }

func (d *dedicatedDispatcher) stop() {
	d.queue.drainDestroy()
	close(d.done)
}

func (d *dedicatedDispatcher) loop() {
	for {
		d.sub.mu.Lock()
		to := d.sub.timeout
		d.sub.mu.Unlock()

		var deadline *time.Time
		if to > 0 {
			dl := time.Now().Add(to)
			deadline = &dl
		}
		it, ok, timedOut := d.queue.pop(deadline)
		if timedOut {
			if !processTimeout(d.sub) {
				return
			}
			continue
		}
		if !ok {
			return
		}
		if !processItem(d.sub, it) {
			return
		}
	}
}

// sharedDispatchPool is the shared thread-pool dispatcher (spec.md §4.6
// "shared pool worker"): a configurable-cap set of workers draining one
// queue that many subscriptions enqueue into, assigned round-robin at
// subscribe time. The default cap is NATS_THREAD_POOL_MAX when set; else 1
// unless NATS_USE_THREAD_POOL is set, in which case it is gopsutil's logical
// CPU count (runtime.GOMAXPROCS(0) if that lookup fails).
type sharedDispatchPool struct {
	mu      sync.Mutex
	queue   *msgQueue
	workers int
	started bool
}

func defaultThreadPoolSize() int {
	cfg := loadLibraryConfig()
	if cfg.ThreadPoolMax > 0 {
		return cfg.ThreadPoolMax
	}
	if !cfg.UseThreadPool {
		return 1
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

func newSharedDispatchPool(workers int) *sharedDispatchPool {
	if workers <= 0 {
		workers = defaultThreadPoolSize()
	}
	p := &sharedDispatchPool{queue: newMsgQueue(), workers: workers}
	return p
}

func (p *sharedDispatchPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		go p.loop()
	}
}

func (p *sharedDispatchPool) stop() {
	p.queue.drainDestroy()
}

func (p *sharedDispatchPool) enqueue(it dispatchItem) { p.queue.push(it) }

func (p *sharedDispatchPool) loop() {
	for {
		it, ok, _ := p.queue.pop(nil)
		if !ok {
			return
		}
		// A shared-pool worker processes messages from many
		// subscriptions; FIFO is only guaranteed within a single
		// subscription (spec.md §4.6), so no per-subscription lock is
		// held across the dequeue of unrelated subscriptions' items.
		processItem(it.sub, it)
	}
}

// processTimeout delivers a NULL-message timeout callback if the
// subscription is still open (spec.md §4.6 "timeout" class). It does not
// rearm sub.timeoutTimer, which fires once; a dedicated loop times out again
// through its own queue-pop deadline. Returns false if the subscription is
// gone and the dedicated loop should exit.
func processTimeout(sub *Subscription) bool {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return false
	}
	cb := sub.cb
	sub.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
	return true
}

// processItem implements the dispatcher loop's per-class branch (spec.md
// §4.6). Returns false when the owning dedicated worker should exit
// (close class processed).
func processItem(sub *Subscription, it dispatchItem) bool {
	if sub == nil {
		return true
	}
	switch it.kind {
	case itemDrainSignal:
		sub.nc.removeFromRoutingTable(sub)
		sub.dispatcher.enqueue(dispatchItem{kind: itemCloseSignal, sub: sub})
		return true

	case itemCloseSignal:
		sub.mu.Lock()
		sub.closed = true
		onComplete := sub.onCompleteCb
		fetchInfo := sub.js
		sub.mu.Unlock()

		if fetchInfo != nil && fetchInfo.activeFetch != nil {
			status := fetchInfo.activeFetch.status()
			if sub.nc.isClosed() {
				status = fetchStatusConnectionClosed
			}
			fetchInfo.activeFetch.complete(status)
		}
		if onComplete != nil {
			onComplete()
		}
		sub.nc.releaseSubscription(sub)
		return false

	case itemTimeoutSignal:
		return processTimeout(sub)

	case itemFetchTerminal:
		sub.mu.Lock()
		var fs *fetchState
		if sub.js != nil {
			fs = sub.js.activeFetch
		}
		sub.mu.Unlock()
		if fs != nil && it.fetchState != nil {
			fs.setTerminal(*it.fetchState)
		}
		_ = sub.Unsubscribe()
		return true

	case itemFetchHeartbeat:
		sub.mu.Lock()
		if sub.js != nil {
			sub.js.active = true
		}
		sub.mu.Unlock()
		return true

	case itemUser:
		return deliverUserItem(sub, it)

	default:
		return true
	}
}

// deliverUserItem handles the "user" class of spec.md §4.6 step 5: compute
// over-limit / last-in-sub / last-in-fetch, release the queue lock before
// invoking user code (already true here since processItem runs outside any
// queue lock), invoke maybe-fetch-more for active pull fetches, invoke the
// callback unless over-limit, flush a pending flow-control reply, and
// finalize drain/auto-unsubscribe completion.
func deliverUserItem(sub *Subscription, it dispatchItem) bool {
	msg := it.msg
	sub.onDequeue(msg)

	sub.mu.Lock()
	overLimit := sub.autoUnsubMax > 0 && sub.delivered > int64(sub.autoUnsubMax)
	lastInSub := sub.autoUnsubMax > 0 && sub.delivered == int64(sub.autoUnsubMax)
	draining := sub.draining
	js := sub.js
	cb := sub.cb
	sub.mu.Unlock()

	var lastInFetch bool
	var recreate func() error
	if js != nil {
		sub.mu.Lock()
		fs := js.activeFetch
		sub.mu.Unlock()
		if fs != nil && !draining {
			fs.maybeFetchMore(msg.size())
			lastInFetch = fs.isLastMessage()
		}
		sub.mu.Lock()
		recreate = js.onMessageDelivered(msg)
		sub.mu.Unlock()
	}
	if recreate != nil {
		// Ordered-consumer gap: this message is out of order and must never
		// reach the user callback; the recreated consumer redelivers from
		// the last good stream sequence (spec.md §4.9).
		_ = recreate()
		return true
	}

	if !overLimit && cb != nil {
		cb(msg)
	}

	if js != nil {
		sub.mu.Lock()
		fcReply := ""
		if js.fcDeliveredReached() {
			fcReply = js.fcPending
			js.fcPending = ""
		}
		sub.mu.Unlock()
		if fcReply != "" {
			sub.nc.publishFlowControlReply(fcReply)
		}
	}

	if lastInFetch || lastInSub {
		sub.mu.Lock()
		sub.draining = true
		sub.mu.Unlock()
		if lastInFetch {
			_ = sub.Unsubscribe()
		} else {
			// Auto-unsubscribe completion tears the subscription all the
			// way down: the close signal marks it closed, fires its
			// on-complete callback, and stops a dedicated worker, exactly
			// as an explicit Unsubscribe would.
			sub.nc.removeFromRoutingTable(sub)
			sub.dispatcher.enqueue(dispatchItem{kind: itemCloseSignal, sub: sub})
		}
	}
	return true
}

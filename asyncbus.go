package nats

// asyncEventKind enumerates the user-visible callbacks the async bus
// serializes (spec.md §4 "Async error/event channel").
type asyncEventKind int

const (
	evDisconnected asyncEventKind = iota
	evReconnected
	evAsyncError
	evDiscoveredServers
	evClosed
	evStreamConnLost
)

type asyncEvent struct {
	kind asyncEventKind
	nc   *Conn
	sub  *Subscription
	err  error
}

// asyncBus is the process-wide-in-spirit (but here per-connection, which is
// sufficient to preserve the ordering guarantee spec.md §5 asks for: a
// single goroutine serializes every user-visible callback so two async
// events for the same connection are never invoked concurrently) bounded
// queue + dispatch goroutine.
type asyncBus struct {
	ch   chan asyncEvent
	done chan struct{}
}

const asyncBusCapacity = 4096

func newAsyncBus() *asyncBus {
	return &asyncBus{
		ch:   make(chan asyncEvent, asyncBusCapacity),
		done: make(chan struct{}),
	}
}

func (b *asyncBus) start(nc *Conn) {
	go func() {
		for {
			select {
			case ev, ok := <-b.ch:
				if !ok {
					return
				}
				b.dispatch(nc, ev)
			case <-b.done:
				// drain remaining queued events before exiting so a
				// final CLOSED callback is never dropped.
				for {
					select {
					case ev := <-b.ch:
						b.dispatch(nc, ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (b *asyncBus) dispatch(nc *Conn, ev asyncEvent) {
	opts := nc.opts
	switch ev.kind {
	case evDisconnected:
		if opts.DisconnectedCb != nil {
			opts.DisconnectedCb(nc)
		}
	case evReconnected:
		if opts.ReconnectedCb != nil {
			opts.ReconnectedCb(nc)
		}
	case evAsyncError:
		if opts.ErrorHandler != nil {
			opts.ErrorHandler(nc, ev.sub, ev.err)
		}
	case evDiscoveredServers:
		if opts.DiscoveredServersCb != nil {
			opts.DiscoveredServersCb(nc)
		}
	case evClosed:
		if opts.ClosedCb != nil {
			opts.ClosedCb(nc)
		}
	case evStreamConnLost:
		if opts.ErrorHandler != nil {
			opts.ErrorHandler(nc, ev.sub, ev.err)
		}
	}
}

// post enqueues ev without blocking the caller (reader goroutine, dispatch
// workers, timers); if the bus is saturated the event is dropped rather
// than risk deadlocking the posting goroutine, which would defeat the
// purpose of decoupling user callbacks from library-internal locks.
func (b *asyncBus) post(ev asyncEvent) {
	select {
	case b.ch <- ev:
	default:
	}
}

func (b *asyncBus) stop() {
	close(b.done)
}

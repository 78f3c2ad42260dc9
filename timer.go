package nats

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a handle into the process-wide timer wheel (spec.md §9 "global
// state"). It supports Reset, Stop-with-callback, and in-callback Reset,
// matching the source's stop/in-callback-flag coordination for a single
// stop-callback invocation (spec.md §5 Cancellation and timeouts).
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	index    int // heap index, -1 when not scheduled
	fn       func()
	stopCb   func()
	inCb     bool // true while fn is executing (allows in-callback Reset)
	stopped  bool
	fired    bool
}

// timerWheel is the single process-wide timer set: one driver goroutine,
// a min-heap ordered by deadline, and a wakeup channel nudged whenever the
// nearest deadline changes.
type timerWheel struct {
	mu     sync.Mutex
	heap   timerHeap
	wakeup chan struct{}
}

var (
	wheelOnce sync.Once
	wheel     *timerWheel
)

func globalTimerWheel() *timerWheel {
	wheelOnce.Do(func() {
		wheel = &timerWheel{wakeup: make(chan struct{}, 1)}
		go wheel.run()
	})
	return wheel
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (w *timerWheel) nudge() {
	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

func (w *timerWheel) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		w.mu.Lock()
		var next time.Time
		if len(w.heap) > 0 {
			next = w.heap[0].deadline
		}
		w.mu.Unlock()

		var wait time.Duration
		if next.IsZero() {
			wait = time.Hour
		} else {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			w.fireDue()
		case <-w.wakeup:
		}
	}
}

func (w *timerWheel) fireDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.heap) == 0 || w.heap[0].deadline.After(now) {
			w.mu.Unlock()
			return
		}
		t := heap.Pop(&w.heap).(*Timer)
		w.mu.Unlock()

		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			continue
		}
		t.fired = true
		t.inCb = true
		fn := t.fn
		t.mu.Unlock()

		if fn != nil {
			fn()
		}

		t.mu.Lock()
		t.inCb = false
		// If the callback called Reset, it will have re-pushed t onto the
		// heap already (index >= 0); nothing further to do here. If it
		// called Stop from inside the callback, run the deferred stop
		// callback now — this is the "defer stop-cb invocation until
		// in-callback reset resolves" rule from spec.md §5.
		stopCb := t.stopCb
		shouldStop := t.stopped
		t.stopCb = nil
		t.mu.Unlock()
		if shouldStop && stopCb != nil {
			stopCb()
		}
	}
}

// NewTimer schedules fn to run once after d, on the shared timer driver
// goroutine. Callbacks must not block indefinitely (spec.md §5).
func NewTimer(d time.Duration, fn func()) *Timer {
	w := globalTimerWheel()
	t := &Timer{deadline: time.Now().Add(d), fn: fn, index: -1}
	w.mu.Lock()
	heap.Push(&w.heap, t)
	w.mu.Unlock()
	w.nudge()
	return t
}

// Reset reschedules t to fire d from now, including from inside t's own
// callback (spec.md §5's "in-callback reset").
func (t *Timer) Reset(d time.Duration) {
	w := globalTimerWheel()
	t.mu.Lock()
	t.deadline = time.Now().Add(d)
	t.stopped = false
	t.fired = false
	inCb := t.inCb
	t.mu.Unlock()

	w.mu.Lock()
	if t.index >= 0 {
		heap.Fix(&w.heap, t.index)
	} else {
		heap.Push(&w.heap, t)
	}
	w.mu.Unlock()
	_ = inCb
	w.nudge()
}

// Stop cancels t. If t's callback is currently executing (stop called from
// within its own callback would instead use the in-callback path; this
// covers "stop from outside" while a fire is in flight), stopCb runs once
// the callback returns instead of immediately, avoiding a recursive lock.
func (t *Timer) Stop(stopCb func()) {
	w := globalTimerWheel()
	t.mu.Lock()
	t.stopped = true
	inCb := t.inCb
	idx := t.index
	t.mu.Unlock()

	if idx >= 0 {
		w.mu.Lock()
		if idx = t.index; idx >= 0 && idx < len(w.heap) && w.heap[idx] == t {
			heap.Remove(&w.heap, idx)
		}
		w.mu.Unlock()
	}

	if inCb {
		t.mu.Lock()
		t.stopCb = stopCb
		t.mu.Unlock()
		return
	}
	if stopCb != nil {
		stopCb()
	}
}

package nats

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFires(t *testing.T) {
	done := make(chan struct{})
	NewTimer(10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire within 1s")
	}
}

func TestTimerStopPreventsFire(t *testing.T) {
	var fired int32
	timer := NewTimer(50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Stop(nil)
	time.Sleep(150 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("stopped timer fired anyway")
	}
}

func TestTimerStopInvokesStopCallback(t *testing.T) {
	stopped := make(chan struct{})
	timer := NewTimer(time.Hour, func() {})
	timer.Stop(func() { close(stopped) })
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop callback was not invoked for a pending (never-fired) timer")
	}
}

func TestTimerResetFromWithinCallback(t *testing.T) {
	var fires int32
	done := make(chan struct{})
	var timer *Timer
	timer = NewTimer(10*time.Millisecond, func() {
		n := atomic.AddInt32(&fires, 1)
		if n == 1 {
			timer.Reset(10 * time.Millisecond)
		} else {
			close(done)
		}
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("in-callback reset did not lead to a second fire")
	}
	if atomic.LoadInt32(&fires) != 2 {
		t.Fatalf("fires = %d, want 2", fires)
	}
}

func TestTimerResetReschedulesBeforeFire(t *testing.T) {
	var fired int32
	timer := NewTimer(30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Reset(200 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer fired at its original deadline despite being reset to a later one")
	}
	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("fired = %d, want 1 after the rescheduled deadline passed", fired)
	}
}

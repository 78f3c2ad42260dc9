package nats

import "sync/atomic"

// startPingTimer arms the periodic PING/PONG liveness check (spec.md §4.4):
// every PingInterval, if the previous ping is still outstanding beyond
// MaxPingsOut, the connection is considered stale and torn down so the
// reconnect loop can take over.
func (nc *Conn) startPingTimer() {
	nc.mu.Lock()
	if nc.pingTimer != nil {
		nc.pingTimer.Stop(nil)
	}
	interval := nc.opts.PingInterval
	nc.mu.Unlock()

	if interval <= 0 {
		return
	}

	var armed func()
	armed = func() {
		nc.mu.Lock()
		status := nc.status
		nc.mu.Unlock()
		if status != CONNECTED {
			return
		}

		outstanding := atomic.AddInt32(&nc.pingOutstanding, 1)
		if int(outstanding) > nc.opts.MaxPingsOut {
			nc.logger.Warn().Int32("outstanding", outstanding).Msg("missed too many pings, treating connection as stale")
			nc.bus.post(asyncEvent{kind: evAsyncError, nc: nc, err: ErrStaleConnection})
			nc.mu.Lock()
			conn := nc.netConn
			nc.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}

		// Liveness pings occupy a slot in the pong FIFO too (a nil one), so
		// their PONGs don't release a FlushTimeout waiter whose own PING is
		// still unanswered.
		nc.mu.Lock()
		nc.pongs = append(nc.pongs, nil)
		nc.mu.Unlock()
		nc.writer.append([]byte("PING\r\n"))

		nc.mu.Lock()
		nc.pingTimer = NewTimer(interval, armed)
		nc.mu.Unlock()
	}

	nc.mu.Lock()
	nc.pingTimer = NewTimer(interval, armed)
	nc.mu.Unlock()
}

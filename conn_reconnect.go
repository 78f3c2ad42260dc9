package nats

import (
	"crypto/tls"
	"net"
	"time"
)

// wrapTLS upgrades conn to TLS, optionally performing the handshake before
// the server's INFO line is read (spec.md §6 TLS-handshake-first mode,
// used by servers that never send a plaintext INFO at all).
func wrapTLS(conn net.Conn, cfg *tls.Config, serverName string, handshakeFirst bool) net.Conn {
	c := cfg.Clone()
	if c.ServerName == "" {
		c.ServerName = serverName
	}
	tlsConn := tls.Client(conn, c)
	if handshakeFirst {
		_ = tlsConn.Handshake()
	}
	return tlsConn
}

// attemptFirstConnect tries every pool entry once, in order, honoring the
// pool's pacing limiter, and fails Connect if none answers (spec.md §4.1).
func (nc *Conn) attemptFirstConnect() error {
	nc.setStatus(CONNECTING)
	n := len(nc.pool.urls())
	if n == 0 {
		return ErrNoServers
	}
	for i := 0; i < n; i++ {
		// maxAttempts 1 skips the entries this loop has already tried.
		e, _, ok := nc.pool.pickNext(0, 0, 1)
		if !ok {
			break
		}
		_ = nc.pool.limiter.WaitN(reconnectCtx{}, 1)
		if err := nc.dialOne(e); err != nil {
			nc.pool.markAttempt(e, err)
			nc.logger.Debug().Err(err).Str("server", e.url.String()).Msg("initial connect attempt failed")
			continue
		}
		nc.pool.markConnected(e)
		nc.setStatus(CONNECTED)
		nc.startPingTimer()
		nc.flushPendingReconnectBuffer()
		return nil
	}
	return ErrNoServers
}

// handleDisconnect is invoked from the reader goroutine (or a write
// failure callback) the moment the socket breaks. It posts the
// disconnected async event once, then — unless AllowReconnect is false or
// the connection is already CLOSED — starts the reconnect loop in its own
// goroutine so the reader goroutine that called this can exit immediately.
func (nc *Conn) handleDisconnect(cause error) {
	nc.mu.Lock()
	if nc.status == CLOSED || nc.status == RECONNECTING {
		nc.mu.Unlock()
		return
	}
	nc.status = RECONNECTING
	nc.mu.Unlock()

	nc.logger.Warn().Err(cause).Msg("disconnected from server")
	nc.bus.post(asyncEvent{kind: evDisconnected, nc: nc, err: cause})

	if !nc.opts.AllowReconnect {
		nc.Close()
		return
	}
	go nc.reconnectLoop()
}

// reconnectLoop cycles through the server pool with backoff+jitter until a
// dial succeeds or the pool is exhausted under MaxReconnectAttempts
// (spec.md §4.1/§4.4). On success it replays the CONNECT handshake and
// flushes anything buffered in pendingDuringReconnect.
func (nc *Conn) reconnectLoop() {
	for {
		nc.mu.Lock()
		closed := nc.status == CLOSED
		nc.mu.Unlock()
		if closed {
			return
		}

		e, delay, ok := nc.pool.pickNext(nc.opts.ReconnectWait, nc.opts.ReconnectJitter, nc.opts.MaxReconnectAttempts)
		if !ok {
			nc.logger.Error().Msg("no servers left to retry, closing")
			nc.Close()
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-nc.closed:
				return
			}
		}

		if err := nc.pool.limiter.WaitN(reconnectCtx{}, 1); err != nil {
			// limiter context never cancels in practice; fall through
		}

		if err := nc.dialOne(e); err != nil {
			nc.pool.markAttempt(e, err)
			continue
		}
		nc.pool.markConnected(e)
		nc.setStatus(CONNECTED)
		nc.resubscribeAll()
		nc.startPingTimer()
		nc.flushPendingReconnectBuffer()
		nc.metrics.observeReconnect()
		nc.logger.Info().Str("server", e.url.String()).Msg("reconnected")
		nc.bus.post(asyncEvent{kind: evReconnected, nc: nc})
		return
	}
}

// reconnectCtx is a trivial context.Context the pool's rate.Limiter.WaitN
// call can block on; it never carries a deadline because backoff is
// already applied by pickNext before this is reached.
type reconnectCtx struct{}

func (reconnectCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (reconnectCtx) Done() <-chan struct{}       { return nil }
func (reconnectCtx) Err() error                  { return nil }
func (reconnectCtx) Value(any) any               { return nil }

// resubscribeAll reissues SUB for every live subscription after a
// reconnect, since the new server has no memory of the old socket's
// subscriptions (spec.md §4.4).
func (nc *Conn) resubscribeAll() {
	nc.mu.Lock()
	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	nc.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		subject, queue, sid := s.Subject, s.Queue, s.sid
		s.mu.Unlock()

		frame := "SUB " + subject
		if queue != "" {
			frame += " " + queue
		}
		frame += " " + itoa(sid) + "\r\n"
		nc.writer.append([]byte(frame))
	}
}

func (nc *Conn) flushPendingReconnectBuffer() {
	nc.mu.Lock()
	buf := nc.pendingDuringReconnect
	nc.pendingDuringReconnect = nil
	nc.pendingBytesUsed = 0
	nc.mu.Unlock()
	if len(buf) > 0 {
		nc.writer.append(buf)
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

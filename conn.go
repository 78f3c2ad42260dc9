package nats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// serverInfo is the JSON payload of an INFO frame (spec.md §6).
type serverInfo struct {
	ServerID     string   `json:"server_id"`
	Version      string   `json:"version"`
	MaxPayload   int      `json:"max_payload"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
	HeadersOK    bool     `json:"headers"`
	TLSRequired  bool     `json:"tls_required,omitempty"`
	AuthRequired bool     `json:"auth_required,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
}

// connectInfo is the JSON payload of a CONNECT frame (spec.md §6).
type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLSRequired  bool   `json:"tls_required"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	JWT          string `json:"jwt,omitempty"`
	Sig          string `json:"sig,omitempty"`
	NoResponders bool   `json:"no_responders"`
	Headers      bool   `json:"headers"`
}

const libVersion = "0.1.0"

// Conn owns the socket, parser, writer, subscription table, reconnect
// engine, ping tracking, and async event bus (spec.md §3 Connection).
type Conn struct {
	mu sync.Mutex

	opts ConnectionOptions
	pool *serverPool

	status   Status
	statusCh chan struct{} // closed and replaced on every status change
	netConn  net.Conn
	parser   *parser
	writer   *outboundWriter
	reader   *bufio.Reader

	subs    map[int64]*Subscription
	nextSid int64

	inboxPrefix string

	pingOutstanding int32
	pingTimer       *Timer

	// pongs is the FIFO of flush waiters: every PING writer (the liveness
	// timer appends nil, FlushTimeout appends its wakeup channel) pushes an
	// entry, and each PONG pops one, so a flush only completes on the PONG
	// answering its own PING, never an earlier liveness ping's.
	pongs []chan struct{}

	bus *asyncBus

	info serverInfo

	// pendingDuringReconnect buffers PUB/HPUB frames written while the
	// connection is down, up to opts.MaxPendingBytes (spec.md §7). A publish
	// that would exceed the limit is rejected with ErrConnectionClosed; the
	// frames already buffered are kept and the connection is not closed.
	pendingDuringReconnect []byte
	pendingBytesUsed       int

	metrics *Metrics
	logger  zerolog.Logger

	// pendingMsgsTotal/pendingBytesTotal mirror, summed across every
	// subscription on this connection, the per-subscription pendingMsgs/
	// pendingBytes dispatcher.go tracks; fed to Metrics.setPending so the
	// pending gauges reflect current state rather than only totals-ever
	// counters. Updated with atomic ops, not nc.mu, since deliver/onDequeue
	// run under sub.mu per the strict lock order (spec.md §9).
	pendingMsgsTotal  int64
	pendingBytesTotal int64

	closeOnce sync.Once
	closed    chan struct{}

	jsAPIPrefix string
}

// Connect dials the first reachable server in the pool (or, on later
// failure, cycles through it per spec.md §4.1) and completes the protocol
// handshake.
func Connect(url string, options ...Option) (*Conn, error) {
	opts := defaultOptions()
	opts.URL = url
	for _, o := range options {
		o(&opts)
	}
	return connectWithOptions(opts)
}

func connectWithOptions(opts ConnectionOptions) (*Conn, error) {
	urls := opts.Servers
	if opts.URL != "" {
		urls = append([]string{opts.URL}, urls...)
	}
	if len(urls) == 0 {
		urls = []string{DefaultURL}
	}
	pool, err := newServerPool(urls, opts.NoRandomize)
	if err != nil {
		return nil, err
	}

	nc := &Conn{
		opts:        opts,
		pool:        pool,
		status:      DISCONNECTED,
		statusCh:    make(chan struct{}),
		subs:        make(map[int64]*Subscription),
		inboxPrefix: newInboxPrefix(),
		bus:         newAsyncBus(),
		metrics:     opts.metrics,
		logger:      opts.Logger,
		closed:      make(chan struct{}),
		jsAPIPrefix: "$JS.API.",
	}
	nc.bus.start(nc)

	if err := nc.attemptFirstConnect(); err != nil {
		nc.bus.stop()
		return nil, err
	}
	return nc, nil
}

func (nc *Conn) setStatus(s Status) {
	nc.mu.Lock()
	nc.status = s
	ch := nc.statusCh
	nc.statusCh = make(chan struct{})
	nc.mu.Unlock()
	close(ch)
}

// Status returns the current connection status.
func (nc *Conn) Status() Status {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.status
}

func (nc *Conn) isClosed() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.status == CLOSED
}

// ConnectedUrl returns the URL of the server the connection is currently
// attached to, or "" if not connected.
func (nc *Conn) ConnectedUrl() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.netConn == nil {
		return ""
	}
	return nc.netConn.RemoteAddr().String()
}

func (nc *Conn) dialOne(e *srvEntry) error {
	raw := e.url
	conn, err := net.DialTimeout("tcp", raw.Host, nc.opts.Timeout)
	if err != nil {
		return newErr(ErrCodeIO, "Conn.dial", err)
	}

	if nc.opts.TLSConfig != nil {
		conn = wrapTLS(conn, nc.opts.TLSConfig, raw.Hostname(), nc.opts.TLSHandshakeFirst)
	}

	nc.mu.Lock()
	nc.netConn = conn
	nc.reader = bufio.NewReaderSize(conn, 64*1024)
	nc.parser = newParser(nc.onParseEvent)
	if nc.writer == nil {
		nc.writer = newOutboundWriter(nc.opts.WriteDeadline, nc.onWriteErr)
		go nc.writer.run(nc.closed)
	}
	nc.writer.attach(conn)
	nc.mu.Unlock()

	infoFrame, err := nc.readInfo()
	if err != nil {
		conn.Close()
		return err
	}
	nc.mu.Lock()
	nc.info = *infoFrame
	nc.mu.Unlock()

	if err := nc.sendConnect(); err != nil {
		conn.Close()
		return err
	}

	go nc.readLoop(conn)
	return nil
}

// readInfo blocks for the initial INFO frame the server sends on connect.
func (nc *Conn) readInfo() (*serverInfo, error) {
	line, err := nc.reader.ReadString('\n')
	if err != nil {
		return nil, newErr(ErrCodeIO, "Conn.readInfo", err)
	}
	const prefix = "INFO "
	idx := indexCI(line, prefix)
	if idx < 0 {
		return nil, newErrf(ErrCodeProtocol, "Conn.readInfo", "expected INFO frame")
	}
	var info serverInfo
	raw := line[idx+len(prefix):]
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, newErr(ErrCodeProtocol, "Conn.readInfo", err)
	}
	return &info, nil
}

func indexCI(s, prefix string) int {
	if len(s) < len(prefix) {
		return -1
	}
	for i := 0; i+len(prefix) <= len(s); i++ {
		if equalFoldASCII(s[i:i+len(prefix)], prefix) {
			return i
		}
		if s[i] != ' ' {
			break
		}
	}
	return -1
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 32
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 32
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (nc *Conn) sendConnect() error {
	nc.mu.Lock()
	info := connectInfo{
		Verbose:      nc.opts.Verbose,
		Pedantic:     nc.opts.Pedantic,
		TLSRequired:  nc.opts.TLSConfig != nil,
		Name:         nc.opts.Name,
		Lang:         "go",
		Version:      libVersion,
		Protocol:     1,
		User:         nc.opts.User,
		Pass:         nc.opts.Password,
		AuthToken:    nc.opts.Token,
		NoResponders: true,
		Headers:      true,
	}
	nc.mu.Unlock()

	if nc.opts.CredsFile != "" {
		jwtVal, sig, err := loadCredsFile(nc.opts.CredsFile)
		if err != nil {
			return newErr(ErrCodeAuthorization, "Conn.sendConnect", err)
		}
		parsed, err := connectJWTAndSig(jwtVal)
		if err != nil {
			return err
		}
		info.JWT = parsed
		info.Sig = sig
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return newErr(ErrCodeGeneric, "Conn.sendConnect", err)
	}
	nc.writer.append([]byte("CONNECT " + string(payload) + "\r\n"))
	// The handshake PING takes a nil slot in the pong FIFO like a liveness
	// ping, so its PONG cannot release a FlushTimeout waiter.
	nc.mu.Lock()
	nc.pongs = append(nc.pongs, nil)
	nc.mu.Unlock()
	nc.writer.append([]byte("PING\r\n"))
	return nc.flushOnWriter()
}

func (nc *Conn) flushOnWriter() error {
	_, err := nc.writer.flushOnce()
	return err
}

// loadCredsFile is a thin parser for the out-of-scope `.creds` file format
// (spec.md §1 lists credential file handling as an assumed external
// collaborator); this reads the two PEM-style blocks ("-----BEGIN NATS
// USER JWT-----" / "-----BEGIN USER NKEY SEED-----") just far enough to
// extract the JWT text. NKey signing of the server nonce is left to a
// caller-supplied SignatureHandler in a future revision; until then Sig is
// empty and servers configured for NKey-only auth (no bearer JWT) are out
// of reach from UserCredentials alone.
func loadCredsFile(path string) (jwtVal, sig string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	jwtVal = extractPEMBlock(string(data), "BEGIN NATS USER JWT")
	return jwtVal, "", nil
}

func extractPEMBlock(data, marker string) string {
	start := indexOf(data, marker)
	if start < 0 {
		return ""
	}
	start = indexOf(data[start:], "\n") + start + 1
	end := indexOf(data[start:], "------") + start
	if end < start {
		return ""
	}
	return trimSpaceLines(data[start:end])
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func trimSpaceLines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' && s[i] != ' ' && s[i] != '\t' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (nc *Conn) onWriteErr(err error) {
	nc.logger.Debug().Err(err).Msg("write error, triggering reconnect")
	go nc.handleDisconnect(err)
}

// readLoop is the reader goroutine: blocks on the socket, feeds the
// parser, invokes handlers. Per spec.md §5 it must not hold nc.mu while
// running user callbacks; onParseEvent only ever acquires nc.mu for
// bookkeeping and releases it before touching a subscription's dispatcher.
func (nc *Conn) readLoop(conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			nc.handleDisconnect(err)
			return
		}
		if perr := nc.parser.Parse(buf[:n]); perr != nil {
			nc.logger.Debug().Err(perr).Msg("protocol parse error")
			nc.handleDisconnect(perr)
			return
		}
	}
}

func (nc *Conn) onParseEvent(ev parseEvent) {
	switch ev.kind {
	case evInfo:
		var info serverInfo
		if err := json.Unmarshal(ev.infoRaw, &info); err == nil {
			nc.mu.Lock()
			nc.info = info
			nc.mu.Unlock()
			if len(info.ConnectURLs) > 0 && nc.pool.discover(info.ConnectURLs) {
				nc.bus.post(asyncEvent{kind: evDiscoveredServers, nc: nc})
			}
		}
	case evPing:
		nc.writer.append([]byte("PONG\r\n"))
	case evPong:
		// Any pong proves the connection is alive, so the stale-connection
		// counter resets rather than decrements (spec.md §4.4).
		atomic.StoreInt32(&nc.pingOutstanding, 0)
		nc.mu.Lock()
		var ch chan struct{}
		if len(nc.pongs) > 0 {
			ch = nc.pongs[0]
			nc.pongs = nc.pongs[1:]
		}
		nc.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	case evMsg:
		nc.routeMessage(ev.sid, ev.msg)
	case evErr:
		nc.bus.post(asyncEvent{kind: evAsyncError, nc: nc, err: newErrf(ErrCodeProtocol, "server", ev.errText)})
	case evOK:
		// no-op unless Verbose is requested by a synchronous caller
	}
}

// routeMessage looks up sid in the subscription map (spec.md §4.5) and
// hands the message to the subscription's deliver path. The map lookup is
// the only thing done under nc.mu; the subscription's own mutex (acquired
// inside deliver) and dispatcher queue lock are acquired afterward, per the
// invariant lock order connection → subscription-map → subscription →
// dispatcher.
func (nc *Conn) routeMessage(sid int64, msg *Msg) {
	nc.mu.Lock()
	sub, ok := nc.subs[sid]
	nc.mu.Unlock()
	if !ok {
		return
	}

	if nc.jsInboundHook(sub, msg) {
		return
	}

	dropped, becameSlow := sub.deliver(msg)
	if dropped {
		nc.metrics.observeDrop()
		if becameSlow {
			nc.metrics.observeSlowConsumer()
			nc.bus.post(asyncEvent{kind: evAsyncError, nc: nc, sub: sub, err: ErrSlowConsumer})
		}
		return
	}
	nc.metrics.observeDeliver(msg.size())
}

// nextSID returns the next monotonically increasing subscription ID.
func (nc *Conn) nextSID() int64 {
	nc.mu.Lock()
	nc.nextSid++
	id := nc.nextSid
	nc.mu.Unlock()
	return id
}

func (nc *Conn) subscribe(subject, queue string, cb func(*Msg), syncMode bool, opts SubscriptionOptions) (*Subscription, error) {
	if !subjectValidate(subject) {
		return nil, ErrInvalidSubject
	}
	nc.mu.Lock()
	if nc.status == CLOSED {
		nc.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	nc.mu.Unlock()

	sid := nc.nextSID()
	sub := newSubscription(nc, sid, subject, queue, cb, opts)
	sub.syncMode = syncMode

	// NATS_DEFAULT_TO_LIB_MSG_DELIVERY (spec.md §6) and
	// ConnectionOptions.UseGlobalMessageDelivery both raise the default
	// dispatcher choice to the shared pool for every subscription on this
	// connection; a subscription can still opt in explicitly via
	// UseSharedDispatcher() regardless of either setting. Synchronous
	// subscriptions are exempt: NextMsg and Fetch pop a dedicated queue
	// directly and cannot consume from a shared pool.
	useShared := (opts.UseSharedDispatcher || nc.opts.UseGlobalMessageDelivery || loadLibraryConfig().useGlobalMessageDelivery()) && !syncMode

	if useShared {
		sub.dispatcher = nc.sharedPool()
	} else {
		dd := newDedicatedDispatcher(sub)
		sub.dispatcher = dd
		// A synchronous subscription's only consumer is NextMsg, which
		// pops the dedicated queue directly; starting the loop as well
		// would race two goroutines over the same queue.
		if !syncMode {
			dd.start()
		}
	}

	nc.mu.Lock()
	nc.subs[sid] = sub
	nc.mu.Unlock()

	frame := fmt.Sprintf("SUB %s", subject)
	if queue != "" {
		frame += " " + queue
	}
	frame += fmt.Sprintf(" %d\r\n", sid)
	nc.writer.append([]byte(frame))

	if opts.Timeout > 0 {
		sub.timeoutTimer = NewTimer(opts.Timeout, func() {
			sub.dispatcher.enqueue(dispatchItem{kind: itemTimeoutSignal, sub: sub})
		})
	}
	return sub, nil
}

// Subscribe registers an asynchronous subscription with a dedicated
// dispatcher by default.
func (nc *Conn) Subscribe(subject string, cb func(*Msg), subOpts ...SubOption) (*Subscription, error) {
	opts := defaultSubOptions()
	for _, o := range subOpts {
		o(&opts)
	}
	return nc.subscribe(subject, "", cb, false, opts)
}

// QueueSubscribe registers a queue-group subscription.
func (nc *Conn) QueueSubscribe(subject, queue string, cb func(*Msg), subOpts ...SubOption) (*Subscription, error) {
	opts := defaultSubOptions()
	opts.Queue = queue
	for _, o := range subOpts {
		o(&opts)
	}
	return nc.subscribe(subject, queue, cb, false, opts)
}

// SubscribeSync registers a synchronous subscription consumed via NextMsg.
func (nc *Conn) SubscribeSync(subject string, subOpts ...SubOption) (*Subscription, error) {
	opts := defaultSubOptions()
	for _, o := range subOpts {
		o(&opts)
	}
	return nc.subscribe(subject, "", nil, true, opts)
}

var sharedPoolOnce sync.Once
var sharedPoolInst *sharedDispatchPool

func (nc *Conn) sharedPool() *sharedDispatchPool {
	sharedPoolOnce.Do(func() {
		sharedPoolInst = newSharedDispatchPool(0)
		sharedPoolInst.start()
	})
	return sharedPoolInst
}

// removeFromRoutingTable removes sub from the connection's sid map so no
// new messages are routed to it (spec.md §4.7, called when a drain signal
// is processed).
func (nc *Conn) removeFromRoutingTable(sub *Subscription) {
	nc.mu.Lock()
	delete(nc.subs, sub.sid)
	nc.mu.Unlock()
}

// releaseSubscription finalizes teardown once the close synthetic has been
// processed: removes it from the routing table, stops its timers and its
// dedicated worker. It writes no UNSUB; unsubscribe does that.
func (nc *Conn) releaseSubscription(sub *Subscription) {
	nc.removeFromRoutingTable(sub)
	if sub.timeoutTimer != nil {
		sub.timeoutTimer.Stop(nil)
	}
	sub.mu.Lock()
	if sub.js != nil && sub.js.hbTimer != nil {
		sub.js.hbTimer.Stop(nil)
		sub.js.hbTimer = nil
	}
	sub.mu.Unlock()
	if dd, ok := sub.dispatcher.(*dedicatedDispatcher); ok {
		dd.stop()
	}
}

func (nc *Conn) unsubscribe(sub *Subscription, max int) error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.mu.Unlock()

	frame := fmt.Sprintf("UNSUB %d", sub.sid)
	if max > 0 {
		frame += fmt.Sprintf(" %d", max)
	}
	frame += "\r\n"
	nc.writer.append([]byte(frame))

	if max > 0 {
		sub.mu.Lock()
		sub.autoUnsubMax = max
		sub.mu.Unlock()
		return nil
	}

	sub.dispatcher.enqueue(dispatchItem{kind: itemCloseSignal, sub: sub})
	return nil
}

// Publish sends a single message with no reply subject.
func (nc *Conn) Publish(subject string, data []byte) error {
	return nc.PublishMsg(&Msg{Subject: subject, Data: data})
}

// PublishRequest publishes with an explicit reply subject.
func (nc *Conn) PublishRequest(subject, reply string, data []byte) error {
	return nc.PublishMsg(&Msg{Subject: subject, Reply: reply, Data: data})
}

// PublishMsg publishes msg, choosing PUB or HPUB depending on whether
// headers are present (spec.md §6).
func (nc *Conn) PublishMsg(msg *Msg) error {
	if !subjectValidateLiteral(msg.Subject) {
		return ErrInvalidSubject
	}
	nc.mu.Lock()
	status := nc.status
	nc.mu.Unlock()
	if status == CLOSED {
		return ErrConnectionClosed
	}

	var frame []byte
	if len(msg.Header) > 0 {
		hdr := encodeHeaderBlock(msg.Header)
		total := len(hdr) + len(msg.Data)
		frame = []byte(fmt.Sprintf("HPUB %s", msg.Subject))
		if msg.Reply != "" {
			frame = append(frame, ' ')
			frame = append(frame, msg.Reply...)
		}
		frame = append(frame, []byte(fmt.Sprintf(" %d %d\r\n", len(hdr), total))...)
		frame = append(frame, hdr...)
		frame = append(frame, msg.Data...)
		frame = append(frame, "\r\n"...)
	} else {
		frame = []byte(fmt.Sprintf("PUB %s", msg.Subject))
		if msg.Reply != "" {
			frame = append(frame, ' ')
			frame = append(frame, msg.Reply...)
		}
		frame = append(frame, []byte(fmt.Sprintf(" %d\r\n", len(msg.Data)))...)
		frame = append(frame, msg.Data...)
		frame = append(frame, "\r\n"...)
	}

	nc.mu.Lock()
	if nc.status == RECONNECTING || nc.status == CONNECTING || nc.status == DISCONNECTED {
		if nc.pendingBytesUsed+len(frame) > nc.opts.MaxPendingBytes {
			nc.mu.Unlock()
			return ErrConnectionClosed
		}
		nc.pendingDuringReconnect = append(nc.pendingDuringReconnect, frame...)
		nc.pendingBytesUsed += len(frame)
		nc.mu.Unlock()
		return nil
	}
	nc.mu.Unlock()

	nc.writer.append(frame)
	nc.metrics.observePublish(len(msg.Data))
	return nil
}

func (nc *Conn) publishFlowControlReply(subject string) {
	_ = nc.Publish(subject, nil)
}

// Flush forces a round trip (PING/PONG) so the caller knows every
// previously-appended frame is on the wire (spec.md §4.3).
func (nc *Conn) Flush() error {
	return nc.FlushTimeout(DefaultTimeout)
}

// FlushTimeout is Flush with an explicit deadline: a PING is written
// behind everything already buffered, and the call returns once the PONG
// answering that specific PING arrives (spec.md §4.3).
func (nc *Conn) FlushTimeout(timeout time.Duration) error {
	if nc.isClosed() {
		return ErrConnectionClosed
	}
	ch := make(chan struct{})
	nc.mu.Lock()
	nc.pongs = append(nc.pongs, ch)
	nc.mu.Unlock()
	nc.writer.append([]byte("PING\r\n"))
	if err := nc.flushOnWriter(); err != nil {
		nc.removePongWaiter(ch)
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-ch:
		return nil
	case <-deadline.C:
		nc.removePongWaiter(ch)
		return ErrTimeout
	}
}

func (nc *Conn) removePongWaiter(ch chan struct{}) {
	nc.mu.Lock()
	for i, c := range nc.pongs {
		if c == ch {
			nc.pongs = append(nc.pongs[:i], nc.pongs[i+1:]...)
			break
		}
	}
	nc.mu.Unlock()
}

// Request sends data to subject with a unique reply subject and waits for
// the first response (spec.md §3 subject/reply model).
func (nc *Conn) Request(subject string, data []byte, timeout time.Duration) (*Msg, error) {
	return nc.RequestMsg(&Msg{Subject: subject, Data: data}, timeout)
}

// RequestMsg is Request for a caller-built Msg, so callers needing headers
// on the request (jetstream's expect/dedup headers, for instance) don't
// lose them the way a bare subject+data Request would.
func (nc *Conn) RequestMsg(m *Msg, timeout time.Duration) (*Msg, error) {
	reply := nc.NewInbox()
	sub, err := nc.SubscribeSync(reply)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	m.Reply = reply
	if err := nc.PublishMsg(m); err != nil {
		return nil, err
	}
	msg, err := sub.NextMsg(timeout)
	if err != nil {
		return nil, err
	}
	if status, ok := msg.Header.StatusCode(); ok && status == "503" {
		return nil, ErrNoResponders
	}
	return msg, nil
}

// Close transitions the connection through DRAINING (skipped) straight to
// CLOSED: stops the ping timer, flushes and closes the socket, stops the
// writer and async bus, and fires the closed callback exactly once.
func (nc *Conn) Close() {
	nc.closeOnce.Do(func() {
		nc.setStatus(CLOSED)
		close(nc.closed)
		if nc.pingTimer != nil {
			nc.pingTimer.Stop(nil)
		}
		nc.writer.stopAccepting()
		_ = nc.flushOnWriter()
		nc.mu.Lock()
		if nc.netConn != nil {
			nc.netConn.Close()
		}
		subs := make([]*Subscription, 0, len(nc.subs))
		for _, s := range nc.subs {
			subs = append(subs, s)
		}
		nc.mu.Unlock()

		for _, s := range subs {
			s.mu.Lock()
			s.connClosed = true
			s.mu.Unlock()
		}

		nc.bus.post(asyncEvent{kind: evClosed, nc: nc})
		nc.bus.stop()
	})
}

// Drain per spec.md §4.7: drains every subscription (waiting for each to
// reach drain-complete), then flushes outstanding publishes within
// timeout, then closes.
func (nc *Conn) Drain(timeout time.Duration) error {
	nc.setStatus(DRAINING_SUBS)
	nc.mu.Lock()
	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	nc.mu.Unlock()

	for _, s := range subs {
		_ = s.Drain()
	}

	deadline := time.Now().Add(timeout)
	for {
		nc.mu.Lock()
		remaining := len(nc.subs)
		nc.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	nc.setStatus(DRAINING_PUBS)
	_ = nc.FlushTimeout(timeout)
	nc.Close()
	return nil
}

package nats

// Msg is an immutable-after-parse record of subject, optional reply
// subject, optional header block, and opaque payload (spec.md §3). It
// carries a back-reference to the owning Subscription once it has been
// enqueued; that reference is nil for a message still under construction
// by user code (e.g. about to be published).
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Data    []byte

	sub *Subscription // set by the dispatcher on enqueue; nil until then

	// ackd is set for jetstream messages that have already been
	// acknowledged, making a second Ack a no-op (spec.md §8 idempotence).
	ackd bool

	// jsMeta carries parsed $JS.ACK.<...> reply-subject tokens for
	// jetstream-delivered messages; nil for ordinary core messages.
	jsMeta *jsMsgMeta
}

// jsMsgMeta holds the fields a jetstream message's ack-reply subject
// encodes (spec.md §6 Ack subjects), parsed once at delivery time.
type jsMsgMeta struct {
	domain       string
	accountHash  string
	stream       string
	consumer     string
	numDelivered uint64
	streamSeq    uint64
	consumerSeq  uint64
	timestamp    int64
	numPending   uint64
}

// NewMsg constructs a publishable message. Subject must be a valid literal
// (no wildcards); Reply may be empty.
func NewMsg(subject string) *Msg {
	return &Msg{Subject: subject}
}

// Subscription returns the Subscription the message was delivered on, or
// nil if the message was never enqueued by a dispatcher (e.g. it is still
// being built for publish).
func (m *Msg) Subscription() *Subscription {
	return m.sub
}

// size returns the number of bytes this message occupies in a
// subscription's pending-bytes accounting: payload plus a rough estimate
// of the encoded header block, matching what the wire actually sent.
func (m *Msg) size() int {
	n := len(m.Data)
	if m.Header != nil {
		n += headerEncodedLen(m.Header)
	}
	return n
}

func headerEncodedLen(h Header) int {
	// "NATS/1.0\r\n" + per k/v "k: v\r\n" + trailing "\r\n"
	n := len(hdrPreface)
	for k, vs := range h {
		for _, v := range vs {
			n += len(k) + len(": ") + len(v) + len("\r\n")
		}
	}
	n += len("\r\n")
	return n
}

const hdrPreface = "NATS/1.0\r\n"

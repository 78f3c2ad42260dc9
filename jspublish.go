package nats

import (
	"encoding/json"
	"strconv"
	"time"
)

// PubAck is the stream's acknowledgment of a successful publish (spec.md
// §4.8): the sequence it was stored at and whether the stream treated it
// as a duplicate (message-ID dedup window).
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// PubOpt configures a single JetStream publish call.
type PubOpt func(*pubOptions)

type pubOptions struct {
	msgID             string
	expectStream      string
	expectLastSeq     uint64
	expectLastSeqSet  bool
	expectLastSubjSeq uint64
	expectLastSubjSet bool
	maxWait           time.Duration
}

// MaxWait overrides, for this one publish, how long an async publish may
// remain unacked before the context synthesizes a timeout (spec.md §3
// "per-message MaxWait"/deadline list). Synchronous Publish/PublishMsg
// ignore this option; they already bound the round trip with the request
// timeout.
func MaxWait(d time.Duration) PubOpt {
	return func(o *pubOptions) { o.maxWait = d }
}

// MsgID sets the Nats-Msg-Id header used for the stream's dedup window
// (spec.md §4.8 "exactly-once publish").
func MsgID(id string) PubOpt { return func(o *pubOptions) { o.msgID = id } }

// ExpectStream asserts the publish must land on the named stream.
func ExpectStream(stream string) PubOpt { return func(o *pubOptions) { o.expectStream = stream } }

// ExpectLastSequence asserts the stream's last sequence before this
// publish, rejecting the publish with a 409 if it does not match
// (optimistic concurrency, spec.md §4.8).
func ExpectLastSequence(seq uint64) PubOpt {
	return func(o *pubOptions) { o.expectLastSeq = seq; o.expectLastSeqSet = true }
}

// ExpectLastSequencePerSubject is the per-subject variant of
// ExpectLastSequence.
func ExpectLastSequencePerSubject(seq uint64) PubOpt {
	return func(o *pubOptions) { o.expectLastSubjSeq = seq; o.expectLastSubjSet = true }
}

func buildPubOptions(opts []PubOpt) pubOptions {
	var o pubOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}

func applyExpectHeaders(h Header, o pubOptions) Header {
	if o.msgID == "" && o.expectStream == "" && !o.expectLastSeqSet && !o.expectLastSubjSet {
		return h
	}
	if h == nil {
		h = NewHeader()
	}
	if o.msgID != "" {
		h.Set("Nats-Msg-Id", o.msgID)
	}
	if o.expectStream != "" {
		h.Set("Nats-Expected-Stream", o.expectStream)
	}
	if o.expectLastSeqSet {
		h.Set("Nats-Expected-Last-Sequence", strconv.FormatUint(o.expectLastSeq, 10))
	}
	if o.expectLastSubjSet {
		h.Set("Nats-Expected-Last-Subject-Sequence", strconv.FormatUint(o.expectLastSubjSeq, 10))
	}
	return h
}

// Publish stores data on subject's stream synchronously, returning once the
// stream has acknowledged (spec.md §4.8). The subject must already be
// covered by some stream's subject filter or the server replies with a
// "no responders"/404-style error surfaced as ErrNoResponders.
func (js *JetStreamContext) Publish(subject string, data []byte, opts ...PubOpt) (*PubAck, error) {
	return js.PublishMsg(&Msg{Subject: subject, Data: data}, opts...)
}

// PublishMsg is Publish for a caller-constructed Msg (so headers set by the
// caller survive alongside the expect/dedup headers PubOpt adds).
func (js *JetStreamContext) PublishMsg(m *Msg, opts ...PubOpt) (*PubAck, error) {
	o := buildPubOptions(opts)
	m.Header = applyExpectHeaders(m.Header, o)

	resp, err := js.nc.RequestMsg(m, js.timeout)
	if err != nil {
		return nil, err
	}
	if status, ok := resp.Header.StatusCode(); ok && status == "503" {
		return nil, ErrNoResponders
	}

	var env struct {
		apiResponseEnvelope
		PubAck
	}
	if err := json.Unmarshal(resp.Data, &env); err != nil {
		return nil, newErr(ErrCodeProtocol, "JetStreamContext.PublishMsg", err)
	}
	if env.Error != nil {
		return nil, translateAPIError(env.Error)
	}
	return &env.PubAck, nil
}

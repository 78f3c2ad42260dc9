package nats

import (
	"encoding/json"
	"time"
)

// JetStreamContext is the persistent-stream entry point (spec.md §4.8): a
// thin view over Conn that prefixes every management-API call with the
// configured API prefix (accounting for JetStream domains) and carries the
// default request timeout used by its blocking calls.
type JetStreamContext struct {
	nc        *Conn
	apiPrefix string
	timeout   time.Duration
	ackWait   time.Duration
	publisher *jsAsyncPublisher

	// async-publish tuning (spec.md §3 "PersistentStreamOptions.publishAsync"),
	// consumed by newJSAsyncPublisher below.
	asyncMaxPending int
	asyncStallWait  time.Duration
	asyncErrHandler func(js *JetStreamContext, msg *Msg, err error)
	asyncAckHandler func(ack *PubAck)
}

// JSOpt configures a JetStreamContext.
type JSOpt func(*JetStreamContext)

// Domain scopes the context at a JetStream domain other than the
// account's default (spec.md §6 "$JS.API." vs "$JS.<domain>.API.").
func Domain(domain string) JSOpt {
	return func(js *JetStreamContext) {
		if domain != "" {
			js.apiPrefix = "$JS." + domain + ".API."
		}
	}
}

// APIPrefix overrides the management-API subject prefix entirely, for
// brokers that remap it via subject mapping/import.
func APIPrefix(prefix string) JSOpt {
	return func(js *JetStreamContext) { js.apiPrefix = prefix }
}

// JSTimeout sets the default timeout for JetStreamContext's blocking
// management-API calls.
func JSTimeout(d time.Duration) JSOpt {
	return func(js *JetStreamContext) { js.timeout = d }
}

// PublishAsyncMaxPending bounds the number of async publishes that may be
// outstanding at once before PublishAsync blocks the caller (spec.md §3/§4.8
// stall gate). The default is defaultMaxAsyncPending.
func PublishAsyncMaxPending(n int) JSOpt {
	return func(js *JetStreamContext) { js.asyncMaxPending = n }
}

// PublishAsyncStallWait bounds how long PublishAsync blocks against a full
// stall gate before returning a stalled error (spec.md §3 "stallWait").
func PublishAsyncStallWait(d time.Duration) JSOpt {
	return func(js *JetStreamContext) { js.asyncStallWait = d }
}

// PublishAsyncErrHandler is invoked whenever an outstanding async publish
// ultimately errors (from the shared ack-reply subscription's callback) or
// times out (from the deadline timer's callback) (spec.md §3
// "publishAsync{errHandler}"), in addition to the error
// being deliverable on the returned PubAckFuture's Err() channel.
func PublishAsyncErrHandler(fn func(js *JetStreamContext, msg *Msg, err error)) JSOpt {
	return func(js *JetStreamContext) { js.asyncErrHandler = fn }
}

// PublishAsyncAckHandler is invoked whenever an outstanding async publish is
// acked, as a callback alternative to reading the future's Ok() channel
// (spec.md §3 "publishAsync{ackHandler}").
func PublishAsyncAckHandler(fn func(ack *PubAck)) JSOpt {
	return func(js *JetStreamContext) { js.asyncAckHandler = fn }
}

// JetStream returns a JetStreamContext bound to nc (spec.md §4.8).
func (nc *Conn) JetStream(opts ...JSOpt) (*JetStreamContext, error) {
	if nc.isClosed() {
		return nil, ErrConnectionClosed
	}
	js := &JetStreamContext{
		nc:              nc,
		apiPrefix:       nc.jsAPIPrefix,
		timeout:         DefaultTimeout,
		ackWait:         30 * time.Second,
		asyncMaxPending: defaultMaxAsyncPending,
		asyncStallWait:  defaultStallWait,
	}
	for _, o := range opts {
		o(js)
	}
	js.publisher = newJSAsyncPublisher(js)
	return js, nil
}

// apiSubject builds the full management-API subject for a relative verb
// path, e.g. "STREAM.CREATE.orders" -> "$JS.API.STREAM.CREATE.orders".
func (js *JetStreamContext) apiSubject(verb string) string {
	return js.apiPrefix + verb
}

// apiRequest performs a request/reply round trip against the management
// API and unmarshals the JSON response, returning an *Error with
// ErrCodeNotFound/ErrCodeMismatch/etc. translated from the response's
// "error" object where present (spec.md §4.8 admin surface).
func (js *JetStreamContext) apiRequest(verb string, reqBody, respBody any) error {
	var payload []byte
	var err error
	if reqBody != nil {
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return newErr(ErrCodeGeneric, "JetStreamContext.apiRequest", err)
		}
	} else {
		payload = []byte("{}")
	}

	msg, err := js.nc.Request(js.apiSubject(verb), payload, js.timeout)
	if err != nil {
		return err
	}

	var env apiResponseEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return newErr(ErrCodeProtocol, "JetStreamContext.apiRequest", err)
	}
	if env.Error != nil {
		return translateAPIError(env.Error)
	}
	if respBody != nil {
		return json.Unmarshal(msg.Data, respBody)
	}
	return nil
}

// apiResponseEnvelope captures the "error" object every management-API
// response may carry alongside its type-specific fields (spec.md §6).
type apiResponseEnvelope struct {
	Type  string       `json:"type,omitempty"`
	Error *apiErrorObj `json:"error,omitempty"`
}

type apiErrorObj struct {
	Code        int    `json:"code"`
	ErrCode     int    `json:"err_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func translateAPIError(e *apiErrorObj) error {
	switch e.Code {
	case 404:
		return newErrf(ErrCodeNotFound, "jetstream", e.Description)
	case 409:
		return newErrf(ErrCodeMismatch, "jetstream", e.Description)
	default:
		return newErrf(ErrCodeGeneric, "jetstream", e.Description)
	}
}

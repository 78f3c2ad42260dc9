package nats

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Request wraps an inbound service call with response helpers (spec.md
// §4.10), mirroring the convenience the teacher's HTTP handlers get from
// net/http's ResponseWriter but over a reply-subject publish instead.
type Request struct {
	msg *Msg
	ep  *Endpoint
}

// Data is the raw request payload.
func (r *Request) Data() []byte { return r.msg.Data }

// Headers is the request's header block, possibly empty.
func (r *Request) Headers() Header { return r.msg.Header }

// Respond sends data back to the requester.
func (r *Request) Respond(data []byte) error {
	if r.msg.Reply == "" {
		return newErrf(ErrCodeInvalidArg, "Request.Respond", "request has no reply subject")
	}
	return r.msg.sub.nc.Publish(r.msg.Reply, data)
}

// RespondJSON marshals v and sends it back to the requester.
func (r *Request) RespondJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return newErr(ErrCodeGeneric, "Request.RespondJSON", err)
	}
	return r.Respond(b)
}

// Error sends a structured error response (spec.md §4.10 "service error
// envelope"): the service-error headers a caller can use to distinguish a
// handled application error from a successful payload.
func (r *Request) Error(code, description string, data []byte) error {
	if r.ep != nil {
		atomic.AddInt64(&r.ep.numErrors, 1)
		r.ep.lastError.store(description)
	}
	if r.msg.Reply == "" {
		return newErrf(ErrCodeInvalidArg, "Request.Error", "request has no reply subject")
	}
	m := &Msg{Subject: r.msg.Reply, Data: data, Header: NewHeader()}
	m.Header.Set("Nats-Service-Error", description)
	m.Header.Set("Nats-Service-Error-Code", code)
	return r.msg.sub.nc.PublishMsg(m)
}

// Handler processes one service request.
type Handler func(*Request)

// EndpointStats mirrors the counters spec.md §4.10 requires $SRV.STATS to
// report per endpoint.
type EndpointStats struct {
	Name                string        `json:"name"`
	Subject             string        `json:"subject"`
	NumRequests         int64         `json:"num_requests"`
	NumErrors           int64         `json:"num_errors"`
	ProcessingTimeTotal time.Duration `json:"processing_time"`
	LastError           string        `json:"last_error,omitempty"`
}

// Endpoint is one registered request/reply handler within a Service.
type Endpoint struct {
	name    string
	subject string
	queue   string
	handler Handler
	sub     *Subscription

	numRequests int64
	numErrors   int64
	totalNanos  int64
	lastError   atomicString
}

// atomicString is a tiny CAS-free string holder good enough for a
// best-effort "last error" field read by the stats endpoint, not a
// linearizable log.
type atomicString struct {
	v atomic.Value
}

func (a *atomicString) store(s string) { a.v.Store(s) }
func (a *atomicString) load() string {
	v, _ := a.v.Load().(string)
	return v
}

// EndpointConfig describes an endpoint at AddEndpoint time.
type EndpointConfig struct {
	Subject string
	Queue   string
	Handler Handler
}

// AddEndpoint registers handler to answer requests on subject, queue-group
// load-balanced across any other service instances bound to the same
// queue (spec.md §4.10 "horizontal scaling via queue groups").
func (s *Service) AddEndpoint(name string, cfg EndpointConfig) (*Endpoint, error) {
	ep := &Endpoint{name: name, subject: cfg.Subject, queue: cfg.Queue, handler: cfg.Handler}

	wrapped := func(msg *Msg) {
		start := time.Now()
		atomic.AddInt64(&ep.numRequests, 1)
		defer func() {
			atomic.AddInt64(&ep.totalNanos, int64(time.Since(start)))
			if rec := recover(); rec != nil {
				atomic.AddInt64(&ep.numErrors, 1)
				ep.lastError.store("handler panic")
			}
		}()
		ep.handler(&Request{msg: msg, ep: ep})
	}

	queue := cfg.Queue
	if queue == "" {
		queue = "q"
	}
	sub, err := s.nc.QueueSubscribe(cfg.Subject, queue, wrapped)
	if err != nil {
		return nil, err
	}
	ep.sub = sub

	s.mu.Lock()
	s.endpoints = append(s.endpoints, ep)
	s.mu.Unlock()
	return ep, nil
}

// Stats snapshots this endpoint's running counters.
func (e *Endpoint) Stats() EndpointStats {
	return EndpointStats{
		Name:                e.name,
		Subject:             e.subject,
		NumRequests:         atomic.LoadInt64(&e.numRequests),
		NumErrors:           atomic.LoadInt64(&e.numErrors),
		ProcessingTimeTotal: time.Duration(atomic.LoadInt64(&e.totalNanos)),
		LastError:           e.lastError.load(),
	}
}

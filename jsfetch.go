package nats

import (
	"encoding/json"
	"time"
)

// FetchOpt configures a single pull-consumer Fetch call.
type FetchOpt func(*fetchRequest)

type fetchRequest struct {
	batch     int
	maxBytes  int
	noWait    bool
	expires   time.Duration
	heartbeat time.Duration
}

// MaxBytes bounds a Fetch batch by total payload bytes in addition to
// message count.
func MaxBytes(n int) FetchOpt { return func(r *fetchRequest) { r.maxBytes = n } }

// NoWait requests an immediate (non-blocking) reply: the server returns
// whatever is available right away instead of waiting up to Expires for
// the batch to fill (spec.md §4.9 "pull consumer" request shapes).
func NoWait() FetchOpt { return func(r *fetchRequest) { r.noWait = true } }

// FetchExpires bounds how long the server will hold open a Fetch request
// waiting for messages to become available.
func FetchExpires(d time.Duration) FetchOpt { return func(r *fetchRequest) { r.expires = d } }

// FetchIdleHeartbeat asks the server to send 100-status heartbeats at this
// interval while the request is held open, so a dead consumer is told
// apart from a quiet one (spec.md §4.9 request shape).
func FetchIdleHeartbeat(d time.Duration) FetchOpt { return func(r *fetchRequest) { r.heartbeat = d } }

const defaultFetchExpires = 5 * time.Second

// Fetch pulls up to batch messages from a pull consumer, blocking until
// the batch fills, a FetchOpt-configured limit is reached, or the request
// expires (spec.md §4.9). The returned slice may be shorter than batch;
// a non-nil error is only returned when zero messages were obtained.
func (s *Subscription) Fetch(batch int, opts ...FetchOpt) ([]*Msg, error) {
	if batch < 1 {
		return nil, newErrf(ErrCodeInvalidArg, "Subscription.Fetch", "batch must be at least 1")
	}
	req := fetchRequest{batch: batch, expires: defaultFetchExpires}
	for _, o := range opts {
		o(&req)
	}

	s.mu.Lock()
	js := s.js
	subject := s.Subject
	s.mu.Unlock()
	if js == nil {
		return nil, newErrf(ErrCodeInvalidSubscription, "Subscription.Fetch", "not a pull-consumer subscription")
	}

	fs := newFetchState(req.batch, req.maxBytes, req.noWait)
	s.mu.Lock()
	js.activeFetch = fs
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		js.activeFetch = nil
		s.mu.Unlock()
	}()

	if err := js.sendPullRequest(subject, req, req.noWait); err != nil {
		return nil, err
	}

	s.mu.Lock()
	dedicated, _ := s.dispatcher.(*dedicatedDispatcher)
	s.mu.Unlock()

	var msgs []*Msg
	var status fetchStatus
	resent := false
	deadline := time.Now().Add(req.expires + time.Second)
	for len(msgs) < req.batch {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			status = fetchStatusTimeout
			break
		}
		dl := time.Now().Add(timeout)

		it, ok, timedOut := dedicated.queue.pop(&dl)
		select {
		case <-fs.done:
			if ok && it.kind == itemUser && it.msg != nil {
				s.onDequeue(it.msg)
				msgs = append(msgs, it.msg)
			}
			status = fs.status()
			// A 404 on a no-wait request means "nothing buffered right
			// now", not "give up": resend once as a waiting request that
			// holds open for the remaining deadline (spec.md §4.9).
			if status == fetchStatusNoMessages && req.noWait && !resent {
				resent = true
				fs = newFetchState(req.batch, req.maxBytes, false)
				s.mu.Lock()
				js.activeFetch = fs
				s.mu.Unlock()
				if err := js.sendPullRequest(subject, req, false); err != nil {
					return msgs, err
				}
				continue
			}
			goto done
		default:
		}
		if timedOut || !ok {
			status = fetchStatusTimeout
			break
		}
		if it.kind != itemUser || it.msg == nil {
			continue
		}
		s.onDequeue(it.msg)
		msgs = append(msgs, it.msg)
		// maxBytes stops at the first message that would exceed the budget;
		// that message is still delivered, subsequent ones are not (spec.md
		// §8). fs.gotBytes is already tallied by jsInboundHook as each
		// message arrived off the wire.
		if req.maxBytes > 0 && fs.isLastMessage() {
			break
		}
	}
done:
	// Whatever was collected wins over the terminal status; the status only
	// decides the error when the batch came back empty (spec.md §4.9).
	if len(msgs) > 0 {
		return msgs, nil
	}
	switch status {
	case fetchStatusLeadershipChange, fetchStatusMaxBytes:
		return nil, newErrf(ErrCodeLimitReached, "Subscription.Fetch", status.String())
	case fetchStatusConsumerDeleted:
		return nil, newErrf(ErrCodeNotFound, "Subscription.Fetch", status.String())
	default:
		return nil, ErrTimeout
	}
}

// sendPullRequest publishes the next-message request for one Fetch attempt
// against the consumer's MSG.NEXT subject, with sub's inbox as the reply
// (spec.md §4.9 request shape).
func (j *jsSubMeta) sendPullRequest(reply string, req fetchRequest, noWait bool) error {
	body, _ := json.Marshal(struct {
		Batch         int   `json:"batch"`
		MaxBytes      int   `json:"max_bytes,omitempty"`
		NoWait        bool  `json:"no_wait,omitempty"`
		Expires       int64 `json:"expires,omitempty"`
		IdleHeartbeat int64 `json:"idle_heartbeat,omitempty"`
	}{Batch: req.batch, MaxBytes: req.maxBytes, NoWait: noWait, Expires: req.expires.Nanoseconds(), IdleHeartbeat: req.heartbeat.Nanoseconds()})

	nextSubject := j.js.apiPrefix + "CONSUMER.MSG.NEXT." + j.stream + "." + j.consumer
	return j.js.nc.PublishMsg(&Msg{Subject: nextSubject, Reply: reply, Data: body})
}

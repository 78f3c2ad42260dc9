package nats

import "time"

const defaultOrderedHeartbeat = 5 * time.Second

// OrderedConsume creates an ordered consumer (spec.md §4.9 "ordered
// consumer"): an ephemeral push consumer with a single-replica delivery
// guarantee maintained entirely client-side by recreating the consumer
// from the last confirmed sequence whenever a sequence gap is observed
// (a dropped delivery, a leadership change) rather than relying on
// redelivery/acks. AckPolicy is forced to AckNone since the client never
// needs to ack — gaps are healed by resubscribing, not by redelivery.
func (js *JetStreamContext) OrderedConsume(stream string, cb func(*Msg), subOpts ...SubOption) (*Subscription, error) {
	cfg := &ConsumerConfig{
		DeliverPolicy: DeliverAll,
		AckPolicy:     AckNone,
		FlowControl:   true,
		Heartbeat:     defaultOrderedHeartbeat,
		MaxDeliver:    1,
		MemoryStorage: true,
		Replicas:      1,
	}

	sub, err := js.pushOrdered(stream, cfg, cb, subOpts)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (js *JetStreamContext) pushOrdered(stream string, cfg *ConsumerConfig, cb func(*Msg), subOpts []SubOption) (*Subscription, error) {
	cfg.DeliverSubject = js.nc.NewInbox()

	info, err := js.AddConsumer(stream, cfg)
	if err != nil {
		return nil, err
	}

	sopts := defaultSubOptions()
	for _, o := range subOpts {
		o(&sopts)
	}

	sub, err := js.nc.subscribe(cfg.DeliverSubject, "", cb, false, sopts)
	if err != nil {
		return nil, err
	}

	meta := &jsSubMeta{
		js:        js,
		stream:    stream,
		consumer:  info.Name,
		ackPolicy: AckNone,
		ordered:   true,
	}
	meta.recreateOnGap = func(afterStreamSeq uint64) error {
		return js.recreateOrderedConsumer(sub, stream, cfg, afterStreamSeq)
	}

	sub.mu.Lock()
	sub.js = meta
	sub.mu.Unlock()
	js.nc.installHeartbeatWatchdog(sub, cfg.Heartbeat)
	return sub, nil
}

// recreateOrderedConsumer tears down the current ephemeral consumer and
// deliver-subject subscription and replaces them with a fresh one starting
// just after afterStreamSeq (a stream sequence, since OptStartSeq positions
// against the stream, not the consumer), preserving FIFO-from-the-client's-
// perspective delivery across the gap (spec.md §4.9).
func (js *JetStreamContext) recreateOrderedConsumer(sub *Subscription, stream string, cfg *ConsumerConfig, afterStreamSeq uint64) error {
	sub.mu.Lock()
	oldConsumer := sub.js.consumer
	sub.mu.Unlock()

	_ = js.DeleteConsumer(stream, oldConsumer)

	newCfg := *cfg
	newCfg.DeliverPolicy = DeliverByStartSequence
	newCfg.OptStartSeq = afterStreamSeq + 1
	newCfg.DeliverSubject = js.nc.NewInbox()

	info, err := js.AddConsumer(stream, &newCfg)
	if err != nil {
		return err
	}

	cb := sub.cb
	sopts := SubscriptionOptions{PendingMsgsLimit: sub.msgsLimit, PendingBytesLimit: sub.bytesLimit}
	newSub, err := js.nc.subscribe(newCfg.DeliverSubject, "", cb, false, sopts)
	if err != nil {
		return err
	}

	newSub.mu.Lock()
	newSub.js = &jsSubMeta{
		js:        js,
		stream:    stream,
		consumer:  info.Name,
		ackPolicy: AckNone,
		ordered:   true,
	}
	// Rebind the gap handler to the replacement subscription; carrying the
	// old closure over would recreate from the torn-down sub's state on a
	// second gap.
	newSub.js.recreateOnGap = func(seq uint64) error {
		return js.recreateOrderedConsumer(newSub, stream, cfg, seq)
	}
	newSub.js.lastStreamSeq = afterStreamSeq
	newSub.mu.Unlock()
	js.nc.installHeartbeatWatchdog(newSub, newCfg.Heartbeat)

	return sub.nc.unsubscribe(sub, 0)
}

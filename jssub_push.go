package nats

// PushSubscribe creates (or binds to an existing durable) push consumer on
// stream and subscribes to its delivery subject (spec.md §4.9 "push
// consumer"). cb nil makes this a synchronous subscription consumed via
// Subscription.NextMsg, mirroring Conn.SubscribeSync.
func (js *JetStreamContext) PushSubscribe(stream string, cfg *ConsumerConfig, cb func(*Msg), subOpts ...SubOption) (*Subscription, error) {
	if cfg == nil {
		cfg = &ConsumerConfig{}
	}
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = AckExplicit
	}
	deliverSubject := cfg.DeliverSubject
	if deliverSubject == "" {
		deliverSubject = js.nc.NewInbox()
		cfg.DeliverSubject = deliverSubject
	}

	info, err := js.ensureConsumer(stream, cfg)
	if err != nil {
		return nil, err
	}
	if existing := info.Config.DeliverSubject; existing != "" && existing != deliverSubject {
		// Reattaching to a durable push consumer: deliver on the subject
		// the server already has, not the freshly allocated inbox
		// (spec.md §4.9 "use its delivery subject").
		deliverSubject = existing
	}

	sopts := defaultSubOptions()
	for _, o := range subOpts {
		o(&sopts)
	}

	var sub *Subscription
	if cb != nil {
		sub, err = js.nc.subscribe(deliverSubject, cfg.DeliverGroup, cb, false, sopts)
	} else {
		sub, err = js.nc.subscribe(deliverSubject, cfg.DeliverGroup, nil, true, sopts)
	}
	if err != nil {
		return nil, err
	}

	sub.mu.Lock()
	sub.js = &jsSubMeta{
		js:        js,
		stream:    stream,
		consumer:  info.Name,
		ackPolicy: cfg.AckPolicy,
		ackWait:   cfg.AckWait,
	}
	sub.mu.Unlock()
	js.nc.installHeartbeatWatchdog(sub, cfg.Heartbeat)
	return sub, nil
}

// ensureConsumer creates cfg's consumer on stream, tolerating a durable
// consumer that already exists only when its server-side config matches
// the requested one field by field — a mismatch is fatal rather than
// silently adopting the server's config (spec.md §4.9).
func (js *JetStreamContext) ensureConsumer(stream string, cfg *ConsumerConfig) (*ConsumerInfo, error) {
	if cfg.Durable != "" {
		if existing, err := js.ConsumerInfo(stream, cfg.Durable); err == nil {
			if mismatch := consumerConfigMismatch(&existing.Config, cfg); mismatch != "" {
				return nil, newErrf(ErrCodeMismatch, "JetStreamContext.ensureConsumer", "existing consumer config differs: "+mismatch)
			}
			return existing, nil
		}
	}
	return js.AddConsumer(stream, cfg)
}

// consumerConfigMismatch compares the fields the caller actually requested
// against the server's stored config and names the first that differs, or
// returns "" when they are compatible. Zero-valued requested fields mean
// "server default" and are not compared — except push-vs-pull mode, where
// an empty requested DeliverSubject is a positive statement that the
// consumer must be pull.
func consumerConfigMismatch(existing, requested *ConsumerConfig) string {
	if (existing.DeliverSubject == "") != (requested.DeliverSubject == "") {
		return "deliver_subject (push/pull mode)"
	}
	if requested.DeliverGroup != "" && existing.DeliverGroup != requested.DeliverGroup {
		return "deliver_group"
	}
	if requested.DeliverPolicy != "" && existing.DeliverPolicy != requested.DeliverPolicy {
		return "deliver_policy"
	}
	if requested.AckPolicy != "" && existing.AckPolicy != requested.AckPolicy {
		return "ack_policy"
	}
	if requested.AckWait != 0 && existing.AckWait != requested.AckWait {
		return "ack_wait"
	}
	if requested.MaxDeliver != 0 && existing.MaxDeliver != requested.MaxDeliver {
		return "max_deliver"
	}
	if requested.FilterSubject != "" && existing.FilterSubject != requested.FilterSubject {
		return "filter_subject"
	}
	if requested.ReplayPolicy != "" && existing.ReplayPolicy != requested.ReplayPolicy {
		return "replay_policy"
	}
	if requested.MaxAckPending != 0 && existing.MaxAckPending != requested.MaxAckPending {
		return "max_ack_pending"
	}
	if requested.Heartbeat != 0 && existing.Heartbeat != requested.Heartbeat {
		return "idle_heartbeat"
	}
	if requested.FlowControl != existing.FlowControl && requested.FlowControl {
		return "flow_control"
	}
	if requested.HeadersOnly != existing.HeadersOnly && requested.HeadersOnly {
		return "headers_only"
	}
	if requested.Replicas != 0 && existing.Replicas != requested.Replicas {
		return "num_replicas"
	}
	return ""
}

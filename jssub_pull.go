package nats

// PullSubscribe creates (or binds to an existing durable) pull consumer on
// stream (spec.md §4.9 "pull consumer"): no delivery subject is
// registered with the server; messages are only returned in response to
// an explicit Fetch call against a per-subscription reply inbox.
func (js *JetStreamContext) PullSubscribe(stream string, cfg *ConsumerConfig) (*Subscription, error) {
	if cfg == nil {
		cfg = &ConsumerConfig{}
	}
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = AckExplicit
	}
	cfg.DeliverSubject = ""

	info, err := js.ensureConsumer(stream, cfg)
	if err != nil {
		return nil, err
	}

	inbox := js.nc.NewInbox()
	sub, err := js.nc.subscribe(inbox, "", nil, true, defaultSubOptions())
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
	return sub, nil
}

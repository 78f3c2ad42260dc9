package nats

import "time"

// ConsumerConfig is the create request body for a consumer (spec.md §4.9).
// DeliverSubject set means a push consumer; empty means pull.
type ConsumerConfig struct {
	Name              string          `json:"name,omitempty"`
	Durable           string          `json:"durable_name,omitempty"`
	Description       string          `json:"description,omitempty"`
	DeliverSubject    string          `json:"deliver_subject,omitempty"`
	DeliverGroup      string          `json:"deliver_group,omitempty"`
	DeliverPolicy     deliverPolicy   `json:"deliver_policy,omitempty"`
	OptStartSeq       uint64          `json:"opt_start_seq,omitempty"`
	OptStartTime      *time.Time      `json:"opt_start_time,omitempty"`
	AckPolicy         ackPolicy       `json:"ack_policy,omitempty"`
	AckWait           time.Duration   `json:"ack_wait,omitempty"`
	MaxDeliver        int             `json:"max_deliver,omitempty"`
	Backoff           []time.Duration `json:"backoff,omitempty"`
	FilterSubject     string          `json:"filter_subject,omitempty"`
	FilterSubjects    []string        `json:"filter_subjects,omitempty"`
	ReplayPolicy      string          `json:"replay_policy,omitempty"`
	RateLimit         uint64          `json:"rate_limit_bps,omitempty"`
	SampleFrequency   string          `json:"sample_freq,omitempty"`
	MaxAckPending     int             `json:"max_ack_pending,omitempty"`
	MaxWaiting        int             `json:"max_waiting,omitempty"`
	Heartbeat         time.Duration   `json:"idle_heartbeat,omitempty"`
	FlowControl       bool            `json:"flow_control,omitempty"`
	HeadersOnly       bool            `json:"headers_only,omitempty"`
	MaxRequestBatch   int             `json:"max_batch,omitempty"`
	MaxRequestExpires time.Duration   `json:"max_expires,omitempty"`
	InactiveThreshold time.Duration   `json:"inactive_threshold,omitempty"`
	Replicas          int             `json:"num_replicas,omitempty"`
	MemoryStorage     bool            `json:"mem_storage,omitempty"`
}

// ConsumerInfo is the full response body for consumer lookups.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name"`
	Name           string         `json:"name"`
	Config         ConsumerConfig `json:"config"`
	Created        time.Time      `json:"created"`
	NumPending     uint64         `json:"num_pending"`
	NumAckPending  int            `json:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting"`
}

// AddConsumer creates a consumer on stream (spec.md §4.9). A durable
// consumer (Durable set) survives the creating subscription's lifetime; an
// ephemeral one (Durable empty) is torn down by the server once its last
// subscriber disconnects.
func (js *JetStreamContext) AddConsumer(stream string, cfg *ConsumerConfig) (*ConsumerInfo, error) {
	req := struct {
		StreamName string          `json:"stream_name"`
		Config     *ConsumerConfig `json:"config"`
	}{StreamName: stream, Config: cfg}

	verb := "CONSUMER.CREATE." + stream
	if cfg.Durable != "" {
		verb = "CONSUMER.DURABLE.CREATE." + stream + "." + cfg.Durable
	}
	var info ConsumerInfo
	if err := js.apiRequest(verb, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteConsumer removes a consumer.
func (js *JetStreamContext) DeleteConsumer(stream, consumer string) error {
	var resp struct {
		apiResponseEnvelope
		Success bool `json:"success"`
	}
	return js.apiRequest("CONSUMER.DELETE."+stream+"."+consumer, nil, &resp)
}

// ConsumerInfo looks up a consumer's current config and counters.
func (js *JetStreamContext) ConsumerInfo(stream, consumer string) (*ConsumerInfo, error) {
	var info ConsumerInfo
	if err := js.apiRequest("CONSUMER.INFO."+stream+"."+consumer, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

package nats

import "time"

// RetentionPolicy mirrors the management-API enum controlling when the
// server is allowed to discard messages from a stream.
type RetentionPolicy string

const (
	LimitsPolicy    RetentionPolicy = "limits"
	InterestPolicy  RetentionPolicy = "interest"
	WorkQueuePolicy RetentionPolicy = "workqueue"
)

// DiscardPolicy controls what happens when a stream's limits are reached.
type DiscardPolicy string

const (
	DiscardOld DiscardPolicy = "old"
	DiscardNew DiscardPolicy = "new"
)

// StorageType is the stream's backing storage.
type StorageType string

const (
	FileStorage   StorageType = "file"
	MemoryStorage StorageType = "memory"
)

// StreamConfig is the create/update request body for a stream (spec.md
// §4.8 "stream admin"). Zero values for the limit fields mean "unlimited",
// matching the wire protocol's convention.
type StreamConfig struct {
	Name         string          `json:"name"`
	Subjects     []string        `json:"subjects,omitempty"`
	Retention    RetentionPolicy `json:"retention,omitempty"`
	MaxConsumers int             `json:"max_consumers,omitempty"`
	MaxMsgs      int64           `json:"max_msgs,omitempty"`
	MaxBytes     int64           `json:"max_bytes,omitempty"`
	MaxAge       time.Duration   `json:"max_age,omitempty"`
	MaxMsgSize   int32           `json:"max_msg_size,omitempty"`
	Storage      StorageType     `json:"storage,omitempty"`
	Replicas     int             `json:"num_replicas,omitempty"`
	Discard      DiscardPolicy   `json:"discard,omitempty"`
	Duplicates   time.Duration   `json:"duplicate_window,omitempty"`
}

// StreamState reports a stream's current counters.
type StreamState struct {
	Msgs      uint64 `json:"messages"`
	Bytes     uint64 `json:"bytes"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Consumers int    `json:"consumer_count"`
}

// StreamInfo is the full response body for stream lookups.
type StreamInfo struct {
	Config  StreamConfig `json:"config"`
	Created time.Time    `json:"created"`
	State   StreamState  `json:"state"`
}

// AddStream creates a new stream (spec.md §4.8). MaxMsgs==0 means
// "unlimited", like the other StreamConfig limit fields: callers wanting
// zero retained messages must instead express
// that with a MaxAge of a few nanoseconds, matching how the wire protocol
// itself has no separate "zero means zero" flag.
func (js *JetStreamContext) AddStream(cfg *StreamConfig) (*StreamInfo, error) {
	if !subjectValidateLiteral(cfg.Name) && cfg.Name == "" {
		return nil, newErrf(ErrCodeInvalidArg, "JetStreamContext.AddStream", "stream name required")
	}
	var info StreamInfo
	if err := js.apiRequest("STREAM.CREATE."+cfg.Name, cfg, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateStream updates an existing stream's configuration.
func (js *JetStreamContext) UpdateStream(cfg *StreamConfig) (*StreamInfo, error) {
	var info StreamInfo
	if err := js.apiRequest("STREAM.UPDATE."+cfg.Name, cfg, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteStream removes a stream and all of its messages.
func (js *JetStreamContext) DeleteStream(name string) error {
	var resp struct {
		apiResponseEnvelope
		Success bool `json:"success"`
	}
	return js.apiRequest("STREAM.DELETE."+name, nil, &resp)
}

// StreamInfo looks up a stream's current config and state.
func (js *JetStreamContext) StreamInfo(name string) (*StreamInfo, error) {
	var info StreamInfo
	if err := js.apiRequest("STREAM.INFO."+name, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PurgeStreamOpt narrows a PurgeStream call (spec.md §4.8).
type PurgeStreamOpt struct {
	Subject string `json:"filter,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Keep    uint64 `json:"keep,omitempty"`
}

// PurgeStream removes all (or, with opt, a filtered subset of) messages
// from a stream while leaving the stream itself and its consumers intact.
func (js *JetStreamContext) PurgeStream(name string, opt *PurgeStreamOpt) error {
	var resp struct {
		apiResponseEnvelope
		Success bool   `json:"success"`
		Purged  uint64 `json:"purged"`
	}
	return js.apiRequest("STREAM.PURGE."+name, opt, &resp)
}

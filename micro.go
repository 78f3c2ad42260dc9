package nats

import (
	"sync"
	"time"
)

// Service is a named, versioned collection of request/reply endpoints
// discoverable over the $SRV.* control subjects (spec.md §4.10), grounded
// on the teacher's HTTP-verb-style handler registration and stats
// aggregation in ws/internal/single/core/handlers_http.go, adapted from an
// HTTP router onto NATS subjects.
type Service struct {
	mu sync.Mutex

	nc      *Conn
	name    string
	version string
	id      string

	metadata map[string]string

	endpoints []*Endpoint

	started time.Time
	stopped bool

	controlSubs []*Subscription
}

// ServiceConfig describes a service at AddService time.
type ServiceConfig struct {
	Name        string
	Version     string
	Description string
	Metadata    map[string]string
}

// AddService registers a service and its $SRV.PING/$SRV.INFO/$SRV.STATS
// discovery endpoints (spec.md §4.10).
func AddService(nc *Conn, cfg ServiceConfig) (*Service, error) {
	if cfg.Name == "" {
		return nil, newErrf(ErrCodeInvalidArg, "AddService", "service name required")
	}
	svc := &Service{
		nc:       nc,
		name:     cfg.Name,
		version:  cfg.Version,
		id:       randToken(8),
		metadata: cfg.Metadata,
		started:  time.Now(),
	}
	if err := svc.registerControlSubjects(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Name, Version, ID identify the running service instance.
func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }
func (s *Service) ID() string      { return s.id }

// Stop unsubscribes every endpoint and control subject (spec.md §4.10
// lifecycle: a stopped service stops answering discovery and requests).
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	for _, ep := range s.endpoints {
		_ = ep.sub.Unsubscribe()
	}
	for _, sub := range s.controlSubs {
		_ = sub.Unsubscribe()
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Service) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

package nats

import "encoding/json"

// Discovery subjects per spec.md §4.10, mirroring the shape of the
// management API's own "$JS.API." convention: a well-known prefix plus the
// verb, optionally narrowed to one service name or one instance ID.
const (
	srvPingSubject  = "$SRV.PING"
	srvInfoSubject  = "$SRV.INFO"
	srvStatsSubject = "$SRV.STATS"
)

// pingResponse is the $SRV.PING reply body: just enough to let a caller
// enumerate running instances of a service.
type pingResponse struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Version string `json:"version"`
}

type infoResponse struct {
	pingResponse
	Metadata  map[string]string `json:"metadata,omitempty"`
	Endpoints []endpointInfo    `json:"endpoints"`
}

type endpointInfo struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Queue   string `json:"queue_group,omitempty"`
}

type statsResponse struct {
	pingResponse
	Started   string          `json:"started"`
	Endpoints []EndpointStats `json:"endpoints"`
}

// registerControlSubjects subscribes the service (and, with a name/ID
// suffix, the narrowed variants) to the three discovery subjects (spec.md
// §4.10). Each verb gets its own subscription per subject suffix (nine in
// all), each bound directly to that verb's handler.
func (s *Service) registerControlSubjects() error {
	subjects := []struct {
		base string
		fn   func(*Msg)
	}{
		{srvPingSubject, s.onPing},
		{srvInfoSubject, s.onInfo},
		{srvStatsSubject, s.onStats},
	}

	for _, entry := range subjects {
		for _, suffix := range []string{"", "." + s.name, "." + s.name + "." + s.id} {
			subj := entry.base + suffix
			sub, err := s.nc.Subscribe(subj, entry.fn)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.controlSubs = append(s.controlSubs, sub)
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *Service) reply(msg *Msg, v any) {
	if msg.Reply == "" {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = msg.sub.nc.Publish(msg.Reply, b)
}

func (s *Service) onPing(msg *Msg) {
	s.mu.Lock()
	resp := pingResponse{Name: s.name, ID: s.id, Version: s.version}
	s.mu.Unlock()
	s.reply(msg, resp)
}

func (s *Service) onInfo(msg *Msg) {
	s.mu.Lock()
	resp := infoResponse{
		pingResponse: pingResponse{Name: s.name, ID: s.id, Version: s.version},
		Metadata:     s.metadata,
	}
	for _, ep := range s.endpoints {
		resp.Endpoints = append(resp.Endpoints, endpointInfo{Name: ep.name, Subject: ep.subject, Queue: ep.queue})
	}
	s.mu.Unlock()
	s.reply(msg, resp)
}

func (s *Service) onStats(msg *Msg) {
	s.mu.Lock()
	resp := statsResponse{
		pingResponse: pingResponse{Name: s.name, ID: s.id, Version: s.version},
		Started:      s.started.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, ep := range s.endpoints {
		resp.Endpoints = append(resp.Endpoints, ep.Stats())
	}
	s.mu.Unlock()
	s.reply(msg, resp)
}

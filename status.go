package nats

// Status enumerates the connection lifecycle states from DISCONNECTED
// through CLOSED (spec.md §3 Connection lifecycle).
type Status int

const (
	DISCONNECTED Status = iota
	CONNECTING
	CONNECTED
	RECONNECTING
	DRAINING_SUBS
	DRAINING_PUBS
	CLOSED
)

func (s Status) String() string {
	switch s {
	case DISCONNECTED:
		return "disconnected"
	case CONNECTING:
		return "connecting"
	case CONNECTED:
		return "connected"
	case RECONNECTING:
		return "reconnecting"
	case DRAINING_SUBS:
		return "draining_subs"
	case DRAINING_PUBS:
		return "draining_pubs"
	case CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

package session

// ConnectionState is the coordinator's lifecycle state. It is owned and
// mutated solely by the Coordinator; everyone else observes transitions via
// OnStateChange.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

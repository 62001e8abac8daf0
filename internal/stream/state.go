package stream

import "log/slog"

// State is the lifecycle state of one container's stats stream.
type State int

const (
	StateStarting State = iota
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// legal enumerates every permitted state transition. Anything else is
// rejected and leaves the state unchanged.
var legal = map[State][]State{
	StateStarting: {StateActive, StateStopped},
	StateActive:   {StateStopping, StateStopped},
	StateStopping: {StateStopped},
}

// transition moves the stream to the requested state if the move is
// legal. An illegal request is a no-op with a warning.
func (s *streamInfo) transition(to State) bool {
	for _, allowed := range legal[s.state] {
		if allowed == to {
			s.state = to
			return true
		}
	}
	slog.Warn("rejected illegal stream state transition",
		"container", s.id, "from", s.state.String(), "to", to.String())
	return false
}

package session

// Status is the connection state of a Controller.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusListening
	StatusSpeaking
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CanSend reports whether outbound text and media are accepted in s.
func (s Status) CanSend() bool {
	switch s {
	case StatusConnected, StatusListening, StatusSpeaking:
		return true
	default:
		return false
	}
}

// Event drives the state machine.
type Event int

const (
	EventConnect Event = iota
	EventOpened
	EventContent
	EventTurnComplete
	EventTransportError
	EventRemoteClose
	EventDisconnect
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventOpened:
		return "opened"
	case EventContent:
		return "content"
	case EventTurnComplete:
		return "turn_complete"
	case EventTransportError:
		return "transport_error"
	case EventRemoteClose:
		return "remote_close"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Transition returns the status that follows from when ev happens. ok is false when the
// event is not valid in from; the status is then left unchanged.
func Transition(from Status, ev Event) (to Status, ok bool) {
	switch ev {
	case EventConnect:
		if from == StatusDisconnected {
			return StatusConnecting, true
		}
	case EventOpened:
		if from == StatusConnecting {
			return StatusConnected, true
		}
	case EventContent:
		switch from {
		case StatusConnected, StatusListening:
			return StatusSpeaking, true
		case StatusSpeaking:
			return StatusSpeaking, true
		}
	case EventTurnComplete:
		if from.CanSend() {
			return StatusListening, true
		}
	case EventTransportError:
		return StatusError, true
	case EventRemoteClose:
		if from.CanSend() {
			return StatusDisconnected, true
		}
	case EventDisconnect:
		return StatusDisconnected, true
	}
	return from, false
}

// StatusChange is published on every status transition.
type StatusChange struct {
	SessionID string
	From      Status
	To        Status
	Event     Event
}

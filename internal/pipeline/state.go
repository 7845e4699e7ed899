package pipeline

// State is the lifecycle state of a [Controller].
type State int32

const (
	// Idle means no codec handles exist. Devices may still be open.
	Idle State = iota

	// Ready means codec handles exist and devices are open but not streaming.
	Ready

	// Running means a capture session is streaming.
	Running

	// Stopped means a session ended. Codec handles and devices are kept so the
	// next Start does not re-prepare.
	Stopped
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so snapshots carry the
// state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time snapshot of a [Controller]'s counters. Counters
// accumulate over the controller's lifetime, across sessions.
type Stats struct {
	State State `json:"state"`

	// Session is the id of the current session, or of the last one when the
	// pipeline is not running. Empty before the first Start.
	Session string `json:"session,omitempty"`

	Captured uint64 `json:"captured"`
	Encoded  uint64 `json:"encoded"`
	Decoded  uint64 `json:"decoded"`
	Played   uint64 `json:"played"`
	Dropped  uint64 `json:"dropped"`

	// CapturePending and PlaybackPending are the executor queue lengths.
	CapturePending  int `json:"capture_pending"`
	PlaybackPending int `json:"playback_pending"`
}

package module

// State is the position of an AudioModule in the attachment protocol.
type State int

// Attachment states.
const (
	Unconfigured State = iota
	TokenRequested
	TokenReceived
	SlotCreated
	RunnerCreated
	Configured
	TimedOut
	Releasing
	Released
)

var stateNames = [...]string{
	Unconfigured:   "unconfigured",
	TokenRequested: "token_requested",
	TokenReceived:  "token_received",
	SlotCreated:    "slot_created",
	RunnerCreated:  "runner_created",
	Configured:     "configured",
	TimedOut:       "timed_out",
	Releasing:      "releasing",
	Released:       "released",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// attachable reports whether Configure may start from s.
func (s State) attachable() bool {
	return s == Unconfigured || s == Released
}

package chat

// State is the controller's position in the turn-taking cycle
type State int

const (
	// StateIdle accepts submit, clear and export
	StateIdle State = iota
	// StateGenerating has one generation in flight; submit and clear are rejected
	StateGenerating
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

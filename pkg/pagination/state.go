package pagination

// State is a pagination engine state.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateWaiting
	StateExhausted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateWaiting:
		return "waiting"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateFailed || s == StateCancelled
}

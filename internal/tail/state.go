package tail

// State is a Reader lifecycle state.
type State int32

// Reader states.
const (
	StateOpening State = iota
	StateReading
	StateWaitingForGrowth
	StateDraining
	StateClosed
	StateFileMissing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReading:
		return "reading"
	case StateWaitingForGrowth:
		return "waiting_for_growth"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFileMissing:
		return "file_missing"
	default:
		return "unknown"
	}
}

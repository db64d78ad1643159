package online

// State is the lifecycle position of a session.
type State int

const (
	// StateInitialized: InitDecoding ran and nothing was decoded since.
	StateInitialized State = iota
	// StateDecoding: AdvanceDecoding has been called.
	StateDecoding
	// StateTerminated: the caller declared that no more input will be
	// decoded. Only queries, InitDecoding and FinalizeDecoding remain.
	StateTerminated
	// StateFinalized is terminal.
	StateFinalized
	// StateFailed: an advance failed part way through a frame. Only
	// queries and InitDecoding are allowed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateDecoding:
		return "decoding"
	case StateTerminated:
		return "terminated"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

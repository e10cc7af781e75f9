package writer

// State tracks a batch through the write lifecycle.
type State int

const (
	// StateOpen is a batch still accumulating records.
	StateOpen State = iota
	// StateFlushing is a sealed batch being validated.
	StateFlushing
	// StateWriting is a batch with an insert in flight.
	StateWriting
	// StateRetrying is a batch waiting out a backoff between attempts.
	StateRetrying
	// StateCommitted is a batch acknowledged by storage and checkpointed.
	StateCommitted
	// StateFailed is a batch that exhausted its retry budget or failed
	// validation.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFlushing:
		return "flushing"
	case StateWriting:
		return "writing"
	case StateRetrying:
		return "retrying"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

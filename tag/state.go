// Package tag implements the per-tag state machine spec.md §4.5
// describes: the thing a caller actually creates, reads, writes, and
// destroys, sitting on top of one shared scheduler.Session and driving
// it through a registry.Operation.
//
// Grounded on yatesdr-warlogix/plcman/manager.go's ManagedPLC: a
// mutex-guarded struct owning one connection's worth of state, whose
// public methods synchronously block the caller while an internal
// callback resumes the goroutine waiting on a channel.
package tag

// State is a tag's coarse lifecycle position, mirroring the C library's
// TAG_STATUS bits translated into a closed Go enum.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateIdle
	StateReading
	StateWriting
	StateAborting
	StatePreWriteReading
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateAborting:
		return "aborting"
	case StatePreWriteReading:
		return "pre_write_reading"
	default:
		return "unknown"
	}
}

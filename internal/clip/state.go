package clip

import (
	"context"
	"time"
)

// State is a step of the per-request state machine:
// received -> validated -> fetched -> trimmed -> composed -> captioned -> delivered,
// with failed reachable from any non-terminal state.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateFetched   State = "fetched"
	StateTrimmed   State = "trimmed"
	StateComposed  State = "composed"
	StateCaptioned State = "captioned"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// Event describes one transition. Request and Overlay are set on
// StateReceived; Err on StateFailed; Size and Elapsed on StateDelivered.
type Event struct {
	ClipID  string
	State   State
	Request Request
	Overlay bool
	Err     error
	Size    int64
	Elapsed time.Duration
}

// Recorder observes transitions. Implementations must not block the pipeline
// on their own failures.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

package dispatch

import (
	"strings"
	"time"
)

// State is a dispatch stage.
type State string

const (
	StateReceived  State = "received"
	StateFiltered  State = "filtered"
	StateRouted    State = "routed"
	StateBound     State = "bound"
	StateInvoked   State = "invoked"
	StateResponded State = "responded"
	StateFailed    State = "failed"
)

// Outcome records what happened to one request.
type Outcome struct {
	RequestID string
	Verb      string
	Path      string
	Route     string
	State     State
	Trace     []State
	Status    int
	Err       error
	Duration  time.Duration
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o *Outcome) fail(err error) {
	if o.Err == nil {
		o.Err = err
	}
	if o.State != StateFailed {
		o.enter(StateFailed)
	}
}

// Failed reports whether the request ended in the failed state.
func (o *Outcome) Failed() bool { return o.State == StateFailed }

// TraceString joins the trace, e.g. "received>filtered>routed".
func (o *Outcome) TraceString() string {
	parts := make([]string, len(o.Trace))
	for i, s := range o.Trace {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}

package conductor

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/rahul/conductor/internal/observability"
)

// Phase is the conductor's position in the plan lifecycle.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseFirstDispatch Phase = "first_dispatch"
	PhaseExecuting     Phase = "executing"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

// Machine events.
const (
	EventPlanned    statekit.EventType = "PLANNED"
	EventDispatched statekit.EventType = "DISPATCHED"
	EventComplete   statekit.EventType = "COMPLETE"
	EventFail       statekit.EventType = "FAIL"
	EventCancel     statekit.EventType = "CANCEL"
)

const (
	stateInit          = statekit.StateID(PhaseInit)
	stateFirstDispatch = statekit.StateID(PhaseFirstDispatch)
	stateExecuting     = statekit.StateID(PhaseExecuting)
	stateCompleted     = statekit.StateID(PhaseCompleted)
	stateFailed        = statekit.StateID(PhaseFailed)
	stateCancelled     = statekit.StateID(PhaseCancelled)
)

type machineContext struct {
	SessionID string
	Events    []statekit.EventType
}

func recordEvent(ctx **machineContext, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx
	c.Events = append(c.Events, event.Type)
	observability.Debug().
		Add(observability.SessionID(c.SessionID)).
		Add(observability.Str("event", string(event.Type))).
		Msg("phase transition")
}

func newMachineConfig() (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext]("conductor").
		WithInitial(stateInit).
		WithContext(&machineContext{}).
		WithAction("record", recordEvent).
		State(stateInit).
			On(EventPlanned).Target(stateFirstDispatch).Do("record").
			On(EventFail).Target(stateFailed).Do("record").
			On(EventCancel).Target(stateCancelled).Do("record").
			Done().
		State(stateFirstDispatch).
			On(EventDispatched).Target(stateExecuting).Do("record").
			On(EventComplete).Target(stateCompleted).Do("record").
			On(EventFail).Target(stateFailed).Do("record").
			On(EventCancel).Target(stateCancelled).Do("record").
			Done().
		State(stateExecuting).
			On(EventComplete).Target(stateCompleted).Do("record").
			On(EventFail).Target(stateFailed).Do("record").
			On(EventCancel).Target(stateCancelled).Do("record").
			Done().
		State(stateCompleted).
			Final().
			Done().
		State(stateFailed).
			Final().
			Done().
		State(stateCancelled).
			Final().
			Done().
		Build()
}

// accepted mirrors the chart above. Events are checked against it before
// they reach the interpreter.
var accepted = map[Phase]map[statekit.EventType]Phase{
	PhaseInit: {
		EventPlanned: PhaseFirstDispatch,
		EventFail:    PhaseFailed,
		EventCancel:  PhaseCancelled,
	},
	PhaseFirstDispatch: {
		EventDispatched: PhaseExecuting,
		EventComplete:   PhaseCompleted,
		EventFail:       PhaseFailed,
		EventCancel:     PhaseCancelled,
	},
	PhaseExecuting: {
		EventComplete: PhaseCompleted,
		EventFail:     PhaseFailed,
		EventCancel:   PhaseCancelled,
	},
}

// CanSend reports whether ev is accepted in phase.
func CanSend(phase Phase, ev statekit.EventType) bool {
	_, ok := accepted[phase][ev]
	return ok
}

// phaseMachine wraps the statekit interpreter for one session.
type phaseMachine struct {
	interp *statekit.Interpreter[*machineContext]
	ctx    *machineContext
}

func newPhaseMachine(sessionID string) (*phaseMachine, error) {
	cfg, err := newMachineConfig()
	if err != nil {
		return nil, fmt.Errorf("build phase machine: %w", err)
	}
	mctx := &machineContext{SessionID: sessionID}
	interp := statekit.NewInterpreter(cfg)
	interp.UpdateContext(func(c **machineContext) {
		*c = mctx
	})
	interp.Start()
	return &phaseMachine{interp: interp, ctx: mctx}, nil
}

func (m *phaseMachine) Phase() Phase {
	return Phase(m.interp.State().Value)
}

// Final reports whether the machine reached completed, failed or cancelled.
func (m *phaseMachine) Final() bool {
	return m.interp.Done()
}

// Send fires ev and fails if the current phase does not accept it.
func (m *phaseMachine) Send(ev statekit.EventType) error {
	before := m.Phase()
	if !CanSend(before, ev) {
		return fmt.Errorf("event %s not accepted in phase %s", ev, before)
	}
	m.interp.Send(statekit.Event{Type: ev})
	if after := m.Phase(); after != accepted[before][ev] {
		return fmt.Errorf("event %s moved %s to %s", ev, before, after)
	}
	return nil
}

// History lists the events the machine accepted, in order.
func (m *phaseMachine) History() []statekit.EventType {
	return append([]statekit.EventType(nil), m.ctx.Events...)
}

package agent

import (
	"context"
	"fmt"

	"github.com/rahul/conductor/internal/plan"
)

// Kind selects which decision the conductor is asking for.
type Kind string

const (
	KindInitialPlan Kind = "initial_plan"
	KindDispatch    Kind = "dispatch"
	KindExecute     Kind = "execute"
	KindSummarize   Kind = "summarize"
	KindNarrate     Kind = "narrate"
)

// Kinds lists every decision kind.
var Kinds = []Kind{KindInitialPlan, KindDispatch, KindExecute, KindSummarize, KindNarrate}

// Narration phases.
const (
	PhasePlan     = "plan"
	PhaseDispatch = "dispatch"
	PhaseExecute  = "execute"
	PhaseSummary  = "summary"
)

// Request is everything a decision function sees for one call.
type Request struct {
	Kind      Kind
	SessionID string
	Iteration int
	Scenario  plan.Scenario
	// State carries the plan, both memories and the pointers from the previous call.
	State plan.Snapshot
	// Phase names the loop phase being narrated. Only set for KindNarrate.
	Phase string
}

// Response is the decision function's answer. Absent fields are nil.
type Response struct {
	Plan      *plan.Plan            `json:"plan,omitempty"`
	ShortTerm *plan.ShortTermMemory `json:"st_memory,omitempty"`
	LongTerm  *plan.LongTermMemory  `json:"lt_memory,omitempty"`
	Current   *plan.CurrentTask     `json:"current_task,omitempty"`
	Input     *plan.AgentInput      `json:"agent_input,omitempty"`
	Output    *plan.AgentOutput     `json:"agent_output,omitempty"`
	Next      *plan.CurrentTask     `json:"next_task,omitempty"`
	NextInput *plan.AgentInput      `json:"next_agent_input,omitempty"`
	Text      *string               `json:"-"`
}

// Decider produces plans, dispatches, agent outputs and user-facing text.
type Decider interface {
	Decide(ctx context.Context, req Request) (Response, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (Response, error)

func (f DeciderFunc) Decide(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Validate checks that resp carries the fields its kind requires.
func Validate(kind Kind, resp Response) error {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}

	switch kind {
	case KindInitialPlan:
		need(resp.Plan != nil, "plan")
	case KindDispatch:
		need(resp.Current != nil, "current_task")
		need(resp.Input != nil, "agent_input")
		need(resp.Plan != nil, "plan")
	case KindExecute:
		need(resp.Output != nil, "agent_output")
		need(resp.Plan != nil, "plan")
	case KindSummarize, KindNarrate:
		need(resp.Text != nil, "text")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if len(missing) > 0 {
		return &MissingFieldsError{Kind: kind, Fields: missing}
	}
	return nil
}

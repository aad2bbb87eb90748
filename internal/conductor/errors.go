package conductor

import (
	"errors"
	"fmt"

	"github.com/rahul/conductor/internal/agent"
)

var (
	// ErrDecisionUnavailable marks a decision call that failed or returned an
	// unusable answer. The plan store is unchanged when it is returned.
	ErrDecisionUnavailable = errors.New("decision unavailable")
	// ErrPlanDidNotConverge is returned when the iteration bound is reached
	// before the plan reports completion.
	ErrPlanDidNotConverge = errors.New("plan did not converge")
	ErrSessionFinished    = errors.New("session already finished")
)

// DecisionError describes a failed decision call.
type DecisionError struct {
	Kind      agent.Kind
	Phase     Phase
	Iteration int
	Err       error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("%s: %s in phase %s (iteration %d): %v", ErrDecisionUnavailable, e.Kind, e.Phase, e.Iteration, e.Err)
}

func (e *DecisionError) Unwrap() []error {
	return []error{ErrDecisionUnavailable, e.Err}
}

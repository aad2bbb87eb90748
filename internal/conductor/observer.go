package conductor

import "github.com/rahul/conductor/internal/plan"

// Narration is a user-facing message about one loop phase.
type Narration struct {
	SessionID string
	Phase     string
	Iteration int
	Text      string
}

// Observer receives a private copy of every committed snapshot and every
// narration. Calls happen on the session goroutine; slow observers slow the loop.
type Observer interface {
	OnSnapshot(snap plan.Snapshot)
	OnNarration(n Narration)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Snapshot  func(plan.Snapshot)
	Narration func(Narration)
}

func (o ObserverFuncs) OnSnapshot(snap plan.Snapshot) {
	if o.Snapshot != nil {
		o.Snapshot(snap)
	}
}

func (o ObserverFuncs) OnNarration(n Narration) {
	if o.Narration != nil {
		o.Narration(n)
	}
}

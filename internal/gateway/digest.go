package gateway

import (
	"fmt"
	"strings"

	"github.com/rahul/conductor/internal/plan"
)

func statusMark(s plan.Status) string {
	switch s {
	case plan.StatusSuccessful:
		return "✓"
	case plan.StatusInProgress:
		return "…"
	case plan.StatusUnsuccessful:
		return "✗"
	default:
		return "·"
	}
}

// Digest is a compact plain-text status of the snapshot: one line per task with
// its display status and how many subtasks have succeeded.
func Digest(snap plan.Snapshot) string {
	var b strings.Builder
	overall := snap.Plan.Overall
	if overall == "" {
		overall = "pending"
	}
	fmt.Fprintf(&b, "Plan: %s", overall)
	if snap.Iteration > 0 {
		fmt.Fprintf(&b, " (iteration %d)", snap.Iteration)
	}
	for i, t := range snap.Plan.Tasks {
		done := 0
		for _, st := range t.Subtasks {
			if st.Status == plan.StatusSuccessful {
				done++
			}
		}
		fmt.Fprintf(&b, "\n%s %d. %s (%d/%d)", statusMark(t.DisplayStatus()), i+1, t.Description, done, len(t.Subtasks))
	}
	if cur := snap.Pointers.Next; cur != nil && cur.Subtask != "" {
		fmt.Fprintf(&b, "\nnext: %s", cur.Subtask)
	}
	return b.String()
}

package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeriveTaskStatus aggregates subtask statuses into the display status of their task.
// A single Unsuccessful subtask marks the aggregate Unsuccessful even while others
// are still running.
func DeriveTaskStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusBlank
	}

	allSuccessful := true
	anyUnsuccessful := false
	anyInProgress := false
	for _, s := range statuses {
		switch s {
		case StatusSuccessful:
		case StatusUnsuccessful:
			anyUnsuccessful = true
			allSuccessful = false
		case StatusInProgress:
			anyInProgress = true
			allSuccessful = false
		default:
			allSuccessful = false
		}
	}

	switch {
	case allSuccessful:
		return StatusSuccessful
	case anyUnsuccessful:
		return StatusUnsuccessful
	case anyInProgress:
		return StatusInProgress
	default:
		return StatusBlank
	}
}

// CompletionTokens are the overall-status values that end the loop.
var CompletionTokens = []string{"complete", "completed", "successful"}

// OverallStatus is the plan-level execution state.
type OverallStatus string

const (
	OverallBlank      OverallStatus = ""
	OverallInProgress OverallStatus = "In-Progress"
	OverallCompleted  OverallStatus = "Completed"
)

func normalizeOverall(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func isCompletionToken(raw string) bool {
	v := normalizeOverall(raw)
	for _, tok := range CompletionTokens {
		if v == tok {
			return true
		}
	}
	return false
}

func isInProgressToken(raw string) bool {
	switch strings.NewReplacer("-", " ", "_", " ").Replace(normalizeOverall(raw)) {
	case "in progress", "inprogress":
		return true
	}
	return false
}

// OverallStatus classifies the raw overall field.
func (p Plan) OverallStatus() OverallStatus {
	switch {
	case isCompletionToken(p.Overall):
		return OverallCompleted
	case isInProgressToken(p.Overall):
		return OverallInProgress
	default:
		return OverallBlank
	}
}

// IsComplete reports whether the plan carries a completion token.
// It is a pure predicate: repeated calls on the same plan agree.
func IsComplete(p Plan) bool {
	return isCompletionToken(p.Overall)
}

// IsCompleteJSON applies the completion check to a raw plan document. The first
// accepted key present in the document decides, whatever its value.
func IsCompleteJSON(raw []byte) (bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("decode plan: %w", err)
	}
	for _, key := range OverallKeys {
		v, ok := doc[key]
		if !ok {
			continue
		}
		s, _ := v.(string)
		return isCompletionToken(s), nil
	}
	return false, nil
}

// RecognizedOverall reports whether the raw overall field is empty or one of the
// known values. An unrecognised value never ends the loop.
func RecognizedOverall(p Plan) bool {
	return strings.TrimSpace(p.Overall) == "" || isCompletionToken(p.Overall) || isInProgressToken(p.Overall)
}

// IntegrityViolation describes a task whose authoritative status disagrees with
// its subtasks. Violations are advisory.
type IntegrityViolation struct {
	TaskIndex     int
	Task          string
	Authoritative Status
	Derived       Status
}

func (v IntegrityViolation) String() string {
	return fmt.Sprintf("task %d (%q): status %q, subtasks say %q", v.TaskIndex+1, v.Task, v.Authoritative, v.Derived)
}

// CheckIntegrity lists tasks breaking the status invariants: In Progress iff some
// subtask is In Progress, Successful iff every subtask is Successful.
func CheckIntegrity(p Plan) []IntegrityViolation {
	var out []IntegrityViolation
	for i, t := range p.Tasks {
		anyInProgress := false
		for _, st := range t.Subtasks {
			if st.Status == StatusInProgress {
				anyInProgress = true
				break
			}
		}
		derived := t.DisplayStatus()

		bad := (t.Status == StatusInProgress) != anyInProgress ||
			(t.Status == StatusSuccessful) != (derived == StatusSuccessful)
		if bad {
			out = append(out, IntegrityViolation{
				TaskIndex:     i,
				Task:          t.Description,
				Authoritative: t.Status,
				Derived:       derived,
			})
		}
	}
	return out
}

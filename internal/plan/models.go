// Package plan defines the plan data model threaded through a conductor session:
// tasks, subtasks, statuses, memory slots and the dispatch pointers.
package plan

import (
	"encoding/json"
	"strings"
)

// Status is the execution state of a task or subtask.
type Status string

const (
	StatusBlank        Status = ""
	StatusInProgress   Status = "In Progress"
	StatusSuccessful   Status = "Successful"
	StatusUnsuccessful Status = "Unsuccessful"
)

// ParseStatus maps the free-form status text emitted by the decision function onto
// the four known values. Anything unrecognised is Blank.
func ParseStatus(s string) Status {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", " ", "_", " ").Replace(norm)
	switch norm {
	case "in progress", "inprogress", "running":
		return StatusInProgress
	case "successful", "success", "completed", "complete", "done":
		return StatusSuccessful
	case "unsuccessful", "failed", "failure", "error":
		return StatusUnsuccessful
	default:
		return StatusBlank
	}
}

// UnmarshalJSON accepts any string (or null) and normalises it.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = StatusBlank
		return nil
	}
	*s = ParseStatus(*raw)
	return nil
}

// Subtask is a single agent execution step.
type Subtask struct {
	Description   string `json:"Sub_Task"`
	AgentName     string `json:"Agent"`
	AgentFunction string `json:"Agent_Function"`
	Output        string `json:"Sub_Task_Output,omitempty"`
	Observation   string `json:"Sub_Task_Output_Observation,omitempty"`
	Status        Status `json:"Subtask_Status"`
}

// Task groups subtasks. Status is authoritative and set by the decision function;
// DisplayStatus is derived from the subtasks and may disagree with it.
type Task struct {
	Description string    `json:"Task"`
	Output      string    `json:"Task_Output,omitempty"`
	Observation string    `json:"Task_Output_Observation,omitempty"`
	Status      Status    `json:"Task_Status"`
	Subtasks    []Subtask `json:"Sub_Tasks"`
}

// DisplayStatus is the status used for rendering.
func (t Task) DisplayStatus() Status {
	statuses := make([]Status, len(t.Subtasks))
	for i, st := range t.Subtasks {
		statuses[i] = st.Status
	}
	return DeriveTaskStatus(statuses)
}

const (
	// OverallKey is the canonical name of the overall-status field.
	OverallKey = "Overall_execution_of_the_plan"
	// LegacyOverallKey is an older spelling still produced by some prompts.
	LegacyOverallKey = "Overall execution of the plan"
)

// OverallKeys lists the accepted overall-status keys in lookup order.
var OverallKeys = []string{OverallKey, LegacyOverallKey}

// Plan is the ordered task list plus the raw overall execution status.
type Plan struct {
	Tasks   []Task `json:"Tasks"`
	Overall string `json:"Overall_execution_of_the_plan"`
}

// UnmarshalJSON reads the overall status from whichever accepted key appears first.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Plan
	if raw, ok := fields["Tasks"]; ok {
		if err := json.Unmarshal(raw, &out.Tasks); err != nil {
			return err
		}
	}

	for _, key := range OverallKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if v != nil {
			out.Overall = *v
		}
		break
	}

	*p = out
	return nil
}

// Clone returns a deep copy.
func (p Plan) Clone() Plan {
	out := Plan{Overall: p.Overall}
	if p.Tasks != nil {
		out.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			out.Tasks[i] = t
			if t.Subtasks != nil {
				out.Tasks[i].Subtasks = append([]Subtask(nil), t.Subtasks...)
			}
		}
	}
	return out
}

// Memory is a thought/action/observation scratch record.
type Memory struct {
	Thought     string `json:"Thought,omitempty"`
	Action      string `json:"Action,omitempty"`
	Observation string `json:"Observation,omitempty"`
}

// ShortTermMemory is scoped to the current plan's execution.
type ShortTermMemory Memory

// LongTermMemory is intended to span plans; it is re-seeded every session.
type LongTermMemory Memory

// CurrentTask points at the subtask the loop is about to execute.
// The same shape is used for the next-task pointer.
type CurrentTask struct {
	Task    string `json:"Task"`
	Subtask string `json:"Subtask"`
}

// AgentInput is the dispatch envelope for one subtask execution.
type AgentInput struct {
	Instruction   string `json:"agent_input"`
	AgentName     string `json:"Agent"`
	AgentFunction string `json:"Agent_Function"`
}

// AgentOutput is the result envelope of one subtask execution.
type AgentOutput struct {
	Result        string `json:"agent_output"`
	AgentName     string `json:"Agent"`
	AgentFunction string `json:"Agent_Function"`
}

// Scenario is the free-text request that seeds a session.
type Scenario struct {
	Industry string `json:"industry"`
	UseCase  string `json:"use_case"`
	Query    string `json:"user_query"`
}

// Pointers is the dispatch/execute state carried between iterations.
type Pointers struct {
	Current   *CurrentTask `json:"current_task,omitempty"`
	Input     *AgentInput  `json:"agent_input,omitempty"`
	Output    *AgentOutput `json:"agent_output,omitempty"`
	Next      *CurrentTask `json:"next_task,omitempty"`
	NextInput *AgentInput  `json:"next_agent_input,omitempty"`
}

// Clone returns a copy that shares no pointers with p.
func (p Pointers) Clone() Pointers {
	var out Pointers
	if p.Current != nil {
		c := *p.Current
		out.Current = &c
	}
	if p.Input != nil {
		c := *p.Input
		out.Input = &c
	}
	if p.Output != nil {
		c := *p.Output
		out.Output = &c
	}
	if p.Next != nil {
		c := *p.Next
		out.Next = &c
	}
	if p.NextInput != nil {
		c := *p.NextInput
		out.NextInput = &c
	}
	return out
}

// Snapshot is an immutable view of a session at one point in time.
type Snapshot struct {
	Plan      Plan            `json:"plan"`
	ShortTerm ShortTermMemory `json:"st_memory"`
	LongTerm  LongTermMemory  `json:"lt_memory"`
	Pointers  Pointers        `json:"pointers"`
	Version   int             `json:"version"`
	Iteration int             `json:"iteration"`
	Phase     string          `json:"phase,omitempty"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Plan = s.Plan.Clone()
	out.Pointers = s.Pointers.Clone()
	return out
}

package plan

import (
	"encoding/json"
	"strings"
	"testing"
)

const samplePlan = `{
  "Tasks": [
    {
      "Task": "Research market trends",
      "Task_Output": "",
      "Task_Status": "In Progress",
      "Sub_Tasks": [
        {
          "Sub_Task": "Collect engagement metrics",
          "Agent": "Web Search Agent",
          "Agent_Function": "perform_search",
          "Subtask_Status": "Successful"
        },
        {
          "Sub_Task": "Summarise competitor pricing",
          "Agent": "Pricing Agent",
          "Agent_Function": "compare_prices",
          "Subtask_Status": "In-Progress"
        }
      ]
    },
    {
      "Task": "Report",
      "Task_Status": null,
      "Sub_Tasks": []
    }
  ],
  "Overall execution of the plan": "In-Progress"
}`

func TestPlanUnmarshal(t *testing.T) {
	t.Parallel()

	var p Plan
	if err := json.Unmarshal([]byte(samplePlan), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if len(p.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(p.Tasks))
	}
	if p.Overall != "In-Progress" {
		t.Errorf("Overall = %q, want In-Progress from the legacy key", p.Overall)
	}
	first := p.Tasks[0]
	if first.Status != StatusInProgress {
		t.Errorf("Task_Status = %q, want In Progress", first.Status)
	}
	if first.Subtasks[1].Status != StatusInProgress {
		t.Errorf("Subtask_Status = %q, want In Progress", first.Subtasks[1].Status)
	}
	if first.Subtasks[0].AgentName != "Web Search Agent" || first.Subtasks[0].AgentFunction != "perform_search" {
		t.Errorf("agent fields = %q/%q", first.Subtasks[0].AgentName, first.Subtasks[0].AgentFunction)
	}
	if p.Tasks[1].Status != StatusBlank {
		t.Errorf("null Task_Status = %q, want blank", p.Tasks[1].Status)
	}
}

func TestPlanMarshalUsesCanonicalKey(t *testing.T) {
	t.Parallel()

	var p Plan
	if err := json.Unmarshal([]byte(samplePlan), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"Overall_execution_of_the_plan":"In-Progress"`) {
		t.Errorf("marshalled plan missing canonical key: %s", out)
	}
	if strings.Contains(string(out), "Overall execution of the plan") {
		t.Errorf("marshalled plan should not carry the legacy key: %s", out)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]Status{
		"":             StatusBlank,
		"Pending":      StatusBlank,
		"In Progress":  StatusInProgress,
		"In-Progress":  StatusInProgress,
		"in_progress":  StatusInProgress,
		"Successful":   StatusSuccessful,
		"Completed":    StatusSuccessful,
		"Unsuccessful": StatusUnsuccessful,
		"Failed":       StatusUnsuccessful,
		"maybe":        StatusBlank,
	}
	for in, want := range tests {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlanUnmarshalRejectsBadTasks(t *testing.T) {
	t.Parallel()

	var p Plan
	if err := json.Unmarshal([]byte(`{"Tasks": "nope"}`), &p); err == nil {
		t.Error("expected error for non-array Tasks")
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	t.Parallel()

	s := Snapshot{
		Plan: Plan{Tasks: []Task{{Description: "t", Subtasks: []Subtask{{Description: "s"}}}}},
		Pointers: Pointers{
			Current: &CurrentTask{Task: "t", Subtask: "s"},
			Input:   &AgentInput{Instruction: "do it"},
		},
	}
	c := s.Clone()
	c.Plan.Tasks[0].Subtasks[0].Description = "changed"
	c.Plan.Tasks[0].Description = "changed"
	c.Pointers.Current.Subtask = "changed"
	c.Pointers.Input.Instruction = "changed"

	if s.Plan.Tasks[0].Subtasks[0].Description != "s" || s.Plan.Tasks[0].Description != "t" {
		t.Error("Clone() shares plan storage with the original")
	}
	if s.Pointers.Current.Subtask != "s" || s.Pointers.Input.Instruction != "do it" {
		t.Error("Clone() shares pointer storage with the original")
	}
}

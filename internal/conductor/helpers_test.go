package conductor

import (
	"fmt"

	"github.com/rahul/conductor/internal/agent"
	"github.com/rahul/conductor/internal/plan"
)

var testScenario = plan.Scenario{Industry: "Retail", UseCase: "Pricing", Query: "find the cheapest console"}

// researchPlan is a one-task plan whose subtasks carry the given statuses.
func researchPlan(overall string, statuses ...plan.Status) *plan.Plan {
	subs := make([]plan.Subtask, len(statuses))
	for i, s := range statuses {
		subs[i] = plan.Subtask{
			Description:   fmt.Sprintf("sub %d", i+1),
			AgentName:     "Web Search Agent",
			AgentFunction: "perform_search",
			Status:        s,
		}
	}
	statusList := append([]plan.Status(nil), statuses...)
	return &plan.Plan{
		Tasks:   []plan.Task{{Description: "Research", Status: plan.DeriveTaskStatus(statusList), Subtasks: subs}},
		Overall: overall,
	}
}

func stm(s string) *plan.ShortTermMemory { return &plan.ShortTermMemory{Thought: s} }
func ltm(s string) *plan.LongTermMemory  { return &plan.LongTermMemory{Thought: s} }

func initialStep() agent.ScriptStep {
	return agent.ScriptStep{
		ExpectKind: agent.KindInitialPlan,
		Response: agent.Response{
			Plan:      researchPlan("", plan.StatusBlank, plan.StatusBlank),
			ShortTerm: stm("planned"),
			LongTerm:  ltm("seed"),
		},
	}
}

func dispatchStep(n int) agent.ScriptStep {
	return agent.ScriptStep{
		ExpectKind: agent.KindDispatch,
		Response: agent.Response{
			Plan:      researchPlan("In-Progress", plan.StatusInProgress, plan.StatusBlank),
			ShortTerm: stm(fmt.Sprintf("dispatch %d", n)),
			LongTerm:  ltm("seed"),
			Current:   &plan.CurrentTask{Task: "Research", Subtask: fmt.Sprintf("sub %d", n)},
			Input:     &plan.AgentInput{Instruction: fmt.Sprintf("do %d", n), AgentName: "Web Search Agent", AgentFunction: "perform_search"},
		},
	}
}

func executeStep(n int, overall string) agent.ScriptStep {
	return agent.ScriptStep{
		ExpectKind: agent.KindExecute,
		Response: agent.Response{
			Plan:      researchPlan(overall, plan.StatusSuccessful, plan.StatusInProgress),
			ShortTerm: stm(fmt.Sprintf("executed %d", n)),
			LongTerm:  ltm(fmt.Sprintf("learned %d", n)),
			Output:    &plan.AgentOutput{Result: fmt.Sprintf("output %d", n), AgentName: "Web Search Agent", AgentFunction: "perform_search"},
			Next:      &plan.CurrentTask{Task: "Research", Subtask: fmt.Sprintf("sub %d", n+1)},
			NextInput: &plan.AgentInput{Instruction: fmt.Sprintf("do %d", n+1), AgentName: "Web Search Agent", AgentFunction: "perform_search"},
		},
	}
}

func summaryStep(text string) agent.ScriptStep {
	return agent.ScriptStep{ExpectKind: agent.KindSummarize, Response: agent.Response{Text: &text}}
}

// twoPairScript completes the plan on the second execute.
func twoPairScript() []agent.ScriptStep {
	return []agent.ScriptStep{
		initialStep(),
		dispatchStep(1),
		executeStep(1, "In-Progress"),
		dispatchStep(2),
		executeStep(2, "Successful"),
		summaryStep("all done"),
	}
}

type snapshotRecorder struct {
	snaps      []plan.Snapshot
	narrations []Narration
}

func (r *snapshotRecorder) OnSnapshot(s plan.Snapshot) { r.snaps = append(r.snaps, s) }
func (r *snapshotRecorder) OnNarration(n Narration)   { r.narrations = append(r.narrations, n) }

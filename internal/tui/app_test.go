package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/plan"
)

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestQuitCancelsSession(t *testing.T) {
	t.Parallel()

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		cancelled := false
		m := NewModel(plan.Scenario{}, func() { cancelled = true })
		_, cmd := m.Update(key)
		if !cancelled {
			t.Errorf("%s did not cancel the session", key)
		}
		if !isQuit(cmd) {
			t.Errorf("%s did not quit", key)
		}
	}
}

func TestOtherKeysIgnored(t *testing.T) {
	t.Parallel()

	cancelled := false
	m := NewModel(plan.Scenario{}, func() { cancelled = true })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cancelled || cmd != nil {
		t.Error("unbound key should be a no-op")
	}
}

func TestSnapshotAndNarrationRendered(t *testing.T) {
	t.Parallel()

	m := NewModel(plan.Scenario{Query: "grow sales"}, nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(snapshotMsg(plan.Snapshot{
		Iteration: 3,
		Plan: plan.Plan{Tasks: []plan.Task{{
			Description: "Analyse funnel",
			Subtasks:    []plan.Subtask{{Description: "pull data", AgentName: "Analyst"}},
		}}},
	}))
	m.Update(narrationMsg(conductor.Narration{Phase: "dispatch", Text: "sending to analyst"}))

	view := m.View()
	for _, want := range []string{"grow sales", "Analyse funnel", "[dispatch]", "sending to analyst", "iteration 3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestFeedIsBounded(t *testing.T) {
	t.Parallel()

	m := NewModel(plan.Scenario{}, nil)
	for i := 0; i < maxFeed+10; i++ {
		m.Update(narrationMsg(conductor.Narration{Text: "n"}))
	}
	if len(m.feed) != maxFeed {
		t.Errorf("len(feed) = %d, want %d", len(m.feed), maxFeed)
	}
}

func TestDoneStates(t *testing.T) {
	t.Parallel()

	m := NewModel(plan.Scenario{}, nil)
	if _, ok := m.Result(); ok {
		t.Fatal("Result() reported a result before the run finished")
	}

	_, cmd := m.Update(doneMsg(conductor.Result{Outcome: conductor.OutcomeCompleted, Summary: "all done"}))
	if isQuit(cmd) {
		t.Error("completed run should stay on screen until the user quits")
	}
	if !strings.Contains(m.View(), "all done") {
		t.Error("summary not shown")
	}
	if res, ok := m.Result(); !ok || res.Outcome != conductor.OutcomeCompleted {
		t.Errorf("Result() = %+v, %v", res, ok)
	}

	failed := NewModel(plan.Scenario{}, nil)
	failed.Update(doneMsg(conductor.Result{Outcome: conductor.OutcomeDecisionUnavailable, Err: errors.New("model offline")}))
	if !strings.Contains(failed.View(), "could not continue the plan: model offline") {
		t.Errorf("failure view = %s", failed.View())
	}

	cancelled := NewModel(plan.Scenario{}, nil)
	if _, cmd := cancelled.Update(doneMsg(conductor.Result{Outcome: conductor.OutcomeCancelled})); !isQuit(cmd) {
		t.Error("cancelled run should close the view")
	}
}

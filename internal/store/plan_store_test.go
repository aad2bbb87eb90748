package store

import (
	"sync"
	"testing"

	"github.com/rahul/conductor/internal/plan"
)

func TestPlanStoreReplace(t *testing.T) {
	s := NewPlanStore()
	if s.Version() != 0 {
		t.Fatalf("Version() = %d, want 0", s.Version())
	}

	p := plan.Plan{Tasks: []plan.Task{{Description: "t1"}}, Overall: "In-Progress"}
	st := plan.ShortTermMemory{Thought: "st"}
	lt := plan.LongTermMemory{Thought: "lt"}
	s.Replace(p, st, lt)

	got := s.Get()
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.Plan.Tasks[0].Description != "t1" || got.ShortTerm.Thought != "st" || got.LongTerm.Thought != "lt" {
		t.Errorf("Get() = %+v, want the replaced values", got)
	}

	// Mutating the caller's plan or the returned snapshot must not leak into the store.
	p.Tasks[0].Description = "caller edit"
	got.Plan.Tasks[0].Description = "reader edit"
	if s.Get().Plan.Tasks[0].Description != "t1" {
		t.Error("store shares plan storage with callers")
	}
}

func TestPlanStoreAcceptsInconsistentPlan(t *testing.T) {
	s := NewPlanStore()
	bad := plan.Plan{Tasks: []plan.Task{{
		Description: "running, but nothing runs",
		Status:      plan.StatusInProgress,
		Subtasks:    []plan.Subtask{{Status: plan.StatusBlank}},
	}}}
	s.Replace(bad, plan.ShortTermMemory{}, plan.LongTermMemory{})
	if got := s.Get().Plan.Tasks[0].Status; got != plan.StatusInProgress {
		t.Errorf("stored status = %q, want the value as given", got)
	}
}

func TestPlanStoreSetPointers(t *testing.T) {
	s := NewPlanStore()
	ptr := plan.Pointers{Current: &plan.CurrentTask{Task: "t", Subtask: "s"}}
	s.SetPointers(ptr, 3, "executing")
	ptr.Current.Subtask = "changed"

	got := s.Get()
	if got.Pointers.Current.Subtask != "s" {
		t.Errorf("Current.Subtask = %q, want s", got.Pointers.Current.Subtask)
	}
	if got.Iteration != 3 || got.Phase != "executing" {
		t.Errorf("Iteration/Phase = %d/%q", got.Iteration, got.Phase)
	}
	if got.Version != 0 {
		t.Errorf("SetPointers must not bump Version, got %d", got.Version)
	}
}

func TestPlanStoreConcurrentReaders(t *testing.T) {
	s := NewPlanStore()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Get()
				if len(snap.Plan.Tasks) != 0 && len(snap.Plan.Tasks) != 2 {
					t.Errorf("observed partial plan with %d tasks", len(snap.Plan.Tasks))
					return
				}
			}
		}()
	}
	for j := 0; j < 200; j++ {
		s.Replace(plan.Plan{Tasks: []plan.Task{{Description: "a"}, {Description: "b"}}}, plan.ShortTermMemory{}, plan.LongTermMemory{})
	}
	wg.Wait()
}

func TestPlanStoreCommit(t *testing.T) {
	s := NewPlanStore()
	p := plan.Plan{Tasks: []plan.Task{{Description: "t"}}}
	ptr := plan.Pointers{Output: &plan.AgentOutput{Result: "data"}}

	snap := s.Commit(p, plan.ShortTermMemory{Action: "a"}, plan.LongTermMemory{}, ptr, 2, "executing")
	if snap.Version != 1 || snap.Iteration != 2 || snap.Phase != "executing" {
		t.Errorf("Commit() = %+v", snap)
	}
	if snap.Pointers.Output.Result != "data" || snap.ShortTerm.Action != "a" {
		t.Errorf("Commit() lost fields: %+v", snap)
	}
	snap.Pointers.Output.Result = "edited"
	if s.Get().Pointers.Output.Result != "data" {
		t.Error("returned snapshot shares pointer storage with the store")
	}
}

package store

import (
	"sync"

	"github.com/rahul/conductor/internal/plan"
)

// PlanStore holds the single live plan of a session together with its memory
// slots and dispatch pointers. Replace swaps everything at once, so readers never
// observe a half-applied decision.
type PlanStore struct {
	mu   sync.RWMutex
	snap plan.Snapshot
}

func NewPlanStore() *PlanStore {
	return &PlanStore{}
}

// Get returns a deep copy of the current snapshot.
func (s *PlanStore) Get() plan.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Replace stores a new plan and memory. No validation is applied.
func (s *PlanStore) Replace(p plan.Plan, st plan.ShortTermMemory, lt plan.LongTermMemory) plan.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Plan = p.Clone()
	s.snap.ShortTerm = st
	s.snap.LongTerm = lt
	s.snap.Version++
	return s.snap.Clone()
}

// SetPointers replaces the dispatch pointer state and iteration marker.
func (s *PlanStore) SetPointers(ptr plan.Pointers, iteration int, phase string) plan.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Pointers = ptr.Clone()
	s.snap.Iteration = iteration
	s.snap.Phase = phase
	return s.snap.Clone()
}

// Commit applies a whole decision, plan and pointers together, under one lock.
func (s *PlanStore) Commit(p plan.Plan, st plan.ShortTermMemory, lt plan.LongTermMemory, ptr plan.Pointers, iteration int, phase string) plan.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Plan = p.Clone()
	s.snap.ShortTerm = st
	s.snap.LongTerm = lt
	s.snap.Pointers = ptr.Clone()
	s.snap.Iteration = iteration
	s.snap.Phase = phase
	s.snap.Version++
	return s.snap.Clone()
}

// Version is incremented on every Replace.
func (s *PlanStore) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Version
}

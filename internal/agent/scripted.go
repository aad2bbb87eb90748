package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrScriptExhausted is returned once a ScriptedDecider has no steps left.
var ErrScriptExhausted = errors.New("script exhausted")

// ScriptStep is one canned decision.
type ScriptStep struct {
	// ExpectKind asserts the kind of the request. Empty matches any kind.
	ExpectKind Kind
	Response   Response
	Err        error
	// Condition is an optional extra assertion on the request.
	Condition func(Request) bool
}

// ScriptedDecider replays a fixed sequence of decisions for deterministic
// tests. Narration requests can be answered separately so scripts stay short.
type ScriptedDecider struct {
	mu       sync.Mutex
	steps    []ScriptStep
	index    int
	requests []Request
	narrate  func(Request) (Response, error)
}

func NewScriptedDecider(steps ...ScriptStep) *ScriptedDecider {
	return &ScriptedDecider{steps: steps}
}

// OnNarrate answers KindNarrate requests with fn instead of consuming steps.
func (s *ScriptedDecider) OnNarrate(fn func(Request) (Response, error)) *ScriptedDecider {
	s.narrate = fn
	return s
}

func (s *ScriptedDecider) Decide(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if req.Kind == KindNarrate && s.narrate != nil {
		return s.narrate(req)
	}

	if s.index >= len(s.steps) {
		return Response{}, ErrScriptExhausted
	}
	step := s.steps[s.index]

	if step.ExpectKind != "" && step.ExpectKind != req.Kind {
		return Response{}, &UnexpectedKindError{Expected: step.ExpectKind, Actual: req.Kind, StepIndex: s.index}
	}
	if step.Condition != nil && !step.Condition(req) {
		return Response{}, fmt.Errorf("condition failed at step %d (%s)", s.index, req.Kind)
	}

	s.index++
	return step.Response, step.Err
}

// Requests returns every request received so far.
func (s *ScriptedDecider) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// CurrentStep returns the index of the next step to be replayed.
func (s *ScriptedDecider) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// UnexpectedKindError reports a request of the wrong kind for the script.
type UnexpectedKindError struct {
	Expected  Kind
	Actual    Kind
	StepIndex int
}

func (e *UnexpectedKindError) Error() string {
	return fmt.Sprintf("unexpected kind at step %d: expected %s, got %s", e.StepIndex, e.Expected, e.Actual)
}

package conductor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rahul/conductor/internal/agent"
	"github.com/rahul/conductor/internal/plan"
	"github.com/rahul/conductor/internal/store"
)

func TestRunCompletesAndSummarizes(t *testing.T) {
	t.Parallel()

	d := agent.NewScriptedDecider(twoPairScript()...)
	rec := &snapshotRecorder{}
	c := New(d, DefaultOptions())

	res, err := c.Run(context.Background(), testScenario, rec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %s, want completed", res.Outcome)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if res.Summary != "all done" {
		t.Errorf("Summary = %q", res.Summary)
	}
	if d.CurrentStep() != 6 {
		t.Errorf("decision calls = %d, want 6", d.CurrentStep())
	}
	if !plan.IsComplete(res.Snapshot.Plan) {
		t.Error("final snapshot should hold the completed plan")
	}
	if res.Snapshot.Phase != string(PhaseCompleted) {
		t.Errorf("snapshot phase = %q, want completed", res.Snapshot.Phase)
	}
	// initial plan + two dispatch/execute pairs
	if len(rec.snaps) != 5 {
		t.Errorf("observer saw %d snapshots, want 5", len(rec.snaps))
	}
}

func TestDecisionThreading(t *testing.T) {
	t.Parallel()

	d := agent.NewScriptedDecider(twoPairScript()...)
	if _, err := New(d, DefaultOptions()).Run(context.Background(), testScenario); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reqs := d.Requests()
	if len(reqs) != 6 {
		t.Fatalf("len(requests) = %d, want 6", len(reqs))
	}
	for _, r := range reqs {
		if r.Scenario != testScenario {
			t.Errorf("%s request scenario = %+v", r.Kind, r.Scenario)
		}
	}

	first := reqs[1]
	if first.State.ShortTerm.Thought != "planned" || first.State.LongTerm.Thought != "seed" {
		t.Errorf("first dispatch memory = %+v / %+v", first.State.ShortTerm, first.State.LongTerm)
	}
	if first.State.Pointers.Output != nil || first.State.Pointers.Next != nil {
		t.Error("first dispatch should carry no prior output")
	}

	exec1 := reqs[2]
	if exec1.State.Pointers.Current == nil || exec1.State.Pointers.Current.Subtask != "sub 1" {
		t.Errorf("execute current = %+v", exec1.State.Pointers.Current)
	}
	if exec1.State.Pointers.Input == nil || exec1.State.Pointers.Input.Instruction != "do 1" {
		t.Errorf("execute input = %+v", exec1.State.Pointers.Input)
	}
	if exec1.State.ShortTerm.Thought != "dispatch 1" {
		t.Errorf("execute memory = %+v", exec1.State.ShortTerm)
	}

	second := reqs[3]
	ptr := second.State.Pointers
	if ptr.Output == nil || ptr.Output.Result != "output 1" {
		t.Errorf("second dispatch output = %+v", ptr.Output)
	}
	if ptr.Next == nil || ptr.Next.Subtask != "sub 2" || ptr.NextInput == nil || ptr.NextInput.Instruction != "do 2" {
		t.Errorf("second dispatch next = %+v / %+v", ptr.Next, ptr.NextInput)
	}
	if second.State.ShortTerm.Thought != "executed 1" || second.State.LongTerm.Thought != "learned 1" {
		t.Errorf("second dispatch memory = %+v / %+v", second.State.ShortTerm, second.State.LongTerm)
	}
	if second.Iteration != 2 {
		t.Errorf("second dispatch iteration = %d, want 2", second.Iteration)
	}

	if reqs[5].Kind != agent.KindSummarize || !plan.IsComplete(reqs[5].State.Plan) {
		t.Error("summary should see the completed plan")
	}
}

func TestOmittedMemoryKeepsPrevious(t *testing.T) {
	t.Parallel()

	steps := twoPairScript()
	steps[3].Response.ShortTerm = nil
	steps[3].Response.LongTerm = nil
	d := agent.NewScriptedDecider(steps...)
	if _, err := New(d, DefaultOptions()).Run(context.Background(), testScenario); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	exec2 := d.Requests()[4]
	if exec2.State.ShortTerm.Thought != "executed 1" || exec2.State.LongTerm.Thought != "learned 1" {
		t.Errorf("memory after dispatch without memory = %+v / %+v", exec2.State.ShortTerm, exec2.State.LongTerm)
	}
}

func TestCompletionOnFirstExecute(t *testing.T) {
	t.Parallel()

	// mixed-case completion token
	done := executeStep(1, "")
	done.Response.Plan = researchPlan("COMPLETE", plan.StatusSuccessful, plan.StatusSuccessful)

	d := agent.NewScriptedDecider(initialStep(), dispatchStep(1), done, summaryStep("short"))
	c := New(d, DefaultOptions())
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Drive(context.Background(), s)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Iterations != 1 {
		t.Errorf("result = %+v", res)
	}
	if got := s.machine.History(); len(got) != 2 || got[0] != EventPlanned || got[1] != EventComplete {
		t.Errorf("events = %v, want [PLANNED COMPLETE]", got)
	}
}

func TestDecisionFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	boom := errors.New("model unavailable")
	failing := executeStep(1, "In-Progress")
	failing.Response = agent.Response{}
	failing.Err = boom

	d := agent.NewScriptedDecider(initialStep(), dispatchStep(1), failing)
	c := New(d, DefaultOptions())
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Drive(context.Background(), s)
	if !errors.Is(err, ErrDecisionUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("Drive() error = %v, want ErrDecisionUnavailable wrapping the cause", err)
	}
	var de *DecisionError
	if !errors.As(err, &de) {
		t.Fatalf("error is %T, want *DecisionError", err)
	}
	if de.Kind != agent.KindExecute || de.Iteration != 1 || de.Phase != PhaseFirstDispatch {
		t.Errorf("DecisionError = %+v", de)
	}
	if res.Outcome != OutcomeDecisionUnavailable {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	if s.Phase() != PhaseFailed {
		t.Errorf("Phase = %s, want failed", s.Phase())
	}

	snap := s.Store.Get()
	if snap.Version != 2 {
		t.Errorf("Version = %d, want 2 (plan + dispatch)", snap.Version)
	}
	if snap.Pointers.Output != nil {
		t.Error("failed execute must not write an agent output")
	}
	if snap.Pointers.Current == nil || snap.Pointers.Current.Subtask != "sub 1" {
		t.Errorf("current pointer = %+v, want the dispatched subtask", snap.Pointers.Current)
	}
}

func TestMalformedDecision(t *testing.T) {
	t.Parallel()

	bad := dispatchStep(1)
	bad.Response.Input = nil
	d := agent.NewScriptedDecider(initialStep(), bad)

	res, err := New(d, DefaultOptions()).Run(context.Background(), testScenario)
	if !errors.Is(err, agent.ErrMalformedDecision) || !errors.Is(err, ErrDecisionUnavailable) {
		t.Fatalf("Run() error = %v, want malformed decision", err)
	}
	if res.Snapshot.Version != 1 || res.Iterations != 0 {
		t.Errorf("result = %+v, want only the initial plan stored", res)
	}
}

func TestStepResumesFailedCall(t *testing.T) {
	t.Parallel()

	failing := agent.ScriptStep{ExpectKind: agent.KindExecute, Err: errors.New("timeout")}
	d := agent.NewScriptedDecider(
		initialStep(),
		dispatchStep(1),
		failing,
		executeStep(1, "Successful"),
		summaryStep("done"),
	)
	c := New(d, DefaultOptions())
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := c.Step(ctx, s); err != nil {
		t.Fatalf("plan step: %v", err)
	}
	if err := c.Step(ctx, s); err == nil {
		t.Fatal("expected the execute call to fail")
	}
	if s.Phase() != PhaseFirstDispatch || s.Iteration() != 1 {
		t.Errorf("after failure phase=%s iteration=%d", s.Phase(), s.Iteration())
	}

	// Retrying repeats only the failed execute, not the dispatch.
	if err := c.Step(ctx, s); err != nil {
		t.Fatalf("retried step: %v", err)
	}
	if s.Phase() != PhaseCompleted || s.Done() {
		t.Errorf("phase=%s done=%v, want completed awaiting summary", s.Phase(), s.Done())
	}
	if err := c.Step(ctx, s); err != nil {
		t.Fatalf("summary step: %v", err)
	}
	if !s.Done() || s.Summary() != "done" {
		t.Errorf("done=%v summary=%q", s.Done(), s.Summary())
	}
	if s.Iteration() != 1 {
		t.Errorf("Iteration() = %d, want 1", s.Iteration())
	}
	if err := c.Step(ctx, s); err != nil {
		t.Errorf("Step() on a summarised session = %v, want nil", err)
	}
}

func TestAbort(t *testing.T) {
	t.Parallel()

	c := New(agent.NewScriptedDecider(), DefaultOptions())
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort() = %v", err)
	}
	if !errors.Is(s.Abort(), ErrSessionFinished) {
		t.Error("second Abort() should report a finished session")
	}
	if err := c.Step(context.Background(), s); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Step() after abort = %v", err)
	}
	res, err := c.Drive(context.Background(), s)
	if err == nil || res.Outcome != OutcomeDecisionUnavailable {
		t.Errorf("Drive() after abort = %+v, %v", res, err)
	}
}

func TestMaxIterations(t *testing.T) {
	t.Parallel()

	d := agent.NewScriptedDecider(
		initialStep(),
		dispatchStep(1), executeStep(1, "In-Progress"),
		dispatchStep(2), executeStep(2, "In-Progress"),
	)
	opts := DefaultOptions()
	opts.MaxIterations = 2

	res, err := New(d, opts).Run(context.Background(), testScenario)
	if !errors.Is(err, ErrPlanDidNotConverge) {
		t.Fatalf("Run() error = %v, want ErrPlanDidNotConverge", err)
	}
	if res.Outcome != OutcomeDidNotConverge || res.Iterations != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(d.Requests()) != 5 {
		t.Errorf("decision calls = %d, want 5 (no third dispatch)", len(d.Requests()))
	}
	if res.Snapshot.Phase != string(PhaseExecuting) {
		t.Errorf("last committed phase = %q", res.Snapshot.Phase)
	}
}

func TestZeroMaxIterationsIsUnbounded(t *testing.T) {
	t.Parallel()

	const pairs = 30
	steps := []agent.ScriptStep{initialStep()}
	for i := 1; i < pairs; i++ {
		steps = append(steps, dispatchStep(i), executeStep(i, "In-Progress"))
	}
	steps = append(steps, dispatchStep(pairs), executeStep(pairs, "successful"), summaryStep("long"))

	opts := DefaultOptions()
	opts.MaxIterations = 0
	res, err := New(agent.NewScriptedDecider(steps...), opts).Run(context.Background(), testScenario)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Iterations != pairs {
		t.Errorf("Iterations = %d, want %d", res.Iterations, pairs)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := agent.NewScriptedDecider(twoPairScript()...)
	res, err := New(d, DefaultOptions()).Run(ctx, testScenario)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	if len(d.Requests()) != 0 {
		t.Errorf("decision calls = %d, want none", len(d.Requests()))
	}
}

func TestCancelledBetweenIterations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	script := agent.NewScriptedDecider(
		initialStep(),
		dispatchStep(1), executeStep(1, "In-Progress"),
		dispatchStep(2), executeStep(2, "In-Progress"),
	)
	d := agent.DeciderFunc(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		resp, err := script.Decide(ctx, req)
		if req.Kind == agent.KindExecute && req.Iteration == 1 {
			cancel()
		}
		return resp, err
	})

	c := New(d, DefaultOptions())
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Drive(ctx, s)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drive() error = %v", err)
	}
	if res.Outcome != OutcomeCancelled || res.Iterations != 1 {
		t.Errorf("result = %+v", res)
	}
	if s.Phase() != PhaseCancelled {
		t.Errorf("Phase = %s, want cancelled", s.Phase())
	}
	// The completed execute was kept.
	if res.Snapshot.Pointers.Output == nil || res.Snapshot.Pointers.Output.Result != "output 1" {
		t.Errorf("snapshot output = %+v", res.Snapshot.Pointers.Output)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	script := agent.NewScriptedDecider(twoPairScript()...)
	calls := 0
	d := agent.DeciderFunc(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		if req.Kind == agent.KindInitialPlan {
			calls++
			if calls < 3 {
				return agent.Response{}, errors.New("flaky")
			}
		}
		return script.Decide(ctx, req)
	})

	opts := DefaultOptions()
	opts.Retry = RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}
	res, err := New(d, opts).Run(context.Background(), testScenario)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 3 || res.Outcome != OutcomeCompleted {
		t.Errorf("calls = %d, outcome = %s", calls, res.Outcome)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	t.Parallel()

	boom := errors.New("still down")
	calls := 0
	d := agent.DeciderFunc(func(context.Context, agent.Request) (agent.Response, error) {
		calls++
		return agent.Response{}, boom
	})

	opts := DefaultOptions()
	opts.Retry = RetryPolicy{Attempts: 2, InitialDelay: time.Millisecond}
	res, err := New(d, opts).Run(context.Background(), testScenario)
	if !errors.Is(err, boom) || !errors.Is(err, ErrDecisionUnavailable) {
		t.Fatalf("Run() error = %v", err)
	}
	if calls < 2 {
		t.Errorf("calls = %d, want the call retried", calls)
	}
	if res.Snapshot.Version != 0 {
		t.Errorf("Version = %d, want untouched store", res.Snapshot.Version)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	t.Parallel()

	calls := 0
	d := agent.DeciderFunc(func(context.Context, agent.Request) (agent.Response, error) {
		calls++
		return agent.Response{}, errors.New("down")
	})
	if _, err := New(d, DefaultOptions()).Run(context.Background(), testScenario); err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNarration(t *testing.T) {
	t.Parallel()

	d := agent.NewScriptedDecider(twoPairScript()...).OnNarrate(func(req agent.Request) (agent.Response, error) {
		if req.Phase == agent.PhasePlan {
			return agent.Response{}, errors.New("narrator offline")
		}
		text := "Conductor: " + req.Phase
		return agent.Response{Text: &text}, nil
	})
	rec := &snapshotRecorder{}
	opts := DefaultOptions()
	opts.Narrate = true

	res, err := New(d, opts).Run(context.Background(), testScenario, rec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Snapshot.Version != 5 {
		t.Errorf("Version = %d, want 5 (narration never writes the store)", res.Snapshot.Version)
	}

	want := []string{"dispatch", "execute", "dispatch", "execute", "summary"}
	if len(rec.narrations) != len(want) {
		t.Fatalf("narrations = %+v", rec.narrations)
	}
	for i, n := range rec.narrations {
		if n.Phase != want[i] || n.Text != "Conductor: "+want[i] || n.SessionID != res.SessionID {
			t.Errorf("narration %d = %+v", i, n)
		}
	}
}

func TestObserversGetPrivateCopies(t *testing.T) {
	t.Parallel()

	c := New(agent.NewScriptedDecider(twoPairScript()...), DefaultOptions())
	var versions []int
	c.AddObserver(ObserverFuncs{Snapshot: func(s plan.Snapshot) {
		versions = append(versions, s.Version)
		s.Plan.Tasks[0].Description = "vandalised"
		if s.Pointers.Current != nil {
			s.Pointers.Current.Subtask = "vandalised"
		}
	}})
	s, err := c.NewSession(testScenario)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Drive(context.Background(), s); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	snap := s.Store.Get()
	if snap.Plan.Tasks[0].Description != "Research" || snap.Pointers.Current.Subtask != "sub 2" {
		t.Error("observer mutation leaked into the store")
	}
	for i, v := range versions {
		if v != i+1 {
			t.Errorf("snapshot %d version = %d", i, v)
		}
	}
}

func TestUnrecognisedOverallKeepsLooping(t *testing.T) {
	t.Parallel()

	steps := twoPairScript()
	steps[2].Response.Plan.Overall = "Almost there"
	d := agent.NewScriptedDecider(steps...)
	res, err := New(d, DefaultOptions()).Run(context.Background(), testScenario)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
}

func TestTranscriptRecording(t *testing.T) {
	t.Parallel()

	ts, err := store.NewTranscriptStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ts.Close() })

	opts := DefaultOptions()
	opts.Transcript = ts
	res, err := New(agent.NewScriptedDecider(twoPairScript()...), opts).Run(context.Background(), testScenario)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	decisions, err := ts.Decisions(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	kinds := []string{"initial_plan", "dispatch", "execute", "dispatch", "execute", "summarize"}
	if len(decisions) != len(kinds) {
		t.Fatalf("len(decisions) = %d, want %d", len(decisions), len(kinds))
	}
	for i, k := range kinds {
		if decisions[i].Kind != k {
			t.Errorf("decision %d kind = %q, want %q", i, decisions[i].Kind, k)
		}
	}

	sessions, err := ts.ListSessions(1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions() = %v, %v", sessions, err)
	}
	if sessions[0].Outcome != string(OutcomeCompleted) || sessions[0].Summary != "all done" {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestNegativeBoundMeansUnbounded(t *testing.T) {
	t.Parallel()

	c := New(agent.NewScriptedDecider(), Options{MaxIterations: -3})
	if c.opts.MaxIterations != 0 {
		t.Errorf("MaxIterations = %d, want 0", c.opts.MaxIterations)
	}
}

// Package conductor drives a plan from the initial decomposition through
// dispatch and execution of every subtask until the plan reports completion.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/rahul/conductor/internal/agent"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
	"github.com/rahul/conductor/internal/store"
	"github.com/rahul/conductor/pkg/config"
)

// DefaultMaxIterations bounds dispatch/execute pairs when no bound is configured.
const DefaultMaxIterations = 25

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeDecisionUnavailable Outcome = "decision_unavailable"
	OutcomeDidNotConverge      Outcome = "did_not_converge"
	OutcomeCancelled           Outcome = "cancelled"
)

// Recorder persists sessions and their decision calls. *store.TranscriptStore
// satisfies it.
type Recorder interface {
	StartSession(id, industry, useCase, query string) error
	FinishSession(id, outcome, summary string) error
	RecordDecision(rec store.DecisionRecord) error
}

// RetryPolicy wraps each decision call. Attempts <= 1 disables retries.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

type Options struct {
	// MaxIterations bounds dispatch/execute pairs. Zero means unbounded.
	MaxIterations int
	Narrate       bool
	Retry         RetryPolicy
	Events        *observability.Logger
	Transcript    Recorder
}

func DefaultOptions() Options {
	return Options{
		MaxIterations: DefaultMaxIterations,
		Retry:         RetryPolicy{Attempts: 1},
	}
}

// OptionsFromConfig maps the loop section of the config file.
func OptionsFromConfig(loop config.LoopConfig) Options {
	return Options{
		MaxIterations: loop.MaxIterations,
		Narrate:       loop.Narrate,
		Retry: RetryPolicy{
			Attempts:     loop.Retry.Attempts,
			InitialDelay: loop.Retry.InitialDelay.Std(),
			Multiplier:   loop.Retry.Multiplier,
		},
	}
}

// Conductor runs sessions against a decision function. One Conductor may run
// many sessions concurrently; each session is driven by a single goroutine.
type Conductor struct {
	decider agent.Decider
	opts    Options

	mu        sync.RWMutex
	observers []Observer
}

func New(decider agent.Decider, opts Options) *Conductor {
	if opts.Events == nil {
		opts.Events = observability.NewLogger(nil, "")
	}
	if opts.MaxIterations < 0 {
		opts.MaxIterations = 0
	}
	return &Conductor{decider: decider, opts: opts}
}

// AddObserver registers o for every session run by this conductor.
func (c *Conductor) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Session is the state of one run: its store, phase machine and counters.
type Session struct {
	ID       string
	Scenario plan.Scenario
	Store    *store.PlanStore

	machine         *phaseMachine
	iteration       int
	awaitingExecute bool
	summary         *string
	observers       []Observer
}

// Phase returns the current machine phase.
func (s *Session) Phase() Phase { return s.machine.Phase() }

// Iteration is the number of dispatched subtasks so far.
func (s *Session) Iteration() int { return s.iteration }

// Summary is the closing report, empty until the plan completed and was summarised.
func (s *Session) Summary() string {
	if s.summary == nil {
		return ""
	}
	return *s.summary
}

// Done reports whether Step has nothing left to do.
func (s *Session) Done() bool {
	switch s.Phase() {
	case PhaseFailed, PhaseCancelled:
		return true
	case PhaseCompleted:
		return s.summary != nil
	}
	return false
}

// Abort moves an unfinished session to failed.
func (s *Session) Abort() error {
	if s.machine.Final() {
		return ErrSessionFinished
	}
	return s.machine.Send(EventFail)
}

// NewSession prepares a session without calling the decision function.
// Observers passed here are added to the conductor-wide ones.
func (c *Conductor) NewSession(scenario plan.Scenario, observers ...Observer) (*Session, error) {
	id := uuid.NewString()
	m, err := newPhaseMachine(id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	obs := append(append([]Observer(nil), c.observers...), observers...)
	c.mu.RUnlock()

	return &Session{
		ID:        id,
		Scenario:  scenario,
		Store:     store.NewPlanStore(),
		machine:   m,
		observers: obs,
	}, nil
}

// Result is the tagged outcome of Run.
type Result struct {
	SessionID  string
	Outcome    Outcome
	Snapshot   plan.Snapshot
	Summary    string
	Iterations int
	Err        error
}

// Run creates a session for scenario and drives it to the end.
func (c *Conductor) Run(ctx context.Context, scenario plan.Scenario, observers ...Observer) (Result, error) {
	s, err := c.NewSession(scenario, observers...)
	if err != nil {
		return Result{Outcome: OutcomeDecisionUnavailable, Err: err}, err
	}
	return c.Drive(ctx, s)
}

// Drive steps s until it is done, the context is cancelled or a step fails.
// A failed step moves the session to failed; callers wanting a different
// policy call Step themselves.
func (c *Conductor) Drive(ctx context.Context, s *Session) (Result, error) {
	c.startTranscript(s)
	observability.SessionStarted()
	defer observability.SessionEnded()

	log := func() *observability.LogEvent {
		return observability.Info().Add(observability.SessionID(s.ID))
	}
	log().Add(observability.Str("industry", s.Scenario.Industry)).
		Add(observability.Str("use_case", s.Scenario.UseCase)).
		Msg("session started")

	outcome := OutcomeCompleted
	var runErr error
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			outcome, runErr = OutcomeCancelled, fmt.Errorf("session %s cancelled: %w", s.ID, err)
			break
		}
		if err := c.Step(ctx, s); err != nil {
			switch {
			case ctx.Err() != nil:
				outcome, runErr = OutcomeCancelled, fmt.Errorf("session %s cancelled: %w", s.ID, ctx.Err())
			case errors.Is(err, ErrPlanDidNotConverge):
				outcome, runErr = OutcomeDidNotConverge, err
			default:
				outcome, runErr = OutcomeDecisionUnavailable, err
			}
			break
		}
	}

	if runErr == nil && s.Phase() != PhaseCompleted {
		// aborted or cancelled before Drive was called
		outcome, runErr = OutcomeDecisionUnavailable, fmt.Errorf("%w: %s is %s", ErrSessionFinished, s.ID, s.Phase())
		if s.Phase() == PhaseCancelled {
			outcome = OutcomeCancelled
		}
	}

	if !s.machine.Final() {
		ev := EventFail
		if outcome == OutcomeCancelled {
			ev = EventCancel
		}
		if err := s.machine.Send(ev); err != nil {
			observability.Warn().Add(observability.SessionID(s.ID)).Add(observability.ErrorField(err)).Msg("phase transition rejected")
		}
	}

	snap := s.Store.Get()
	c.finishTranscript(s, outcome)

	if runErr != nil {
		observability.Error().Add(observability.SessionID(s.ID)).
			Add(observability.Str("outcome", string(outcome))).
			Add(observability.Iteration(s.iteration)).
			Add(observability.ErrorField(runErr)).
			Msg("session ended")
	} else {
		log().Add(observability.Str("outcome", string(outcome))).
			Add(observability.Iteration(s.iteration)).
			Msg("session ended")
	}

	return Result{
		SessionID:  s.ID,
		Outcome:    outcome,
		Snapshot:   snap,
		Summary:    s.Summary(),
		Iterations: s.iteration,
		Err:        runErr,
	}, runErr
}

// Step performs the next unit of work: the initial plan, one dispatch/execute
// pair, or the closing summary. A failed decision leaves the store and the
// phase untouched, so calling Step again retries the same call.
func (c *Conductor) Step(ctx context.Context, s *Session) error {
	switch s.Phase() {
	case PhaseInit:
		return c.planStep(ctx, s)
	case PhaseFirstDispatch, PhaseExecuting:
		return c.advance(ctx, s)
	case PhaseCompleted:
		if s.summary == nil {
			return c.summarize(ctx, s)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrSessionFinished, s.ID, s.Phase())
	}
}

func (c *Conductor) planStep(ctx context.Context, s *Session) error {
	observability.SetStatus(observability.RolePlanner, s.Scenario.Query)

	prev := s.Store.Get()
	resp, err := c.decide(ctx, s, agent.Request{Kind: agent.KindInitialPlan, State: prev})
	if err != nil {
		return err
	}

	st, lt := memories(prev, resp)
	if err := s.machine.Send(EventPlanned); err != nil {
		return err
	}
	snap := s.Store.Commit(*resp.Plan, st, lt, plan.Pointers{}, 0, string(s.Phase()))
	c.inspect(s, snap)
	c.publish(s, snap)
	c.narrate(ctx, s, agent.PhasePlan)
	return nil
}

func (c *Conductor) advance(ctx context.Context, s *Session) error {
	if !s.awaitingExecute {
		if err := c.dispatch(ctx, s); err != nil {
			return err
		}
	}
	return c.execute(ctx, s)
}

func (c *Conductor) dispatch(ctx context.Context, s *Session) error {
	if c.opts.MaxIterations > 0 && s.iteration >= c.opts.MaxIterations {
		return fmt.Errorf("%w after %d iterations", ErrPlanDidNotConverge, s.iteration)
	}
	observability.SetStatus(observability.RoleConductor, fmt.Sprintf("dispatch #%d", s.iteration+1))

	prev := s.Store.Get()
	resp, err := c.decide(ctx, s, agent.Request{Kind: agent.KindDispatch, Iteration: s.iteration + 1, State: prev})
	if err != nil {
		return err
	}

	s.iteration++
	s.awaitingExecute = true
	st, lt := memories(prev, resp)
	ptr := plan.Pointers{Current: resp.Current, Input: resp.Input}
	snap := s.Store.Commit(*resp.Plan, st, lt, ptr, s.iteration, string(s.Phase()))

	c.opts.Events.LogDispatch(s.ID, s.iteration, resp.Current.Task, resp.Current.Subtask, resp.Input.AgentName, resp.Input.AgentFunction)
	c.inspect(s, snap)
	c.publish(s, snap)
	c.narrate(ctx, s, agent.PhaseDispatch)
	return nil
}

func (c *Conductor) execute(ctx context.Context, s *Session) error {
	prev := s.Store.Get()
	if in := prev.Pointers.Input; in != nil {
		observability.SetStatus(observability.RoleAgent, in.AgentName+" / "+in.AgentFunction)
	}

	resp, err := c.decide(ctx, s, agent.Request{Kind: agent.KindExecute, Iteration: s.iteration, State: prev})
	if err != nil {
		return err
	}

	s.awaitingExecute = false
	switch {
	case plan.IsComplete(*resp.Plan):
		if err := s.machine.Send(EventComplete); err != nil {
			return err
		}
	case s.Phase() == PhaseFirstDispatch:
		if err := s.machine.Send(EventDispatched); err != nil {
			return err
		}
	}

	st, lt := memories(prev, resp)
	ptr := plan.Pointers{
		Current:   prev.Pointers.Current,
		Input:     prev.Pointers.Input,
		Output:    resp.Output,
		Next:      resp.Next,
		NextInput: resp.NextInput,
	}
	snap := s.Store.Commit(*resp.Plan, st, lt, ptr, s.iteration, string(s.Phase()))

	c.opts.Events.LogExecute(s.ID, s.iteration, resp.Output.AgentName, resp.Output.AgentFunction, len(resp.Output.Result))
	c.inspect(s, snap)
	c.publish(s, snap)
	c.narrate(ctx, s, agent.PhaseExecute)
	return nil
}

func (c *Conductor) summarize(ctx context.Context, s *Session) error {
	observability.SetStatus(observability.RolePlanner, "final report")

	resp, err := c.decide(ctx, s, agent.Request{Kind: agent.KindSummarize, Iteration: s.iteration, State: s.Store.Get()})
	if err != nil {
		return err
	}
	text := *resp.Text
	s.summary = &text
	c.narrate(ctx, s, agent.PhaseSummary)
	return nil
}

// memories threads short- and long-term memory: a response that omits one
// keeps the previous value.
func memories(prev plan.Snapshot, resp agent.Response) (plan.ShortTermMemory, plan.LongTermMemory) {
	st, lt := prev.ShortTerm, prev.LongTerm
	if resp.ShortTerm != nil {
		st = *resp.ShortTerm
	}
	if resp.LongTerm != nil {
		lt = *resp.LongTerm
	}
	return st, lt
}

// decide calls the decision function under the retry policy and validates the
// shape of the answer.
func (c *Conductor) decide(ctx context.Context, s *Session, req agent.Request) (agent.Response, error) {
	req.SessionID = s.ID
	req.Scenario = s.Scenario
	phase := s.Phase()

	attempt := func(ctx context.Context) (agent.Response, error) {
		start := time.Now()
		resp, err := c.decider.Decide(ctx, req)
		if err == nil {
			err = agent.Validate(req.Kind, resp)
		}
		c.record(s, req, resp, err, time.Since(start))
		return resp, err
	}

	var (
		resp agent.Response
		err  error
	)
	if p := c.opts.Retry; p.Attempts > 1 {
		multiplier := p.Multiplier
		if multiplier < 1 {
			multiplier = 2
		}
		r := retry.New[agent.Response](retry.Config{
			MaxAttempts:   p.Attempts,
			InitialDelay:  p.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    multiplier,
		})
		var last error
		resp, err = r.Do(ctx, func(ctx context.Context) (agent.Response, error) {
			resp, err := attempt(ctx)
			if err != nil {
				last = err
			}
			return resp, err
		})
		if err != nil && last != nil {
			err = last
		}
	} else {
		resp, err = attempt(ctx)
	}

	if err != nil {
		return agent.Response{}, &DecisionError{Kind: req.Kind, Phase: phase, Iteration: req.Iteration, Err: err}
	}
	return resp, nil
}

func (c *Conductor) record(s *Session, req agent.Request, resp agent.Response, err error, d time.Duration) {
	c.opts.Events.LogDecision(s.ID, req.Iteration, string(req.Kind), d, err)
	if c.opts.Transcript == nil {
		return
	}

	rec := store.DecisionRecord{
		SessionID: s.ID,
		Iteration: req.Iteration,
		Kind:      string(req.Kind),
		Request:   marshal(req),
		Duration:  d,
		CreatedAt: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	} else if resp.Text != nil {
		rec.Response = marshal(map[string]string{"text": *resp.Text})
	} else {
		rec.Response = marshal(resp)
	}
	if err := c.opts.Transcript.RecordDecision(rec); err != nil {
		observability.Warn().Add(observability.SessionID(s.ID)).Add(observability.ErrorField(err)).Msg("failed to record decision")
	}
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", err.Error())
	}
	return string(data)
}

func (c *Conductor) startTranscript(s *Session) {
	if c.opts.Transcript == nil {
		return
	}
	sc := s.Scenario
	if err := c.opts.Transcript.StartSession(s.ID, sc.Industry, sc.UseCase, sc.Query); err != nil {
		observability.Warn().Add(observability.SessionID(s.ID)).Add(observability.ErrorField(err)).Msg("failed to record session start")
	}
}

func (c *Conductor) finishTranscript(s *Session, outcome Outcome) {
	if c.opts.Transcript == nil {
		return
	}
	if err := c.opts.Transcript.FinishSession(s.ID, string(outcome), s.Summary()); err != nil {
		observability.Warn().Add(observability.SessionID(s.ID)).Add(observability.ErrorField(err)).Msg("failed to record session end")
	}
}

// inspect logs the plan and any advisory problems with it. Nothing here
// changes the plan or the loop.
func (c *Conductor) inspect(s *Session, snap plan.Snapshot) {
	c.opts.Events.LogPlan(s.ID, snap.Iteration, snap.Plan.Overall, len(snap.Plan.Tasks))

	for _, v := range plan.CheckIntegrity(snap.Plan) {
		observability.Warn().Add(observability.SessionID(s.ID)).
			Add(observability.Iteration(snap.Iteration)).
			Add(observability.Str("violation", v.String())).
			Msg("plan integrity")
	}
	if !plan.RecognizedOverall(snap.Plan) {
		observability.Warn().Add(observability.SessionID(s.ID)).
			Add(observability.Iteration(snap.Iteration)).
			Add(observability.Str("field", plan.OverallKey)).
			Add(observability.Str("value", snap.Plan.Overall)).
			Msg("MalformedStatusField")
	}
}

func (c *Conductor) publish(s *Session, snap plan.Snapshot) {
	for _, o := range s.observers {
		o.OnSnapshot(snap.Clone())
	}
}

// narrate asks for a user-facing message about phase. Failures are logged and
// never affect the plan.
func (c *Conductor) narrate(ctx context.Context, s *Session, phase string) {
	if !c.opts.Narrate {
		return
	}

	req := agent.Request{
		Kind:      agent.KindNarrate,
		SessionID: s.ID,
		Iteration: s.iteration,
		Scenario:  s.Scenario,
		State:     s.Store.Get(),
		Phase:     phase,
	}
	start := time.Now()
	resp, err := c.decider.Decide(ctx, req)
	if err == nil {
		err = agent.Validate(agent.KindNarrate, resp)
	}
	c.record(s, req, resp, err, time.Since(start))
	if err != nil {
		observability.Warn().Add(observability.SessionID(s.ID)).
			Add(observability.Phase(phase)).
			Add(observability.ErrorField(err)).
			Msg("narration unavailable")
		return
	}

	n := Narration{SessionID: s.ID, Phase: phase, Iteration: s.iteration, Text: *resp.Text}
	c.opts.Events.LogNarration(s.ID, s.iteration, phase, n.Text)
	for _, o := range s.observers {
		o.OnNarration(n)
	}
}

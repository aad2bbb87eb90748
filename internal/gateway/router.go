package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/governance"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
)

// Runner drives one session to its end. *conductor.Conductor satisfies it.
type Runner interface {
	Run(ctx context.Context, scenario plan.Scenario, observers ...conductor.Observer) (conductor.Result, error)
}

// Router turns chat messages into sessions, one running session per chat.
type Router struct {
	newRunner func() Runner
	policy    governance.PolicyEngine

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter builds a router that asks newRunner for a fresh runner per session.
// A nil policy allows everything.
func NewRouter(newRunner func() Runner, policy governance.PolicyEngine) *Router {
	return &Router{
		newRunner: newRunner,
		policy:    policy,
		active:    make(map[string]context.CancelFunc),
	}
}

func chatKey(msg Message) string { return msg.Gateway + ":" + msg.ChatID }

func reply(m Messenger, chatID, text string) {
	if err := m.Send(chatID, text); err != nil {
		observability.Warn().
			Add(observability.Str("gateway", m.Name())).
			Add(observability.Str("chat_id", chatID)).
			Add(observability.ErrorField(err)).
			Msg("send failed")
	}
}

// Handle processes one inbound message. Sessions run in their own goroutine;
// Handle does not block on them.
func (r *Router) Handle(ctx context.Context, m Messenger, msg Message) {
	cmd, rest := command(msg.Text)
	switch cmd {
	case cmdStart, cmdHelp:
		reply(m, msg.ChatID, Usage)
		return
	case cmdStop:
		if r.stop(chatKey(msg)) {
			reply(m, msg.ChatID, "Stopping the running plan.")
		} else {
			reply(m, msg.ChatID, "No plan is running.")
		}
		return
	case cmdPlan, "":
	default:
		reply(m, msg.ChatID, Usage)
		return
	}

	if r.policy != nil {
		res, err := r.policy.Evaluate(ctx, governance.Request{Gateway: msg.Gateway, ChatID: msg.ChatID, Text: rest})
		if err != nil {
			observability.Error().Add(observability.ErrorField(err)).Msg("policy evaluation failed")
			return
		}
		if !res.Allowed() {
			observability.Warn().
				Add(observability.Str("gateway", msg.Gateway)).
				Add(observability.Str("chat_id", msg.ChatID)).
				Add(observability.Str("reason", res.Reason)).
				Msg("request denied")
			reply(m, msg.ChatID, "Request denied: "+res.Reason)
			return
		}
	}

	scenario, err := ParseScenario(rest)
	if err != nil {
		reply(m, msg.ChatID, Usage)
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	if !r.claim(chatKey(msg), cancel) {
		cancel()
		reply(m, msg.ChatID, "A plan is already running in this chat. Send /stop to cancel it.")
		return
	}

	reply(m, msg.ChatID, fmt.Sprintf("Planning: %s", scenario.Query))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(chatKey(msg))
		defer cancel()
		r.run(sessCtx, m, msg.ChatID, scenario)
	}()
}

func (r *Router) run(ctx context.Context, m Messenger, chatID string, scenario plan.Scenario) {
	obs := &chatObserver{m: m, chatID: chatID}
	res, err := r.newRunner().Run(ctx, scenario, obs)

	switch {
	case res.Outcome == conductor.OutcomeCompleted:
		if res.Summary != "" {
			reply(m, chatID, res.Summary)
		} else {
			reply(m, chatID, "Plan completed.\n"+Digest(res.Snapshot))
		}
	case res.Outcome == conductor.OutcomeCancelled || errors.Is(err, context.Canceled):
		reply(m, chatID, "Plan stopped.")
	default:
		reply(m, chatID, "Sorry, I could not continue the plan.")
	}
}

func (r *Router) claim(key string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[key]; busy {
		return false
	}
	r.active[key] = cancel
	return true
}

func (r *Router) release(key string) {
	r.mu.Lock()
	delete(r.active, key)
	r.mu.Unlock()
}

func (r *Router) stop(key string) bool {
	r.mu.Lock()
	cancel, ok := r.active[key]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of running sessions.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until every session started by Handle has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// chatObserver relays narration and status digests to one chat. A digest is
// only sent when it differs from the last one.
type chatObserver struct {
	m          Messenger
	chatID     string
	lastDigest string
}

func (o *chatObserver) OnSnapshot(snap plan.Snapshot) {
	if len(snap.Plan.Tasks) == 0 {
		return
	}
	d := Digest(snap)
	if d == o.lastDigest {
		return
	}
	o.lastDigest = d
	reply(o.m, o.chatID, d)
}

func (o *chatObserver) OnNarration(n conductor.Narration) {
	if n.Text != "" {
		reply(o.m, o.chatID, n.Text)
	}
}

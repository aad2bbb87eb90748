// Package governance decides whether an incoming chat request may start a
// session.
package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a chat request to be evaluated.
type Request struct {
	Gateway string
	ChatID  string
	Text    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine evaluates chat requests against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine. A gateway with
// no allow list accepts every chat.
type DefaultPolicyEngine struct {
	AllowedChats  map[string]map[string]bool
	DeniedRegex   []*regexp.Regexp
	MaxTextLength int
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		AllowedChats: make(map[string]map[string]bool),
		DeniedRegex:  make([]*regexp.Regexp, 0),
	}
}

// AllowChats restricts gateway to the given chat IDs. Calling it with no IDs
// leaves the gateway open.
func (e *DefaultPolicyEngine) AllowChats(gateway string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	set := e.AllowedChats[gateway]
	if set == nil {
		set = make(map[string]bool)
		e.AllowedChats[gateway] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// DenyText rejects requests whose text matches pattern.
func (e *DefaultPolicyEngine) DenyText(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if set, ok := e.AllowedChats[req.Gateway]; ok && !set[req.ChatID] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Chat '%s' is not allowed on %s", req.ChatID, req.Gateway),
		}, nil
	}

	if e.MaxTextLength > 0 && len(req.Text) > e.MaxTextLength {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Request is longer than %d characters", e.MaxTextLength),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Text) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Request matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/conductor/internal/plan"
)

// Usage is sent back when a message cannot be parsed.
const Usage = "Send a request as: industry | use case | query\n" +
	"Example: retail | customer retention | why did repeat purchases drop last quarter?\n" +
	"Send /stop to cancel a running plan."

var ErrBadRequest = errors.New("bad request")

const (
	cmdStart = "/start"
	cmdHelp  = "/help"
	cmdStop  = "/stop"
	cmdPlan  = "/plan"
)

// command returns the leading slash command of text, without any @botname
// suffix, and the remaining text.
func command(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// ParseScenario reads "industry | use case | query". Extra separators belong to
// the query.
func ParseScenario(text string) (plan.Scenario, error) {
	parts := strings.SplitN(strings.TrimSpace(text), "|", 3)
	if len(parts) != 3 {
		return plan.Scenario{}, fmt.Errorf("%w: want 3 fields separated by '|', got %d", ErrBadRequest, len(parts))
	}
	sc := plan.Scenario{
		Industry: strings.TrimSpace(parts[0]),
		UseCase:  strings.TrimSpace(parts[1]),
		Query:    strings.TrimSpace(parts[2]),
	}
	if sc.Industry == "" || sc.UseCase == "" || sc.Query == "" {
		return plan.Scenario{}, fmt.Errorf("%w: industry, use case and query must not be empty", ErrBadRequest)
	}
	return sc, nil
}

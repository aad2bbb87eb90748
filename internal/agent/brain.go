package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
	"github.com/tmc/langchaingo/llms"
)

// LLMDecider answers decision requests with a language model. Structured kinds
// are asked to call a submit_* function; prose kinds answer in plain text.
type LLMDecider struct {
	Model     llms.Model
	Prompts   *PromptManager
	Events    *observability.Logger
	ModelName string
}

func NewLLMDecider(model llms.Model, prompts *PromptManager, events *observability.Logger, modelName string) *LLMDecider {
	if prompts == nil {
		prompts = NewPromptManager("")
	}
	return &LLMDecider{
		Model:     model,
		Prompts:   prompts,
		Events:    events,
		ModelName: modelName,
	}
}

func (d *LLMDecider) Decide(ctx context.Context, req Request) (Response, error) {
	systemPrompt, err := d.Prompts.Prompt(req.Kind)
	if err != nil {
		return Response{}, err
	}

	input, err := renderRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("render %s request: %w", req.Kind, err)
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(input)},
		},
	}

	var opts []llms.CallOption
	tool, hasTool := toolFor(req.Kind)
	if hasTool {
		opts = append(opts, llms.WithTools([]llms.Tool{tool}))
	}

	resp, err := d.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", req.Kind, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: %w", req.Kind, ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	d.record(req, input, choice)

	if !hasTool {
		text := strings.TrimSpace(choice.Content)
		if text == "" {
			return Response{}, &MissingFieldsError{Kind: req.Kind, Fields: []string{"text"}}
		}
		return Response{Text: &text}, nil
	}

	out, err := decodeChoice(tool.Function.Name, choice)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", req.Kind, err)
	}
	if err := Validate(req.Kind, out); err != nil {
		return Response{}, err
	}
	return out, nil
}

func (d *LLMDecider) record(req Request, input string, choice *llms.ContentChoice) {
	if d.Events == nil {
		return
	}
	d.Events.LogLLM(req.SessionID, string(req.Kind), input, choice.Content, choice.ToolCalls)

	prompt, completion := tokenUsage(choice.GenerationInfo)
	if prompt > 0 || completion > 0 {
		d.Events.LogCost(req.SessionID, prompt, completion, d.ModelName)
	}
}

func tokenUsage(info map[string]any) (prompt, completion int) {
	asInt := func(v any) int {
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
		return 0
	}
	return asInt(info["PromptTokens"]), asInt(info["CompletionTokens"])
}

// renderRequest lays the request out as "## Section" headers each followed by
// a fenced JSON block. Empty sections are left out.
func renderRequest(req Request) (string, error) {
	var b strings.Builder
	section := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(&b, "## %s\n```json\n%s\n```\n\n", name, data)
		return nil
	}

	if err := section("Request", req.Scenario); err != nil {
		return "", err
	}
	if req.Kind == KindNarrate {
		fmt.Fprintf(&b, "## Phase\n%s\n\n", req.Phase)
	}

	st := req.State
	ptr := st.Pointers
	sections := []struct {
		name string
		v    any
		ok   bool
	}{
		{"Current Task", ptr.Current, ptr.Current != nil},
		{"Agent Input", ptr.Input, ptr.Input != nil},
		{"Agent Output", ptr.Output, ptr.Output != nil},
		{"Next Task", ptr.Next, ptr.Next != nil},
		{"Next Agent Input", ptr.NextInput, ptr.NextInput != nil},
		{"Plan", st.Plan, req.Kind != KindInitialPlan},
		{"Short-Term Memory", st.ShortTerm, req.Kind != KindInitialPlan},
		{"Long-Term Memory", st.LongTerm, req.Kind != KindInitialPlan},
	}
	for _, s := range sections {
		if !s.ok {
			continue
		}
		if err := section(s.name, s.v); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// decodeChoice reads a structured decision from the named tool call, falling
// back to JSON found in the text content.
func decodeChoice(toolName string, choice *llms.ContentChoice) (Response, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != toolName {
			continue
		}
		var out Response
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &out); err != nil {
			return Response{}, fmt.Errorf("%w: %s arguments: %v", ErrMalformedDecision, toolName, err)
		}
		return out, nil
	}

	if strings.TrimSpace(choice.Content) == "" {
		return Response{}, fmt.Errorf("%w: no %s call and no text", ErrMalformedDecision, toolName)
	}
	return ParseText(choice.Content)
}

// ParseText extracts a decision from free text. Markdown "## Name" sections
// holding fenced JSON are read first; otherwise the first JSON object in the
// text is decoded as the response envelope.
func ParseText(text string) (Response, error) {
	if out, ok, err := parseSections(text); ok || err != nil {
		return out, err
	}

	obj, err := firstJSONObject(text)
	if err != nil {
		return Response{}, err
	}

	var out Response
	if err := json.Unmarshal(obj, &out); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}
	if isEmpty(out) {
		// A bare plan document.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(obj, &probe); err == nil {
			if _, ok := probe["Tasks"]; ok {
				var p plan.Plan
				if err := json.Unmarshal(obj, &p); err != nil {
					return Response{}, fmt.Errorf("%w: plan: %v", ErrMalformedDecision, err)
				}
				out.Plan = &p
			}
		}
	}
	return out, nil
}

func isEmpty(r Response) bool {
	return r.Plan == nil && r.ShortTerm == nil && r.LongTerm == nil && r.Current == nil &&
		r.Input == nil && r.Output == nil && r.Next == nil && r.NextInput == nil
}

func firstJSONObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object in text", ErrMalformedDecision)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}
	return raw, nil
}

func sectionKey(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(header) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseSections(text string) (Response, bool, error) {
	blocks := map[string][]byte{}
	var header string
	var body *bytes.Buffer
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case body != nil && strings.HasPrefix(trimmed, "```"):
			if header != "" {
				blocks[header] = body.Bytes()
			}
			body = nil
		case body != nil:
			body.WriteString(line)
			body.WriteByte('\n')
		case strings.HasPrefix(trimmed, "```"):
			body = &bytes.Buffer{}
		case strings.HasPrefix(trimmed, "#"):
			header = sectionKey(strings.TrimLeft(trimmed, "#"))
		}
	}

	var out Response
	targets := map[string]any{
		"plan":            &out.Plan,
		"shorttermmemory": &out.ShortTerm,
		"longtermmemory":  &out.LongTerm,
		"currenttask":     &out.Current,
		"agentinput":      &out.Input,
		"agentoutput":     &out.Output,
		"nexttask":        &out.Next,
		"nextagentinput":  &out.NextInput,
	}
	found := false
	for key, target := range targets {
		raw, ok := blocks[key]
		if !ok {
			continue
		}
		found = true
		if err := json.Unmarshal(unwrapSingle(raw), target); err != nil {
			return Response{}, true, fmt.Errorf("%w: section %s: %v", ErrMalformedDecision, key, err)
		}
	}
	return out, found, nil
}

// unwrapSingle strips a one-key wrapper object such as {"Task": {...}}.
func unwrapSingle(raw []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return raw
	}
	for _, inner := range obj {
		trimmed := bytes.TrimSpace(inner)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed
		}
	}
	return raw
}

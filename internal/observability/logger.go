package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan      EventType = "plan"
	EventTypeDispatch  EventType = "dispatch"
	EventTypeExecute   EventType = "execute"
	EventTypeDecision  EventType = "decision"
	EventTypeNarration EventType = "narration"
	EventTypeCost      EventType = "cost"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger emits session events. LLM exchanges are additionally appended to a
// JSONL file with single-file rotation.
type Logger struct {
	base       *bolt.Logger
	llmLogPath string
	maxSize    int64
}

// NewLogger writes events through base (the process logger when nil) and keeps
// raw LLM exchanges under dir/llm.jsonl. An empty dir disables the file.
func NewLogger(base *bolt.Logger, dir string) *Logger {
	l := &Logger{
		base:    base,
		maxSize: 10 * 1024 * 1024, // 10MB
	}
	if dir != "" {
		l.llmLogPath = filepath.Join(dir, "llm.jsonl")
	}
	return l
}

func (l *Logger) logger() *bolt.Logger {
	if l.base != nil {
		return l.base
	}
	return Get()
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt.Data)
	if err != nil {
		l.logger().Error().Str("type", string(evt.Type)).Err(err).Msg("failed to marshal event data")
		return
	}

	e := l.logger().Info().Str("type", string(evt.Type))
	if evt.SessionID != "" {
		e = e.Str("session_id", evt.SessionID)
	}
	if evt.Iteration > 0 {
		e = e.Int("iteration", evt.Iteration)
	}
	e.Str("data", string(data)).Msg(string(evt.Type))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		line, err := json.Marshal(evt)
		if err != nil {
			return
		}
		l.writeToFile(line)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.logger().Warn().Err(err).Msg("failed to create log directory")
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger().Warn().Err(err).Msg("failed to open log file")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.logger().Warn().Err(err).Msg("failed to write to log file")
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) LogPlan(sessionID string, iteration int, overall string, tasks int) {
	l.Log(Event{
		Type:      EventTypePlan,
		SessionID: sessionID,
		Iteration: iteration,
		Data: map[string]any{
			"overall": overall,
			"tasks":   tasks,
		},
	})
}

func (l *Logger) LogDispatch(sessionID string, iteration int, task, subtask, agent, function string) {
	l.Log(Event{
		Type:      EventTypeDispatch,
		SessionID: sessionID,
		Iteration: iteration,
		Data: map[string]string{
			"task":     task,
			"subtask":  subtask,
			"agent":    agent,
			"function": function,
		},
	})
}

func (l *Logger) LogExecute(sessionID string, iteration int, agent, function string, outputLen int) {
	l.Log(Event{
		Type:      EventTypeExecute,
		SessionID: sessionID,
		Iteration: iteration,
		Data: map[string]any{
			"agent":      agent,
			"function":   function,
			"output_len": outputLen,
		},
	})
}

func (l *Logger) LogDecision(sessionID string, iteration int, kind string, d time.Duration, err error) {
	data := map[string]any{
		"kind":        kind,
		"duration_ms": d.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{
		Type:      EventTypeDecision,
		SessionID: sessionID,
		Iteration: iteration,
		Data:      data,
	})
}

func (l *Logger) LogNarration(sessionID string, iteration int, phase, text string) {
	l.Log(Event{
		Type:      EventTypeNarration,
		SessionID: sessionID,
		Iteration: iteration,
		Data:      map[string]string{"phase": phase, "text": text},
	})
}

func (l *Logger) LogCost(sessionID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:      EventTypeCost,
		SessionID: sessionID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(sessionID, kind string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Data: map[string]any{
			"kind":       kind,
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	defaultLogger *bolt.Logger
	loggerMu      sync.Mutex
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string
	// Format is json or console.
	Format string
	// Output defaults to stderr so it never mixes with rendered plan output.
	Output io.Writer
}

func parseLevel(s string) bolt.Level {
	switch s {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// NewBoltLogger builds a logger from cfg without touching the process default.
func NewBoltLogger(cfg LogConfig) *bolt.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var handler bolt.Handler
	if cfg.Format == "json" {
		handler = bolt.NewJSONHandler(out)
	} else {
		handler = bolt.NewConsoleHandler(out)
	}
	return bolt.New(handler).SetLevel(parseLevel(cfg.Level))
}

// Init replaces the process logger.
func Init(cfg LogConfig) {
	l := NewBoltLogger(cfg)
	loggerMu.Lock()
	defaultLogger = l
	loggerMu.Unlock()
}

// Get returns the process logger, creating a console logger on first use.
func Get() *bolt.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewBoltLogger(LogConfig{Level: "info", Format: "console"})
	}
	return defaultLogger
}

// Field applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// LogEvent lets Fields be chained onto a bolt event.
type LogEvent struct {
	event *bolt.Event
}

func (l *LogEvent) Add(f Field) *LogEvent {
	l.event = f(l.event)
	return l
}

func (l *LogEvent) Msg(msg string) {
	l.event.Msg(msg)
}

func Debug() *LogEvent { return &LogEvent{event: Get().Debug()} }
func Info() *LogEvent  { return &LogEvent{event: Get().Info()} }
func Warn() *LogEvent  { return &LogEvent{event: Get().Warn()} }
func Error() *LogEvent { return &LogEvent{event: Get().Error()} }

func SessionID(id string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str("session_id", id) }
}

func Phase(p string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str("phase", p) }
}

func Iteration(n int) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int("iteration", n) }
}

func Kind(k string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str("kind", k) }
}

func Agent(name, function string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("agent", name).Str("agent_function", function)
	}
}

func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int64("duration_ms", d.Milliseconds()) }
}

func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str(key, value) }
}

func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int(key, value) }
}

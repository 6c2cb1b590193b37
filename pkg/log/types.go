package log

import "fmt"

// Logger is a leveled, structured logger. keysAndValues are alternating
// key/value pairs added to the entry.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs at fatal level. Backends may exit the process afterwards.
	Fatal(msg string, keysAndValues ...any)

	// WithKV returns a logger that adds key and value to every entry.
	WithKV(key string, value any) Logger
	// GetAllKV returns the pairs added with WithKV, oldest first.
	GetAllKV() []any
	// WithName returns a logger named after a component. Names nest with dots.
	WithName(name string) Logger
	Name() string
	// AddCallerSkip returns a logger that reports its caller skip frames
	// further up the stack. Used by wrappers.
	AddCallerSkip(skip int) Logger
}

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ParseLevel validates a configured level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return l, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// SpanEventRecorder mirrors log entries onto a trace span.
type SpanEventRecorder interface {
	TraceID() string
	SpanID() string

	RecordEvent(name string, keysAndValues ...any)
	// RecordError records the event and marks the span as failed.
	RecordError(name string, keysAndValues ...any)
}

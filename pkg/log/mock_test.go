package log_test

import "github.com/erc7824/nitrolite/keynode/pkg/log"

type logEntry struct {
	Level         log.Level
	Message       string
	KeysAndValues []any
}

// mockLogger keeps every entry in memory. Derived loggers share the entry list.
type mockLogger struct {
	entries    *[]logEntry
	name       string
	kv         []any
	callerSkip int
}

func newMockLogger() *mockLogger {
	return &mockLogger{entries: &[]logEntry{}}
}

func (m *mockLogger) record(level log.Level, msg string, kv []any) {
	*m.entries = append(*m.entries, logEntry{Level: level, Message: msg, KeysAndValues: kv})
}

func (m *mockLogger) Debug(msg string, kv ...any) { m.record(log.LevelDebug, msg, kv) }
func (m *mockLogger) Info(msg string, kv ...any)  { m.record(log.LevelInfo, msg, kv) }
func (m *mockLogger) Warn(msg string, kv ...any)  { m.record(log.LevelWarn, msg, kv) }
func (m *mockLogger) Error(msg string, kv ...any) { m.record(log.LevelError, msg, kv) }
func (m *mockLogger) Fatal(msg string, kv ...any) { m.record(log.LevelFatal, msg, kv) }

func (m *mockLogger) WithKV(key string, value any) log.Logger {
	c := *m
	c.kv = append(append([]any{}, m.kv...), key, value)
	return &c
}

func (m *mockLogger) GetAllKV() []any { return m.kv }

func (m *mockLogger) WithName(name string) log.Logger {
	c := *m
	if c.name == "" {
		c.name = name
	} else {
		c.name += "." + name
	}
	return &c
}

func (m *mockLogger) Name() string { return m.name }

func (m *mockLogger) AddCallerSkip(skip int) log.Logger {
	c := *m
	c.callerSkip += skip
	return &c
}

func (m *mockLogger) last() logEntry {
	entries := *m.entries
	if len(entries) == 0 {
		return logEntry{}
	}
	return entries[len(entries)-1]
}

type spanEvent struct {
	name  string
	kv    []any
	isErr bool
}

type mockRecorder struct {
	traceID, spanID string
	events          []spanEvent
}

func (r *mockRecorder) TraceID() string { return r.traceID }
func (r *mockRecorder) SpanID() string  { return r.spanID }

func (r *mockRecorder) RecordEvent(name string, kv ...any) {
	r.events = append(r.events, spanEvent{name: name, kv: kv})
}

func (r *mockRecorder) RecordError(name string, kv ...any) {
	r.events = append(r.events, spanEvent{name: name, kv: kv, isErr: true})
}

func (r *mockRecorder) last() spanEvent {
	if len(r.events) == 0 {
		return spanEvent{}
	}
	return r.events[len(r.events)-1]
}

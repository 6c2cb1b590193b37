package log

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	golog "github.com/ipfs/go-log/v2"
	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = &ZapLogger{}

// ZapLogger is a Logger backed by a zap SugaredLogger.
type ZapLogger struct {
	lg            *zap.SugaredLogger
	keysAndValues []any
}

// Config selects the output of NewZapLogger. It is read from the
// environment by the daemon.
type Config struct {
	Format string `env:"LOG_FORMAT" env-default:"console" validate:"oneof=console json logfmt golog"`
	Level  Level  `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error fatal"`
	Output string `env:"LOG_OUTPUT" env-default:"stderr"` // stderr, stdout or a file path
}

// golog subsystem used when Format is "golog".
const gologSystem = "keynode"

// NewZapLogger builds a logger from conf. Entries are also written to every
// extra syncer, which tests use to capture output.
func NewZapLogger(conf Config, extraWriters ...zapcore.WriteSyncer) Logger {
	if conf.Format == "golog" && len(extraWriters) == 0 {
		lg, err := newGologLogger(conf.Level)
		if err != nil {
			lg.Warn("keeping go-log level", "level", conf.Level, "error", err)
		}
		return lg
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	ws := zapcore.NewMultiWriteSyncer(append(extraWriters, openOutput(conf.Output))...)
	core := zapcore.NewCore(newEncoder(conf.Format, encCfg), ws, zapLevel(conf.Level))

	// Skip log() and the exported level method.
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
	return &ZapLogger{lg: zl}
}

// newGologLogger registers the keynode subsystem with go-log and reuses its
// zap core, so go-log's global output settings govern the daemon too.
// The logger is usable even when level is rejected.
func newGologLogger(level Level) (Logger, error) {
	el := golog.Logger(gologSystem)
	zl := el.SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(2)).Sugar()
	lg := &ZapLogger{lg: zl}

	if level == "" {
		return lg, nil
	}
	if err := golog.SetLogLevel(gologSystem, string(level)); err != nil {
		return lg, fmt.Errorf("failed to set go-log level %q: %w", level, err)
	}
	return lg, nil
}

func newEncoder(format string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	switch format {
	case "logfmt":
		return zaplogfmt.NewEncoder(cfg)
	case "json":
		return zapcore.NewJSONEncoder(cfg)
	default:
		return zapcore.NewConsoleEncoder(cfg)
	}
}

// openOutput falls back to stdout when the log file cannot be opened.
func openOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return zapcore.Lock(os.Stdout)
	}
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(f)
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.log(LevelDebug, msg, keysAndValues) }
func (l *ZapLogger) Info(msg string, keysAndValues ...any)  { l.log(LevelInfo, msg, keysAndValues) }
func (l *ZapLogger) Warn(msg string, keysAndValues ...any)  { l.log(LevelWarn, msg, keysAndValues) }
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.log(LevelError, msg, keysAndValues) }
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.log(LevelFatal, msg, keysAndValues) }

func (l *ZapLogger) log(level Level, msg string, keysAndValues []any) {
	l.lg.Logw(zapLevel(level), msg, keysAndValues...)
}

func (l *ZapLogger) WithKV(key string, value any) Logger {
	kv := make([]any, 0, len(l.keysAndValues)+2)
	kv = append(kv, l.keysAndValues...)
	return &ZapLogger{
		lg:            l.lg.With(key, value),
		keysAndValues: append(kv, key, value),
	}
}

func (l *ZapLogger) GetAllKV() []any {
	return l.keysAndValues
}

func (l *ZapLogger) WithName(name string) Logger {
	return &ZapLogger{lg: l.lg.Named(name), keysAndValues: l.keysAndValues}
}

func (l *ZapLogger) Name() string {
	return l.lg.Desugar().Name()
}

func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	return &ZapLogger{lg: l.lg.WithOptions(zap.AddCallerSkip(skip)), keysAndValues: l.keysAndValues}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.lg.Sync()
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

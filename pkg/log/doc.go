// Package log provides the structured logger used across keynode.
//
// Loggers take a message plus alternating key/value pairs:
//
//	logger := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelDebug})
//	logger = logger.WithName("keys").WithKV("keyId", id)
//	logger.Info("key imported", "algorithm", "RSA", "bits", 2048)
//
// Backends:
//
//   - ZapLogger writes console, json or logfmt output through zap.
//   - Format "golog" hands the logger over to the shared go-log registry, so
//     GOLOG_LOG_LEVEL and GOLOG_LOG_FMT apply.
//   - NoopLogger drops everything.
//
// A logger travels with a request through the context. When the context
// carries a recording OpenTelemetry span, SetContextLogger wraps the logger in
// a SpanLogger that mirrors every entry as a span event and stamps log lines
// with traceId and spanId:
//
//	ctx, span := tracer.Start(ctx, "sign")
//	defer span.End()
//	ctx = log.SetContextLogger(ctx, logger)
//	log.FromContext(ctx).Warn("digest not bound to key", "digest", name)
package log

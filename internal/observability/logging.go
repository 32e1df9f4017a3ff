package observability

import (
	"context"
	"os"
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger writing JSON to stdout and, when a log file
// path is configured, to a size-rotated file as well.
//
// Log level usage conventions:
//   - error: backend unavailable, transport failures, recovered panics
//   - warn:  rejected events, backend 4xx, corrupt persisted documents
//   - info:  workflow start/finish, publish outcome, scheduled runs
//   - debug: per-event routing decisions and session transitions
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)
	enc := zapcore.NewJSONEncoder(encoderConfig())

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), atom),
	}
	if cfg.LogFile.Path != "" {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}), atom))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// EventLogger returns a logger enriched with the identifying fields of an
// inbound event.
func EventLogger(ctx context.Context, fallback *zap.Logger, ev model.Event) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Int64("chat_id", int64(ev.ChatID)),
		zap.String("kind", string(ev.Kind)),
	}
	if ev.Job != "" {
		fields = append(fields, zap.String("job", string(ev.Job)))
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return logger.With(fields...)
}

// botTokenPattern matches the token segment of chat API URLs,
// e.g. /bot123456:ABC-def/sendMessage.
var botTokenPattern = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)

// RedactToken strips bot credentials from s. Transport errors embed the
// request URL, which carries the token in its path.
func RedactToken(s string) string {
	return botTokenPattern.ReplaceAllString(s, "/bot[REDACTED]")
}

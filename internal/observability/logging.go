package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hostelops/gatehouse/internal/config"
	"github.com/hostelops/gatehouse/model"
)

type loggerKey struct{}

const redactedPlaceholder = "[REDACTED]"

// NewLogger creates the JSON stdout logger. Level conventions across the
// service:
//
//	error  infrastructure failures and 5xx responses
//	warn   4xx responses, refused deltas, idempotency conflicts
//	info   request lifecycle, override writes, catalog loads
//	debug  cache traffic, merge anomaly detail, delta payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		// A mistyped level must not stop the server from booting.
		level = zapcore.InfoLevel
	}

	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
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
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context's logger, or fallback when none is stored.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context's logger enriched with the request's
// identity fields. Outside a request it degrades to the plain logger.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	logger = logger.With(
		zap.String("subject_id", rctx.SubjectID),
		zap.String("role", rctx.Role),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	if rctx.TraceID != "" {
		logger = logger.With(zap.String("trace_id", rctx.TraceID))
	}
	return logger
}

// alwaysRedacted is the field-name blocklist applied to every body logged at
// debug level, independent of what the caller asks for.
var alwaysRedacted = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"ssn":           true,
	"pin":           true,
}

// RedactBody returns a copy of body with sensitive values blanked. extra
// names are redacted in addition to the built-in blocklist. Nested maps are
// walked; the input is never mutated.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}

	blocked := func(name string) bool {
		if alwaysRedacted[name] {
			return true
		}
		for _, f := range extra {
			if f == name {
				return true
			}
		}
		return false
	}

	out := make(map[string]any, len(body))
	for name, value := range body {
		switch {
		case blocked(name):
			out[name] = redactedPlaceholder
		default:
			if nested, ok := value.(map[string]any); ok {
				out[name] = RedactBody(nested, extra)
			} else {
				out[name] = value
			}
		}
	}
	return out
}

package logging

import (
	"log/slog"
	"slices"
	"time"
)

// Attr is slog.Attr; callers build attributes through this package.
type Attr = slog.Attr

// Structured field keys. The console handler folds component, stage, worker
// and item_id into the line prefix instead of printing them as attributes.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldStage     = "stage"
	FieldWorker    = "worker"
	FieldItemID    = "item_id"
	FieldItemName  = "item_name"
	FieldQueue     = "queue"
	FieldPath      = "path"
	FieldReason    = "reason"
	FieldPanic     = "panic"
	FieldStack     = "stack"

	// FieldEventType classifies a line for filtering (item_dropped, worker_fatal, ...).
	FieldEventType = "event_type"
	// FieldErrorHint is the next step for an operator reading a WARN or ERROR.
	FieldErrorHint = "error_hint"
	// FieldImpact is what the warning costs the run.
	FieldImpact = "impact"
)

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attributes into the variadic form slog methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with a component name. A nil logger yields
// a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always states its event type, a hint
// and an impact. Attributes passed explicitly win over the defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check the log for earlier errors"),
		String(FieldImpact, "the run continues without this item"),
	)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always states its event type and a hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check the log for earlier errors"),
	)
	logger.Error(msg, Args(attrs...)...)
}

func withDefaults(attrs []Attr, fallbacks ...Attr) []Attr {
	for _, f := range fallbacks {
		if !slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == f.Key }) {
			attrs = append(attrs, f)
		}
	}
	return attrs
}

package logging

import (
	"context"
	"log/slog"
	"strings"
)

// levelOverrideHandler enforces a per-logger minimum level while delegating
// output to the wrapped handler, which must already accept the most verbose
// level any override asks for.
type levelOverrideHandler struct {
	next  slog.Handler
	level slog.Level
}

func newLevelOverrideHandler(next slog.Handler, level slog.Level) slog.Handler {
	if next == nil {
		return slog.DiscardHandler
	}
	return &levelOverrideHandler{next: next, level: level}
}

func (h *levelOverrideHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.next.Enabled(ctx, level)
}

func (h *levelOverrideHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *levelOverrideHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *levelOverrideHandler) WithGroup(name string) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithGroup(name), level: h.level}
}

// CloneWithLevel swaps the minimum level while keeping accumulated attributes.
func (h *levelOverrideHandler) CloneWithLevel(level slog.Level) slog.Handler {
	return &levelOverrideHandler{next: h.next, level: level}
}

// WithLevelOverride returns a logger that enforces the provided minimum level
// while preserving existing attributes and handler wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return slog.New(newLevelOverrideHandler(nil, level))
	}
	if cloner, ok := logger.Handler().(interface{ CloneWithLevel(slog.Level) slog.Handler }); ok {
		return slog.New(cloner.CloneWithLevel(level))
	}
	return slog.New(newLevelOverrideHandler(logger.Handler(), level))
}

// ParseOverrides converts stage-name to level-name pairs into slog levels.
// Entries with unknown levels are skipped.
func ParseOverrides(raw map[string]string) map[string]slog.Level {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]slog.Level, len(raw))
	for stage, value := range raw {
		stage = strings.ToLower(strings.TrimSpace(stage))
		level, ok := ParseLevel(value)
		if stage == "" || !ok || strings.TrimSpace(value) == "" {
			continue
		}
		out[stage] = level
	}
	return out
}

// ForStage returns a logger tagged with the stage name. When overrides holds
// an entry for the stage, that level replaces the inherited minimum.
func ForStage(logger *slog.Logger, stage string, overrides map[string]slog.Level) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	tagged := logger.With(String(FieldStage, stage))
	if level, ok := overrides[strings.ToLower(stage)]; ok {
		return WithLevelOverride(tagged, level)
	}
	return tagged
}

package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes describing the collector's current state.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record, so each
// log line carries the live session, recording and autopilot state.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}

// SessionContext reports the session ID and the recording and autopilot
// flags. Nil funcs are skipped.
func SessionContext(sessionID string, recording, autopilot func() bool) ContextProvider {
	return func() []slog.Attr {
		attrs := make([]slog.Attr, 0, 3)
		if sessionID != "" {
			attrs = append(attrs, slog.String("session", sessionID))
		}
		if recording != nil {
			attrs = append(attrs, slog.Bool("recording", recording()))
		}
		if autopilot != nil {
			attrs = append(attrs, slog.Bool("autopilot", autopilot()))
		}
		return attrs
	}
}

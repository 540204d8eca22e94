package logger

import (
	"context"
	"log/slog"
)

// ctxKey keys the attribute slice stored in a context.Context.
type ctxKey struct{}

// ContextHandler replays attributes carried by the context into every
// record, so values attached once with WithAttrs appear on all
// *Context logging calls further down the call chain.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps handler with context-attribute replay.
func NewContextHandler(handler slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: handler}
}

// Handle copies any context-carried attributes onto the record before
// delegating to the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a context carrying attrs in addition to whatever
// attributes parent already holds.
func WithAttrs(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(ctxKey{}).([]slog.Attr); ok {
		v = append(v, attrs...)
		return context.WithValue(parent, ctxKey{}, v)
	}

	return context.WithValue(parent, ctxKey{}, attrs)
}

// ReplaceAttr rewrites attribute values before emission. Error values
// are rendered as their message string.
func ReplaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindAny {
		if err, ok := attr.Value.Any().(error); ok {
			attr.Value = slog.StringValue(err.Error())
		}
	}

	return attr
}

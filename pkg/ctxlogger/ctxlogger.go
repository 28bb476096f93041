// Package ctxlogger carries slog attributes inside a context so that every
// log line emitted during a request or websocket message automatically
// includes the ids appended by middleware.
package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler wraps a slog.Handler and adds the attributes stored in the
// record's context by AppendCtx.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// AppendCtx returns a context whose log records carry attr in addition to
// any attributes already appended.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if attrs, ok := parent.Value(ctxKey{}).([]slog.Attr); ok {
		next := make([]slog.Attr, 0, len(attrs)+1)
		next = append(next, attrs...)
		next = append(next, attr)
		return context.WithValue(parent, ctxKey{}, next)
	}

	return context.WithValue(parent, ctxKey{}, []slog.Attr{attr})
}

package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithFile tags the context with the source file a worker is processing, so
// every log line inside that file's processing unit carries it.
func WithFile(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, ctxKey{}, file)
}

// FileFrom returns the tagged source file, if any.
func FileFrom(ctx context.Context) (string, bool) {
	f, ok := ctx.Value(ctxKey{}).(string)
	return f, ok
}

type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if f, ok := FileFrom(ctx); ok && f != "" {
		r.AddAttrs(slog.String("file", f))
	}
	return h.Handler.Handle(ctx, r)
}

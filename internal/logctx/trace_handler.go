package logctx

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TraceHandler wraps an slog.Handler and adds trace_id and span_id to every
// record logged with a context that carries a valid span. The ids are always
// top level, even on loggers derived with WithGroup.
type TraceHandler struct {
	root  slog.Handler
	inner slog.Handler
	chain []handlerOp
}

// handlerOp is one WithAttrs or WithGroup call, replayed on top of the root
// handler once the trace attributes are in place.
type handlerOp struct {
	group string
	attrs []slog.Attr
}

// NewTraceHandler wraps h. It panics on a nil handler.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	if h == nil {
		panic("logctx: NewTraceHandler called with nil handler")
	}

	return &TraceHandler{root: h, inner: h}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return h.inner.Handle(ctx, r)
	}

	handler := h.root.WithAttrs([]slog.Attr{
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	})

	for _, op := range h.chain {
		if op.group != "" {
			handler = handler.WithGroup(op.group)
		} else {
			handler = handler.WithAttrs(op.attrs)
		}
	}

	return handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	return h.derive(handlerOp{attrs: attrs}, h.inner.WithAttrs(attrs))
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return h.derive(handlerOp{group: name}, h.inner.WithGroup(name))
}

func (h *TraceHandler) derive(op handlerOp, inner slog.Handler) *TraceHandler {
	chain := make([]handlerOp, len(h.chain), len(h.chain)+1)
	copy(chain, h.chain)

	return &TraceHandler{root: h.root, inner: inner, chain: append(chain, op)}
}

// NewLogger builds the process logger: JSON to w at level, wrapped in a
// TraceHandler.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

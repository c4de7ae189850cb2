// Package logctx enriches slog records with request-scoped attributes
// carried in the context, so handlers and the session manager never thread
// logging fields by hand.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-carried groups to
// every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
		))
	}

	if od, ok := ctx.Value(opDataKey{}).(*OpData); ok {
		r.AddAttrs(slog.Group("op",
			slog.String("name", od.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies one inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type opDataKey struct{}

// OpData names the session operation being served.
type OpData struct {
	Name string
}

func WithOpData(ctx context.Context, data *OpData) context.Context {
	return context.WithValue(ctx, opDataKey{}, data)
}

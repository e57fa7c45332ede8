// Package wslog provides utilities for attaching a [zerolog.Logger]
// to a [context.Context], and for generating connection correlation IDs.
package wslog

import (
	"context"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// InContext returns a copy of ctx carrying l, retrievable with [FromContext].
func InContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the [zerolog.Logger] attached to ctx, or a
// no-op logger if none was attached with [InContext].
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// NewConnID generates a short, unique connection correlation ID for
// attaching to every log line emitted by a single [websocket.Socket].
func NewConnID() string {
	return shortuuid.New()
}

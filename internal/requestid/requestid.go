// Package requestid propagates a per-request correlation id through
// context so that log lines from the API, the session service and the
// best-effort writers of one call can be joined.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request id in both directions.
const Header = "X-Request-ID"

const maxInboundLen = 128

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Resolve reuses an inbound id when it is usable and mints one otherwise.
func Resolve(ctx context.Context, inbound string) (context.Context, string) {
	if !usable(inbound) {
		return New(ctx)
	}
	return WithRequestID(ctx, inbound), inbound
}

// Logger returns logger annotated with the request id stored in ctx, if any.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return logger
	}
	return logger.With().Str("request_id", id).Logger()
}

func usable(id string) bool {
	if id == "" || len(id) > maxInboundLen {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}

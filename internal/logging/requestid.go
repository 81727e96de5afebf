// Package logging carries the per-request id that prefixes log lines.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey struct{}

// GenerateRequestID returns a short hex id for requests that arrive without one.
func GenerateRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// GetRequestID returns "" when ctx carries no id.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// RequestTag is the id to print in a log line. Background jobs have no
// request and print "-".
func RequestTag(ctx context.Context) string {
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	return "-"
}

// Package shared holds the small helpers every bujo package leans on:
// owner ids, trace ids and credential redaction.
package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// DefaultUserID owns records created before any account is signed in.
const DefaultUserID = "default"

type traceKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the context's trace_id, or "-".
func TraceID(ctx context.Context) string {
	if v, _ := ctx.Value(traceKey{}).(string); v != "" {
		return v
	}
	return "-"
}

// NewTraceID returns a random trace id; one is minted per CLI invocation.
func NewTraceID() string {
	return uuid.NewString()
}

// NormalizeUserID maps an empty or blank id to DefaultUserID.
func NormalizeUserID(userID string) string {
	if userID = strings.TrimSpace(userID); userID == "" {
		return DefaultUserID
	}
	return userID
}

// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// Actor identifies who performs a soft delete or restore.
// Hosts put it into the context; the audit log and logger read it back.
type Actor struct {
	UserID string
	Email  string
	Source string // e.g. "cli", "api", "job"
}

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context.
func GetActor(ctx context.Context) *Actor {
	if v, ok := ctx.Value(actorContextKey{}).(*Actor); ok {
		return v
	}
	return nil
}

// GetActorID returns actor user ID from context or empty string.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.UserID
	}
	return ""
}

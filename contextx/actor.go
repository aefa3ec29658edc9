package contextx

import (
	"context"
	"slices"
)

// Actor is the authenticated identity behind a call. The auth middleware's
// AuthFunc stores it with [WithActor]; handlers read it back with
// [ActorFromContext].
type Actor struct {
	Subject  string
	Tenant   string
	ClientID string
	Scopes   []string
}

// HasScope reports whether the actor was granted scope.
func (a Actor) HasScope(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

// WithActor returns a derived context that carries a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the Actor stored in ctx.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

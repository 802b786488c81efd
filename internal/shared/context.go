package shared

import (
	"context"
	"strings"
)

type actorContextKey struct{}

// SystemActor attributes work that has no interactive user.
const SystemActor = "system"

// ContextWithActor stores the acting user identity in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the acting user identity from context.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

// IdentityProvider resolves the user responsible for the current call.
type IdentityProvider interface {
	CurrentActor(ctx context.Context) string
}

// ContextIdentity reads the actor placed in context by ContextWithActor and
// falls back to SystemActor.
type ContextIdentity struct{}

// CurrentActor implements IdentityProvider.
func (ContextIdentity) CurrentActor(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != "" {
		return actor
	}
	return SystemActor
}

package shared

import "context"

// Actor identifies the administrator performing a mutation. Elevated is an
// opaque capability decided once by the calling layer; the core never inspects
// role names to derive it.
type Actor struct {
	UserID   int64
	Elevated bool
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned when none was set.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

package auth

import (
	"context"
	"errors"
)

// ErrMissingActor is returned by mutating operations invoked without an actor.
var ErrMissingActor = errors.New("no actor on context")

type contextKey string

const (
	actorIDKey  contextKey = "actorID"
	actorKeyKey contextKey = "actorKey"
)

// Actor identifies the user that mutations are blamed on.
type Actor struct {
	ID  int64
	Key string
}

// ContextWithActor returns a new context that carries the acting user.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, actorIDKey, actor.ID)
	return context.WithValue(ctx, actorKeyKey, actor.Key)
}

// ActorFromContext retrieves the acting user from the context, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	id, ok := ctx.Value(actorIDKey).(int64)
	if !ok || id <= 0 {
		return Actor{}, false
	}
	key, _ := ctx.Value(actorKeyKey).(string)
	return Actor{ID: id, Key: key}, true
}

// RequireActor returns the acting user or ErrMissingActor.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, ErrMissingActor
	}
	return actor, nil
}

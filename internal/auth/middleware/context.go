package auth

import (
	"context"

	"github.com/mind-engage/mindengage-training/internal/scope"
)

type ctxKey string

const (
	ctxKeySub   ctxKey = "sub"
	ctxKeyActor ctxKey = "actor"
)

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func WithActor(ctx context.Context, a scope.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFromContext returns the actor loaded by LoadActor.
func ActorFromContext(ctx context.Context) (scope.Actor, bool) {
	a, ok := ctx.Value(ctxKeyActor).(scope.Actor)
	return a, ok
}

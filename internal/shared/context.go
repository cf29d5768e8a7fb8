package shared

import "context"

type contextKey string

const (
	actorKey      contextKey = "actor"
	sessionKeyKey contextKey = "session_key"
)

// ContextWithActor stores the acting user id supplied by the caller. Identity
// itself is an external concern; the id is only used for audit fields.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorKey).(int64); ok {
		return id
	}
	return 0
}

// ContextWithSessionKey stores the opaque session key owning the cart.
func ContextWithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, key)
}

// SessionKeyFromContext returns the session key, empty when absent.
func SessionKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(sessionKeyKey).(string); ok {
		return key
	}
	return ""
}

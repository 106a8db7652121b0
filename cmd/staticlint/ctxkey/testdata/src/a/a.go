package a

import "context"

type contextKey struct{}

type stringKey string

var principalKey contextKey

func attach(ctx context.Context) {
	_ = context.WithValue(ctx, principalKey, "alice")
	_ = context.WithValue(ctx, contextKey{}, "alice")
	_ = context.WithValue(ctx, "userID", "alice")               // want `context key of type string may collide; use a struct type`
	_ = context.WithValue(ctx, stringKey("userID"), "alice")    // want `context key of type a.stringKey may collide; use a struct type`
	_ = context.WithValue(ctx, 42, "alice")                     // want `context key of type int may collide; use a struct type`
}

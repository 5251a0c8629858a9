package browserprocess

import (
	"context"
)

type ctxKey int

const (
	ctxKeyLaunchID ctxKey = iota
)

// WithLaunchID saves the ID of the current launch to the context.
func WithLaunchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyLaunchID, id)
}

// GetLaunchID returns the launch ID from the context.
func GetLaunchID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyLaunchID).(string)
	return id
}

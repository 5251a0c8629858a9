package api

import "context"

type ctxKey int

const ctxKeyDevToolsURL ctxKey = iota

// WithDevToolsURL returns a copy of ctx carrying announced, which reports
// the websocket address the browser printed at start, or "" until it did.
func WithDevToolsURL(ctx context.Context, announced func() string) context.Context {
	return context.WithValue(ctx, ctxKeyDevToolsURL, announced)
}

// DevToolsURL returns the address announced so far, or "".
func DevToolsURL(ctx context.Context) string {
	if announced, ok := ctx.Value(ctxKeyDevToolsURL).(func() string); ok && announced != nil {
		return announced()
	}
	return ""
}

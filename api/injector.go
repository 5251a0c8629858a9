package api

import "context"

// DefaultRole is the role a browser is handed over under when none is given.
const DefaultRole = "browser"

// Injector receives a connected browser and builds whatever the caller
// needs on top of it. Its result is returned unchanged to the caller of the
// launch.
type Injector interface {
	Inject(ctx context.Context, conn Connection, proc Process, role string, extra any) (any, error)
}

// InjectorFunc is an adapter to allow the use of ordinary functions as
// Injectors.
type InjectorFunc func(ctx context.Context, conn Connection, proc Process, role string, extra any) (any, error)

// Inject calls f.
func (f InjectorFunc) Inject(ctx context.Context, conn Connection, proc Process, role string, extra any) (any, error) {
	return f(ctx, conn, proc, role, extra)
}

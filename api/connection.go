// Package api declares the contracts between the launch bootstrap and the
// components it hands the browser over to.
package api

import (
	"context"

	"github.com/chromedp/cdproto/cdp"

	"github.com/cdpboot/cdpboot/transport"
)

// Connection is an established CDP connection to a browser.
type Connection interface {
	cdp.Executor
	Close() error
}

// ProtocolClient establishes CDP connections over allocated transports.
// For websocket handles it's expected to wait for the browser to listen on
// the port; for stdio handles it takes over the parent ends of the pipes.
type ProtocolClient interface {
	Connect(ctx context.Context, h transport.Handle) (Connection, error)
}

// Process is a launched browser process.
type Process interface {
	Pid() int
	Alive() bool
	ExitCode() (code int, exited bool)
	Done() <-chan struct{}
	Terminate()
}

// Package transport selects and allocates the OS resource a browser exposes
// its debugging interface on: a TCP port for websocket connections or a pair
// of anonymous pipes for stdio connections.
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the kind of transport used to speak CDP with the browser.
type Kind int

// Transport kinds.
const (
	Websocket Kind = iota + 1
	Stdio
)

func (k Kind) String() string {
	switch k {
	case Websocket:
		return "websocket"
	case Stdio:
		return "stdio"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind parses the name of a transport kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "websocket", "ws":
		return Websocket, nil
	case "stdio", "pipe":
		return Stdio, nil
	default:
		return 0, fmt.Errorf("unknown transport %q, should be one of: websocket, stdio", s)
	}
}

// Debugging flags, exactly one of which ends the browser's argument vector.
const (
	PipeFlag       = "--remote-debugging-pipe"
	PortFlagPrefix = "--remote-debugging-port="
)

// Handle is an allocated transport. Port is set for Websocket handles and
// Pipes for Stdio handles.
type Handle struct {
	Kind  Kind
	Port  int
	Pipes PipePair
}

// DebugFlag returns the browser flag that enables remote debugging over
// the handle.
func (h Handle) DebugFlag() string {
	if h.Kind == Stdio {
		return PipeFlag
	}
	return PortFlagPrefix + strconv.Itoa(h.Port)
}

func (h Handle) String() string {
	if h.Kind == Stdio {
		return "stdio pipe"
	}
	return fmt.Sprintf("websocket (%d)", h.Port)
}

// Close releases the pipes of a Stdio handle. It's a no-op for websocket
// handles.
func (h Handle) Close() error {
	if h.Kind != Stdio {
		return nil
	}
	return h.Pipes.Close()
}

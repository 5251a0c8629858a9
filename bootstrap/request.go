package bootstrap

import (
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/transport"
)

// Request describes a browser to launch.
type Request struct {
	ExecutablePath string
	// DataPath is where the Gecko application package is staged and is the
	// Gecko profile directory. Chromium launches don't use it.
	DataPath string
	// URL is what a Gecko browser opens at start.
	URL        string
	WindowSize *launcher.WindowSize
	// Family defaults to Chromium.
	Family launcher.Family
	// Transport defaults to Websocket.
	Transport transport.Kind
	// Args are extra browser arguments.
	Args []string
	// Env is appended to the environment of the browser.
	Env []string
	// Role and Extra are passed through to the injector. Role defaults to
	// api.DefaultRole.
	Role  string
	Extra any
}

func (r Request) withDefaults() Request {
	if r.Family == 0 {
		r.Family = launcher.Chromium
	}
	if r.Transport == 0 {
		r.Transport = transport.Websocket
	}
	// the caller keeps ownership of its slices.
	r.Args = append([]string(nil), r.Args...)
	r.Env = append([]string(nil), r.Env...)

	return r
}

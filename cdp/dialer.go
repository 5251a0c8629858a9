package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oxtoacart/bpool"

	"github.com/cdpboot/cdpboot/api"
	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/transport"
)

const (
	discoveryPollInterval = 50 * time.Millisecond
	pipeBufferPoolSize    = 16
)

var _ api.ProtocolClient = &Dialer{}

// errNoDiscovery means the browser answered on the port but doesn't
// advertise a websocket endpoint.
var errNoDiscovery = errors.New("no websocket endpoint advertised")

// Dialer connects to browsers over the transport they were launched with.
type Dialer struct {
	logger       *log.Logger
	httpClient   *http.Client
	pollInterval time.Duration
	pool         *bpool.BufferPool
}

// NewDialer returns a new Dialer.
func NewDialer(logger *log.Logger) *Dialer {
	return &Dialer{
		logger:       logger,
		httpClient:   &http.Client{Timeout: time.Second},
		pollInterval: discoveryPollInterval,
		pool:         bpool.NewBufferPool(pipeBufferPoolSize),
	}
}

// Connect establishes a CDP connection over h and performs the handshake.
// For stdio handles the returned connection owns the parent ends of the
// pipes.
func (d *Dialer) Connect(ctx context.Context, h transport.Handle) (api.Connection, error) {
	var (
		c        conn
		endpoint string
	)
	switch h.Kind {
	case transport.Websocket:
		wsURL, err := d.websocketURL(ctx, h.Port)
		if err != nil {
			return nil, err
		}
		ws, err := dialWebsocket(ctx, wsURL)
		if err != nil {
			return nil, err
		}
		c, endpoint = ws, wsURL
	case transport.Stdio:
		if !h.Pipes.Valid() {
			return nil, errors.New("stdio transport without pipes")
		}
		c, endpoint = newPipeConn(h.Pipes.Writer(), h.Pipes.Reader(), d.pool), "pipe"
	default:
		return nil, fmt.Errorf("unsupported transport: %v", h.Kind)
	}

	client := newClient(c, endpoint, d.logger)
	if err := client.handshake(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("CDP handshake over %s: %w", h, err)
	}
	d.logger.Infof("cdp", "established CDP connection to %q", endpoint)

	return client, nil
}

// websocketURL polls the browser's discovery endpoint on port until the
// browser listens or ctx is done. An address the browser announced itself
// (see api.WithDevToolsURL) is used as soon as it's known.
func (d *Dialer) websocketURL(ctx context.Context, port int) (string, error) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if announced := api.DevToolsURL(ctx); announced != "" {
			d.logger.Debugf("cdp:discover", "browser announced %q", announced)
			return announced, nil
		}
		wsURL, err := d.discover(ctx, endpoint)
		switch {
		case err == nil:
			return wsURL, nil
		case errors.Is(err, errNoDiscovery):
			wsURL = fmt.Sprintf("ws://127.0.0.1:%d", port)
			d.logger.Debugf("cdp:discover", "%v, falling back to %q", err, wsURL)
			return wsURL, nil
		}
		d.logger.Tracef("cdp:discover", "endpoint:%q err:%v", endpoint, err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for the browser to listen on port %d: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Dialer) discover(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building discovery request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s answered %s", errNoDiscovery, endpoint, resp.Status)
	}

	var v struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: %s", errNoDiscovery, endpoint)
	}

	return v.WebSocketDebuggerURL, nil
}

// Package cdp is a minimal Chrome DevTools Protocol client working over
// either a websocket or the pipes of a browser started with
// --remote-debugging-pipe.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	cdpb "github.com/chromedp/cdproto/browser"
	cdpext "github.com/chromedp/cdproto/cdp"
	"github.com/mailru/easyjson"

	"github.com/cdpboot/cdpboot/cdp/domains"
	"github.com/cdpboot/cdpboot/log"
)

var _ cdpext.Executor = &Client{}

// Version is what the browser reported during the handshake.
type Version struct {
	Protocol  string
	Product   string
	Revision  string
	UserAgent string
	JSVersion string
}

// Client manages CDP communication with the browser.
type Client struct {
	logger   *log.Logger
	endpoint string

	Target domains.Target

	conn  conn
	msgID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	version Version
}

func newClient(c conn, endpoint string, logger *log.Logger) *Client {
	client := &Client{
		logger:   logger,
		endpoint: endpoint,
		conn:     c,
		pending:  make(map[int64]chan *cdproto.Message),
		done:     make(chan struct{}),
	}
	client.Target = domains.NewTarget(client)

	go client.recvLoop()

	return client
}

// Endpoint returns the address the client is connected to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Version returns the browser version received during the handshake.
func (c *Client) Version() Version {
	return c.version
}

// Done is closed when the connection to the browser is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, once Done is closed.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.err
}

func (c *Client) handshake(ctx context.Context) error {
	protocol, product, revision, userAgent, jsVersion, err := cdpb.GetVersion().Do(cdpext.WithExecutor(ctx, c))
	if err != nil {
		return fmt.Errorf("getting browser version: %w", err)
	}
	c.version = Version{
		Protocol:  protocol,
		Product:   product,
		Revision:  revision,
		UserAgent: userAgent,
		JSVersion: jsVersion,
	}
	c.logger.Debugf("cdp:handshake", "endpoint:%q product:%q protocol:%q", c.endpoint, product, protocol)

	return nil
}

// Execute implements cdproto.Executor and performs a synchronous send and
// receive.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("cdp:Execute", "endpoint:%q method:%q", c.endpoint, method)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     atomic.AddInt64(&c.msgID, 1),
		Method: cdproto.MethodType(method),
		Params: buf,
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = recvCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	select {
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	default:
	}
	if err := c.conn.writeMessage(msg); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case resp := <-recvCh:
		switch {
		case resp.Error != nil:
			return resp.Error
		case res != nil:
			return easyjson.Unmarshal(resp.Result, res) //nolint:wrapcheck
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

// Close closes the connection and waits for the receive loop to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Debugf("cdp:Close", "endpoint:%q", c.endpoint)
		err = c.conn.Close()
		<-c.done
	})

	return err
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil && !errors.Is(err, ErrConnClosed) {
		return fmt.Errorf("%w: %w", ErrConnClosed, err)
	}
	return ErrConnClosed
}

func (c *Client) recvLoop() {
	defer close(c.done)

	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			if !errors.Is(err, ErrConnClosed) {
				c.logger.Debugf("cdp:recvLoop", "endpoint:%q err:%v", c.endpoint, err)
			}
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			return
		}

		switch {
		case msg.Method != "":
			// events aren't dispatched.
			c.logger.Tracef("cdp:recvLoop", "endpoint:%q event:%q", c.endpoint, msg.Method)
		case msg.ID > 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debugf("cdp:recvLoop", "no one waits for message %d", msg.ID)
				continue
			}
			select {
			case ch <- msg:
			default:
			}
		default:
			c.logger.Errorf("cdp", "ignoring malformed incoming message (missing id or method): %#v", msg)
		}
	}
}

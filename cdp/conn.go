package cdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"
)

const wsBufferSize = 1 << 20

// conn carries CDP messages to and from a browser.
// readMessage is only called from a single goroutine.
type conn interface {
	readMessage() (*cdproto.Message, error)
	writeMessage(*cdproto.Message) error
	Close() error
}

// ErrConnClosed is returned when using a connection after it was closed.
var ErrConnClosed = errors.New("CDP connection closed")

type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

func dialWebsocket(ctx context.Context, wsURL string) (*wsConn, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	ws, _, err := wsd.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &wsConn{ws: ws}, nil
}

func (c *wsConn) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrConnClosed
		}
		return nil, err //nolint:wrapcheck
	}

	var msg cdproto.Message
	c.decoder = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.decoder)
	if err := c.decoder.Error(); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", buf, err)
	}

	return &msg, nil
}

func (c *wsConn) writeMessage(msg *cdproto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.encoder = jwriter.Writer{}
	msg.MarshalEasyJSON(&c.encoder)
	if err := c.encoder.Error; err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.ID, err)
	}
	writer, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := c.encoder.DumpTo(writer); err != nil {
		return err //nolint:wrapcheck
	}

	return writer.Close() //nolint:wrapcheck
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.ws.Close() //nolint:wrapcheck
}

// pipeConn speaks CDP over a pair of pipes. Every message is a JSON document
// followed by a NUL byte.
type pipeConn struct {
	w    io.WriteCloser
	r    io.ReadCloser
	br   *bufio.Reader
	pool *bpool.BufferPool

	writeMu sync.Mutex
	decoder jlexer.Lexer
}

func newPipeConn(w io.WriteCloser, r io.ReadCloser, pool *bpool.BufferPool) *pipeConn {
	return &pipeConn{
		w:    w,
		r:    r,
		br:   bufio.NewReaderSize(r, wsBufferSize),
		pool: pool,
	}
}

func (c *pipeConn) readMessage() (*cdproto.Message, error) {
	buf, err := c.br.ReadBytes(0)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return nil, ErrConnClosed
		}
		return nil, err //nolint:wrapcheck
	}
	buf = bytes.TrimSuffix(buf, []byte{0})

	var msg cdproto.Message
	c.decoder = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.decoder)
	if err := c.decoder.Error(); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", buf, err)
	}

	return &msg, nil
}

func (c *pipeConn) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.ID, err)
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)
	if _, err := encoder.DumpTo(buf); err != nil {
		return err //nolint:wrapcheck
	}
	buf.WriteByte(0)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrConnClosed
		}
		return err //nolint:wrapcheck
	}

	return nil
}

func (c *pipeConn) Close() error {
	var errs []error
	for _, f := range []io.Closer{c.w, c.r} {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package cdptest provides a fake CDP browser answering the handful of
// commands cdpboot sends, over pipes or a websocket.
package cdptest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Reported browser identity.
const (
	Product         = "cdptest/1.0"
	ProtocolVersion = "1.3"
	UserAgent       = "Mozilla/5.0 cdptest"
)

// WebsocketPath is where the websocket endpoint of Handler is served.
const WebsocketPath = "/devtools/browser/cdptest"

var targetSeq int64

// Respond returns the messages a browser sends back for msg, in order.
// The second value is true when the browser would go away after replying.
func Respond(msg *cdproto.Message) ([]*cdproto.Message, bool) {
	reply := &cdproto.Message{ID: msg.ID, SessionID: msg.SessionID}

	switch msg.Method {
	case cdproto.CommandBrowserGetVersion:
		reply.Result = mustJSON(map[string]string{
			"protocolVersion": ProtocolVersion,
			"product":         Product,
			"revision":        "@0",
			"userAgent":       UserAgent,
			"jsVersion":       "0.0",
		})
	case cdproto.CommandBrowserClose:
		reply.Result = easyjson.RawMessage(`{}`)
		return []*cdproto.Message{reply}, true
	case cdproto.CommandTargetCreateTarget:
		var p target.CreateTargetParams
		if err := easyjson.Unmarshal(msg.Params, &p); err != nil {
			reply.Error = &cdproto.Error{Code: -32602, Message: "Invalid parameters"}
			break
		}
		id := fmt.Sprintf("T%d", atomic.AddInt64(&targetSeq, 1))
		created := &cdproto.Message{
			Method: cdproto.EventTargetTargetCreated,
			Params: mustJSON(map[string]any{
				"targetInfo": targetInfo(id, p.URL),
			}),
		}
		reply.Result = mustJSON(map[string]string{"targetId": id})
		return []*cdproto.Message{created, reply}, false
	default:
		reply.Error = &cdproto.Error{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", msg.Method)}
	}

	return []*cdproto.Message{reply}, false
}

func targetInfo(id, url string) map[string]any {
	return map[string]any{
		"targetId":        id,
		"type":            "page",
		"title":           url,
		"url":             url,
		"attached":        false,
		"canAccessOpener": false,
	}
}

func mustJSON(v any) easyjson.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func decode(buf []byte) (*cdproto.Message, error) {
	var msg cdproto.Message
	decoder := jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&decoder)
	if err := decoder.Error(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &msg, nil
}

func encode(msg *cdproto.Message) ([]byte, error) {
	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return nil, err //nolint:wrapcheck
	}
	return encoder.BuildBytes() //nolint:wrapcheck
}

// ServePipe answers NUL delimited commands read from r on w, until r is
// exhausted or Browser.close is received.
func ServePipe(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	for {
		buf, err := br.ReadBytes(0)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err //nolint:wrapcheck
		}
		msg, err := decode(bytes.TrimSuffix(buf, []byte{0}))
		if err != nil {
			return err
		}

		replies, closing := Respond(msg)
		for _, reply := range replies {
			out, err := encode(reply)
			if err != nil {
				return err
			}
			if _, err := w.Write(append(out, 0)); err != nil {
				return err //nolint:wrapcheck
			}
		}
		if closing {
			return nil
		}
	}
}

// ServeWebsocket answers commands on conn until the peer goes away or
// Browser.close is received.
func ServeWebsocket(conn *websocket.Conn) error {
	defer func() { _ = conn.Close() }()

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err //nolint:wrapcheck
		}
		msg, err := decode(buf)
		if err != nil {
			return err
		}

		replies, closing := Respond(msg)
		for _, reply := range replies {
			out, err := encode(reply)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return err //nolint:wrapcheck
			}
		}
		if closing {
			return nil
		}
	}
}

// Handler serves the discovery endpoint at /json/version and the browser
// websocket at WebsocketPath. With discovery false /json/version answers
// 404 and the websocket is served on every other path, like a browser
// without the discovery endpoint.
func Handler(discovery bool) http.Handler {
	upgrade := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		_ = ServeWebsocket(conn)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, req *http.Request) {
		if !discovery {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              Product,
			"Protocol-Version":     ProtocolVersion,
			"User-Agent":           UserAgent,
			"webSocketDebuggerUrl": "ws://" + req.Host + WebsocketPath,
		})
	})
	if discovery {
		mux.HandleFunc(WebsocketPath, upgrade)
	} else {
		mux.HandleFunc("/", upgrade)
	}

	return mux
}

// Package wslive speaks the live protocol as raw JSON frames over a websocket.
package wslive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/transport"
)

// DefaultEndpoint is the public Gemini Live websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultHandshakeTimeout = 15 * time.Second
	closeWriteTimeout       = 2 * time.Second
)

var errClosed = errors.New("live connection is closed")

// Transport dials websocket live sessions.
type Transport struct {
	Dialer *websocket.Dialer
	Header http.Header
	// HandshakeTimeout bounds the wait for setupComplete when ctx has no deadline.
	HandshakeTimeout time.Duration
}

func New() *Transport {
	return &Transport{Dialer: websocket.DefaultDialer, HandshakeTimeout: defaultHandshakeTimeout}
}

func (t *Transport) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	wsURL, err := withAPIKey(endpoint, cfg.APIKey)
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", URL: endpoint, Err: err}
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, wsURL, t.Header.Clone())
	if err != nil {
		if resp != nil {
			return nil, &transport.TransportError{Op: "dial", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &transport.TransportError{Op: "dial", URL: wsURL, Err: err}
	}

	// Unblock the handshake read if the caller gives up.
	stop := context.AfterFunc(dialCtx, func() { _ = ws.Close() })
	defer stop()

	if err := ws.WriteJSON(cfg.Setup()); err != nil {
		_ = ws.Close()
		return nil, &transport.TransportError{Op: "setup", URL: wsURL, Err: err}
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	_, payload, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &transport.TransportError{Op: "setup", URL: wsURL, Err: err}
	}
	_ = ws.SetReadDeadline(time.Time{})

	first, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		_ = ws.Close()
		return nil, &transport.TransportError{Op: "setup", URL: wsURL, Err: err}
	}
	if first.SetupComplete == nil {
		_ = ws.Close()
		return nil, &transport.TransportError{Op: "setup", URL: wsURL, Err: errors.New("first frame is not setupComplete")}
	}
	if !stop() {
		// The context fired between the read and here; the socket is already closed.
		return nil, &transport.TransportError{Op: "setup", URL: wsURL, Err: dialCtx.Err()}
	}
	return &conn{ws: ws, url: wsURL}, nil
}

func withAPIKey(endpoint, key string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("key") == "" {
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type conn struct {
	ws  *websocket.Conn
	url string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *conn) Send(msg protocol.ClientMessage) error {
	if c.closed.Load() {
		return errClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return &transport.TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

// Receive returns the next decodable frame. Malformed frames surface as *protocol.DecodeError
// and leave the connection usable.
func (c *conn) Receive() (protocol.ServerMessage, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.ServerMessage{}, io.EOF
			}
			return protocol.ServerMessage{}, &transport.TransportError{Op: "read", URL: c.url, Err: err}
		}
		// The endpoint sends JSON in binary frames as often as in text frames.
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		return protocol.DecodeServerMessage(data)
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

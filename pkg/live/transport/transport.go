// Package transport abstracts the persistent streaming connection a live session runs over.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

// Config is what a transport needs to open a session.
type Config struct {
	// Endpoint is the websocket URL. Transports with a built-in endpoint ignore it.
	Endpoint string
	APIKey   string

	Model              string
	SystemInstruction  string
	ResponseModalities []string
	Voice              string
}

// Setup renders the connect-time frame for c.
func (c Config) Setup() protocol.ClientMessage {
	return protocol.NewSetup(protocol.SetupOptions{
		Model:              c.Model,
		SystemInstruction:  c.SystemInstruction,
		ResponseModalities: c.ResponseModalities,
		Voice:              c.Voice,
	})
}

// Transport opens sessions. Dial returns once the remote side has accepted the session
// configuration.
type Transport interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is one open session. Send may be called concurrently with Receive; Receive is called
// from a single goroutine. Receive returns io.EOF after a normal remote close.
type Conn interface {
	Send(msg protocol.ClientMessage) error
	Receive() (protocol.ServerMessage, error)
	Close() error
}

// TransportError represents connection-level failures (DNS, refused, TLS, dropped socket)
// while talking to the live endpoint.
//
// Use errors.As(err, &transportErr) to distinguish them from protocol and media errors.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURL(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// redactURL strips user info and the key query parameter.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	q := parsed.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

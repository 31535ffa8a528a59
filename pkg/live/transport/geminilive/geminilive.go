// Package geminilive runs live sessions through the google.golang.org/genai Live client.
package geminilive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/transport"
)

const opURL = "genai://live"

var (
	errClosed        = errors.New("live connection is closed")
	errSetupOnDialed = errors.New("setup is sent by Dial")
)

// liveSession is the subset of *genai.Session the adapter drives.
type liveSession interface {
	SendClientContent(genai.LiveClientContentInput) error
	SendRealtimeInput(genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, cfg transport.Config) (liveSession, error)

// Transport dials Gemini Live through the genai SDK.
type Transport struct {
	connect connectFunc
}

func New() *Transport {
	return &Transport{connect: connectGenai}
}

func connectGenai(ctx context.Context, cfg transport.Config) (liveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	session, err := client.Live.Connect(ctx, strings.TrimSpace(cfg.Model), connectConfig(cfg))
	if err != nil {
		return nil, err
	}
	return session, nil
}

func connectConfig(cfg transport.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{}
	for _, m := range cfg.ResponseModalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(m))
	}
	if s := strings.TrimSpace(cfg.SystemInstruction); s != "" {
		out.SystemInstruction = &genai.Content{Role: protocol.RoleUser, Parts: []*genai.Part{{Text: s}}}
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: v}},
		}
	}
	return out
}

// Dial connects and waits for setupComplete.
func (t *Transport) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	connect := t.connect
	if connect == nil {
		connect = connectGenai
	}
	session, err := connect(ctx, cfg)
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", URL: opURL, Err: err}
	}

	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()

	first, err := session.Receive()
	if err != nil {
		_ = session.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &transport.TransportError{Op: "setup", URL: opURL, Err: err}
	}
	if first == nil || first.SetupComplete == nil {
		_ = session.Close()
		return nil, &transport.TransportError{Op: "setup", URL: opURL, Err: errors.New("first message is not setupComplete")}
	}
	if !stop() {
		return nil, &transport.TransportError{Op: "setup", URL: opURL, Err: ctx.Err()}
	}
	return &conn{session: session}, nil
}

type conn struct {
	session liveSession

	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *conn) Send(msg protocol.ClientMessage) error {
	if c.closed.Load() {
		return errClosed
	}
	var err error
	switch {
	case msg.Setup != nil:
		return errSetupOnDialed
	case msg.ClientContent != nil:
		err = c.session.SendClientContent(toClientContent(*msg.ClientContent))
	case msg.RealtimeInput != nil:
		err = c.session.SendRealtimeInput(toRealtimeInput(*msg.RealtimeInput))
	default:
		return nil
	}
	if err != nil {
		return &transport.TransportError{Op: "write", URL: opURL, Err: err}
	}
	return nil
}

func (c *conn) Receive() (protocol.ServerMessage, error) {
	msg, err := c.session.Receive()
	if err != nil {
		if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.ServerMessage{}, io.EOF
		}
		return protocol.ServerMessage{}, &transport.TransportError{Op: "read", URL: opURL, Err: err}
	}
	return fromServerMessage(msg), nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.session.Close()
	})
	return err
}

func toClientContent(in protocol.ClientContent) genai.LiveClientContentInput {
	turns := make([]*genai.Content, 0, len(in.Turns))
	for _, turn := range in.Turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			parts = append(parts, &genai.Part{Text: p.Text})
		}
		turns = append(turns, &genai.Content{Role: turn.Role, Parts: parts})
	}
	return genai.LiveClientContentInput{Turns: turns, TurnComplete: genai.Ptr(in.TurnComplete)}
}

// toRealtimeInput hands raw payload bytes to the SDK, which does the one base64 encode.
func toRealtimeInput(in protocol.RealtimeInput) genai.LiveRealtimeInput {
	var out genai.LiveRealtimeInput
	if in.Audio != nil {
		out.Audio = &genai.Blob{Data: in.Audio.Data, MIMEType: in.Audio.MIMEType}
	}
	if in.Video != nil {
		out.Video = &genai.Blob{Data: in.Video.Data, MIMEType: in.Video.MIMEType}
	}
	return out
}

// fromServerMessage maps the SDK's decoded message back onto the wire shape so both
// transports feed the controller the same frames.
func fromServerMessage(msg *genai.LiveServerMessage) protocol.ServerMessage {
	var out protocol.ServerMessage
	if msg == nil {
		return out
	}
	if msg.SetupComplete != nil {
		out.SetupComplete = &protocol.SetupComplete{}
	}
	if msg.GoAway != nil {
		out.GoAway = &protocol.GoAway{}
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	content := &protocol.ServerContent{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted}
	if sc.ModelTurn != nil {
		turn := &protocol.Content{Role: sc.ModelTurn.Role}
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.InlineData != nil:
				turn.Parts = append(turn.Parts, protocol.Part{InlineData: &protocol.Blob{
					Data:     p.InlineData.Data,
					MIMEType: p.InlineData.MIMEType,
				}})
			case p.Text != "":
				turn.Parts = append(turn.Parts, protocol.Part{Text: p.Text})
			}
		}
		content.ModelTurn = turn
	}
	out.ServerContent = content
	return out
}

// Package session owns the live connection state machine. A Controller dials the transport,
// guards outbound sends by status, and turns inbound server frames into typed events on an
// eventbus.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-go/vai-live/pkg/live/eventbus"
	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/transport"
)

var (
	// ErrInvalidState is returned by SendText outside connected, listening and speaking.
	ErrInvalidState = errors.New("session is not ready to send")
	// ErrSessionClosed is returned when a Controller is connected twice or disconnected while
	// dialing. Controllers are single-use.
	ErrSessionClosed = errors.New("session closed")
)

const (
	DefaultModel             = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultSystemInstruction = "You are a helpful and friendly AI assistant."
	DefaultVoice             = "Puck"
)

// Config is the per-session connect configuration.
type Config struct {
	Endpoint string
	APIKey   string

	Model              string
	SystemInstruction  string
	ResponseModalities []string
	Voice              string

	// InitialContext is sent as a user turn once, when the session first reaches connected.
	InitialContext string
}

func (c Config) transportConfig() transport.Config {
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	instruction := c.SystemInstruction
	if instruction == "" {
		instruction = DefaultSystemInstruction
	}
	modalities := c.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{protocol.ModalityAudio}
	}
	return transport.Config{
		Endpoint:           c.Endpoint,
		APIKey:             c.APIKey,
		Model:              model,
		SystemInstruction:  instruction,
		ResponseModalities: modalities,
		Voice:              c.Voice,
	}
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBus attaches the controller's topics to an existing bus so their deliveries are
// ordered with the caller's own topics.
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Controller) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// Controller is one live session. Create a new Controller for every session.
type Controller struct {
	id        string
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	bus       *eventbus.Bus

	messages      *eventbus.Topic[LiveMessage]
	statuses      *eventbus.Topic[StatusChange]
	interruptions *eventbus.Topic[Interruption]

	mu         sync.Mutex
	status     Status
	conn       transport.Conn
	cancelDial context.CancelFunc
	started    bool
	closed     bool

	// outbox keeps publications in the order of the state changes that produced them
	// while publishing outside mu.
	outbox   []func()
	flushing bool
}

func NewController(t transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		id:        "s_" + uuid.NewString(),
		transport: t,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = eventbus.New(eventbus.WithLogger(c.logger))
	}
	c.logger = c.logger.With("component", "session", "session_id", c.id)
	c.messages = eventbus.NewTopic[LiveMessage](c.bus, "messages")
	c.statuses = eventbus.NewTopic[StatusChange](c.bus, "status")
	c.interruptions = eventbus.NewTopic[Interruption](c.bus, "interruptions")
	c.metrics.SetStatus(c.status.String())
	return c
}

func (c *Controller) ID() string { return c.id }

// Messages carries text, audio and error messages.
func (c *Controller) Messages() *eventbus.Topic[LiveMessage] { return c.messages }

// Statuses carries every status transition.
func (c *Controller) Statuses() *eventbus.Topic[StatusChange] { return c.statuses }

// Interruptions carries remote barge-in signals.
func (c *Controller) Interruptions() *eventbus.Topic[Interruption] { return c.interruptions }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the transport and starts the receive loop. It returns once the remote side
// accepted the session setup. A dial failure moves the session to error, publishes one error
// message and returns a *transport.TransportError. Disconnect cancels a pending Connect.
func (c *Controller) Connect(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.started = true
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.applyLocked(EventConnect)
	c.mu.Unlock()
	c.flush()

	tcfg := cfg.transportConfig()
	c.metrics.RecordSessionStarted()
	c.logger.Info("connecting", "model", tcfg.Model, "modalities", tcfg.ResponseModalities)

	conn, err := c.transport.Dial(dialCtx, tcfg)
	cancel()

	c.mu.Lock()
	c.cancelDial = nil
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Info("connect abandoned by disconnect")
		return ErrSessionClosed
	}
	if err != nil {
		var te *transport.TransportError
		if !errors.As(err, &te) {
			err = &transport.TransportError{Op: "dial", URL: tcfg.Endpoint, Err: err}
		}
		c.failLocked(err)
		c.mu.Unlock()
		c.flush()
		return err
	}
	c.conn = conn
	c.applyLocked(EventOpened)
	go c.readLoop(conn)
	c.mu.Unlock()
	c.flush()

	if cfg.InitialContext != "" {
		if err := c.SendText(cfg.InitialContext); err != nil {
			c.logger.Warn("initial context not sent", "error", err)
		}
	}
	return nil
}

// Disconnect closes the transport, which ends the receive loop; nothing received afterwards
// is published. It always leaves the session disconnected and may be called any number of
// times, including from a subscriber.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancelDial != nil {
		c.cancelDial()
	}
	conn := c.conn
	c.conn = nil
	c.applyLocked(EventDisconnect)
	c.mu.Unlock()
	c.flush()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("closing transport", "error", err)
		}
	}
	c.logger.Info("disconnected")
}

// SendText sends one complete user turn.
func (c *Controller) SendText(text string) error {
	conn, status := c.sendable()
	if conn == nil {
		c.logger.Warn("cannot send text: not in valid state", "status", status)
		c.metrics.RecordSendDropped("text", "invalid_state")
		return fmt.Errorf("send text in %s: %w", status, ErrInvalidState)
	}
	if err := conn.Send(protocol.NewTextTurn(text)); err != nil {
		c.logger.Error("failed to send text", "error", err)
		c.metrics.RecordSendDropped("text", "write_error")
		return fmt.Errorf("send text: %w", err)
	}
	c.metrics.RecordFrameSent("text")
	return nil
}

// SendAudioChunk forwards 16 kHz PCM16 microphone audio. Outside the sendable states, and on
// write failure, the chunk is dropped without an error.
func (c *Controller) SendAudioChunk(pcm16 []byte) {
	c.sendMedia("audio", func() protocol.ClientMessage { return protocol.NewAudioInput(pcm16) })
}

// SendVideoFrame forwards one JPEG frame with the same drop policy as SendAudioChunk.
func (c *Controller) SendVideoFrame(jpeg []byte) {
	c.sendMedia("video", func() protocol.ClientMessage { return protocol.NewVideoInput(jpeg) })
}

func (c *Controller) sendMedia(kind string, build func() protocol.ClientMessage) {
	conn, status := c.sendable()
	if conn == nil {
		c.logger.Debug("dropping media frame", "kind", kind, "status", status)
		c.metrics.RecordSendDropped(kind, "invalid_state")
		return
	}
	if err := conn.Send(build()); err != nil {
		c.logger.Debug("dropping media frame", "kind", kind, "error", err)
		c.metrics.RecordSendDropped(kind, "write_error")
		return
	}
	c.metrics.RecordFrameSent(kind)
}

func (c *Controller) sendable() (transport.Conn, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.status.CanSend() {
		return nil, c.status
	}
	return c.conn, c.status
}

func (c *Controller) readLoop(conn transport.Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				c.logger.Warn("skipping undecodable frame", "error", err)
				c.metrics.RecordDecodeDrop("frame")
				continue
			}
			c.receiveFailed(conn, err)
			return
		}
		if !c.current(conn) {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Controller) current(conn transport.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && !c.closed
}

func (c *Controller) receiveFailed(conn transport.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, io.EOF) {
		c.logger.Info("remote closed the session")
		c.applyLocked(EventRemoteClose)
	} else {
		var te *transport.TransportError
		if !errors.As(err, &te) {
			err = &transport.TransportError{Op: "read", Err: err}
		}
		c.failLocked(err)
	}
	c.conn = nil
	c.mu.Unlock()
	c.flush()
	_ = conn.Close()
}

// dispatch turns one server frame into events. An interrupted frame carries no content the
// engine keeps.
func (c *Controller) dispatch(msg protocol.ServerMessage) {
	if msg.GoAway != nil {
		c.logger.Info("server is going away", "time_left", msg.GoAway.TimeLeft)
	}
	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted {
		c.logger.Info("model interrupted")
		c.metrics.RecordInterruption("remote")
		c.emit(func() { c.interruptions.Publish(Interruption{SessionID: c.id, Source: "remote"}) })
		return
	}

	var out []LiveMessage
	if sc.ModelTurn != nil {
		for i, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				out = append(out, TextMessage(part.Text))
			}
			if part.InlineData == nil {
				continue
			}
			if err := part.InlineData.Err(); err != nil {
				c.logger.Warn("dropping audio part", "part", i, "error", err)
				c.metrics.RecordDecodeDrop("audio")
				continue
			}
			if len(part.InlineData.Data) == 0 {
				continue
			}
			out = append(out, AudioMessage(part.InlineData.Data))
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(out) > 0 {
		c.applyLocked(EventContent)
	}
	for _, m := range out {
		c.metrics.RecordMessage(string(m.Kind))
		c.outbox = append(c.outbox, func() { c.messages.Publish(m) })
	}
	if sc.TurnComplete {
		c.applyLocked(EventTurnComplete)
	}
	c.mu.Unlock()
	c.flush()
}

// applyLocked moves the status along ev and queues the change for publication.
func (c *Controller) applyLocked(ev Event) {
	from := c.status
	to, ok := Transition(from, ev)
	if !ok {
		c.logger.Debug("ignoring event", "event", ev, "status", from)
		return
	}
	if to == from {
		return
	}
	c.status = to
	c.metrics.SetStatus(to.String())
	c.logger.Info("status changed", "from", from, "to", to, "event", ev)
	change := StatusChange{SessionID: c.id, From: from, To: to, Event: ev}
	c.outbox = append(c.outbox, func() { c.statuses.Publish(change) })
}

// failLocked records a transport failure: status error plus exactly one error message.
func (c *Controller) failLocked(err error) {
	c.logger.Error("transport failure", "error", err)
	c.metrics.RecordTransportError()
	if c.status == StatusError {
		return
	}
	c.applyLocked(EventTransportError)
	msg := ErrorMessage(err.Error())
	c.outbox = append(c.outbox, func() { c.messages.Publish(msg) })
}

func (c *Controller) emit(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.outbox = append(c.outbox, fn)
	c.mu.Unlock()
	c.flush()
}

// flush publishes queued events outside mu. Whoever finds the outbox idle drains it, so
// subscribers may call back into the Controller.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.outbox) > 0 {
		next := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		next()
		c.mu.Lock()
	}
	c.outbox = nil
	c.flushing = false
	c.mu.Unlock()
}

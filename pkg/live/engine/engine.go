// Package engine assembles a complete live session: the session controller, the playback
// scheduler on its render clock, the capture streamer and the transcript collector, all
// sharing one event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-live/pkg/live/capture"
	"github.com/vango-go/vai-live/pkg/live/eventbus"
	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/playback"
	"github.com/vango-go/vai-live/pkg/live/session"
	"github.com/vango-go/vai-live/pkg/live/transcript"
	"github.com/vango-go/vai-live/pkg/live/transport"
)

// Restarter is implemented by output devices that can recover from a failed write, such as
// playback.FFPlay.
type Restarter interface {
	Restart() error
}

// Config selects what a session captures and how it connects.
type Config struct {
	Session session.Config

	// Audio and Video enable the microphone and camera taps.
	Audio bool
	Video bool
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSources sets the capture device openers. Either may be nil.
func WithSources(audio capture.AudioOpener, video capture.VideoOpener) Option {
	return func(e *Engine) {
		e.openAudio = audio
		e.openVideo = video
	}
}

// WithCaptureOptions passes options through to the capture streamer.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(e *Engine) { e.captureOpts = append(e.captureOpts, opts...) }
}

// WithRenderOptions passes options through to the render context.
func WithRenderOptions(opts ...playback.RenderOption) Option {
	return func(e *Engine) { e.renderOpts = append(e.renderOpts, opts...) }
}

// WithTranscriptOptions configures the transcript collector, typically with
// transcript.OnSessionEnd.
func WithTranscriptOptions(opts ...transcript.Option) Option {
	return func(e *Engine) { e.transcriptOpts = append(e.transcriptOpts, opts...) }
}

// Engine is one live session end to end. It is single-use like the controller it wraps.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	output  io.Writer

	openAudio      capture.AudioOpener
	openVideo      capture.VideoOpener
	captureOpts    []capture.Option
	renderOpts     []playback.RenderOption
	transcriptOpts []transcript.Option

	bus        *eventbus.Bus
	controller *session.Controller
	render     *playback.RenderContext
	scheduler  *playback.Scheduler
	streamer   *capture.Streamer
	transcript *transcript.Collector

	unsubscribe []func()
	stopWatch   chan struct{}
	watchDone   chan struct{}
	closeOnce   sync.Once
}

// New builds an engine that dials t and renders model audio into output.
func New(t transport.Transport, output io.Writer, opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), output: output}
	for _, opt := range opts {
		opt(e)
	}
	if e.output == nil {
		e.output = io.Discard
	}
	base := e.logger
	e.logger = base.With("component", "engine")

	e.bus = eventbus.New(eventbus.WithLogger(e.logger))
	e.controller = session.NewController(t,
		session.WithLogger(base),
		session.WithMetrics(e.metrics),
		session.WithBus(e.bus),
	)
	e.render = playback.NewRenderContext(e.output, append([]playback.RenderOption{playback.WithRenderLogger(base)}, e.renderOpts...)...)
	e.scheduler = playback.NewScheduler(e.render, playback.WithLogger(base), playback.WithMetrics(e.metrics))
	captureOpts := append([]capture.Option{capture.WithLogger(base), capture.WithMetrics(e.metrics)}, e.captureOpts...)
	e.streamer = capture.NewStreamer(e.controller, e.openAudio, e.openVideo, captureOpts...)
	e.transcript = transcript.New(e.transcriptOpts...)

	e.unsubscribe = append(e.unsubscribe,
		e.controller.Messages().Subscribe(e.onMessage),
		e.controller.Interruptions().Subscribe(func(session.Interruption) { e.scheduler.Interrupt() }),
		e.controller.Statuses().Subscribe(e.onStatus),
		e.transcript.Attach(e.controller.Messages()),
	)
	return e
}

func (e *Engine) Controller() *session.Controller { return e.controller }
func (e *Engine) Scheduler() *playback.Scheduler  { return e.scheduler }
func (e *Engine) Streamer() *capture.Streamer     { return e.streamer }
func (e *Engine) Transcript() *transcript.Collector {
	return e.transcript
}

// Start connects the session, then starts rendering and the enabled capture taps. A capture
// failure leaves the session connected and is returned as a *capture.MediaAccessError.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	if err := e.controller.Connect(ctx, cfg.Session); err != nil {
		return err
	}
	e.render.Start()
	e.watchOutput()

	var errs []error
	if cfg.Audio {
		if err := e.streamer.StartAudio(ctx); err != nil {
			e.logger.Warn("microphone unavailable", "error", err)
			errs = append(errs, err)
		}
	}
	if cfg.Video {
		if err := e.streamer.StartVideo(ctx); err != nil {
			e.logger.Warn("camera unavailable", "error", err)
			errs = append(errs, err)
		}
	}
	// The session may have ended while the taps were opening.
	if terminal(e.controller.Status()) {
		_ = e.streamer.Close()
	}
	return errors.Join(errs...)
}

// SendText sends a user turn and records it in the transcript.
func (e *Engine) SendText(text string) error {
	if err := e.controller.SendText(text); err != nil {
		return err
	}
	e.transcript.AddUser(text)
	return nil
}

// Interrupt is a local barge-in: queued model audio is dropped and playback restarts from now.
func (e *Engine) Interrupt() {
	e.metrics.RecordInterruption("local")
	e.scheduler.Interrupt()
}

// Close tears the session down in reverse order of Start and returns the final transcript.
// It is safe to call more than once.
func (e *Engine) Close() []transcript.Entry {
	var entries []transcript.Entry
	e.closeOnce.Do(func() {
		_ = e.streamer.Close()
		e.controller.Disconnect()
		for _, unsub := range e.unsubscribe {
			unsub()
		}
		e.scheduler.Interrupt()
		e.scheduler.Close()
		if e.stopWatch != nil {
			close(e.stopWatch)
			<-e.watchDone
		}
		_ = e.render.Close()
		entries = e.transcript.End()
	})
	return entries
}

func (e *Engine) onMessage(m session.LiveMessage) {
	switch m.Kind {
	case session.KindAudio:
		// Enqueue logs and counts undecodable chunks itself.
		if err := e.scheduler.Enqueue(m.PCM16); errors.Is(err, playback.ErrClosed) {
			e.logger.Debug("audio after playback closed")
		}
	case session.KindError:
		e.logger.Warn("session error", "detail", m.Detail)
	}
}

// onStatus ends playback and releases the capture devices once the session is over, however
// it ended.
func (e *Engine) onStatus(ch session.StatusChange) {
	if !terminal(ch.To) {
		return
	}
	e.scheduler.Interrupt()
	if err := e.streamer.Close(); err != nil {
		e.logger.Debug("stopping capture", "error", err)
	}
}

func terminal(s session.Status) bool {
	return s == session.StatusDisconnected || s == session.StatusError
}

// watchOutput restarts the output device after write failures.
func (e *Engine) watchOutput() {
	restarter, ok := e.output.(Restarter)
	if !ok || e.stopWatch != nil {
		return
	}
	e.stopWatch = make(chan struct{})
	e.watchDone = make(chan struct{})
	go func() {
		defer close(e.watchDone)
		for {
			select {
			case <-e.stopWatch:
				return
			case err := <-e.render.ErrCh():
				e.logger.Warn("output device write failed; restarting", "error", err)
				if rerr := restarter.Restart(); rerr != nil {
					e.logger.Error("output device restart failed", "error", fmt.Errorf("restart: %w", rerr))
				}
			}
		}
	}()
}

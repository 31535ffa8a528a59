// Package capture streams microphone frames and periodic camera frames to a live session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-live/pkg/live/codec"
	"github.com/vango-go/vai-live/pkg/live/metrics"
)

const defaultVideoInterval = time.Second

// MediaAccessError reports that a capture device could not be opened: the capture tool is
// missing, the device is busy, or permission was denied. Callers should prompt the user
// rather than retry the network.
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("media access error (%s): %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AudioSource yields mono float32 frames at codec.InputSampleRateHz.
type AudioSource interface {
	// ReadFrame fills buf completely. It returns an error once the source is closed.
	ReadFrame(buf []float32) error
	Close() error
}

// VideoSource keeps the most recent camera picture.
type VideoSource interface {
	// LatestFrame reports false until the first picture arrives.
	LatestFrame() (image.Image, bool)
	Close() error
}

type (
	AudioOpener func(ctx context.Context) (AudioSource, error)
	VideoOpener func(ctx context.Context) (VideoSource, error)
)

// Outbound receives encoded frames. The session controller implements it.
type Outbound interface {
	SendAudioChunk(pcm16 []byte)
	SendVideoFrame(jpeg []byte)
}

type Option func(*Streamer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Streamer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// WithVideoInterval overrides the 1 Hz video cadence.
func WithVideoInterval(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.videoInterval = d
		}
	}
}

// WithFrameSamples overrides the 4096-sample audio frame.
func WithFrameSamples(n int) Option {
	return func(s *Streamer) {
		if n > 0 {
			s.frameSamples = n
		}
	}
}

type tap struct {
	name   string
	source io.Closer
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the producer, releases the source and waits for the goroutine.
func (t *tap) stop() {
	t.cancel()
	_ = t.source.Close()
	<-t.done
}

// Streamer owns the capture sources and their producer goroutines. The audio and video taps
// start and stop independently.
type Streamer struct {
	out       Outbound
	openAudio AudioOpener
	openVideo VideoOpener

	logger        *slog.Logger
	metrics       *metrics.Metrics
	frameSamples  int
	videoInterval time.Duration

	mu    sync.Mutex
	audio *tap
	video *tap

	level levelMeter
}

func NewStreamer(out Outbound, openAudio AudioOpener, openVideo VideoOpener, opts ...Option) *Streamer {
	s := &Streamer{
		out:           out,
		openAudio:     openAudio,
		openVideo:     openVideo,
		logger:        slog.Default(),
		frameSamples:  codec.CaptureFrameSamples,
		videoInterval: defaultVideoInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "capture")
	return s
}

// StartAudio opens the microphone and starts forwarding frames. A running audio tap is torn
// down first.
func (s *Streamer) StartAudio(ctx context.Context) error {
	if s.openAudio == nil {
		return &MediaAccessError{Device: "microphone", Err: errors.New("no audio source configured")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.audio)

	src, err := s.openAudio(ctx)
	if err != nil {
		return asMediaAccessError("microphone", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t := &tap{name: "audio", source: src, cancel: cancel, done: make(chan struct{})}
	s.audio = t
	go s.audioLoop(loopCtx, src, t.done)
	s.logger.Info("audio capture started", "frame_samples", s.frameSamples)
	return nil
}

// StartVideo opens the camera and starts sampling it. A running video tap is torn down first.
func (s *Streamer) StartVideo(ctx context.Context) error {
	if s.openVideo == nil {
		return &MediaAccessError{Device: "camera", Err: errors.New("no video source configured")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.video)

	src, err := s.openVideo(ctx)
	if err != nil {
		return asMediaAccessError("camera", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t := &tap{name: "video", source: src, cancel: cancel, done: make(chan struct{})}
	s.video = t
	go s.videoLoop(loopCtx, src, t.done)
	s.logger.Info("video capture started", "interval", s.videoInterval)
	return nil
}

func (s *Streamer) StopAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.audio)
	s.level.reset()
}

func (s *Streamer) StopVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.video)
}

// Close stops both taps. It is idempotent.
func (s *Streamer) Close() error {
	s.StopAudio()
	s.StopVideo()
	return nil
}

// AudioRunning and VideoRunning report whether a tap is active.
func (s *Streamer) AudioRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio != nil
}

func (s *Streamer) VideoRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil
}

// Level returns the input level of the most recent audio frame.
func (s *Streamer) Level() Level {
	return s.level.load()
}

func (s *Streamer) stopLocked(slot **tap) {
	t := *slot
	if t == nil {
		return
	}
	*slot = nil
	t.stop()
	s.logger.Info("capture stopped", "tap", t.name)
}

func (s *Streamer) audioLoop(ctx context.Context, src AudioSource, done chan struct{}) {
	defer close(done)
	buf := make([]float32, s.frameSamples)
	for {
		if err := src.ReadFrame(buf); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("audio source ended", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		l := s.level.observe(buf)
		s.metrics.SetInputLevel(l.RMS)
		s.out.SendAudioChunk(codec.FloatToPCM16(buf))
		s.metrics.RecordCaptureFrame("audio")
	}
}

func (s *Streamer) videoLoop(ctx context.Context, src VideoSource, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.videoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			img, ok := src.LatestFrame()
			if !ok {
				continue
			}
			jpeg, err := codec.EncodeFrame(img)
			if err != nil {
				s.logger.Warn("dropping video frame", "error", err)
				continue
			}
			s.out.SendVideoFrame(jpeg)
			s.metrics.RecordCaptureFrame("video")
		}
	}
}

func asMediaAccessError(device string, err error) error {
	var mae *MediaAccessError
	if errors.As(err, &mae) {
		return err
	}
	return &MediaAccessError{Device: device, Err: err}
}

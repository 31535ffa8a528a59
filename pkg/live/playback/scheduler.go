package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-live/pkg/live/codec"
	"github.com/vango-go/vai-live/pkg/live/metrics"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback scheduler is closed")

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSampleRate sets the rate of enqueued PCM. Defaults to codec.OutputSampleRateHz.
func WithSampleRate(hz int) Option {
	return func(s *Scheduler) {
		if hz > 0 {
			s.sampleRateHz = hz
		}
	}
}

// WithObserver registers fn to be called, on the scheduler goroutine, for every scheduled item.
func WithObserver(fn func(Item)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// Scheduler sequences inbound audio chunks onto a Renderer.
//
// All state below the command channel is owned by the run goroutine. Public methods submit
// closures and wait for them to run, so they return after their effect is visible.
type Scheduler struct {
	renderer     Renderer
	logger       *slog.Logger
	metrics      *metrics.Metrics
	sampleRateHz int
	observer     func(Item)

	cmds      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	queue [][]float32
	// nextStart is the playback cursor: where the next chunk starts unless the clock is
	// already past it.
	nextStart  time.Duration
	inFlight   bool
	generation uint64
	seq        uint64
}

// NewScheduler starts a scheduler on r.
func NewScheduler(r Renderer, opts ...Option) *Scheduler {
	s := &Scheduler{
		renderer:     r,
		logger:       slog.Default(),
		sampleRateHz: codec.OutputSampleRateHz,
		cmds:         make(chan func()),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "playback")
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			s.queue = nil
			s.metrics.SetQueueDepth(0)
			return
		}
	}
}

// do runs fn on the scheduler goroutine and waits for it. It reports false if the scheduler
// is closed.
func (s *Scheduler) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.quit:
		return false
	}
	<-done
	return true
}

// Enqueue decodes one PCM16 chunk and appends it to the queue. Empty chunks are ignored.
// Undecodable chunks are dropped and reported; later chunks are unaffected.
func (s *Scheduler) Enqueue(pcm16 []byte) error {
	if len(pcm16) == 0 {
		return nil
	}
	samples, err := codec.PCM16ToFloat(pcm16)
	if err != nil {
		s.logger.Warn("dropping undecodable audio chunk", "bytes", len(pcm16), "error", err)
		s.metrics.RecordDecodeDrop("playback")
		return fmt.Errorf("enqueue audio chunk: %w", err)
	}
	if !s.do(func() { s.enqueue(samples) }) {
		return ErrClosed
	}
	return nil
}

// Interrupt flushes everything not yet rendered and resets the cursor to the clock's now.
// It is safe to call at any time.
func (s *Scheduler) Interrupt() {
	s.do(s.interrupt)
}

// NextStartTime returns the playback cursor.
func (s *Scheduler) NextStartTime() time.Duration {
	var out time.Duration
	s.do(func() { out = s.nextStart })
	return out
}

// Pending returns the number of chunks waiting behind the in-flight chunk.
func (s *Scheduler) Pending() int {
	var out int
	s.do(func() { out = len(s.queue) })
	return out
}

// Close stops the scheduler and drops the queue. Audio already handed to the renderer keeps
// playing; the renderer's owner decides when to stop it.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

func (s *Scheduler) enqueue(samples []float32) {
	s.queue = append(s.queue, samples)
	s.pump()
}

func (s *Scheduler) interrupt() {
	dropped := len(s.queue)
	s.queue = nil
	s.inFlight = false
	s.generation++
	s.renderer.CancelPending()
	s.nextStart = s.renderer.Now()
	s.metrics.SetQueueDepth(0)
	s.logger.Debug("playback interrupted", "dropped_chunks", dropped, "cursor", s.nextStart)
}

func (s *Scheduler) ended(gen uint64) {
	if gen != s.generation {
		return
	}
	s.inFlight = false
	s.pump()
}

// pump schedules the head of the queue if nothing is in flight.
func (s *Scheduler) pump() {
	defer func() { s.metrics.SetQueueDepth(len(s.queue)) }()
	if s.inFlight || len(s.queue) == 0 {
		return
	}
	samples := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	now := s.renderer.Now()
	start := max(now, s.nextStart)
	s.seq++
	item := Item{
		Seq:      s.seq,
		Start:    start,
		Duration: codec.SamplesDuration(len(samples), s.sampleRateHz),
		Samples:  len(samples),
	}
	gen := s.generation
	s.inFlight = true
	s.nextStart = item.End()
	s.renderer.Schedule(samples, start, func() {
		s.do(func() { s.ended(gen) })
	})

	s.metrics.RecordScheduled((start - now).Seconds())
	if s.observer != nil {
		s.observer(item)
	}
}

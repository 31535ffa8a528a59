package playback

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-live/pkg/live/codec"
)

const defaultQuantum = 20 * time.Millisecond

type RenderOption func(*RenderContext)

func WithRenderLogger(logger *slog.Logger) RenderOption {
	return func(rc *RenderContext) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

// WithQuantum sets how much audio each render step produces. Defaults to 20ms.
func WithQuantum(d time.Duration) RenderOption {
	return func(rc *RenderContext) {
		if d > 0 {
			rc.quantum = d
		}
	}
}

func WithRenderSampleRate(hz int) RenderOption {
	return func(rc *RenderContext) {
		if hz > 0 {
			rc.sampleRateHz = hz
		}
	}
}

type voice struct {
	start   int64
	samples []float32
	onEnded func()
	ended   bool
}

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// RenderContext is a mono mixing renderer with its own sample clock. Each step renders one
// quantum of audio to out; Now reports the number of samples rendered so far.
//
// A buffer's onEnded callback fires just before the step that renders its last sample. That
// lets a sequential scheduler place the next buffer at the previous buffer's end within the
// same step, so back-to-back chunks play without a gap.
type RenderContext struct {
	out          io.Writer
	logger       *slog.Logger
	sampleRateHz int
	quantum      time.Duration

	mu     sync.Mutex
	pos    int64
	voices []*voice

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
	errCh   chan error
}

// NewRenderContext returns a stopped context writing PCM16 LE to out. A nil out discards audio.
func NewRenderContext(out io.Writer, opts ...RenderOption) *RenderContext {
	if out == nil {
		out = io.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RenderContext{
		out:          out,
		logger:       slog.Default(),
		sampleRateHz: codec.OutputSampleRateHz,
		quantum:      defaultQuantum,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		errCh:        make(chan error, 1),
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.logger = rc.logger.With("component", "render")
	return rc
}

// Start renders in real time, one quantum per tick, until Close.
func (rc *RenderContext) Start() {
	rc.mu.Lock()
	if rc.started {
		rc.mu.Unlock()
		return
	}
	rc.started = true
	rc.mu.Unlock()
	go rc.run()
}

func (rc *RenderContext) run() {
	defer close(rc.done)
	ticker := time.NewTicker(rc.quantum)
	defer ticker.Stop()
	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			if err := rc.Step(); err != nil {
				rc.emitErr(err)
			}
		}
	}
}

// ErrCh reports output device write failures. Rendering continues after an error.
func (rc *RenderContext) ErrCh() <-chan error {
	return rc.errCh
}

func (rc *RenderContext) emitErr(err error) {
	select {
	case rc.errCh <- err:
	default:
	}
}

// Close stops real-time rendering and drops pending audio.
func (rc *RenderContext) Close() error {
	rc.cancel()
	rc.mu.Lock()
	started := rc.started
	rc.voices = nil
	rc.mu.Unlock()
	if started {
		<-rc.done
	}
	return nil
}

func (rc *RenderContext) Now() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return codec.SamplesDuration(int(rc.pos), rc.sampleRateHz)
}

func (rc *RenderContext) Schedule(samples []float32, start time.Duration, onEnded func()) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.ctx.Err() != nil {
		return
	}
	at := rc.toSamples(start)
	if at < rc.pos {
		// Late: the clock already passed start, play from now.
		at = rc.pos
	}
	rc.voices = append(rc.voices, &voice{start: at, samples: samples, onEnded: onEnded})
}

func (rc *RenderContext) CancelPending() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.voices = nil
}

// Step renders one quantum and writes it to the output.
func (rc *RenderContext) Step() error {
	n := int64(codec.DurationSamples(rc.quantum, rc.sampleRateHz))
	if n <= 0 {
		n = 1
	}

	// Notify buffers that finish inside this quantum first. Their successors may be scheduled
	// from the callbacks and must be mixed into the same quantum.
	for {
		rc.mu.Lock()
		stepEnd := rc.pos + n
		var ending []func()
		for _, v := range rc.voices {
			if !v.ended && v.end() <= stepEnd {
				v.ended = true
				if v.onEnded != nil {
					ending = append(ending, v.onEnded)
				}
			}
		}
		rc.mu.Unlock()
		if len(ending) == 0 {
			break
		}
		for _, fn := range ending {
			fn()
		}
	}

	mix := make([]float32, n)
	rc.mu.Lock()
	from, to := rc.pos, rc.pos+n
	kept := rc.voices[:0]
	for _, v := range rc.voices {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for i := lo; i < hi; i++ {
			mix[i-from] += v.samples[i-v.start]
		}
		if v.end() > to {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(rc.voices); i++ {
		rc.voices[i] = nil
	}
	rc.voices = kept
	rc.pos = to
	rc.mu.Unlock()

	if _, err := rc.out.Write(codec.FloatToPCM16(mix)); err != nil {
		return err
	}
	return nil
}

func (rc *RenderContext) toSamples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	// Round to the nearest sample so SamplesDuration round-trips.
	return (int64(d)*int64(rc.sampleRateHz) + int64(time.Second)/2) / int64(time.Second)
}

// Package playback plays inbound model audio gaplessly and in arrival order on a dedicated
// audio clock, with support for barge-in.
//
// A Scheduler owns the FIFO of pending chunks and the next-start cursor. It hands one chunk at
// a time to a Renderer, which owns the clock and the output device. RenderContext is the
// production Renderer; it mixes scheduled buffers onto a sample timeline and writes rendered
// PCM to an io.Writer such as an ffplay pipe.
package playback

import (
	"time"
)

// Clock reports the position of the audio clock. It is independent of wall time: it only
// advances as audio is rendered.
type Clock interface {
	Now() time.Duration
}

// Renderer is the audio graph the Scheduler drives.
type Renderer interface {
	Clock
	// Schedule queues samples to start at start on the clock. onEnded is called once, from a
	// goroutine other than the caller's, when the buffer has been fully rendered.
	Schedule(samples []float32, start time.Duration, onEnded func())
	// CancelPending drops every sample not yet rendered. Callbacks of dropped buffers never fire.
	CancelPending()
}

// Item describes one chunk as it was scheduled.
type Item struct {
	Seq      uint64
	Start    time.Duration
	Duration time.Duration
	Samples  int
}

// End is the clock position right after the item's last sample.
func (it Item) End() time.Duration { return it.Start + it.Duration }

package playback

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func samplesOf(t *testing.T, buf *bytes.Buffer) []int16 {
	t.Helper()
	raw := buf.Bytes()
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func near(got, want int16) bool {
	d := int(got) - int(want)
	return d >= -1 && d <= 1
}

func TestRenderContext_StepAdvancesClockAndWritesSilence(t *testing.T) {
	var out bytes.Buffer
	rc := NewRenderContext(&out, WithRenderLogger(discardLogger()))

	if rc.Now() != 0 {
		t.Fatalf("initial Now=%v", rc.Now())
	}
	for i := 0; i < 3; i++ {
		if err := rc.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if rc.Now() != 60*time.Millisecond {
		t.Fatalf("Now=%v, want 60ms", rc.Now())
	}
	samples := samplesOf(t, &out)
	if len(samples) != 3*480 {
		t.Fatalf("rendered %d samples, want 1440", len(samples))
	}
	for i, v := range samples {
		if v != 0 {
			t.Fatalf("sample %d=%d, want silence", i, v)
		}
	}
}

func TestRenderContext_SchedulerPlaysChunksContiguously(t *testing.T) {
	var out bytes.Buffer
	rc := NewRenderContext(&out, WithRenderLogger(discardLogger()))
	var items []Item
	s := newTestScheduler(t, rc, WithObserver(func(it Item) { items = append(items, it) }))

	values := []int16{1000, 2000, -3000}
	for _, v := range values {
		if err := s.Enqueue(pcmChunk(100*time.Millisecond, v)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for i := 0; i < 15; i++ {
		if err := rc.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	// Read observations through the scheduler goroutine.
	s.Pending()
	if len(items) != 3 {
		t.Fatalf("scheduled %d items, want 3", len(items))
	}
	for i, it := range items {
		if want := time.Duration(i) * 100 * time.Millisecond; it.Start != want {
			t.Fatalf("item %d start=%v, want %v", i, it.Start, want)
		}
	}

	samples := samplesOf(t, &out)
	if len(samples) != 7200 {
		t.Fatalf("rendered %d samples, want 7200", len(samples))
	}
	for i, v := range samples {
		want := values[i/2400]
		if !near(v, want) {
			t.Fatalf("sample %d=%d, want %d (gap or overlap)", i, v, want)
		}
	}
}

func TestRenderContext_LateScheduleStartsNow(t *testing.T) {
	var out bytes.Buffer
	rc := NewRenderContext(&out, WithRenderLogger(discardLogger()))
	for i := 0; i < 2; i++ {
		_ = rc.Step()
	}
	out.Reset()

	buf := make([]float32, 480)
	for i := range buf {
		buf[i] = 0.5
	}
	ended := 0
	rc.Schedule(buf, 10*time.Millisecond, func() { ended++ })
	if err := rc.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if ended != 1 {
		t.Fatalf("onEnded calls=%d, want 1", ended)
	}
	samples := samplesOf(t, &out)
	if samples[0] == 0 || samples[479] == 0 {
		t.Fatalf("late buffer was not rendered at the current position")
	}
}

func TestRenderContext_CancelPendingSilencesRemainder(t *testing.T) {
	var out bytes.Buffer
	rc := NewRenderContext(&out, WithRenderLogger(discardLogger()))

	buf := make([]float32, 4800)
	for i := range buf {
		buf[i] = 0.5
	}
	ended := false
	rc.Schedule(buf, 0, func() { ended = true })
	_ = rc.Step()
	rc.CancelPending()
	_ = rc.Step()
	_ = rc.Step()

	samples := samplesOf(t, &out)
	if samples[0] == 0 {
		t.Fatalf("first quantum should carry audio")
	}
	for i := 480; i < len(samples); i++ {
		if samples[i] != 0 {
			t.Fatalf("sample %d=%d after cancel, want silence", i, samples[i])
		}
	}
	if ended {
		t.Fatalf("cancelled buffer must not report completion")
	}
}

func TestRenderContext_StartAndClose(t *testing.T) {
	rc := NewRenderContext(nil, WithQuantum(5*time.Millisecond), WithRenderLogger(discardLogger()))
	rc.Start()
	rc.Start()
	deadline := time.Now().Add(2 * time.Second)
	for rc.Now() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clock did not advance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	stopped := rc.Now()
	time.Sleep(20 * time.Millisecond)
	if rc.Now() != stopped {
		t.Fatalf("clock advanced after Close")
	}
}

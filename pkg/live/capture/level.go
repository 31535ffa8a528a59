package capture

import (
	"math"
	"sync/atomic"
)

// Level is the loudness of one captured frame, both values in [0, 1].
type Level struct {
	RMS  float64
	Peak float64
}

// MeasureLevel computes the root-mean-square energy and the peak amplitude of samples.
func MeasureLevel(samples []float32) Level {
	if len(samples) == 0 {
		return Level{}
	}
	var sum, peak float64
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		v = math.Max(-1, math.Min(1, v))
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Level{RMS: math.Sqrt(sum / float64(len(samples))), Peak: peak}
}

// levelMeter keeps the most recent Level for concurrent readers.
type levelMeter struct {
	rms  atomic.Uint64
	peak atomic.Uint64
}

func (m *levelMeter) observe(samples []float32) Level {
	l := MeasureLevel(samples)
	m.rms.Store(math.Float64bits(l.RMS))
	m.peak.Store(math.Float64bits(l.Peak))
	return l
}

func (m *levelMeter) load() Level {
	return Level{
		RMS:  math.Float64frombits(m.rms.Load()),
		Peak: math.Float64frombits(m.peak.Load()),
	}
}

func (m *levelMeter) reset() {
	m.rms.Store(0)
	m.peak.Store(0)
}

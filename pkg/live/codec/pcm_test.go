package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestFloatToPCM16_ClampsAndScalesAsymmetrically(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{name: "zero", in: 0, want: 0},
		{name: "full positive", in: 1, want: 32767},
		{name: "full negative", in: -1, want: -32768},
		{name: "clamp high", in: 1.7, want: 32767},
		{name: "clamp low", in: -3, want: -32768},
		{name: "half positive", in: 0.5, want: 16383},
		{name: "half negative", in: -0.5, want: -16384},
		{name: "nan", in: float32(math.NaN()), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FloatToPCM16([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("len=%d, want 2", len(out))
			}
			got := int16(binary.LittleEndian.Uint16(out))
			if got != tt.want {
				t.Fatalf("sample=%d, want %d", got, tt.want)
			}
		})
	}
}

func TestPCM16ToFloat_Normalization(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(0x7fff))
	v := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(v))
	binary.LittleEndian.PutUint16(pcm[4:], 0)

	got, err := PCM16ToFloat(pcm)
	if err != nil {
		t.Fatalf("PCM16ToFloat error: %v", err)
	}
	want := []float32{1, -1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat_OddLength(t *testing.T) {
	_, err := PCM16ToFloat([]byte{1, 2, 3})
	if !errors.Is(err, ErrOddLength) {
		t.Fatalf("err=%v, want ErrOddLength", err)
	}
}

func TestPCMRoundTripWithinOneQuantizationStep(t *testing.T) {
	in := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		in = append(in, float32(i)/1000)
	}
	in = append(in, 0.123456, -0.987654, 0.000015)

	out, err := PCM16ToFloat(FloatToPCM16(in))
	if err != nil {
		t.Fatalf("round trip error: %v", err)
	}
	// One quantization step, plus float32 rounding of the decoded value.
	const tolerance = 1.0/32767.0 + 1e-6
	for i := range in {
		if diff := math.Abs(float64(out[i]) - float64(in[i])); diff > tolerance {
			t.Fatalf("sample %d: in=%v out=%v diff=%g exceeds %g", i, in[i], out[i], diff, tolerance)
		}
	}
}

func TestFloat32LEToFloat(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-0.75))

	got, err := Float32LEToFloat(raw)
	if err != nil {
		t.Fatalf("Float32LEToFloat error: %v", err)
	}
	if len(got) != 2 || got[0] != 0.25 || got[1] != -0.75 {
		t.Fatalf("got=%v, want [0.25 -0.75]", got)
	}
	if _, err := Float32LEToFloat(raw[:5]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestSamplesDuration(t *testing.T) {
	if got := SamplesDuration(2400, OutputSampleRateHz); got != 100*time.Millisecond {
		t.Fatalf("2400@24k=%v, want 100ms", got)
	}
	if got := SamplesDuration(CaptureFrameSamples, InputSampleRateHz); got != 256*time.Millisecond {
		t.Fatalf("4096@16k=%v, want 256ms", got)
	}
	if got := DurationSamples(100*time.Millisecond, OutputSampleRateHz); got != 2400 {
		t.Fatalf("100ms@24k=%d samples, want 2400", got)
	}
	if got := SamplesDuration(0, OutputSampleRateHz); got != 0 {
		t.Fatalf("zero samples=%v, want 0", got)
	}
}

// Package codec converts between the device-native and wire representations used by a live
// session: float32 PCM from capture devices, 16-bit signed little-endian PCM on the wire,
// and letterboxed JPEG frames for video.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRateHz is the sample rate of outbound microphone audio.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the sample rate of inbound model audio.
	OutputSampleRateHz = 24000
	// CaptureFrameSamples is the fixed size of one outbound audio frame.
	CaptureFrameSamples = 4096

	// InputMIMEType is the mime type announced for outbound audio.
	InputMIMEType = "audio/pcm;rate=16000"

	bytesPerPCM16Sample   = 2
	bytesPerFloat32Sample = 4
)

// ErrOddLength is returned when a PCM16 payload does not hold a whole number of samples.
var ErrOddLength = errors.New("pcm16 payload has odd length")

// FloatToPCM16 encodes normalized float32 samples as 16-bit signed little-endian PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000, the rest by 0x7fff.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerPCM16Sample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// PCM16ToFloat decodes 16-bit signed little-endian PCM into float32 samples in [-1, 1].
// The 16-bit range is asymmetric, so negative samples divide by 32768 and the rest by 32767.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%bytesPerPCM16Sample != 0 {
		return nil, fmt.Errorf("decode %d bytes: %w", len(pcm), ErrOddLength)
	}
	out := make([]float32, len(pcm)/bytesPerPCM16Sample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768.0
		} else {
			out[i] = float32(v) / 32767.0
		}
	}
	return out, nil
}

// Float32LEToFloat decodes raw float32 little-endian bytes, the format capture devices emit.
func Float32LEToFloat(raw []byte) ([]float32, error) {
	if len(raw)%bytesPerFloat32Sample != 0 {
		return nil, fmt.Errorf("decode f32le payload of %d bytes: not a multiple of %d", len(raw), bytesPerFloat32Sample)
	}
	out := make([]float32, len(raw)/bytesPerFloat32Sample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// SamplesDuration returns the playback duration of n samples at sampleRateHz.
func SamplesDuration(n, sampleRateHz int) time.Duration {
	if n <= 0 || sampleRateHz <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRateHz)
}

// DurationSamples is the inverse of SamplesDuration, truncating partial samples.
func DurationSamples(d time.Duration, sampleRateHz int) int64 {
	if d <= 0 || sampleRateHz <= 0 {
		return 0
	}
	return int64(d) * int64(sampleRateHz) / int64(time.Second)
}

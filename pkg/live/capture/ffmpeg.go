package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/vango-go/vai-live/pkg/live/codec"
)

const (
	cameraSampleFPS = 2
	maxJPEGBytes    = 8 << 20
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegConfig locates ffmpeg and the capture devices.
type FFmpegConfig struct {
	Path   string
	GOOS   string
	Mic    string
	Camera string
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if c.Path == "" {
		c.Path = "ffmpeg"
	}
	if c.Mic == "" {
		switch c.GOOS {
		case "darwin":
			c.Mic = ":0"
		case "linux":
			c.Mic = "default"
		}
	}
	if c.Camera == "" {
		switch c.GOOS {
		case "darwin":
			c.Camera = "0"
		case "linux":
			c.Camera = "/dev/video0"
		}
	}
	return c
}

// MicArgs returns the ffmpeg arguments that emit mono f32le at 16 kHz on stdout.
func MicArgs(cfg FFmpegConfig) ([]string, error) {
	cfg = cfg.withDefaults()
	var input []string
	switch cfg.GOOS {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", cfg.Mic}
	case "linux":
		input = []string{"-f", "pulse", "-i", cfg.Mic}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", cfg.GOOS)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1", "-ar", strconv.Itoa(codec.InputSampleRateHz),
		"-f", "f32le", "-",
	), nil
}

// CameraArgs returns the ffmpeg arguments that emit a stream of JPEG pictures on stdout.
func CameraArgs(cfg FFmpegConfig) ([]string, error) {
	cfg = cfg.withDefaults()
	var input []string
	switch cfg.GOOS {
	case "darwin":
		input = []string{"-f", "avfoundation", "-framerate", "30", "-i", cfg.Camera}
	case "linux":
		input = []string{"-f", "v4l2", "-i", cfg.Camera}
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s; supported platforms: darwin, linux", cfg.GOOS)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-vf", "fps="+strconv.Itoa(cameraSampleFPS),
		"-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-",
	), nil
}

// ffmpegProcess is one running ffmpeg with its stdout.
type ffmpegProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

func startFFmpeg(ctx context.Context, path string, args []string) (*ffmpegProcess, error) {
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("ffmpeg is required for capture (install ffmpeg and ensure it is in PATH): %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegProcess{cmd: cmd, stdout: stdout}, nil
}

func (p *ffmpegProcess) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}

// FFmpegMic is an AudioSource backed by an ffmpeg process.
type FFmpegMic struct {
	proc *ffmpegProcess
	raw  []byte
}

// OpenFFmpegMic returns an AudioOpener for cfg.
func OpenFFmpegMic(cfg FFmpegConfig) AudioOpener {
	return func(ctx context.Context) (AudioSource, error) {
		cfg = cfg.withDefaults()
		args, err := MicArgs(cfg)
		if err != nil {
			return nil, &MediaAccessError{Device: "microphone", Err: err}
		}
		proc, err := startFFmpeg(ctx, cfg.Path, args)
		if err != nil {
			return nil, &MediaAccessError{Device: "microphone", Err: err}
		}
		return &FFmpegMic{proc: proc}, nil
	}
}

func (m *FFmpegMic) ReadFrame(buf []float32) error {
	n := len(buf) * 4
	if cap(m.raw) < n {
		m.raw = make([]byte, n)
	}
	raw := m.raw[:n]
	if _, err := io.ReadFull(m.proc.stdout, raw); err != nil {
		return err
	}
	samples, err := codec.Float32LEToFloat(raw)
	if err != nil {
		return err
	}
	copy(buf, samples)
	return nil
}

func (m *FFmpegMic) Close() error { return m.proc.Close() }

// FFmpegCamera is a VideoSource that decodes an MJPEG pipe in the background and keeps the
// latest picture.
type FFmpegCamera struct {
	proc   *ffmpegProcess
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	latest image.Image
}

// OpenFFmpegCamera returns a VideoOpener for cfg.
func OpenFFmpegCamera(cfg FFmpegConfig, logger *slog.Logger) VideoOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (VideoSource, error) {
		cfg = cfg.withDefaults()
		args, err := CameraArgs(cfg)
		if err != nil {
			return nil, &MediaAccessError{Device: "camera", Err: err}
		}
		proc, err := startFFmpeg(ctx, cfg.Path, args)
		if err != nil {
			return nil, &MediaAccessError{Device: "camera", Err: err}
		}
		c := &FFmpegCamera{proc: proc, logger: logger.With("component", "camera"), done: make(chan struct{})}
		go c.readLoop(proc.stdout)
		return c, nil
	}
}

func (c *FFmpegCamera) readLoop(r io.Reader) {
	defer close(c.done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxJPEGBytes)
	sc.Split(splitJPEG)
	for sc.Scan() {
		img, err := codec.DecodeJPEG(sc.Bytes())
		if err != nil {
			c.logger.Debug("skipping undecodable camera frame", "error", err)
			continue
		}
		c.mu.Lock()
		c.latest = img
		c.mu.Unlock()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.Debug("camera stream ended", "error", err)
	}
}

func (c *FFmpegCamera) LatestFrame() (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.latest != nil
}

func (c *FFmpegCamera) Close() error {
	err := c.proc.Close()
	<-c.done
	return err
}

// splitJPEG is a bufio.SplitFunc yielding one complete JPEG (SOI through EOI) per token.
// Entropy-coded data escapes 0xFF, so the first EOI after an SOI ends the picture.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF: it may begin the next SOI.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

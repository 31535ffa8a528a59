package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/vango-go/vai-live/pkg/live/codec"
)

var errOutputStopped = errors.New("ffplay output is not running")

// FFPlayConfig configures the ffplay output device.
type FFPlayConfig struct {
	Path string
	// SampleRateHz is the rate of the PCM written to the device. Defaults to the model's
	// output rate.
	SampleRateHz int
	LogLevel     string
	// Volume is 0-100. Zero selects the default of 80.
	Volume int
}

func (c FFPlayConfig) withDefaults() FFPlayConfig {
	if c.Path == "" {
		c.Path = "ffplay"
	}
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = codec.OutputSampleRateHz
	}
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	if c.Volume <= 0 {
		c.Volume = 80
	}
	return c
}

// FFPlayArgs returns the ffplay command line that plays mono s16le from stdin.
func FFPlayArgs(cfg FFPlayConfig) []string {
	cfg = cfg.withDefaults()
	// ffplay rejects ffmpeg's -ac; the layout is set with -ch_layout.
	return []string{
		"-hide_banner", "-loglevel", cfg.LogLevel, "-nostats", "-nodisp",
		"-volume", strconv.Itoa(cfg.Volume),
		"-f", "s16le", "-ch_layout", "mono", "-ar", strconv.Itoa(cfg.SampleRateHz),
		"-i", "-",
	}
}

// outputProcess is one running ffplay and the pipe feeding it.
type outputProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	once  sync.Once
}

func startOutput(cfg FFPlayConfig) (*outputProcess, error) {
	if _, err := exec.LookPath(cfg.Path); err != nil {
		return nil, fmt.Errorf("ffplay is required for playback (install ffmpeg or run without a speaker): %w", err)
	}
	cmd := exec.Command(cfg.Path, FFPlayArgs(cfg)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may fall back to its silent dummy driver on macOS.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Path, err)
	}
	p := &outputProcess{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// exited reports whether ffplay has gone away on its own.
func (p *outputProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *outputProcess) stop() {
	p.once.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	})
}

// FFPlay is the speaker: an io.Writer that feeds rendered PCM16 LE to an ffplay process.
// Restart replaces the process, which also drops whatever ffplay had buffered.
type FFPlay struct {
	cfg    FFPlayConfig
	logger *slog.Logger

	mu       sync.Mutex
	proc     *outputProcess
	restarts int
	closed   bool
}

func NewFFPlay(cfg FFPlayConfig, logger *slog.Logger) *FFPlay {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFPlay{cfg: cfg.withDefaults(), logger: logger.With("component", "ffplay")}
}

// Args returns the command line Start runs.
func (s *FFPlay) Args() []string { return FFPlayArgs(s.cfg) }

// Start launches ffplay. It is a no-op while a process is running.
func (s *FFPlay) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errOutputStopped
	}
	if s.proc != nil && !s.proc.exited() {
		return nil
	}
	return s.spawnLocked()
}

func (s *FFPlay) spawnLocked() error {
	proc, err := startOutput(s.cfg)
	if err != nil {
		return err
	}
	s.proc = proc
	s.logger.Debug("ffplay started", "pid", proc.cmd.Process.Pid, "sample_rate_hz", s.cfg.SampleRateHz)
	return nil
}

func (s *FFPlay) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || proc.exited() {
		return 0, errOutputStopped
	}
	n, err := proc.stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("write to ffplay: %w", err)
	}
	return n, nil
}

// Restart stops the current process, if any, and starts a fresh one.
func (s *FFPlay) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errOutputStopped
	}
	if s.proc != nil {
		s.proc.stop()
		s.proc = nil
	}
	s.restarts++
	s.logger.Info("restarting ffplay", "restarts", s.restarts)
	return s.spawnLocked()
}

// Restarts reports how many times Restart has run.
func (s *FFPlay) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Close stops ffplay and waits for it to exit. Later writes fail.
func (s *FFPlay) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.proc != nil {
		s.proc.stop()
		s.proc = nil
	}
	return nil
}

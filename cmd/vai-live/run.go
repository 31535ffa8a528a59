package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-live/internal/config"
	"github.com/vango-go/vai-live/pkg/live/capture"
	"github.com/vango-go/vai-live/pkg/live/codec"
	"github.com/vango-go/vai-live/pkg/live/engine"
	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/playback"
	"github.com/vango-go/vai-live/pkg/live/session"
	"github.com/vango-go/vai-live/pkg/live/transcript"
	"github.com/vango-go/vai-live/pkg/live/transport"
	"github.com/vango-go/vai-live/pkg/live/transport/geminilive"
	"github.com/vango-go/vai-live/pkg/live/transport/wslive"
)

type runOptions struct {
	transport   string
	model       string
	voice       string
	modalities  []string
	context     string
	noAudio     bool
	noVideo     bool
	noSpeaker   bool
	metricsAddr string
	logLevel    string
}

func newRunCmd() *cobra.Command {
	var opt runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd, opt)
			if err != nil {
				return err
			}
			return runLive(cmd, cfg, opt.noSpeaker)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opt.transport, "transport", "", "genai or websocket")
	f.StringVar(&opt.model, "model", "", "live model id")
	f.StringVar(&opt.voice, "voice", "", "prebuilt voice name")
	f.StringSliceVar(&opt.modalities, "modalities", nil, "response modalities (TEXT, AUDIO)")
	f.StringVar(&opt.context, "context", "", "text sent once when the session connects")
	f.BoolVar(&opt.noAudio, "no-audio", false, "do not capture the microphone")
	f.BoolVar(&opt.noVideo, "no-video", false, "do not capture the camera")
	f.BoolVar(&opt.noSpeaker, "no-speaker", false, "do not spawn ffplay; model audio is rendered to nowhere")
	f.StringVar(&opt.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
	f.StringVar(&opt.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// loadRunConfig applies flags the user set on top of the file and environment.
func loadRunConfig(cmd *cobra.Command, opt runOptions) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Session.Transport = strings.ToLower(opt.transport)
	}
	if f.Changed("model") {
		cfg.Session.Model = opt.model
	}
	if f.Changed("voice") {
		cfg.Session.Voice = opt.voice
	}
	if f.Changed("modalities") {
		cfg.Session.Modalities = nil
		for _, m := range opt.modalities {
			cfg.Session.Modalities = append(cfg.Session.Modalities, strings.ToUpper(strings.TrimSpace(m)))
		}
	}
	if f.Changed("context") {
		cfg.Session.InitialContext = opt.context
	}
	if opt.noAudio {
		cfg.Media.Audio = false
	}
	if opt.noVideo {
		cfg.Media.Video = false
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opt.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.Log.Level = strings.ToLower(opt.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newTransport(name string) transport.Transport {
	if name == config.TransportWebSocket {
		return wslive.New()
	}
	return geminilive.New()
}

func runLive(cmd *cobra.Command, cfg config.Config, noSpeaker bool) error {
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var output io.Writer = io.Discard
	if !noSpeaker {
		speaker := playback.NewFFPlay(playback.FFPlayConfig{
			Path:         cfg.Media.FFplayPath,
			SampleRateHz: codec.OutputSampleRateHz,
			Volume:       cfg.Media.Volume,
		}, logger)
		if err := speaker.Start(); err != nil {
			return fmt.Errorf("start speaker (install ffplay or pass --no-speaker): %w", err)
		}
		defer speaker.Close()
		output = speaker
	}

	ff := capture.FFmpegConfig{Path: cfg.Media.FFmpegPath, GOOS: runtime.GOOS, Mic: cfg.Media.Mic, Camera: cfg.Media.Camera}
	eng := engine.New(newTransport(cfg.Session.Transport), output,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithSources(capture.OpenFFmpegMic(ff), capture.OpenFFmpegCamera(ff, logger)),
	)

	p := &printer{w: out}
	ended := make(chan session.Status, 1)
	eng.Controller().Messages().Subscribe(p.message)
	eng.Controller().Statuses().Subscribe(func(ch session.StatusChange) {
		p.status(ch)
		switch ch.To {
		case session.StatusDisconnected, session.StatusError:
			select {
			case ended <- ch.To:
			default:
			}
		}
	})

	err := eng.Start(ctx, engine.Config{
		Session: cfg.Session.ControllerConfig(),
		Audio:   cfg.Media.Audio,
		Video:   cfg.Media.Video,
	})
	if err != nil {
		var mae *capture.MediaAccessError
		if !errors.As(err, &mae) {
			eng.Close()
			return err
		}
		p.printf("[warning] %v\n", err)
	}
	p.printf("Connected. Type to chat, /interrupt to cut in, /end to finish.\n")

	lines := readLines(cmd.InOrStdin())
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case st := <-ended:
			if st == session.StatusError {
				p.printf("[session ended with an error]\n")
			}
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			switch c := parseCommand(line); c.kind {
			case commandEnd:
				break loop
			case commandInterrupt:
				eng.Interrupt()
				p.printf("[interrupted]\n")
			case commandText:
				if err := eng.SendText(c.text); err != nil {
					p.printf("[not sent] %v\n", err)
				}
			}
		}
	}

	printTranscript(out, eng.Close())
	return nil
}

type commandKind int

const (
	commandNone commandKind = iota
	commandText
	commandInterrupt
	commandEnd
)

type command struct {
	kind commandKind
	text string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return command{kind: commandNone}
	case "/interrupt", "/stop":
		return command{kind: commandInterrupt}
	case "/end", "/quit", "/exit":
		return command{kind: commandEnd}
	}
	return command{kind: commandText, text: line}
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// printer serializes terminal output from bus handlers and the input loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) message(m session.LiveMessage) {
	switch m.Kind {
	case session.KindText:
		p.printf("%s %s\n", m.Mood.Emoji(), m.Text)
	case session.KindError:
		p.printf("[error] %s\n", m.Detail)
	}
}

func (p *printer) status(ch session.StatusChange) {
	p.printf("[%s]\n", ch.To)
}

func printTranscript(w io.Writer, entries []transcript.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTranscript (%d messages)\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-9s %s\n", e.Timestamp.Format(time.TimeOnly), e.Role, e.Content)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// Package config loads vai-live settings from defaults, an optional YAML file and the
// environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/session"
	"github.com/vango-go/vai-live/pkg/live/transport/wslive"
)

const (
	TransportGenAI     = "genai"
	TransportWebSocket = "websocket"
)

type Config struct {
	Session     SessionConfig `yaml:"session"`
	Media       MediaConfig   `yaml:"media"`
	Log         LogConfig     `yaml:"log"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

type SessionConfig struct {
	// Transport is genai (the Gemini SDK) or websocket (raw JSON frames).
	Transport      string   `yaml:"transport"`
	Endpoint       string   `yaml:"endpoint"`
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	SystemPrompt   string   `yaml:"system_prompt"`
	Voice          string   `yaml:"voice"`
	Modalities     []string `yaml:"modalities"`
	InitialContext string   `yaml:"initial_context"`
}

type MediaConfig struct {
	Audio      bool   `yaml:"audio"`
	Video      bool   `yaml:"video"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	FFplayPath string `yaml:"ffplay_path"`
	Mic        string `yaml:"mic"`
	Camera     string `yaml:"camera"`
	// Volume is the ffplay volume, 0-100.
	Volume int `yaml:"volume"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Transport:    TransportGenAI,
			Endpoint:     wslive.DefaultEndpoint,
			Model:        session.DefaultModel,
			SystemPrompt: session.DefaultSystemInstruction,
			Voice:        session.DefaultVoice,
			Modalities:   []string{protocol.ModalityAudio},
		},
		Media: MediaConfig{
			Audio:      true,
			Video:      true,
			FFmpegPath: "ffmpeg",
			FFplayPath: "ffplay",
			Volume:     80,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty. The environment is read as-is; load
// .env files before calling Load.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	s := &cfg.Session
	s.Transport = envOr("VAI_LIVE_TRANSPORT", s.Transport)
	s.Endpoint = envOr("VAI_LIVE_ENDPOINT", s.Endpoint)
	s.Model = envOr("VAI_LIVE_MODEL", s.Model)
	s.SystemPrompt = envOr("VAI_LIVE_SYSTEM_PROMPT", s.SystemPrompt)
	s.Voice = envOr("VAI_LIVE_VOICE", s.Voice)
	s.InitialContext = envOr("VAI_LIVE_INITIAL_CONTEXT", s.InitialContext)
	if m := splitCSV(os.Getenv("VAI_LIVE_MODALITIES")); len(m) > 0 {
		s.Modalities = m
	}
	s.APIKey = envOr("VAI_LIVE_API_KEY", s.APIKey)
	if s.APIKey == "" {
		s.APIKey = envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", ""))
	}

	m := &cfg.Media
	m.FFmpegPath = envOr("VAI_LIVE_FFMPEG_PATH", m.FFmpegPath)
	m.FFplayPath = envOr("VAI_LIVE_FFPLAY_PATH", m.FFplayPath)
	m.Mic = envOr("VAI_LIVE_MIC", m.Mic)
	m.Camera = envOr("VAI_LIVE_CAMERA", m.Camera)
	var err error
	if m.Audio, err = envBoolOr("VAI_LIVE_AUDIO", m.Audio); err != nil {
		return err
	}
	if m.Video, err = envBoolOr("VAI_LIVE_VIDEO", m.Video); err != nil {
		return err
	}
	if m.Volume, err = envIntOr("VAI_LIVE_VOLUME", m.Volume); err != nil {
		return err
	}

	cfg.Log.Level = envOr("VAI_LIVE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("VAI_LIVE_LOG_FORMAT", cfg.Log.Format)
	cfg.MetricsAddr = envOr("VAI_LIVE_METRICS_ADDR", cfg.MetricsAddr)
	return nil
}

func (c *Config) normalize() {
	c.Session.Transport = strings.ToLower(strings.TrimSpace(c.Session.Transport))
	for i, m := range c.Session.Modalities {
		c.Session.Modalities[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Media.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

func (s SessionConfig) Validate() error {
	switch s.Transport {
	case TransportGenAI:
	case TransportWebSocket:
		u, err := url.Parse(s.Endpoint)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("session.endpoint must be a ws:// or wss:// URL when transport=websocket")
		}
	default:
		return fmt.Errorf("session.transport must be one of genai|websocket")
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("an API key is required (set GEMINI_API_KEY, GOOGLE_API_KEY or VAI_LIVE_API_KEY)")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("session.model must not be empty")
	}
	if len(s.Modalities) == 0 {
		return fmt.Errorf("session.modalities must not be empty")
	}
	for _, m := range s.Modalities {
		switch m {
		case protocol.ModalityText, protocol.ModalityAudio:
		default:
			return fmt.Errorf("session.modalities: unsupported modality %q (TEXT or AUDIO)", m)
		}
	}
	return nil
}

func (m MediaConfig) Validate() error {
	if m.Volume < 0 || m.Volume > 100 {
		return fmt.Errorf("media.volume must be between 0 and 100")
	}
	if m.Audio && strings.TrimSpace(m.FFmpegPath) == "" {
		return fmt.Errorf("media.ffmpeg_path must not be empty when audio capture is enabled")
	}
	if m.Video && strings.TrimSpace(m.FFmpegPath) == "" {
		return fmt.Errorf("media.ffmpeg_path must not be empty when video capture is enabled")
	}
	return nil
}

func (l LogConfig) Validate() error {
	if _, err := l.SlogLevel(); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("log.format must be text or json")
	}
}

// SlogLevel maps Level onto slog.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of debug|info|warn|error")
	}
}

// NewLogger builds the process logger for l writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ControllerConfig converts the session section for the session controller.
func (s SessionConfig) ControllerConfig() session.Config {
	return session.Config{
		Endpoint:           s.Endpoint,
		APIKey:             s.APIKey,
		Model:              s.Model,
		SystemInstruction:  s.SystemPrompt,
		ResponseModalities: append([]string(nil), s.Modalities...),
		Voice:              s.Voice,
		InitialContext:     s.InitialContext,
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func envBoolOr(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean", key)
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

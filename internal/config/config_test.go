package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-go/vai-live/pkg/live/session"
)

var liveEnvKeys = []string{
	"VAI_LIVE_TRANSPORT",
	"VAI_LIVE_ENDPOINT",
	"VAI_LIVE_API_KEY",
	"VAI_LIVE_MODEL",
	"VAI_LIVE_SYSTEM_PROMPT",
	"VAI_LIVE_VOICE",
	"VAI_LIVE_MODALITIES",
	"VAI_LIVE_INITIAL_CONTEXT",
	"VAI_LIVE_FFMPEG_PATH",
	"VAI_LIVE_FFPLAY_PATH",
	"VAI_LIVE_MIC",
	"VAI_LIVE_CAMERA",
	"VAI_LIVE_AUDIO",
	"VAI_LIVE_VIDEO",
	"VAI_LIVE_VOLUME",
	"VAI_LIVE_LOG_LEVEL",
	"VAI_LIVE_LOG_FORMAT",
	"VAI_LIVE_METRICS_ADDR",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
}

func clearLiveEnv(t *testing.T) {
	t.Helper()
	for _, key := range liveEnvKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vai-live.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Transport != TransportGenAI {
		t.Fatalf("transport=%q", cfg.Session.Transport)
	}
	if cfg.Session.APIKey != "google-key" {
		t.Fatalf("api key=%q, want GOOGLE_API_KEY fallback", cfg.Session.APIKey)
	}
	if cfg.Session.Model != session.DefaultModel || cfg.Session.Voice != "Puck" {
		t.Fatalf("session=%+v", cfg.Session)
	}
	if !cfg.Media.Audio || !cfg.Media.Video || cfg.Media.Volume != 80 {
		t.Fatalf("media=%+v", cfg.Media)
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	clearLiveEnv(t)
	path := writeConfig(t, `
session:
  transport: websocket
  endpoint: ws://127.0.0.1:9000/live
  api_key: file-key
  model: file-model
  modalities: [text, audio]
  initial_context: "I am working on the launch plan"
media:
  video: false
  volume: 40
log:
  level: DEBUG
  format: json
metrics_addr: ":9100"
`)
	t.Setenv("VAI_LIVE_MODEL", "env-model")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Model != "env-model" {
		t.Fatalf("model=%q, env should win over file", cfg.Session.Model)
	}
	if cfg.Session.APIKey != "file-key" {
		t.Fatalf("api key=%q, file key should win over provider env fallback", cfg.Session.APIKey)
	}
	if got := strings.Join(cfg.Session.Modalities, ","); got != "TEXT,AUDIO" {
		t.Fatalf("modalities=%q", got)
	}
	if cfg.Media.Video || !cfg.Media.Audio || cfg.Media.Volume != 40 {
		t.Fatalf("media=%+v", cfg.Media)
	}
	if level, _ := cfg.Log.SlogLevel(); level != slog.LevelDebug || cfg.Log.Format != "json" {
		t.Fatalf("log=%+v", cfg.Log)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("metrics addr=%q", cfg.MetricsAddr)
	}

	sc := cfg.Session.ControllerConfig()
	if sc.SystemInstruction != session.DefaultSystemInstruction || sc.InitialContext == "" || sc.Endpoint != "ws://127.0.0.1:9000/live" {
		t.Fatalf("controller config=%+v", sc)
	}
}

func TestLoad_RejectsUnknownYAMLKeys(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	path := writeConfig(t, "session:\n  modle: typo\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing api key", env: map[string]string{}, wantErr: "API key"},
		{name: "bad transport", env: map[string]string{"VAI_LIVE_TRANSPORT": "grpc"}, wantErr: "session.transport"},
		{name: "websocket needs ws url", env: map[string]string{"VAI_LIVE_TRANSPORT": "websocket", "VAI_LIVE_ENDPOINT": "https://example.com"}, wantErr: "session.endpoint"},
		{name: "bad modality", env: map[string]string{"VAI_LIVE_MODALITIES": "video"}, wantErr: "unsupported modality"},
		{name: "volume range", env: map[string]string{"VAI_LIVE_VOLUME": "101"}, wantErr: "media.volume"},
		{name: "volume not int", env: map[string]string{"VAI_LIVE_VOLUME": "loud"}, wantErr: "VAI_LIVE_VOLUME"},
		{name: "bad bool", env: map[string]string{"VAI_LIVE_VIDEO": "maybe"}, wantErr: "VAI_LIVE_VIDEO"},
		{name: "log level", env: map[string]string{"VAI_LIVE_LOG_LEVEL": "trace"}, wantErr: "log.level"},
		{name: "log format", env: map[string]string{"VAI_LIVE_LOG_FORMAT": "xml"}, wantErr: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLiveEnv(t)
			if tt.name != "missing api key" {
				t.Setenv("GEMINI_API_KEY", "k")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

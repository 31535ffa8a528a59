package playback

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestFFPlayArgs_Defaults(t *testing.T) {
	args := strings.Join(FFPlayArgs(FFPlayConfig{}), " ")
	for _, want := range []string{"-f s16le", "-ch_layout mono", "-ar 24000", "-volume 80", "-loglevel error", "-i -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args=%q, missing %q", args, want)
		}
	}
	if strings.Contains(args, "-ac") {
		t.Fatalf("args=%q, ffplay rejects -ac", args)
	}

	args = strings.Join(FFPlayArgs(FFPlayConfig{SampleRateHz: 16000, Volume: 30}), " ")
	if !strings.Contains(args, "-ar 16000") || !strings.Contains(args, "-volume 30") {
		t.Fatalf("args=%q", args)
	}
}

// fakeFFPlay writes a script that swallows stdin the way ffplay does.
func fakeFFPlay(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffplay")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat > /dev/null\n"), 0o755); err != nil {
		t.Fatalf("write fake ffplay: %v", err)
	}
	return path
}

func TestFFPlay_WriteRestartClose(t *testing.T) {
	speaker := NewFFPlay(FFPlayConfig{Path: fakeFFPlay(t)}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := speaker.Write([]byte{0, 0}); !errors.Is(err, errOutputStopped) {
		t.Fatalf("write before Start err=%v", err)
	}
	if err := speaker.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := speaker.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n, err := speaker.Write(make([]byte, 960)); err != nil || n != 960 {
		t.Fatalf("Write n=%d err=%v", n, err)
	}

	if err := speaker.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if speaker.Restarts() != 1 {
		t.Fatalf("restarts=%d", speaker.Restarts())
	}
	if _, err := speaker.Write(make([]byte, 960)); err != nil {
		t.Fatalf("Write after Restart: %v", err)
	}

	if err := speaker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := speaker.Write([]byte{0, 0}); !errors.Is(err, errOutputStopped) {
		t.Fatalf("write after Close err=%v", err)
	}
	if err := speaker.Restart(); !errors.Is(err, errOutputStopped) {
		t.Fatalf("Restart after Close err=%v", err)
	}
}

func TestFFPlay_MissingBinary(t *testing.T) {
	speaker := NewFFPlay(FFPlayConfig{Path: filepath.Join(t.TempDir(), "no-such-ffplay")}, nil)
	if err := speaker.Start(); err == nil {
		t.Fatalf("Start with a missing binary should fail")
	}
}

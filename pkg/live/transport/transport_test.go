package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestTransportError_RedactsKeyAndUnwraps(t *testing.T) {
	err := &TransportError{Op: "dial", URL: "wss://user:pw@example.test/ws?key=secret", Err: io.ErrUnexpectedEOF}
	msg := err.Error()
	if strings.Contains(msg, "secret") || strings.Contains(msg, "pw@") {
		t.Fatalf("Error()=%q leaks credentials", msg)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is should see the wrapped error")
	}

	var target *TransportError
	wrapped := errors.Join(errors.New("outer"), err)
	if !errors.As(wrapped, &target) || target.Op != "dial" {
		t.Fatalf("errors.As failed: %v", target)
	}
}

func TestConfig_Setup(t *testing.T) {
	cfg := Config{Model: "m", SystemInstruction: "sys", ResponseModalities: []string{"TEXT"}}
	msg := cfg.Setup()
	if msg.Setup == nil || msg.Setup.Model != "models/m" {
		t.Fatalf("setup=%+v", msg.Setup)
	}
	if msg.Setup.GenerationConfig.SpeechConfig != nil {
		t.Fatalf("speech config should be omitted without a voice")
	}
}

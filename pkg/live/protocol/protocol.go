// Package protocol defines the JSON frames exchanged with a Gemini-Live-style streaming
// endpoint.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-live/pkg/live/codec"
)

const (
	ModalityText  = "TEXT"
	ModalityAudio = "AUDIO"

	RoleUser = "user"

	modelPrefix = "models/"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Blob is raw payload data tagged with its mime type. On the wire Data travels as base64;
// decoding also accepts a data URL prefix.
type Blob struct {
	Data     []byte
	MIMEType string

	// decodeErr holds a payload that was not valid base64. It stays local to the part so
	// the rest of the frame still decodes.
	decodeErr error
}

type wireBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBlob{Data: codec.EncodeBase64(b.Data), MIMEType: b.MIMEType})
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	var w wireBlob
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Blob{MIMEType: w.MIMEType}
	if strings.TrimSpace(w.Data) == "" {
		return nil
	}
	b.Data, b.decodeErr = codec.DecodeBase64(w.Data)
	return nil
}

// Err reports a payload that arrived but was not valid base64.
func (b *Blob) Err() error {
	if b == nil {
		return nil
	}
	return b.decodeErr
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Setup is the connect-time session configuration. It must be the first frame on the wire.
type Setup struct {
	Model             string            `json:"model"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
	Video *Blob `json:"video,omitempty"`
}

// ClientMessage is an outbound frame. Exactly one field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

// Kind names the populated field for logs and metrics.
func (m ClientMessage) Kind() string {
	switch {
	case m.Setup != nil:
		return "setup"
	case m.ClientContent != nil:
		return "client_content"
	case m.RealtimeInput != nil && m.RealtimeInput.Audio != nil:
		return "realtime_audio"
	case m.RealtimeInput != nil && m.RealtimeInput.Video != nil:
		return "realtime_video"
	default:
		return "empty"
	}
}

type SetupComplete struct{}

type ServerContent struct {
	ModelTurn    *Content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

// GoAway warns that the server will close the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerMessage is an inbound frame. Fields the engine does not consume (tool calls, usage
// metadata) are ignored during decode.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// SetupOptions are the inputs of NewSetup.
type SetupOptions struct {
	Model              string
	SystemInstruction  string
	ResponseModalities []string
	Voice              string
}

// NewSetup builds the connect-time frame. Bare model ids get the "models/" prefix the
// endpoint expects.
func NewSetup(opts SetupOptions) ClientMessage {
	model := strings.TrimSpace(opts.Model)
	if model != "" && !strings.Contains(model, "/") {
		model = modelPrefix + model
	}
	setup := &Setup{Model: model}
	if s := strings.TrimSpace(opts.SystemInstruction); s != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: s}}}
	}
	gen := &GenerationConfig{ResponseModalities: append([]string(nil), opts.ResponseModalities...)}
	if v := strings.TrimSpace(opts.Voice); v != "" {
		gen.SpeechConfig = &SpeechConfig{VoiceConfig: &VoiceConfig{PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: v}}}
	}
	setup.GenerationConfig = gen
	return ClientMessage{Setup: setup}
}

// NewTextTurn builds a complete user turn carrying one text part.
func NewTextTurn(text string) ClientMessage {
	return ClientMessage{ClientContent: &ClientContent{
		Turns:        []Content{{Role: RoleUser, Parts: []Part{{Text: text}}}},
		TurnComplete: true,
	}}
}

// NewAudioInput wraps one 16 kHz PCM16 frame.
func NewAudioInput(pcm16 []byte) ClientMessage {
	return ClientMessage{RealtimeInput: &RealtimeInput{
		Audio: &Blob{Data: pcm16, MIMEType: codec.InputMIMEType},
	}}
}

// NewVideoInput wraps one JPEG frame.
func NewVideoInput(jpeg []byte) ClientMessage {
	return ClientMessage{RealtimeInput: &RealtimeInput{
		Video: &Blob{Data: jpeg, MIMEType: codec.FrameMIMEType},
	}}
}

func ValidateSetup(s Setup) error {
	if strings.TrimSpace(s.Model) == "" {
		return badRequest("setup.model is required", "model")
	}
	if s.GenerationConfig == nil {
		return nil
	}
	for _, m := range s.GenerationConfig.ResponseModalities {
		switch m {
		case ModalityText, ModalityAudio:
		default:
			return unsupported("unsupported response modality", "generationConfig.responseModalities")
		}
	}
	return nil
}

// DecodeServerMessage parses one inbound text frame. Only malformed JSON fails the frame;
// empty or corrupt inlineData stays on its part (see Blob.Err) for the receiver to drop.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, badRequest("invalid json frame", "")
	}
	return msg, nil
}

// DecodeClientMessage parses one outbound frame. Used by endpoints and test servers.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, badRequest("invalid json frame", "")
	}
	set := 0
	if msg.Setup != nil {
		set++
		if err := ValidateSetup(*msg.Setup); err != nil {
			return ClientMessage{}, err
		}
	}
	if msg.ClientContent != nil {
		set++
	}
	if msg.RealtimeInput != nil {
		set++
		if msg.RealtimeInput.Audio == nil && msg.RealtimeInput.Video == nil {
			return ClientMessage{}, badRequest("realtimeInput requires audio or video", "realtimeInput")
		}
	}
	if set != 1 {
		return ClientMessage{}, badRequest("exactly one of setup, clientContent, realtimeInput is required", "")
	}
	return msg, nil
}

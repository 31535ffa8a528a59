package session

import (
	"strings"

	"github.com/vango-go/vai-live/pkg/live/codec"
)

// Kind tags a LiveMessage.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindError Kind = "error"
)

// LiveMessage is one inbound event produced from server frames. Only the fields of its Kind
// are set. Messages are not modified after publication; subscribers must not mutate PCM16.
type LiveMessage struct {
	Kind Kind

	// text
	Text string
	Mood Mood

	// audio
	PCM16        []byte
	SampleRateHz int

	// error
	Detail string
}

func TextMessage(text string) LiveMessage {
	return LiveMessage{Kind: KindText, Text: text, Mood: InferMood(text)}
}

func AudioMessage(pcm16 []byte) LiveMessage {
	return LiveMessage{Kind: KindAudio, PCM16: pcm16, SampleRateHz: codec.OutputSampleRateHz}
}

func ErrorMessage(detail string) LiveMessage {
	return LiveMessage{Kind: KindError, Detail: detail}
}

// Mood is a cosmetic label derived from keywords in model text.
type Mood string

const (
	MoodExcited    Mood = "excited"
	MoodThinking   Mood = "thinking"
	MoodConcerned  Mood = "concerned"
	MoodProcessing Mood = "processing"
	MoodEngaged    Mood = "engaged"
)

var moodRules = []struct {
	mood     Mood
	keywords []string
}{
	{MoodExcited, []string{"!", "great", "excellent"}},
	{MoodThinking, []string{"?", "think", "consider"}},
	{MoodConcerned, []string{"sorry", "unfortunately"}},
	{MoodProcessing, []string{"let me", "working"}},
}

// InferMood returns the first matching rule's mood, or MoodEngaged.
func InferMood(text string) Mood {
	lower := strings.ToLower(text)
	for _, rule := range moodRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.mood
			}
		}
	}
	return MoodEngaged
}

// Emoji renders m the way terminal output shows it.
func (m Mood) Emoji() string {
	switch m {
	case MoodExcited:
		return "✨"
	case MoodThinking:
		return "🤔"
	case MoodConcerned:
		return "😔"
	case MoodProcessing:
		return "💡"
	case MoodEngaged:
		return "👀"
	default:
		return ""
	}
}

// Interruption is published when the remote side abandons the current model turn. Playback
// should be flushed.
type Interruption struct {
	SessionID string
	Source    string
}

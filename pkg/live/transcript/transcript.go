// Package transcript records the text exchanged during a live session and hands it over when
// the session ends.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-live/pkg/live/eventbus"
	"github.com/vango-go/vai-live/pkg/live/session"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the transcript.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Option func(*Collector)

// OnSessionEnd registers the hand-off for the finished transcript. It is not called for an
// empty transcript.
func OnSessionEnd(fn func([]Entry)) Option {
	return func(c *Collector) { c.onEnd = fn }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector accumulates transcript entries.
type Collector struct {
	now   func() time.Time
	onEnd func([]Entry)

	mu      sync.Mutex
	entries []Entry
	ended   bool
}

func New(opts ...Option) *Collector {
	c := &Collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach records the assistant's text messages from topic until the returned func is called.
func (c *Collector) Attach(topic *eventbus.Topic[session.LiveMessage]) (detach func()) {
	return topic.Subscribe(func(m session.LiveMessage) {
		if m.Kind != session.KindText {
			return
		}
		c.add(RoleAssistant, m.Text, string(m.Mood))
	})
}

// AddUser records text the user sent.
func (c *Collector) AddUser(text string) {
	c.add(RoleUser, text, "")
}

func (c *Collector) add(role Role, text, mood string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.entries = append(c.entries, Entry{Role: role, Content: text, Mood: mood, Timestamp: c.now()})
}

// Entries returns a copy of the transcript so far.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// End freezes the transcript and passes it to the OnSessionEnd callback. Only the first call
// has an effect.
func (c *Collector) End() []Entry {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	out := append([]Entry(nil), c.entries...)
	c.mu.Unlock()

	if c.onEnd != nil && len(out) > 0 {
		c.onEnd(out)
	}
	return out
}

// Package eventbus provides typed publish/subscribe topics that share one ordered dispatcher.
//
// Events are delivered in publication order across every topic attached to the same Bus.
// Delivery is synchronous for the publisher unless another delivery is already running, in
// which case the event is queued and delivered by the running dispatcher as soon as the
// current handler returns. Nothing is buffered for late subscribers: the subscriber list is
// captured when an event is published.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus serializes delivery for the topics attached to it.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    []func()
	draining bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) dispatch(deliver func()) {
	b.mu.Lock()
	b.queue = append(b.queue, deliver)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()
		next()
		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

func call[T any](logger *slog.Logger, topic string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic", "topic", topic, "panic", fmt.Sprint(r))
		}
	}()
	fn(v)
}

type subscriber[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Topic is one typed event class on a Bus.
type Topic[T any] struct {
	bus  *Bus
	name string

	mu   sync.Mutex
	subs []*subscriber[T]
}

// NewTopic attaches a new topic to bus.
func NewTopic[T any](bus *Bus, name string) *Topic[T] {
	if bus == nil {
		bus = New()
	}
	return &Topic[T]{bus: bus, name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns a function that removes it. The returned function is
// safe to call more than once and from inside a handler.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	sub := &subscriber[T]{fn: fn}
	sub.active.Store(true)

	t.mu.Lock()
	next := make([]*subscriber[T], len(t.subs), len(t.subs)+1)
	copy(next, t.subs)
	t.subs = append(next, sub)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			t.remove(sub)
		})
	}
}

func (t *Topic[T]) remove(sub *subscriber[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]*subscriber[T], 0, len(t.subs))
	for _, s := range t.subs {
		if s != sub {
			next = append(next, s)
		}
	}
	t.subs = next
}

// Len reports the number of current subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Publish delivers v to every subscriber registered at the time of the call.
//
// Delivery is synchronous only when no other delivery is running on the Bus. If another
// goroutine is dispatching, or Publish is called from a handler, v is queued and Publish
// returns before any subscriber has seen it; the running dispatcher delivers it in order.
// Callers that need to observe the effect must not assume it has happened on return.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	subs := t.subs
	t.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	t.bus.dispatch(func() {
		for _, sub := range subs {
			if !sub.active.Load() {
				continue
			}
			call(t.bus.logger, t.name, sub.fn, v)
		}
	})
}

package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// Handler receives published events.
type Handler func(core.Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID    string
	Event string
	fn    Handler
}

// Bus fans out events to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for recovered handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for event name, or for every event when name is "*".
func (b *Bus) Subscribe(name string, fn Handler) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		Event: name,
		fn:    fn,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub. It reports whether sub was registered.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	// Snapshot so handlers may subscribe or unsubscribe while we deliver.
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	evt := core.Event{Name: name, Payload: payload, Timestamp: b.now()}
	for _, sub := range subs {
		if sub.Event != core.Wildcard && sub.Event != name {
			continue
		}
		b.deliver(sub, evt)
	}
}

func (b *Bus) deliver(sub *Subscription, evt core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", evt.Name,
				"subscription", sub.ID,
				"error", fmt.Sprint(r),
			)
		}
	}()
	sub.fn(evt)
}

// Stream subscribes a buffered channel to name. Events are dropped when the
// buffer is full so a slow reader never blocks publishers. Call Unsubscribe
// with the returned handle when done; the channel is not closed.
func (b *Bus) Stream(name string, buffer int) (<-chan core.Event, *Subscription) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan core.Event, buffer)
	sub := b.Subscribe(name, func(e core.Event) {
		select {
		case ch <- e:
		default:
			// Drop if full
		}
	})
	return ch, sub
}

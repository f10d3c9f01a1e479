// Package bus fans an "invalidate everything" signal out to every live view.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	goerrors "github.com/go-errors/errors"
)

type subscription struct {
	id     string
	fn     func()
	active atomic.Bool

	// mu is read-held while fn runs and write-held to deactivate.
	mu sync.RWMutex
}

func (s *subscription) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.CompareAndSwap(true, false)
}

// Bus is safe for concurrent use. Callbacks run on the goroutine that called
// InvalidateAll, without the bus lock held, so they may subscribe or
// unsubscribe other subscriptions. Unsubscribing waits for a running call of
// that same callback to return, so a callback must not unsubscribe or replace
// itself.
type Bus struct {
	mu   sync.Mutex
	subs []*subscription
	log  *slog.Logger
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.log = logger
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn under id. Subscribing an id that is already present
// replaces the earlier callback. The returned func unsubscribes and may be
// called any number of times; once it returns fn is never called again.
func (b *Bus) Subscribe(id string, fn func()) func() {
	sub := &subscription{id: id, fn: fn}
	sub.active.Store(true)

	var replaced *subscription
	b.mu.Lock()
	for i, existing := range b.subs {
		if existing.id == id {
			replaced = existing
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if replaced != nil {
		replaced.deactivate()
	}

	return func() {
		b.unsubscribe(sub)
	}
}

func (b *Bus) unsubscribe(sub *subscription) {
	if !sub.deactivate() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.subs {
		if existing == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// InvalidateAll calls every subscriber registered at the moment of the call
// exactly once, in subscription order. Subscribers removed mid-iteration are
// skipped; subscribers added mid-iteration wait for the next call.
func (b *Bus) InvalidateAll() {
	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	b.log.Debug("invalidate all", "subscribers", len(snapshot))
	for _, sub := range snapshot {
		b.call(sub)
	}
}

func (b *Bus) call(sub *subscription) {
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := goerrors.Wrap(r, 2)
			b.log.Error("subscriber panicked", "id", sub.id, "error", err, "stack", err.ErrorStack())
		}
	}()
	sub.fn()
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

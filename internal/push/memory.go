// SPDX-License-Identifier: MIT

package push

import (
	"context"
	"sync"

	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/status"
)

// MemoryFeed is the in-process feed implementation. The webhook endpoint
// publishes into it when no external broker is configured; tests use it
// directly.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	metrics.SetPushFeedState(string(StateConnected))
	return &MemoryFeed{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for the booking. The returned
// Unsubscribe blocks until deliveries in flight have drained.
func (f *MemoryFeed) Subscribe(bookingID string, h Handler) (Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return func() {}, nil
	}
	id := f.nextID
	f.nextID++
	if f.subs[bookingID] == nil {
		f.subs[bookingID] = make(map[int]Handler)
	}
	f.subs[bookingID][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			// Taking the write lock synchronizes with any publisher
			// holding the read lock, so no handler runs after return.
			f.mu.Lock()
			defer f.mu.Unlock()
			if m := f.subs[bookingID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(f.subs, bookingID)
				}
			}
		})
	}, nil
}

// Publish invokes every subscribed handler inline.
func (f *MemoryFeed) Publish(_ context.Context, bookingID string, ev status.Event) error {
	ev.Source = status.SourcePush

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	for _, h := range f.subs[bookingID] {
		metrics.RecordPushEvent(string(ev.Status))
		h(ev)
	}
	return nil
}

// Close drops all subscriptions.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[string]map[int]Handler)
	metrics.SetPushFeedState(string(StateDisconnected))
	return nil
}

// Package feed is the in-process change feed boundary. It relays "this id
// changed" signals from writers to subscribers with at-least-once delivery
// and no ordering guarantee across distinct ids. Consumers must treat
// anything they cached about an id as a performance hint invalidated by a
// notice, never as a source of truth.
package feed

import (
	"errors"
	"sync"

	appLog "tribecal/internal/log"
)

// Kind names the entity class a notice refers to.
type Kind string

const (
	KindEvent   Kind = "event"
	KindSession Kind = "session"
)

// Notice is one change signal.
type Notice struct {
	Kind Kind
	ID   string
}

const subscriberBuffer = 256

// Feed fans notices out to all subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   []chan Notice
	closed bool
}

func New() *Feed {
	return &Feed{}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// the feed shuts down or when the subscriber lags too far behind; either way
// the consumer must treat everything it cached as stale.
func (f *Feed) Subscribe() <-chan Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Notice, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, ch)
	return ch
}

// Publish delivers the notice to every subscriber. Delivery is synchronous
// into each subscriber's buffer. A subscriber that falls more than the
// buffer behind can no longer be given every notice, so it is dropped from
// the feed and its channel closed; the consumer sees the close and must
// discard everything it cached before resubscribing.
func (f *Feed) Publish(n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	kept := f.subs[:0]
	for _, ch := range f.subs {
		select {
		case ch <- n:
			kept = append(kept, ch)
		default:
			appLog.Error("feed: subscriber buffer full, disconnecting it",
				errors.New("subscriber lagging"),
				"kind", string(n.Kind), "id", n.ID)
			close(ch)
		}
	}
	f.subs = kept
}

// Close shuts the feed down and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

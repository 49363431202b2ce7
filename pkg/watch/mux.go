// Package watch multiplexes per-key store subscriptions: one upstream feed
// per distinct key, fanned out to any number of registered subscribers.
package watch

import (
	"context"
	"sync"

	"chatspace/pkg/logger"
	"chatspace/pkg/store"
	"chatspace/pkg/telemetry"
)

// Mux fans one upstream store subscription per key out to every handle
// registered for that key. Upstreams are opened on first registration and
// closed when the last handle for the key unregisters.
type Mux struct {
	store    *store.Store
	queueCap int

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

type keyState struct {
	sub     *store.Subscription
	cancel  context.CancelFunc
	handles map[*Handle]struct{}
}

// Handle is one subscriber's view of a key feed. Events arrive on Events()
// in upstream order; the channel closes when the handle is unregistered,
// the key's upstream fails, or the subscriber falls too far behind.
type Handle struct {
	key string
	ch  chan store.Event

	mu         sync.Mutex
	closed     bool
	overflowed bool
}

// Events returns the delivery channel.
func (h *Handle) Events() <-chan store.Event { return h.ch }

// Key returns the watched key.
func (h *Handle) Key() string { return h.key }

// Overflowed reports whether the handle was closed because its queue
// filled. Callers use this to tell a slow-consumer disconnect apart from
// an ordinary teardown.
func (h *Handle) Overflowed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overflowed
}

// closeLocked closes the delivery channel once. Caller holds h.mu.
func (h *Handle) closeLocked(overflow bool) {
	if h.closed {
		return
	}
	h.closed = true
	h.overflowed = overflow
	close(h.ch)
}

// deliver enqueues ev without blocking. A full queue closes the handle:
// a subscriber that cannot keep up is cut off rather than allowed to
// stall or skew the feed for everyone else.
func (h *Handle) deliver(ev store.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.ch <- ev:
		return true
	default:
		h.closeLocked(true)
		telemetry.SubscriberOverflows.Inc()
		logger.Warn("watch_subscriber_overflow", "key", h.key)
		return false
	}
}

// New returns a Mux over st. queueCap bounds each handle's delivery queue.
func New(st *store.Store, queueCap int) *Mux {
	if queueCap <= 0 {
		queueCap = 16
	}
	return &Mux{store: st, queueCap: queueCap, keys: map[string]*keyState{}}
}

// Register adds a subscriber for key, opening the upstream subscription if
// this is the key's first. Returns nil after Close.
func (m *Mux) Register(key string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	h := &Handle{key: key, ch: make(chan store.Event, m.queueCap)}
	ks := m.keys[key]
	if ks == nil {
		ctx, cancel := context.WithCancel(context.Background())
		ks = &keyState{
			sub:     m.store.Subscribe(key),
			cancel:  cancel,
			handles: map[*Handle]struct{}{},
		}
		m.keys[key] = ks
		telemetry.WatchUpstreams.Inc()
		go m.pump(ctx, key, ks)
	}
	ks.handles[h] = struct{}{}
	telemetry.WatchSubscribers.Inc()
	return h
}

// Unregister removes h. The last handle for a key closes its upstream.
func (m *Mux) Unregister(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	ks := m.keys[h.key]
	if ks != nil {
		if _, ok := ks.handles[h]; ok {
			delete(ks.handles, h)
			telemetry.WatchSubscribers.Dec()
		}
		if len(ks.handles) == 0 {
			delete(m.keys, h.key)
			ks.cancel()
			ks.sub.Close()
			telemetry.WatchUpstreams.Dec()
		}
	}
	m.mu.Unlock()

	h.mu.Lock()
	h.closeLocked(false)
	h.mu.Unlock()
}

// Close tears down every upstream and handle.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for key, ks := range m.keys {
		ks.cancel()
		ks.sub.Close()
		telemetry.WatchUpstreams.Dec()
		for h := range ks.handles {
			h.mu.Lock()
			h.closeLocked(false)
			h.mu.Unlock()
			telemetry.WatchSubscribers.Dec()
		}
		// emptied so the pump's teardown path cannot account them twice
		ks.handles = map[*Handle]struct{}{}
		delete(m.keys, key)
	}
}

// pump drains the upstream subscription for key and fans each event out to
// the current handle set. Delivery happens under m.mu so a handle being
// unregistered concurrently can never receive a post-close send.
func (m *Mux) pump(ctx context.Context, key string, ks *keyState) {
	for {
		ev, err := ks.sub.Next(ctx)
		if err != nil {
			m.mu.Lock()
			// only tear down if this state is still the registered one;
			// a new registration may have replaced it already
			if m.keys[key] == ks {
				delete(m.keys, key)
				telemetry.WatchUpstreams.Dec()
			}
			for h := range ks.handles {
				h.mu.Lock()
				h.closeLocked(false)
				h.mu.Unlock()
				telemetry.WatchSubscribers.Dec()
			}
			ks.handles = map[*Handle]struct{}{}
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		if m.keys[key] != ks {
			m.mu.Unlock()
			return
		}
		for h := range ks.handles {
			if !h.deliver(ev) {
				delete(ks.handles, h)
				telemetry.WatchSubscribers.Dec()
			}
		}
		if len(ks.handles) == 0 {
			delete(m.keys, key)
			ks.cancel()
			ks.sub.Close()
			telemetry.WatchUpstreams.Dec()
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

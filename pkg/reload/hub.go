// Package reload fans reload signals out to connected development clients.
package reload

import (
	"io"
	"log/slog"
	"sync"

	"github.com/aretw0/kiln/pkg/domain"
)

// DefaultBuffer is the per-client queue length.
const DefaultBuffer = 16

// Subscription is one connected client.
type Subscription struct {
	id   uint64
	ch   chan domain.Signal
	done chan struct{}
	once sync.Once
}

// C delivers signals. It is closed once the hub drops the subscription.
func (s *Subscription) C() <-chan domain.Signal { return s.ch }

// Close marks the client disconnected. The hub prunes it on the next
// delivery attempt.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub broadcasts signals to every live subscription.
// Broadcast never blocks: a client whose queue is full is treated as gone.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	next   uint64
	buffer int
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBuffer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{
		id:   h.next,
		ch:   make(chan domain.Signal, h.buffer),
		done: make(chan struct{}),
	}
	h.subs[s.id] = s
	h.logger.Debug("Reload client connected", "client", s.id, "clients", len(h.subs))
	return s
}

// Unsubscribe removes a client immediately.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(s)
}

// drop must be called with h.mu held.
func (h *Hub) drop(s *Subscription) {
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	s.Close()
	close(s.ch)
}

// Broadcast delivers sig to every live client and prunes the dead ones.
func (h *Hub) Broadcast(sig domain.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, s := range h.subs {
		if s.closed() {
			h.drop(s)
			continue
		}
		select {
		case s.ch <- sig:
			delivered++
		default:
			h.logger.Warn("Reload client buffer full, disconnecting", "client", s.id)
			h.drop(s)
		}
	}
	h.logger.Debug("Reload signal broadcast", "kind", sig.Kind, "clients", delivered)
}

// Len returns the number of registered clients, including disconnected ones
// not yet pruned.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

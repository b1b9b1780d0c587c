package ports

import "github.com/aretw0/kiln/pkg/domain"

// Broadcaster delivers reload signals to development clients.
// Broadcast is fire-and-forget and must never block on slow clients.
type Broadcaster interface {
	Broadcast(signal domain.Signal)
}

// NopBroadcaster discards every signal. Used by one-shot builds.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(domain.Signal) {}

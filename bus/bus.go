// Package bus abstracts the publish/subscribe transport the relay multiplexes
// sessions over. A Bus delivers every message arriving on a subscribed
// channel to a single handler installed at construction; resolving which
// session owns a channel, and fanning out to that session's connections, is
// the router's job. Per-channel publish order is preserved; no ordering is
// guaranteed across channels.
//
// Two backends are provided: Memory for tests and single-process
// deployments, and Redis for deployments where agent and runtime nodes run
// out of process.
package bus

import (
	"context"
	"errors"
)

// Handler receives every message delivered on a subscribed channel.
// Handlers must not block for long; delivery for all channels shares one
// receive loop.
type Handler func(ctx context.Context, channel string, payload []byte)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Bus is a shared pub/sub connection. Implementations must be safe for
// concurrent use; Publish is fire-and-forget from the caller's perspective
// and delivery only reaches subscribers present at publish time.
type Bus interface {
	// Publish sends a payload on a channel. Publishing to a channel with
	// no subscribers is not an error.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe starts delivery for the given channels.
	Subscribe(ctx context.Context, channels ...string) error
	// Unsubscribe stops delivery for the given channels.
	Unsubscribe(ctx context.Context, channels ...string) error
	// Close tears down the bus connection and stops the delivery loop.
	Close() error
}

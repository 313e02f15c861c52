// Package realtime subscribes to job and queue lifecycle events pushed by
// the service, preferring a persistent duplex socket and falling back to a
// one-way streamed connection when a duplex dial isn't available.
package realtime

import (
	"context"
	"time"
)

// ConnState is one of the internal connection-lifecycle notifications a
// Subscription emits alongside topic events.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// Event is one message delivered on a subscribed topic.
type Event struct {
	Topic string
	ID    string
	Data  []byte

	// Decoded is Data JSON-decoded and key-normalized to lowerCamel via
	// casewire.FromWire. If Data fails to parse as JSON, Decoded holds the
	// raw string instead. Nil when Data is empty.
	Decoded any
}

// Handler receives events for topics it was registered against.
type Handler func(Event)

// transport is the wire-level duplex or one-way connection a Subscription
// drives. Both implementations read a single cooperative loop: Recv blocks
// for the next frame and Connect/Close manage the underlying socket.
type transport interface {
	Connect(ctx context.Context) error
	Recv(ctx context.Context) (Event, error)
	Close() error

	// ReconnectHint reports a server-supplied base-delay override for the
	// next reconnect attempt (the SSE "retry:" field), or nil when the
	// transport has no such hint. Reading it clears it.
	ReconnectHint() *time.Duration
}

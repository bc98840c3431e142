// Package transport defines the duplex event channel the lobby synchronizer
// speaks over.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// EventReconnected is delivered by a channel after it transparently
// re-established its connection. Anything emitted on the old connection,
// including room membership, must be assumed lost.
const EventReconnected = "reconnected"

var (
	// ErrClosed is returned by operations on a closed channel
	ErrClosed = errors.New("channel is closed")
	// ErrAckTimeout is returned when no acknowledgement arrives in time
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
	// ErrUnauthorized is returned when the server rejects the access token
	// during the handshake
	ErrUnauthorized = errors.New("channel handshake rejected the access token")
)

// Event is an inbound named event with its raw JSON payload
type Event struct {
	Name string
	Data json.RawMessage
}

// Channel is a connected event channel. Events are delivered sequentially
// in arrival order.
type Channel interface {
	// Emit sends an event without waiting for acknowledgement
	Emit(ctx context.Context, event string, payload any) error
	// EmitWithAck sends an event and waits for the server's acknowledgement
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
	// Events is closed once the channel is closed or fails for good
	Events() <-chan Event
	// Err reports why Events was closed. It is nil after Close.
	Err() error
	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// Dialer opens channels authenticated with an access token
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

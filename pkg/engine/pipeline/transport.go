package pipeline

import "context"

// EventKind is a client lifecycle signal surfaced by the transport.
type EventKind int

const (
	// EventClientReady means the client finished its setup exchange and
	// can receive audio.
	EventClientReady EventKind = iota
	// EventClientConnected means the media connection is established.
	EventClientConnected
	// EventClientDisconnected means the client went away. The pipeline
	// cancels itself on this event.
	EventClientDisconnected
)

// Transport is the media boundary of a session. The websocket handlers in
// the server package implement it for telephony and browser clients.
type Transport interface {
	// Input returns the channel of inbound frames. The transport closes
	// it when the connection ends.
	Input() <-chan Frame

	// Send writes an outbound frame to the client.
	Send(ctx context.Context, f Frame) error

	// Events returns the channel of client lifecycle events.
	Events() <-chan EventKind

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

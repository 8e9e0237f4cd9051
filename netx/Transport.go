package netx

import "errors"

// Transport defines the interface that any transport
// mechanism must implement to be used by the overlay.
type Transport interface {
	// Listen binds addr and delivers every received frame to handler.
	Listen(addr string, handler MessageHandler) error
	// Addr returns the bound listen address once Listen has succeeded.
	Addr() string
	// Send queues data for delivery to the listener at address to.
	Send(to string, data []byte) error
	Close() error
	CloseConnection(addr string) error
}

// MessageHandler is the type definition for the callback
// function that is invoked when a message is received
// via a Transport implementation. from is the remote
// address of the connection the frame arrived on.
type MessageHandler func(from string, data []byte)

var (
	ErrClosed    = errors.New("netx: transport closed")
	ErrQueueFull = errors.New("netx: outbound queue full")
	ErrFrameSize = errors.New("netx: frame too large")
)

package core

// Frame is an opaque binary payload, relayed byte for byte.
type Frame []byte

type SessionID string

// Transport is one duplex, message oriented connection.
// Owned by the adapter; sends never block and never wait for delivery.
type Transport interface {
	SendText(data []byte) error
	SendBinary(f Frame) error
	// BacklogBytes reports how much has been accepted for send but not yet written.
	BacklogBytes() int64
	// Ping issues a transport level ping.
	Ping() error
	// Close writes what is already queued, then closes with a handshake.
	Close()
	// Terminate drops the connection immediately.
	Terminate()
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
}

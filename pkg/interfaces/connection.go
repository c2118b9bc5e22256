package interfaces

import (
	"time"

	"streamrelay/pkg/types"
)

// Connection represents one live client transport session
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// so the registry and dispatcher can be exercised with in-memory fakes
type Connection interface {
	// ID returns a process-unique connection id used in logs and metadata
	ID() string

	// RemoteAddr returns the peer address for observability
	RemoteAddr() string

	// ConnectedAt returns the transport open time
	ConnectedAt() time.Time

	// Send marshals v once and enqueues it (thread-safe, bounded wait)
	Send(v any) error

	// SendRaw enqueues an already encoded message (thread-safe, bounded wait)
	// FUNCTIONAL DISCOVERY: Fan-out encodes once and shares the bytes across consumers
	SendRaw(data []byte) error

	// CloseWithReason flushes queued messages then closes with a close code
	CloseWithReason(code int, reason string) error

	// Close closes the connection immediately
	Close() error

	// IsAuthenticated reports whether the handshake has completed
	IsAuthenticated() bool

	// Authenticate stores the verified identity; it succeeds exactly once
	Authenticate(identity *types.Identity) error

	// Identity returns the verified identity or nil before the handshake
	Identity() *types.Identity
}

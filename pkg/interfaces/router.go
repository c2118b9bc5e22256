package interfaces

import (
	"context"
	"time"

	"streamrelay/pkg/types"
)

// MessageDispatcher is what the transport layer drives for every connection
// ARCHITECTURAL DISCOVERY: Transport never inspects message kinds; it only
// reports open, each inbound message in order, and close
type MessageDispatcher interface {
	// Open records a freshly accepted, unauthenticated connection
	Open(conn Connection)

	// Dispatch handles one inbound message; calls for a connection are sequential
	Dispatch(ctx context.Context, conn Connection, raw []byte)

	// Disconnect unlinks the connection from all routing state
	Disconnect(ctx context.Context, conn Connection)
}

// AlertPersister accepts alerts for durable storage without blocking the caller
type AlertPersister interface {
	PersistAlert(alert *types.Alert) error
}

// StreamToucher records activity on a stream without blocking the caller
type StreamToucher interface {
	TouchStream(streamID string, at time.Time) error
}

// StatusPublisher forwards stream status events to systems outside the relay
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event *types.StatusMessage) error
}

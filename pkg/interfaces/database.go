package interfaces

import (
	"context"
	"time"

	"streamrelay/pkg/types"
)

// StreamStore handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for stream records and alert history
// keeps the relay core unaware of the storage engine
type StreamStore interface {
	// ClaimStream inserts an ownership record or returns the existing one
	// FUNCTIONAL DISCOVERY: First claimant wins; the returned record tells the caller who owns it
	ClaimStream(ctx context.Context, streamID, ownerID string) (*types.StreamRecord, error)

	// GetStream returns the ownership record or ErrStreamNotFound
	GetStream(ctx context.Context, streamID string) (*types.StreamRecord, error)

	// TouchStream updates last_seen_at for a stream
	TouchStream(ctx context.Context, streamID string, at time.Time) error

	// StoreAlert persists one alert
	StoreAlert(ctx context.Context, alert *types.Alert) error

	// ListAlerts returns the newest alerts for a stream, newest first
	ListAlerts(ctx context.Context, streamID string, limit int) ([]*types.Alert, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

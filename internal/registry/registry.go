package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// Registry tracks which connection produces and which connections consume each stream
// ARCHITECTURAL DISCOVERY: Pure bookkeeping without business logic or network I/O,
// so every lock hold is a handful of map operations
type Registry struct {
	mu        sync.RWMutex                                                 // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	live      map[interfaces.Connection]struct{}                           // every open transport, bound or not
	producers map[string]interfaces.Connection                             // streamID -> video producer
	consumers map[string]map[types.Kind]map[interfaces.Connection]struct{} // streamID -> kind -> set
	metadata  map[interfaces.Connection]*types.Metadata                    // authoritative per-connection state
	logger    *zap.Logger
}

// Stats is the aggregate view exposed to observability surfaces
type Stats struct {
	Producers             int      `json:"producers"`
	VideoConsumers        int      `json:"video_consumers"`
	AlertConsumers        int      `json:"alert_consumers"`
	TotalConnections      int      `json:"total_connections"`
	RegisteredConnections int      `json:"registered_connections"`
	ActiveStreams         []string `json:"active_streams"`
}

// NewRegistry creates a new stream registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil map writes during concurrent operations
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		live:      make(map[interfaces.Connection]struct{}),
		producers: make(map[string]interfaces.Connection),
		consumers: make(map[string]map[types.Kind]map[interfaces.Connection]struct{}),
		metadata:  make(map[interfaces.Connection]*types.Metadata),
		logger:    logger.Named("registry"),
	}
}

// Track records an open, unauthenticated connection so it is counted in stats
func (r *Registry) Track(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.live[conn] = struct{}{}
	r.mu.Unlock()
}

// Bind stores the connection's role and stream binding
// FUNCTIONAL DISCOVERY: Role and stream are assigned once; a second bind is rejected
// before any producer or consumer set is touched
func (r *Registry) Bind(conn interfaces.Connection, meta *types.Metadata) error {
	if conn == nil {
		return ErrNilConnection
	}
	if meta == nil {
		return ErrNilMetadata
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metadata[conn]; exists {
		return ErrAlreadyRegistered
	}
	r.metadata[conn] = copyMetadata(meta)
	r.live[conn] = struct{}{}
	return nil
}

// Metadata returns a copy of the stored metadata for a connection
func (r *Registry) Metadata(conn interfaces.Connection) (*types.Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.metadata[conn]
	if !exists {
		return nil, false
	}
	return copyMetadata(meta), true
}

// RegisterProducer places conn in the producer slot for a video stream
// FUNCTIONAL DISCOVERY: Latest registration wins; a displaced producer keeps its
// metadata and is only unlinked from the slot, never notified
func (r *Registry) RegisterProducer(streamID string, conn interfaces.Connection, kind types.Kind) {
	if conn == nil || kind != types.KindVideoFrame {
		return
	}

	r.mu.Lock()
	previous, exists := r.producers[streamID]
	r.producers[streamID] = conn
	r.mu.Unlock()

	if exists && previous != conn {
		r.logger.Warn("producer slot overwritten",
			zap.String("stream_id", streamID),
			zap.String("previous_connection", previous.ID()),
			zap.String("connection", conn.ID()))
	}
}

// RegisterConsumer adds conn to the consumer set for a stream and kind
// Idempotent: re-adding a member leaves a single occurrence
func (r *Registry) RegisterConsumer(streamID string, conn interfaces.Connection, kind types.Kind) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, exists := r.consumers[streamID]
	if !exists {
		kinds = make(map[types.Kind]map[interfaces.Connection]struct{})
		r.consumers[streamID] = kinds
	}
	set, exists := kinds[kind]
	if !exists {
		set = make(map[interfaces.Connection]struct{})
		kinds[kind] = set
	}
	set[conn] = struct{}{}
}

// GetConsumers returns a snapshot of consumers for a stream and kind
// TECHNICAL DISCOVERY: Return a copy so callers can send without holding the lock
func (r *Registry) GetConsumers(streamID string, kind types.Kind) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.consumers[streamID][kind]
	result := make([]interfaces.Connection, 0, len(set))
	for conn := range set {
		result = append(result, conn)
	}
	return result
}

// GetAllConsumers returns the union of every consumer set for a stream
func (r *Registry) GetAllConsumers(streamID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[interfaces.Connection]struct{})
	result := make([]interfaces.Connection, 0)
	for _, set := range r.consumers[streamID] {
		for conn := range set {
			if _, dup := seen[conn]; dup {
				continue
			}
			seen[conn] = struct{}{}
			result = append(result, conn)
		}
	}
	return result
}

// GetProducer returns the current producer for a stream or nil
func (r *Registry) GetProducer(streamID string) interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[streamID]
}

// RemoveConnection unlinks a connection from every mapping it participated in
// and returns its metadata, or nil when the connection was never bound.
// RACE CONDITION FIX: The producer slot is only cleared if it still holds this
// exact connection, so a stale disconnect never evicts a newer producer
func (r *Registry) RemoveConnection(conn interfaces.Connection) *types.Metadata {
	if conn == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.live, conn)

	meta, exists := r.metadata[conn]
	if !exists {
		return nil // Idempotent - no error if connection was never bound
	}

	if current, ok := r.producers[meta.StreamID]; ok && current == conn {
		delete(r.producers, meta.StreamID)
	}

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if kinds, ok := r.consumers[meta.StreamID]; ok {
		for kind, set := range kinds {
			delete(set, conn)
			if len(set) == 0 {
				delete(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			delete(r.consumers, meta.StreamID)
		}
	}

	delete(r.metadata, conn)
	return copyMetadata(meta)
}

// Connections returns a snapshot of every tracked connection, bound or not
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Connection, 0, len(r.live))
	for conn := range r.live {
		result = append(result, conn)
	}
	return result
}

// GetStats returns aggregate counts for monitoring
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Producers:             len(r.producers),
		TotalConnections:      len(r.live),
		RegisteredConnections: len(r.metadata),
		ActiveStreams:         make([]string, 0, len(r.producers)),
	}
	for streamID := range r.producers {
		stats.ActiveStreams = append(stats.ActiveStreams, streamID)
	}
	sort.Strings(stats.ActiveStreams)

	for _, kinds := range r.consumers {
		stats.VideoConsumers += len(kinds[types.KindVideoFrame])
		stats.AlertConsumers += len(kinds[types.KindAlert])
	}
	return stats
}

func copyMetadata(meta *types.Metadata) *types.Metadata {
	out := *meta
	out.Produces = append([]types.Kind(nil), meta.Produces...)
	out.Consumes = append([]types.Kind(nil), meta.Consumes...)
	return &out
}

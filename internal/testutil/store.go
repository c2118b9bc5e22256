package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// MemoryStore is an in-memory interfaces.StreamStore
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*types.StreamRecord
	alerts  []*types.Alert
	touched map[string]time.Time
	calls   map[string]int

	// Err, when set, is returned by every method
	Err error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*types.StreamRecord),
		touched: make(map[string]time.Time),
		calls:   make(map[string]int),
	}
}

func (s *MemoryStore) record(call string) error {
	s.calls[call]++
	return s.Err
}

// Calls returns how many times a method was invoked
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// SetErr makes every subsequent call fail with err
func (s *MemoryStore) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

func (s *MemoryStore) ClaimStream(ctx context.Context, streamID, ownerID string) (*types.StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ClaimStream"); err != nil {
		return nil, err
	}
	if existing, ok := s.streams[streamID]; ok {
		out := *existing
		return &out, nil
	}
	now := time.Now()
	rec := &types.StreamRecord{ID: streamID, OwnerID: ownerID, CreatedAt: now, LastSeenAt: now}
	s.streams[streamID] = rec
	out := *rec
	return &out, nil
}

func (s *MemoryStore) GetStream(ctx context.Context, streamID string) (*types.StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("GetStream"); err != nil {
		return nil, err
	}
	rec, ok := s.streams[streamID]
	if !ok {
		return nil, interfaces.ErrStreamNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) TouchStream(ctx context.Context, streamID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("TouchStream"); err != nil {
		return err
	}
	s.touched[streamID] = at
	if rec, ok := s.streams[streamID]; ok {
		rec.LastSeenAt = at
	}
	return nil
}

// Touched returns the last touch time recorded for a stream
func (s *MemoryStore) Touched(streamID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.touched[streamID]
	return at, ok
}

func (s *MemoryStore) StoreAlert(ctx context.Context, alert *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("StoreAlert"); err != nil {
		return err
	}
	copied := *alert
	s.alerts = append(s.alerts, &copied)
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, streamID string, limit int) ([]*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListAlerts"); err != nil {
		return nil, err
	}
	out := make([]*types.Alert, 0)
	for _, a := range s.alerts {
		if a.StreamID == streamID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Alerts returns every stored alert in insertion order
func (s *MemoryStore) Alerts() []*types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Alert(nil), s.alerts...)
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("HealthCheck")
}

func (s *MemoryStore) Close() error { return nil }

var _ interfaces.StreamStore = (*MemoryStore)(nil)

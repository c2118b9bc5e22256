package stream

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// DefaultOwnerCacheSize bounds the owner cache when no size is configured
const DefaultOwnerCacheSize = 10000

// Manager implements interfaces.OwnershipChecker over a stream store
// ARCHITECTURAL DISCOVERY: Owners never change once claimed, so a positive
// lookup stays valid; the LRU only bounds memory and evicted streams fall
// back to the store
type Manager struct {
	store             interfaces.StreamStore
	restrictSubscribe bool
	cacheSize         int
	owners            *lru.Cache[string, string] // streamID -> ownerID
	logger            *zap.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithRestrictSubscribe makes subscribe to a stream owned by someone else fail
func WithRestrictSubscribe(restrict bool) Option {
	return func(m *Manager) { m.restrictSubscribe = restrict }
}

// WithCacheSize sets how many stream owners are kept in memory
func WithCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cacheSize = n
		}
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger.Named("stream") }
}

// NewManager creates a new ownership manager
func NewManager(store interfaces.StreamStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		cacheSize: DefaultOwnerCacheSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	// lru.New only fails for a non-positive size, which WithCacheSize filters
	m.owners, _ = lru.New[string, string](m.cacheSize)
	return m
}

// CheckOwnership decides whether userID may perform op on streamID
// FUNCTIONAL DISCOVERY: register claims an unowned stream for the caller;
// subscribe is open unless restricted; publish is allowed on unowned or own streams
func (m *Manager) CheckOwnership(ctx context.Context, userID, streamID string, op interfaces.Operation) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}
	if !types.IsValidStreamID(streamID) {
		return false, fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}

	switch op {
	case interfaces.OperationRegister:
		owner, err := m.Claim(ctx, streamID, userID)
		if err != nil {
			return false, err
		}
		return owner == userID, nil

	case interfaces.OperationSubscribe:
		if !m.restrictSubscribe {
			return true, nil
		}
		return m.ownedByOrFree(ctx, userID, streamID)

	case interfaces.OperationPublish:
		return m.ownedByOrFree(ctx, userID, streamID)

	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

// Claim records userID as owner of an unowned stream and returns the effective owner
func (m *Manager) Claim(ctx context.Context, streamID, userID string) (string, error) {
	if owner, ok := m.cached(streamID); ok {
		return owner, nil
	}
	if m.store == nil {
		return "", ErrStoreNotAvailable
	}

	record, err := m.store.ClaimStream(ctx, streamID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to claim stream %s: %w", streamID, err)
	}
	m.remember(record.ID, record.OwnerID)
	if record.OwnerID == userID {
		m.logger.Debug("stream claimed", zap.String("stream_id", streamID), zap.String("user_id", userID))
	}
	return record.OwnerID, nil
}

// Owner returns the owner of a stream; found is false for unclaimed streams
func (m *Manager) Owner(ctx context.Context, streamID string) (owner string, found bool, err error) {
	if owner, ok := m.cached(streamID); ok {
		return owner, true, nil
	}
	if m.store == nil {
		return "", false, ErrStoreNotAvailable
	}

	record, err := m.store.GetStream(ctx, streamID)
	if err != nil {
		if errors.Is(err, interfaces.ErrStreamNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	m.remember(record.ID, record.OwnerID)
	return record.OwnerID, true, nil
}

func (m *Manager) ownedByOrFree(ctx context.Context, userID, streamID string) (bool, error) {
	owner, found, err := m.Owner(ctx, streamID)
	if err != nil {
		return false, err
	}
	return !found || owner == userID, nil
}

func (m *Manager) cached(streamID string) (string, bool) {
	return m.owners.Get(streamID)
}

func (m *Manager) remember(streamID, ownerID string) {
	m.owners.Add(streamID, ownerID)
}

// CachedOwners reports how many owners are held in memory
func (m *Manager) CachedOwners() int {
	return m.owners.Len()
}

var _ interfaces.OwnershipChecker = (*Manager)(nil)

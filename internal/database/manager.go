package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "streamrelay/pkg/database"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// Manager implements interfaces.StreamStore on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Errors returned by the manager
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// NewManager opens the database and starts the writer goroutine
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema
func (m *Manager) Migrate() error {
	if err := dbconfig.NewMigrationManager(m.db, nil).ApplyMigrations(); err != nil {
		return err
	}
	if err := dbconfig.NewSchemaValidator(m.db).Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after RetryDelay
			err := op.operation(m.db)
			if err != nil && !isPermanent(err) {
				m.logger.Warn("database write failed, retrying", zap.Error(err), zap.Duration("delay", m.config.RetryDelay))
				select {
				case <-time.After(m.config.RetryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// ClaimStream records ownerID as the owner of streamID unless it is already owned
// FUNCTIONAL DISCOVERY: INSERT OR IGNORE makes the first claimant win without a read-then-write race
func (m *Manager) ClaimStream(ctx context.Context, streamID, ownerID string) (*types.StreamRecord, error) {
	now := time.Now().UTC()
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO streams (id, owner_id, created_at, last_seen_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, streamID, ownerID, now, now)
		if err != nil {
			return fmt.Errorf("failed to claim stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.GetStream(ctx, streamID)
}

// GetStream retrieves a stream ownership record
func (m *Manager) GetStream(ctx context.Context, streamID string) (*types.StreamRecord, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `
		SELECT id, owner_id, created_at, last_seen_at
		FROM streams
		WHERE id = ?
	`, streamID)

	var record types.StreamRecord
	if err := row.Scan(&record.ID, &record.OwnerID, &record.CreatedAt, &record.LastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrStreamNotFound
		}
		return nil, fmt.Errorf("failed to query stream: %w", err)
	}
	return &record, nil
}

// TouchStream updates last_seen_at; unknown streams are ignored
func (m *Manager) TouchStream(ctx context.Context, streamID string, at time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE streams SET last_seen_at = ? WHERE id = ?`, at.UTC(), streamID)
		if err != nil {
			return fmt.Errorf("failed to touch stream: %w", err)
		}
		return nil
	})
}

// StoreAlert persists one alert
func (m *Manager) StoreAlert(ctx context.Context, alert *types.Alert) error {
	var metadata sql.NullString
	if len(alert.Metadata) > 0 {
		encoded, err := json.Marshal(alert.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal alert metadata: %w", err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO alerts (id, stream_id, user_id, severity, message, metadata, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, alert.ID, alert.StreamID, alert.UserID, alert.Severity, alert.Message, metadata, alert.Timestamp, createdAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	})
}

// ListAlerts returns up to limit alerts for a stream, newest first
func (m *Manager) ListAlerts(ctx context.Context, streamID string, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, stream_id, user_id, severity, message, metadata, timestamp, created_at
		FROM alerts
		WHERE stream_id = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	alerts := make([]*types.Alert, 0)
	for rows.Next() {
		var (
			alert    types.Alert
			metadata sql.NullString
		)
		if err := rows.Scan(&alert.ID, &alert.StreamID, &alert.UserID, &alert.Severity, &alert.Message,
			&metadata, &alert.Timestamp, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &alert.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
			}
		}
		alerts = append(alerts, &alert)
	}
	return alerts, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying handle for migrations and tests
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

var _ interfaces.StreamStore = (*Manager)(nil)

package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// SchemaValidator checks that a migrated database has the shape the relay expects
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredColumns = map[string]map[string]string{
	"streams": {
		"id":           "TEXT",
		"owner_id":     "TEXT",
		"created_at":   "DATETIME",
		"last_seen_at": "DATETIME",
	},
	"alerts": {
		"id":         "TEXT",
		"stream_id":  "TEXT",
		"user_id":    "TEXT",
		"severity":   "TEXT",
		"message":    "TEXT",
		"metadata":   "TEXT",
		"timestamp":  "INTEGER",
		"created_at": "DATETIME",
	},
	"schema_migrations": {
		"version": "TEXT",
	},
}

var requiredIndexes = []string{
	"idx_streams_owner",
	"idx_alerts_stream_time",
	"idx_alerts_severity",
}

// Validate runs every check in order and returns the first failure
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range sortedKeys(requiredColumns) {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	for _, table := range sortedKeys(requiredColumns) {
		if err := v.validateColumns(table, requiredColumns[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies the severity check constraint is enforced
// TECHNICAL DISCOVERY: Probe inside a transaction that is always rolled back
// so validation never leaves rows behind
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO alerts (id, stream_id, user_id, severity, message, timestamp)
		VALUES ('schema-check', 'check', 'check', 'catastrophic', 'check', 0)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: alerts.severity")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range sortedKeys(expected) {
		typ, exists := found[col]
		if !exists {
			return fmt.Errorf("column %s not found", col)
		}
		if typ != expected[col] {
			return fmt.Errorf("column %s has type %s, expected %s", col, typ, expected[col])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

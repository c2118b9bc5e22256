package database

import (
	"testing"
)

func TestSchemaValidator_AfterMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, nil).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	v := NewSchemaValidator(db)
	if err := v.Validate(); err != nil {
		t.Fatalf("schema should validate: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("constraint check left %d rows behind", count)
	}
}

func TestSchemaValidator_DetectsMissingPieces(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db)
	if err := v.ValidateTablesExist(); err == nil {
		t.Error("empty database should fail table validation")
	}

	if err := NewMigrationManager(db, nil).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if _, err := db.Exec("DROP INDEX idx_alerts_severity"); err != nil {
		t.Fatal(err)
	}
	if err := v.ValidateIndexes(); err == nil {
		t.Error("missing index should fail validation")
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE streams (id TEXT, owner_id INTEGER, created_at DATETIME, last_seen_at DATETIME)`); err != nil {
		t.Fatal(err)
	}
	err := NewSchemaValidator(db).validateColumns("streams", requiredColumns["streams"])
	if err == nil {
		t.Fatal("expected type mismatch")
	}
}

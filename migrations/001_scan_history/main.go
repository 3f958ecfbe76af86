package main

import (
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/threatmodelerx/go-api/tmx/postgres"
)

func main() {
	rollback := len(os.Args) > 1 && os.Args[1] == "--rollback"

	config := postgres.LoadConfigFromEnv()
	config.Migrate = false
	db, err := postgres.Connect(config)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer postgres.Close(db)

	if rollback {
		log.Println("🔄 Running migration 001 rollback...")
		if err := migrateDown(db); err != nil {
			log.Fatalf("❌ Rollback failed: %v", err)
		}
		log.Println("✅ Rollback completed successfully")
		return
	}

	log.Println("🔄 Starting migration 001: Scan History")
	if err := migrateUp(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Migration 001 completed successfully")
}

func migrateUp(db *gorm.DB) error {
	log.Println("📊 Creating scan_records table...")

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS scan_records (
		id BIGSERIAL PRIMARY KEY,
		scan_id VARCHAR(255) NOT NULL,
		repo_path VARCHAR(1024),
		scan_types VARCHAR(255),
		state VARCHAR(32) NOT NULL,
		status_text TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		polls INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if err := db.Exec(createTableSQL).Error; err != nil {
		return fmt.Errorf("failed to create scan_records table: %w", err)
	}
	log.Println("✅ scan_records table created")

	log.Println("📊 Creating indexes...")
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_records_scan_id ON scan_records(scan_id);",
		"CREATE INDEX IF NOT EXISTS idx_scan_records_state ON scan_records(state);",
		"CREATE INDEX IF NOT EXISTS idx_scan_records_started ON scan_records(started_at DESC);",
	}
	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	log.Println("✅ All indexes created")

	// Bring the columns in line with the model
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	return nil
}

func migrateDown(db *gorm.DB) error {
	for _, sql := range []string{
		"DROP INDEX IF EXISTS idx_scan_records_started;",
		"DROP INDEX IF EXISTS idx_scan_records_state;",
		"DROP INDEX IF EXISTS idx_scan_records_scan_id;",
	} {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("⚠️  Warning: Failed to drop index: %v", err)
		}
	}
	if err := db.Exec("DROP TABLE IF EXISTS scan_records;").Error; err != nil {
		return fmt.Errorf("failed to drop scan_records table: %w", err)
	}
	log.Println("✅ scan_records table rolled back")
	return nil
}

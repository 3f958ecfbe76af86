package main

import (
	"fmt"
	"log"

	"github.com/threatmodelerx/go-api/tmx/postgres"
	"github.com/threatmodelerx/go-api/tmx/postgres/models"
)

func main() {
	log.Println("Starting scan history PostgreSQL connection test...")

	config := postgres.LoadConfigFromEnv()
	db, err := postgres.Connect(config)
	if err != nil {
		log.Fatalf("❌ Failed to establish database connection: %v", err)
	}
	defer postgres.Close(db)

	if err := postgres.Ping(db); err != nil {
		log.Fatalf("❌ %v", err)
	}

	// The history table must exist after Connect migrated it
	if !db.Migrator().HasTable(&models.ScanRecord{}) {
		log.Fatalf("❌ Table %s is missing", models.ScanRecord{}.TableName())
	}

	var count int64
	if err := db.Model(&models.ScanRecord{}).Count(&count).Error; err != nil {
		log.Fatalf("❌ Failed to count scan records: %v", err)
	}

	fmt.Println("✅ Scan history PostgreSQL connection test successful!")
	fmt.Printf("✅ %s holds %d records\n", models.ScanRecord{}.TableName(), count)
}

// File: connection.go
package postgres

import (
	"fmt"
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threatmodelerx/go-api/tmx/postgres/models"
)

// DefaultDSN is used when TMX_DATABASE_URL is not set.
const DefaultDSN = "host=localhost user=postgres password=password dbname=tmx port=5432 sslmode=disable"

// Config selects the database.
type Config struct {
	DSN string `json:"dsn"`
	// Migrate runs AutoMigrate for the history models after connecting.
	Migrate bool `json:"migrate"`
	// Debug logs every SQL statement.
	Debug bool `json:"debug"`
}

func DefaultConfig() *Config {
	return &Config{DSN: DefaultDSN, Migrate: true}
}

// LoadConfigFromEnv loads database configuration from environment variables
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	if dsn := os.Getenv("TMX_DATABASE_URL"); dsn != "" {
		config.DSN = dsn
	}
	if os.Getenv("TMX_DATABASE_DEBUG") == "true" {
		config.Debug = true
	}
	return config
}

// Connect opens the database and, when config.Migrate is set, migrates the
// history schema.
func Connect(config *Config) (*gorm.DB, error) {
	if config == nil {
		config = DefaultConfig()
	}

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if config.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(config.DSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if config.Migrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	slog.Debug("Connected to database", "migrated", config.Migrate)
	return db, nil
}

// Migrate creates or updates the history tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ScanRecord{}); err != nil {
		return fmt.Errorf("error migrating database schema: %w", err)
	}
	return nil
}

// Ping checks that the connection answers a trivial query.
func Ping(db *gorm.DB) error {
	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected ping result %d", result)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

// Database wraps the GORM database connection
type Database struct {
	db     *gorm.DB
	config *DatabaseConfig
	logger *logger.Logger
}

// Open connects using config (falling back to SQLite for unreachable
// servers) and migrates the schema.
func Open(config *DatabaseConfig, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Get()
	}
	db, used, err := ConnectWithFallback(config, log)
	if err != nil {
		return nil, err
	}

	database := &Database{db: db, config: used, logger: log}
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

// NewDatabase opens a SQLite database at dbPath.
func NewDatabase(dbPath string, log *logger.Logger) (*Database, error) {
	return Open(&DatabaseConfig{Type: DatabaseTypeSQLite, Path: dbPath}, log)
}

func (d *Database) migrate() error {
	d.logger.Debug("Running database migrations")
	if err := d.db.AutoMigrate(&User{}, &BookCache{}, &ShelfSnapshot{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.logger.Info("Database connection closed")
	return nil
}

// GetDB returns the underlying GORM database instance
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Type is the database type actually in use after any fallback.
func (d *Database) Type() DatabaseType {
	return d.config.Type
}

// Health pings the database.
func (d *Database) Health(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

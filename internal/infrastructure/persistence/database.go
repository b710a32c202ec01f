package persistence

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/care/erpsync/internal/infrastructure/config"
	"github.com/care/erpsync/internal/infrastructure/persistence/models"
)

// Database holds the record store's database connection
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the sqlite database at the configured path and migrates
// the record store schema. Use ":memory:" for an ephemeral store.
func NewDatabase(cfg config.StoreConfig) (*Database, error) {
	return newDatabaseWithLogLevel(cfg, logger.Silent)
}

// NewDatabaseWithLogger opens the database with custom logger settings
func NewDatabaseWithLogger(cfg config.StoreConfig, logLevel logger.LogLevel) (*Database, error) {
	return newDatabaseWithLogLevel(cfg, logLevel)
}

func newDatabaseWithLogLevel(cfg config.StoreConfig, logLevel logger.LogLevel) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := db.AutoMigrate(
		&models.CustomerModel{},
		&models.InvoiceModel{},
		&models.ChargeLineModel{},
		&models.RemoteLinkModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate record store schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

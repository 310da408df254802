// Package db provides database connectivity and schema migration for the
// job store of record.
package db

import (
	"errors"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db/models"
)

// DefaultDSN is used when STORE_URI is not set.
const DefaultDSN = "host=localhost user=postgres password=postgres dbname=wasmforge port=5432 sslmode=disable"

// Options represents database connection configuration options
type Options struct {
	DSN      string
	LogLevel logger.LogLevel
}

// New creates a new database connection with the given options and runs
// migrations.
func New(opts Options) (*gorm.DB, error) {
	if opts.DSN == "" {
		opts.DSN = config.GetEnv(config.EnvStoreURI, DefaultDSN)
	}
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}

	// Custom logger that ignores record-not-found noise
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	gdb, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate applies the schema for all core models.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Job{},
		&models.User{},
		&models.Project{},
		&models.AuditEntry{},
	)
}

// IsDuplicateKeyError checks if the given error is a duplicate key error
func IsDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return errors.Is(postgres.Dialector{}.Translate(err), gorm.ErrDuplicatedKey)
}

package database

import (
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// MigrationLogger adapts the service logger to the migrate library.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// MigrationConfig holds migration settings.
type MigrationConfig struct {
	FolderPath string
	Version    uint
}

// Migrate applies the schema migrations under FolderPath, to the configured
// version or to the latest.
func Migrate(db DB, databaseName string, cfg MigrationConfig, logger ectologger.Logger) error {
	if _, err := os.Stat(cfg.FolderPath); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", cfg.FolderPath))
	}

	var driver migratedb.Driver
	driver, err := postgres.WithInstance(db.Unsafe().DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.FolderPath, databaseName, driver)
	if err != nil {
		logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: logger}

	if cfg.Version != 0 {
		err = m.Migrate(cfg.Version)
	} else {
		err = m.Up()
	}
	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		logger.WithError(err).Error("Migration failed")
		return err
	}

	logger.Info("Successfully applied migrations")
	return nil
}

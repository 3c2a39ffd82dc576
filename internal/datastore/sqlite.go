// sqlite.go: SQLite implementation of the event store.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements the event store for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and runs migrations. WAL mode
// keeps reads concurrent with writes, which the sync manager relies on.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: createGormLogger(store.Settings.Main.Debug),
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	store.DB = db
	return performAutoMigration(db, "SQLite", path)
}

// Close releases the underlying database handle.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sqlDB.Close()
}

// createGormLogger returns a GORM logger that stays quiet unless debugging.
func createGormLogger(debug bool) logger.Interface {
	level := logger.Silent
	if debug {
		level = logger.Warn
	}
	return logger.New(
		&slogWriter{},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// slogWriter adapts GORM's printf-shaped logger to slog.
type slogWriter struct{}

func (w *slogWriter) Printf(format string, args ...any) {
	logging.ForService("datastore").Debug(fmt.Sprintf(format, args...))
}

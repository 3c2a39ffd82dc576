// interfaces.go: defines the interface for event store operations and the
// shared GORM implementation.
package datastore

import (
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation for event
// persistence. Implementations must support concurrent reads during writes.
type Interface interface {
	Open() error
	Close() error
	Save(events []Event) error
	GetUnsynced(limit int) ([]Event, error)
	MarkSynced(ids []uint) error
	DeleteSyncedOlderThan(ts time.Time) (int64, error)
	GetRecent(limit int) ([]Event, error)
	CountSince(ts time.Time) (int64, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a datastore based on the configured backend.
func New(settings *conf.Settings) Interface {
	if settings.Output.SQLite.Enabled {
		return &SQLiteStore{Settings: settings}
	}
	return nil
}

// Save appends event records in a single transaction.
func (ds *DataStore) Save(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range events {
			if err := tx.Create(&events[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("count", len(events)).
			Build()
	}
	return nil
}

// GetUnsynced returns up to limit unsynced events, oldest first.
func (ds *DataStore) GetUnsynced(limit int) ([]Event, error) {
	var events []Event
	err := ds.DB.Where("synced = ?", false).
		Order("timestamp asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return events, nil
}

// MarkSynced marks the given event ids as synced. Replaying already-synced
// ids is a no-op.
func (ds *DataStore) MarkSynced(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := ds.DB.Model(&Event{}).
		Where("id IN ? AND synced = ?", ids, false).
		Update("synced", true).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("count", len(ids)).
			Build()
	}
	return nil
}

// DeleteSyncedOlderThan removes events that are both synced and older than
// ts. Unsynced events are never deleted. Returns the number removed.
func (ds *DataStore) DeleteSyncedOlderThan(ts time.Time) (int64, error) {
	res := ds.DB.Where("synced = ? AND timestamp < ?", true, ts.Unix()).
		Delete(&Event{})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return res.RowsAffected, nil
}

// GetRecent returns the most recent events, newest first.
func (ds *DataStore) GetRecent(limit int) ([]Event, error) {
	var events []Event
	err := ds.DB.Order("timestamp desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return events, nil
}

// CountSince returns the number of events with a timestamp at or after ts.
func (ds *DataStore) CountSince(ts time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Event{}).
		Where("timestamp >= ?", ts.Unix()).
		Count(&count).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return count, nil
}

// performAutoMigration creates or updates the schema.
func performAutoMigration(db *gorm.DB, dbType, path string) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}
	logging.ForService("datastore").Info("database ready", "type", dbType, "path", path)
	return nil
}

// model.go: GORM data model for locally persisted security events.
package datastore

import "time"

// Event is a durable security event record. Events are appended by the event
// engine, marked synced by the sync manager, and pruned once synced and past
// the retention period.
type Event struct {
	ID           uint   `gorm:"primaryKey"`
	Type         string `gorm:"index:idx_events_type"`
	Timestamp    int64  `gorm:"index:idx_events_timestamp"` // unix seconds
	TrackID      uint64
	EmployeeID   string
	LicensePlate string
	Duration     int64  // seconds
	Metadata     string // JSON-encoded map
	SnapshotPath string
	Synced       bool `gorm:"index:idx_events_synced;default:false"`
	CreatedAt    time.Time
}

// Package sync moves durable, unsynced events to the remote system of
// record, handling device registration and credential persistence.
package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/datastore"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/identity"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
)

// Manager performs sync attempts. Scheduling and backoff belong to the
// Scheduler; a Manager attempt either fully succeeds or reports a retryable
// failure leaving events unsynced.
type Manager struct {
	settings *conf.Settings
	ds       datastore.Interface
	client   *Client
	registry *identity.Registry
	metrics  *observability.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	deviceID string
	apiKey   string

	lastSync   time.Time
	lastSyncMu sync.Mutex
}

// NewManager creates a sync manager, loading or creating the persisted
// device identifier and any previously issued credential.
func NewManager(settings *conf.Settings, ds datastore.Interface, registry *identity.Registry,
	metrics *observability.Metrics) (*Manager, error) {
	m := &Manager{
		settings: settings,
		ds:       ds,
		client:   NewClient(settings.Sync.URL, settings.Sync.Timeout),
		registry: registry,
		metrics:  metrics,
		log:      logging.ForService("sync"),
	}

	deviceID, err := loadOrCreateDeviceID(settings.Device.IDFile)
	if err != nil {
		return nil, err
	}
	m.deviceID = deviceID

	if key, err := os.ReadFile(settings.Sync.CredentialFile); err == nil {
		m.apiKey = strings.TrimSpace(string(key))
	}

	return m, nil
}

// DeviceID returns the persisted device identifier.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// LastSync returns the time of the last successful sync, zero if none.
func (m *Manager) LastSync() time.Time {
	m.lastSyncMu.Lock()
	defer m.lastSyncMu.Unlock()
	return m.lastSync
}

// Sync performs one full sync attempt: probe connectivity, register if no
// credential is held, upload up to one batch of unsynced events, and mark
// exactly the uploaded events synced. Any failure leaves events unsynced and
// returns a retryable error.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.settings.Sync.Enabled {
		return nil
	}
	if m.metrics != nil {
		m.metrics.SyncAttempts.Inc()
	}

	if err := m.client.Health(ctx); err != nil {
		return m.fail(err)
	}

	apiKey, err := m.ensureRegistered(ctx)
	if err != nil {
		return m.fail(err)
	}

	batch, err := m.ds.GetUnsynced(m.settings.Sync.BatchSize)
	if err != nil {
		return m.fail(err)
	}
	if len(batch) == 0 {
		m.markSuccess()
		return nil
	}

	wire := make([]wireEvent, 0, len(batch))
	ids := make([]uint, 0, len(batch))
	for i := range batch {
		wire = append(wire, toWire(&batch[i], m.deviceID))
		ids = append(ids, batch[i].ID)
	}

	processed, err := m.client.UploadEvents(ctx, apiKey, m.deviceID, wire)
	if err != nil {
		return m.fail(err)
	}
	if processed != len(wire) {
		// Server accepted the batch but reported a different count; the
		// batch is still considered delivered.
		m.log.Warn("processed count mismatch", "submitted", len(wire), "processed", processed)
	}

	if err := m.ds.MarkSynced(ids); err != nil {
		return m.fail(err)
	}

	if m.metrics != nil {
		m.metrics.EventsSynced.Add(float64(len(ids)))
	}
	m.markSuccess()
	m.log.Info("synced events", "count", len(ids))
	return nil
}

// RefreshEmployees pulls current employee embeddings from the backend into
// the identity registry.
func (m *Manager) RefreshEmployees(ctx context.Context) error {
	m.mu.Lock()
	apiKey := m.apiKey
	m.mu.Unlock()

	entries, err := m.client.FetchEmployees(ctx, apiKey)
	if err != nil {
		return err
	}
	m.registry.Replace(entries)
	return nil
}

// ensureRegistered returns the held credential, registering the device first
// if none exists. The issued credential is persisted before use.
func (m *Manager) ensureRegistered(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiKey != "" {
		return m.apiKey, nil
	}

	key, err := m.client.Register(ctx,
		m.deviceID,
		m.settings.Device.Name,
		m.settings.Device.Model,
		m.settings.Device.OSVersion,
	)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(m.settings.Sync.CredentialFile, []byte(key), 0o600); err != nil {
		return "", errors.New(err).
			Component("sync").
			Category(errors.CategoryFileIO).
			Context("file", m.settings.Sync.CredentialFile).
			Build()
	}

	m.apiKey = key
	m.log.Info("device registered", "device_id", m.deviceID)
	return key, nil
}

func (m *Manager) fail(err error) error {
	if m.metrics != nil {
		m.metrics.SyncFailures.Inc()
	}
	return err
}

func (m *Manager) markSuccess() {
	m.lastSyncMu.Lock()
	m.lastSync = time.Now()
	m.lastSyncMu.Unlock()
}

func toWire(ev *datastore.Event, deviceID string) wireEvent {
	return wireEvent{
		Type:         ev.Type,
		Timestamp:    ev.Timestamp,
		TrackID:      ev.TrackID,
		EmployeeID:   ev.EmployeeID,
		LicensePlate: ev.LicensePlate,
		Duration:     ev.Duration,
		DeviceID:     deviceID,
	}
}

// loadOrCreateDeviceID reads the persisted device id, generating and
// persisting a new one on first run.
func loadOrCreateDeviceID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := writeFileAtomic(path, []byte(id), 0o600); err != nil {
		return "", errors.New(err).
			Component("sync").
			Category(errors.CategoryFileIO).
			Context("file", path).
			Build()
	}
	return id, nil
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated identity or credential file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// config.go: settings struct and loading for the Sentinel agent. Defines the
// Settings hierarchy and functions to load them through viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogRotationType defines the type of log rotation.
type LogRotationType string

const (
	RotationDaily  LogRotationType = "daily"
	RotationWeekly LogRotationType = "weekly"
	RotationSize   LogRotationType = "size"
)

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled  bool            // true to enable this log
	Path     string          // path to log file
	Rotation LogRotationType // rotation type
	MaxSize  int64           // max size in bytes for RotationSize
}

// MainSettings contains main program settings.
type MainSettings struct {
	Name  string    // name of this agent instance
	Debug bool      // true to enable debug level logging
	Log   LogConfig // main log file settings
}

// DeviceSettings identifies this device to the backend.
type DeviceSettings struct {
	IDFile    string // path to the persisted device identifier
	Name      string // human readable device name
	Model     string // hardware model string
	OSVersion string // operating system version string
}

// DetectorSettings configures the external detector capability.
type DetectorSettings struct {
	ModelPath          string        // path to the detector model bundle
	MinConfidence      float64       // detections below this confidence are dropped
	FaceFrameInterval  int           // run face embedding only every Nth frame
	PlateTimeout       time.Duration // timeout for background plate OCR
	ReinitInterval     time.Duration // retry cadence for failed detector init
	FaceConfidenceSwap float64       // adopt a new face embedding above this confidence
}

// TrackerSettings configures frame-to-frame association.
type TrackerSettings struct {
	IoUThreshold  float64 // minimum IoU for a detection to match a track
	MaxFramesLost int     // consecutive missed frames before a track exits
}

// EngineSettings configures event derivation and housekeeping.
type EngineSettings struct {
	LoiterThreshold time.Duration // tracked person duration that triggers loitering
	FlushInterval   time.Duration // cadence for flushing the event queue to the store
	PruneInterval   time.Duration // cadence for pruning old synced events
	RetentionPeriod time.Duration // synced events older than this are pruned
	StateExpiry     time.Duration // previous-state entries idle longer than this are purged
	MatchThreshold  float64       // cosine similarity threshold for employee identity
}

// SnapshotSettings configures evidence capture.
type SnapshotSettings struct {
	Enabled  bool   // true to capture snapshots for high priority events
	Path     string // snapshot directory
	MaxFiles int    // hard cap on files kept in the snapshot directory
}

// IdentitySettings configures employee embedding lookups.
type IdentitySettings struct {
	EmbeddingsFile  string        // local JSON file with employee embeddings
	RefreshInterval time.Duration // cadence for refreshing embeddings from the backend
}

// SQLiteSettings contains the local event store configuration.
type SQLiteSettings struct {
	Enabled bool   // true to enable the SQLite event store
	Path    string // path to the SQLite database
}

// MQTTSettings configures the live status feed.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // MQTT broker URL
	Topic    string // topic prefix for event and stats messages
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // true to retain messages at the broker
}

// OutputSettings groups the local store and live feed outputs.
type OutputSettings struct {
	SQLite SQLiteSettings
	MQTT   MQTTSettings
}

// SyncSettings configures the remote system of record.
type SyncSettings struct {
	Enabled        bool          // true to enable remote sync
	URL            string        // base URL of the backend, e.g. https://host:8000
	BatchSize      int           // max events submitted per upload
	Interval       time.Duration // base interval between sync attempts
	MaxInterval    time.Duration // backoff ceiling between failed attempts
	Timeout        time.Duration // per request timeout
	CredentialFile string        // path where the api key is persisted
}

// SupervisorSettings configures the health supervision machinery.
type SupervisorSettings struct {
	WakeLockDuration  time.Duration // wake assertion lease duration
	WakeLockRenewal   time.Duration // renewal cadence, must be below the lease duration
	WatchdogInterval  time.Duration // periodic job watchdog cadence
	AlarmInterval     time.Duration // independent timer watchdog cadence
	HeartbeatInterval time.Duration // heartbeat write cadence
	HeartbeatStale    time.Duration // heartbeat older than this means a dead pipeline
	HeartbeatFile     string        // path of the heartbeat timestamp file
	CrashMarkerFile   string        // path of the crash marker file
	RestartDelay      time.Duration // delay before a crash triggered restart
	StateFile         string        // persisted enabled/disabled service state
}

// PowerSettings configures adaptive rate control.
type PowerSettings struct {
	EvalInterval    time.Duration // cadence for re-evaluating the target rate
	DefaultRate     float64       // frames per second under normal conditions
	ReducedRate     float64       // rate under moderate battery or thermal pressure
	MinimumRate     float64       // floor rate under severe conditions
	LowBattery      float64       // battery fraction at or below which rate is capped
	CriticalBattery float64       // battery fraction at or below which rate is floored
}

// SentrySettings configures crash telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry crash reporting
	DSN     string // Sentry DSN
}

// Settings contains all configuration for the agent.
type Settings struct {
	Main       MainSettings
	Device     DeviceSettings
	Detector   DetectorSettings
	Tracker    TrackerSettings
	Engine     EngineSettings
	Snapshot   SnapshotSettings
	Identity   IdentitySettings
	Output     OutputSettings
	Sync       SyncSettings
	Supervisor SupervisorSettings
	Power      PowerSettings
	Sentry     SentrySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		settingsInstance = initSettings()
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initSettings loads settings, falling back to defaults on error. A bad or
// missing config file must not keep the agent from running; supervision
// depends on the process staying up.
func initSettings() *Settings {
	settings, err := Load()
	if err != nil {
		settings = &Settings{}
		setDefaultConfig()
		_ = viper.Unmarshal(settings)
	}
	return settings
}

// Load reads the configuration file and environment into a Settings struct.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with the config file and environment bindings.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file is fine, defaults and env apply.
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the config search paths in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "sentinel-agent"),
		"/etc/sentinel-agent",
	}, nil
}

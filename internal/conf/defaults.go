// defaults.go: default configuration values applied through viper.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values for all settings.
func setDefaultConfig() {
	// Main
	viper.SetDefault("main.name", "SentinelAgent")
	viper.SetDefault("main.debug", false)
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/sentinel.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10*1024*1024)

	// Device
	viper.SetDefault("device.idfile", "data/device_id")
	viper.SetDefault("device.name", "sentinel")
	viper.SetDefault("device.model", "unknown")
	viper.SetDefault("device.osversion", "unknown")

	// Detector
	viper.SetDefault("detector.modelpath", "models/detector")
	viper.SetDefault("detector.minconfidence", 0.5)
	viper.SetDefault("detector.faceframeinterval", 3)
	viper.SetDefault("detector.platetimeout", 3*time.Second)
	viper.SetDefault("detector.reinitinterval", 60*time.Second)
	viper.SetDefault("detector.faceconfidenceswap", 0.8)

	// Tracker
	viper.SetDefault("tracker.iouthreshold", 0.3)
	viper.SetDefault("tracker.maxframeslost", 15)

	// Engine
	viper.SetDefault("engine.loiterthreshold", 5*time.Minute)
	viper.SetDefault("engine.flushinterval", 5*time.Second)
	viper.SetDefault("engine.pruneinterval", 24*time.Hour)
	viper.SetDefault("engine.retentionperiod", 7*24*time.Hour)
	viper.SetDefault("engine.stateexpiry", 30*time.Minute)
	viper.SetDefault("engine.matchthreshold", 0.7)

	// Snapshot
	viper.SetDefault("snapshot.enabled", true)
	viper.SetDefault("snapshot.path", "data/snapshots")
	viper.SetDefault("snapshot.maxfiles", 500)

	// Identity
	viper.SetDefault("identity.embeddingsfile", "data/employees.json")
	viper.SetDefault("identity.refreshinterval", 1*time.Hour)

	// Output
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "data/events.db")
	viper.SetDefault("output.mqtt.enabled", false)
	viper.SetDefault("output.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("output.mqtt.topic", "sentinel")
	viper.SetDefault("output.mqtt.retain", false)

	// Sync
	viper.SetDefault("sync.enabled", true)
	viper.SetDefault("sync.url", "http://localhost:8000")
	viper.SetDefault("sync.batchsize", 100)
	viper.SetDefault("sync.interval", 30*time.Second)
	viper.SetDefault("sync.maxinterval", 10*time.Minute)
	viper.SetDefault("sync.timeout", 15*time.Second)
	viper.SetDefault("sync.credentialfile", "data/api_key")

	// Supervisor
	viper.SetDefault("supervisor.wakelockduration", 10*time.Hour)
	viper.SetDefault("supervisor.wakelockrenewal", 9*time.Hour)
	viper.SetDefault("supervisor.watchdoginterval", 15*time.Minute)
	viper.SetDefault("supervisor.alarminterval", 5*time.Minute)
	viper.SetDefault("supervisor.heartbeatinterval", 60*time.Second)
	viper.SetDefault("supervisor.heartbeatstale", 3*time.Minute)
	viper.SetDefault("supervisor.heartbeatfile", "data/heartbeat")
	viper.SetDefault("supervisor.crashmarkerfile", "data/crash_marker")
	viper.SetDefault("supervisor.restartdelay", 3*time.Second)
	viper.SetDefault("supervisor.statefile", "data/service_state")

	// Power
	viper.SetDefault("power.evalinterval", 10*time.Second)
	viper.SetDefault("power.defaultrate", 5.0)
	viper.SetDefault("power.reducedrate", 2.0)
	viper.SetDefault("power.minimumrate", 1.0)
	viper.SetDefault("power.lowbattery", 0.30)
	viper.SetDefault("power.criticalbattery", 0.15)

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}

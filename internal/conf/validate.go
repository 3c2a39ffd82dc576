// validate.go: validation of loaded settings.
package conf

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError holds all validation failures found in a Settings struct.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks a Settings struct for invalid values.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if settings.Tracker.IoUThreshold <= 0 || settings.Tracker.IoUThreshold >= 1 {
		ve.Errors = append(ve.Errors, "tracker.iouthreshold must be in (0, 1)")
	}
	if settings.Tracker.MaxFramesLost < 1 {
		ve.Errors = append(ve.Errors, "tracker.maxframeslost must be at least 1")
	}
	if settings.Engine.MatchThreshold <= 0 || settings.Engine.MatchThreshold > 1 {
		ve.Errors = append(ve.Errors, "engine.matchthreshold must be in (0, 1]")
	}
	if settings.Engine.FlushInterval <= 0 {
		ve.Errors = append(ve.Errors, "engine.flushinterval must be positive")
	}
	if settings.Engine.RetentionPeriod <= 0 {
		ve.Errors = append(ve.Errors, "engine.retentionperiod must be positive")
	}
	if settings.Snapshot.MaxFiles < 1 {
		ve.Errors = append(ve.Errors, "snapshot.maxfiles must be at least 1")
	}
	if settings.Sync.Enabled {
		if settings.Sync.URL == "" {
			ve.Errors = append(ve.Errors, "sync.url is required when sync is enabled")
		}
		if settings.Sync.BatchSize < 1 {
			ve.Errors = append(ve.Errors, "sync.batchsize must be at least 1")
		}
	}
	if settings.Supervisor.WakeLockRenewal >= settings.Supervisor.WakeLockDuration {
		ve.Errors = append(ve.Errors, "supervisor.wakelockrenewal must be below supervisor.wakelockduration")
	}
	if settings.Supervisor.HeartbeatStale <= settings.Supervisor.HeartbeatInterval {
		ve.Errors = append(ve.Errors, "supervisor.heartbeatstale must exceed supervisor.heartbeatinterval")
	}
	if settings.Power.MinimumRate <= 0 {
		ve.Errors = append(ve.Errors, "power.minimumrate must be positive")
	}
	if settings.Power.DefaultRate < settings.Power.MinimumRate {
		ve.Errors = append(ve.Errors, "power.defaultrate must not be below power.minimumrate")
	}
	if settings.Detector.FaceFrameInterval < 1 {
		ve.Errors = append(ve.Errors, "detector.faceframeinterval must be at least 1")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// IsValidationError reports whether err is a settings validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

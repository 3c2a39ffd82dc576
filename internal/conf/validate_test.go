package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Tracker.IoUThreshold = 0.3
	s.Tracker.MaxFramesLost = 15
	s.Engine.MatchThreshold = 0.7
	s.Engine.FlushInterval = 5 * time.Second
	s.Engine.RetentionPeriod = 168 * time.Hour
	s.Snapshot.MaxFiles = 500
	s.Sync.Enabled = true
	s.Sync.URL = "http://backend.test"
	s.Sync.BatchSize = 100
	s.Supervisor.WakeLockDuration = 10 * time.Hour
	s.Supervisor.WakeLockRenewal = 9 * time.Hour
	s.Supervisor.HeartbeatInterval = time.Minute
	s.Supervisor.HeartbeatStale = 3 * time.Minute
	s.Power.DefaultRate = 5
	s.Power.MinimumRate = 1
	s.Detector.FaceFrameInterval = 3
	return s
}

func TestValidateSettingsAcceptsValidConfig(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		message string
	}{
		{
			name:    "iou threshold zero",
			mutate:  func(s *Settings) { s.Tracker.IoUThreshold = 0 },
			message: "tracker.iouthreshold",
		},
		{
			name:    "iou threshold one",
			mutate:  func(s *Settings) { s.Tracker.IoUThreshold = 1 },
			message: "tracker.iouthreshold",
		},
		{
			name:    "frames lost below one",
			mutate:  func(s *Settings) { s.Tracker.MaxFramesLost = 0 },
			message: "tracker.maxframeslost",
		},
		{
			name:    "match threshold out of range",
			mutate:  func(s *Settings) { s.Engine.MatchThreshold = 1.5 },
			message: "engine.matchthreshold",
		},
		{
			name:    "flush interval zero",
			mutate:  func(s *Settings) { s.Engine.FlushInterval = 0 },
			message: "engine.flushinterval",
		},
		{
			name:    "snapshot cap zero",
			mutate:  func(s *Settings) { s.Snapshot.MaxFiles = 0 },
			message: "snapshot.maxfiles",
		},
		{
			name:    "sync enabled without url",
			mutate:  func(s *Settings) { s.Sync.URL = "" },
			message: "sync.url",
		},
		{
			name:    "sync batch size zero",
			mutate:  func(s *Settings) { s.Sync.BatchSize = 0 },
			message: "sync.batchsize",
		},
		{
			name:    "wake renewal not before expiry",
			mutate:  func(s *Settings) { s.Supervisor.WakeLockRenewal = 10 * time.Hour },
			message: "supervisor.wakelockrenewal",
		},
		{
			name:    "heartbeat staleness too tight",
			mutate:  func(s *Settings) { s.Supervisor.HeartbeatStale = 30 * time.Second },
			message: "supervisor.heartbeatstale",
		},
		{
			name:    "minimum rate zero",
			mutate:  func(s *Settings) { s.Power.MinimumRate = 0 },
			message: "power.minimumrate",
		},
		{
			name:    "default rate below minimum",
			mutate:  func(s *Settings) { s.Power.DefaultRate = 0.5 },
			message: "power.defaultrate",
		},
		{
			name:    "face frame interval zero",
			mutate:  func(s *Settings) { s.Detector.FaceFrameInterval = 0 },
			message: "detector.faceframeinterval",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateSettingsIgnoresSyncChecksWhenDisabled(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Sync.Enabled = false
	s.Sync.URL = ""
	s.Sync.BatchSize = 0

	assert.NoError(t, ValidateSettings(s))
}

func TestValidateSettingsCollectsAllFailures(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Tracker.IoUThreshold = 0
	s.Snapshot.MaxFiles = 0
	s.Power.MinimumRate = 0

	err := ValidateSettings(s)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

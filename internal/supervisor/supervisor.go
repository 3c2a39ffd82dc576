// Package supervisor keeps the pipeline alive across detector failures,
// process death, and OS resource reclamation. It owns restartable handles to
// the pipeline components; the components never call back into it.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
)

// PipelineHandle is the restartable contract the supervisor holds over the
// ingestion/tracking/event pipeline.
type PipelineHandle interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	Healthy(window time.Duration) bool
	EnsureDetector(ctx context.Context) error
}

// Supervisor runs the redundant watchdog, heartbeat, wake-assertion, and
// crash-recovery machinery on schedules uncoupled from the frame cadence.
type Supervisor struct {
	settings *conf.Settings
	pipeline PipelineHandle
	wakeLock WakeLock
	metrics  *observability.Metrics
	log      *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	// restartMu serializes restarts so the two watchdogs never tear down
	// and relaunch the pipeline concurrently.
	restartMu sync.Mutex
}

// New creates a supervisor over the given pipeline handle.
func New(settings *conf.Settings, pipeline PipelineHandle, wakeLock WakeLock,
	metrics *observability.Metrics) *Supervisor {
	return &Supervisor{
		settings: settings,
		pipeline: pipeline,
		wakeLock: wakeLock,
		metrics:  metrics,
		log:      logging.ForService("supervisor"),
	}
}

// Start acquires the wake assertion, starts the pipeline, and launches the
// supervision schedules. It also persists the enabled state so a boot-time
// hook can re-launch after process death.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if err := s.persistState(true); err != nil {
		s.log.Warn("could not persist service state", "error", err)
	}
	if err := s.wakeLock.Acquire(s.settings.Supervisor.WakeLockDuration); err != nil {
		// Running without the assertion beats not running at all.
		s.log.Warn("wake assertion acquire failed", "error", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeline.Start(s.ctx)

	schedules := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"wake-renewal", s.settings.Supervisor.WakeLockRenewal, s.renewWakeLock},
		{"heartbeat", s.settings.Supervisor.HeartbeatInterval, s.writeHeartbeat},
		{"watchdog-job", s.settings.Supervisor.WatchdogInterval, s.livenessWatchdog},
		{"watchdog-alarm", s.settings.Supervisor.AlarmInterval, s.heartbeatWatchdog},
		{"detector-reinit", s.settings.Detector.ReinitInterval, s.retryDetectorInit},
	}
	for _, sched := range schedules {
		s.wg.Add(1)
		go s.runSchedule(sched.name, sched.interval, sched.fn)
	}

	s.started = true
	s.log.Info("supervision started")
	return nil
}

// Stop is the user-initiated orderly shutdown: it disables both watchdogs,
// stops the pipeline, and releases the wake assertion. Only Stop disables
// supervision; everything else retries forever.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	if err := s.persistState(false); err != nil {
		s.log.Warn("could not persist service state", "error", err)
	}

	s.cancel()
	s.wg.Wait()
	s.pipeline.Stop()

	if err := s.wakeLock.Release(); err != nil {
		s.log.Warn("wake assertion release failed", "error", err)
	}

	s.started = false
	s.log.Info("supervision stopped")
}

func (s *Supervisor) runSchedule(name string, interval time.Duration, fn func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (s *Supervisor) renewWakeLock() {
	if err := s.wakeLock.Renew(s.settings.Supervisor.WakeLockDuration); err != nil {
		s.log.Error("wake assertion renewal failed", "error", err)
		return
	}
	s.log.Debug("wake assertion renewed")
}

// writeHeartbeat records the liveness timestamp, but only while the pipeline
// actually shows activity. A frozen pipeline must produce a stale heartbeat.
func (s *Supervisor) writeHeartbeat() {
	if !s.pipeline.Healthy(s.settings.Supervisor.HeartbeatStale) {
		return
	}
	path := s.settings.Supervisor.HeartbeatFile
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(path, []byte(ts), 0o644); err != nil {
		s.log.Error("heartbeat write failed", "error", err)
	}
}

// livenessWatchdog is the periodic scheduled job checking the in-process
// liveness flag.
func (s *Supervisor) livenessWatchdog() {
	if s.pipeline.Healthy(s.settings.Supervisor.HeartbeatStale) {
		return
	}
	s.log.Warn("liveness watchdog found dead pipeline, restarting")
	s.restartPipeline()
}

// heartbeatWatchdog is the independent timer checking the persisted
// heartbeat timestamp. It shares no state with the liveness watchdog except
// the heartbeat itself, so either can catch a failure of the other.
func (s *Supervisor) heartbeatWatchdog() {
	data, err := os.ReadFile(s.settings.Supervisor.HeartbeatFile)
	if err != nil {
		// No heartbeat yet; the liveness watchdog covers early startup.
		return
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return
	}
	if time.Since(time.Unix(sec, 0)) <= s.settings.Supervisor.HeartbeatStale {
		return
	}
	s.log.Warn("heartbeat watchdog found stale heartbeat, restarting")
	s.restartPipeline()
}

func (s *Supervisor) restartPipeline() {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	if s.metrics != nil {
		s.metrics.WatchdogRestarts.Inc()
	}
	s.pipeline.Stop()
	s.pipeline.Start(s.ctx)
}

func (s *Supervisor) retryDetectorInit() {
	if err := s.pipeline.EnsureDetector(s.ctx); err != nil {
		s.log.Debug("detector init retry failed", "error", err)
	}
}

// persistState records whether the service is enabled so the boot hook knows
// to re-launch.
func (s *Supervisor) persistState(enabled bool) error {
	path := s.settings.Supervisor.StateFile
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return os.WriteFile(path, []byte(state), 0o644)
}

// WasEnabled reports whether the service was enabled at last shutdown; the
// boot-time hook uses this to decide on re-launch.
func WasEnabled(settings *conf.Settings) bool {
	data, err := os.ReadFile(settings.Supervisor.StateFile)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "enabled"
}

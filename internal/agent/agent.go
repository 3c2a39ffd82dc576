// Package agent assembles and runs the full perception-to-event pipeline:
// datastore, identity registry, tracker, event engine, sync, live feed,
// adaptive rate control, and health supervision.
package agent

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/datastore"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/engine"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/events"
	"github.com/sentinel-vision/sentinel-agent/internal/identity"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/mqtt"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
	"github.com/sentinel-vision/sentinel-agent/internal/pipeline"
	"github.com/sentinel-vision/sentinel-agent/internal/power"
	"github.com/sentinel-vision/sentinel-agent/internal/snapshot"
	"github.com/sentinel-vision/sentinel-agent/internal/supervisor"
	syncmgr "github.com/sentinel-vision/sentinel-agent/internal/sync"
	"github.com/sentinel-vision/sentinel-agent/internal/telemetry"
	"github.com/sentinel-vision/sentinel-agent/internal/tracker"
)

// RunRealtime starts the agent and blocks until SIGINT/SIGTERM or ctx
// cancellation, then performs the orderly shutdown sequence.
func RunRealtime(settings *conf.Settings, det detection.Detector, plateReader detection.PlateReader, frameDir string) error {
	log := logging.ForService("agent")

	if supervisor.RecoverFromCrash(settings) {
		log.Warn("previous run ended in a crash")
	}
	if err := telemetry.Init(settings); err != nil {
		log.Warn("telemetry init failed", "error", err)
	}

	ds := datastore.New(settings)
	if ds == nil {
		return errors.Newf("no datastore enabled in configuration").
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := ds.Open(); err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	registry := identity.NewRegistry(settings.Engine.MatchThreshold)
	if err := registry.LoadFile(settings.Identity.EmbeddingsFile); err != nil {
		log.Warn("employee embeddings load failed", "error", err)
	}

	snapshots, err := snapshot.NewStore(settings.Snapshot.Path, settings.Snapshot.MaxFiles)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return errors.New(err).
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	}

	bus := events.NewBus(256)
	defer bus.Shutdown()

	syncManager, err := syncmgr.NewManager(settings, ds, registry, metrics)
	if err != nil {
		return err
	}

	if settings.Output.MQTT.Enabled {
		client := mqtt.NewClient(settings.Output.MQTT, "sentinel-"+syncManager.DeviceID())
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := client.Connect(connectCtx); err != nil {
			log.Warn("mqtt connect failed, live feed disabled until reconnect", "error", err)
		}
		cancel()
		defer client.Disconnect()
		if err := bus.Subscribe(mqtt.NewPublisher(client, settings.Output.MQTT.Topic)); err != nil {
			log.Warn("mqtt subscriber registration failed", "error", err)
		}
	}

	trk := tracker.New(settings)
	eng := engine.New(settings, ds, registry, snapshots, bus, trk, metrics)
	rate := power.NewController(settings, power.NewSystemProvider(), metrics)
	pipe := pipeline.New(settings, det, plateReader, trk, eng, rate, bus, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	go rate.Run(ctx)

	sup := supervisor.New(settings, pipe,
		supervisor.NewFileLease(dataPath(settings, "wake_lease")), metrics)
	if err := sup.Start(ctx); err != nil {
		return err
	}

	scheduler := syncmgr.NewScheduler(syncManager, settings)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		scheduler.Run(ctx)
	}()

	if settings.Identity.RefreshInterval > 0 {
		go refreshEmployeesLoop(ctx, settings, syncManager)
	}

	var spool *FrameSpool
	if frameDir != "" {
		spool = NewFrameSpool(frameDir, pipe)
		go spool.Run(ctx)
	}

	log.Info("agent running", "device_id", syncManager.DeviceID())
	<-ctx.Done()

	// Orderly shutdown: stop supervision and ingestion, flush the event
	// queue once synchronously, then let the scheduler's final sync drain
	// what it can before we release everything.
	log.Info("shutting down")
	sup.Stop()
	eng.Stop()
	<-syncDone
	telemetry.Flush(2 * time.Second)
	return nil
}

// refreshEmployeesLoop periodically refreshes the employee embedding table
// from the backend.
func refreshEmployeesLoop(ctx context.Context, settings *conf.Settings, m *syncmgr.Manager) {
	log := logging.ForService("agent")
	ticker := time.NewTicker(settings.Identity.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RefreshEmployees(ctx); err != nil {
				log.Debug("employee refresh failed", "error", err)
			}
		}
	}
}

// dataPath places a small state file next to the heartbeat file.
func dataPath(settings *conf.Settings, name string) string {
	return filepath.Join(filepath.Dir(settings.Supervisor.HeartbeatFile), name)
}

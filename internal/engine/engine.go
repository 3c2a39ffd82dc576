// Package engine derives discrete, deduplicated security events from track
// lifecycle transitions, resolves identity, captures snapshot evidence, and
// queues events for durable storage.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/datastore"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/events"
	"github.com/sentinel-vision/sentinel-agent/internal/identity"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
	"github.com/sentinel-vision/sentinel-agent/internal/snapshot"
	"github.com/sentinel-vision/sentinel-agent/internal/tracker"
)

// trackState is the engine's memory of a track between ticks.
type trackState struct {
	state          tracker.TrackState
	loiterReported bool
}

// Engine turns per-tick track sets into events. ProcessTick runs on the
// single processing goroutine; housekeeping (flush, prune) runs on its own
// goroutine so durable writes never block frame processing.
type Engine struct {
	settings  *conf.Settings
	ds        datastore.Interface
	registry  *identity.Registry
	snapshots *snapshot.Store
	bus       *events.Bus
	tracker   *tracker.Tracker
	metrics   *observability.Metrics
	log       *slog.Logger

	queueMu sync.Mutex
	queue   []events.Event

	// prevStates maps track id -> trackState. Entries are touched every
	// tick a track is seen; idle entries expire to bound memory.
	prevStates *gocache.Cache

	frameMu   sync.Mutex
	frameJPEG []byte

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates an event engine.
func New(settings *conf.Settings, ds datastore.Interface, registry *identity.Registry,
	snapshots *snapshot.Store, bus *events.Bus, trk *tracker.Tracker,
	metrics *observability.Metrics) *Engine {
	return &Engine{
		settings:   settings,
		ds:         ds,
		registry:   registry,
		snapshots:  snapshots,
		bus:        bus,
		tracker:    trk,
		metrics:    metrics,
		log:        logging.ForService("engine"),
		prevStates: gocache.New(settings.Engine.StateExpiry, settings.Engine.StateExpiry/2),
	}
}

// Start launches the housekeeping goroutine: queue flush on the configured
// cadence and a daily prune of old synced events. Both run on wall-clock
// schedules independent of frame cadence.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		flushTicker := time.NewTicker(e.settings.Engine.FlushInterval)
		pruneTicker := time.NewTicker(e.settings.Engine.PruneInterval)
		defer flushTicker.Stop()
		defer pruneTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-flushTicker.C:
				e.Flush()
			case <-pruneTicker.C:
				e.prune()
			}
		}
	}()
}

// Stop halts housekeeping and performs one final synchronous flush.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.Flush()
}

// SetFrame hands the engine the most recent whole-frame JPEG bytes for
// snapshot evidence. Called by the ingestion path once per processed frame.
func (e *Engine) SetFrame(frame *detection.Frame) {
	if frame == nil || len(frame.JPEG) == 0 {
		return
	}
	e.frameMu.Lock()
	e.frameJPEG = frame.JPEG
	e.frameMu.Unlock()
}

// ProcessTick evaluates all tracks against their previously recorded state
// and emits the resulting events. Nothing here may panic past the tick
// boundary; sub-step failures degrade to missing fields.
func (e *Engine) ProcessTick(active, exited []*tracker.Track, ts time.Time) {
	for _, tr := range active {
		prev, seen := e.previousState(tr.ID)

		if !seen && tr.State == tracker.StateNew {
			e.emitArrival(tr, ts)
		}

		loiterReported := seen && prev.loiterReported
		if tr.State == tracker.StateTracked && tr.Class == detection.ClassPerson &&
			!loiterReported && tr.Duration() > e.settings.Engine.LoiterThreshold {
			e.emitLoitering(tr, ts)
			loiterReported = true
		}

		e.prevStates.Set(stateKey(tr.ID), trackState{
			state:          tr.State,
			loiterReported: loiterReported,
		}, gocache.DefaultExpiration)
	}

	for _, tr := range exited {
		prev, seen := e.previousState(tr.ID)
		if !seen || prev.state != tracker.StateExited {
			e.emitDeparture(tr, ts)
		}
		// An exited track is reported exactly once, then forgotten.
		e.prevStates.Delete(stateKey(tr.ID))
	}
}

func (e *Engine) previousState(id uint64) (trackState, bool) {
	v, ok := e.prevStates.Get(stateKey(id))
	if !ok {
		return trackState{}, false
	}
	return v.(trackState), true
}

func stateKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// emitArrival derives the arrival event for a brand-new track.
func (e *Engine) emitArrival(tr *tracker.Track, ts time.Time) {
	ev := events.Event{
		Timestamp: ts,
		TrackID:   tr.ID,
		Metadata:  map[string]string{},
	}

	switch tr.Class {
	case detection.ClassPerson:
		switch {
		case len(tr.FaceEmbedding) > 0:
			if employeeID, score, ok := e.registry.Match(tr.FaceEmbedding); ok {
				ev.Kind = events.KindEmployeeArrived
				ev.EmployeeID = employeeID
				ev.Metadata["match_score"] = strconv.FormatFloat(score, 'f', 3, 64)
				e.tracker.AssignEmployee(tr.ID, employeeID)
			} else {
				ev.Kind = events.KindUnknownFaceDetected
			}
		default:
			ev.Kind = events.KindPersonEntered
		}
	case detection.ClassVehicle:
		ev.Kind = events.KindVehicleEntered
		ev.PlateText = tr.PlateText
		if tr.SubType != "" {
			ev.Metadata["vehicle_type"] = tr.SubType
		}
	}

	e.finalize(&ev)
}

// emitDeparture derives the departure event for a track that exited this tick.
func (e *Engine) emitDeparture(tr *tracker.Track, ts time.Time) {
	ev := events.Event{
		Timestamp: ts,
		TrackID:   tr.ID,
		Duration:  tr.Duration(),
		Metadata:  map[string]string{},
	}

	switch tr.Class {
	case detection.ClassPerson:
		if tr.EmployeeID != "" {
			ev.Kind = events.KindEmployeeDeparted
			ev.EmployeeID = tr.EmployeeID
		} else {
			ev.Kind = events.KindPersonExited
		}
	case detection.ClassVehicle:
		ev.Kind = events.KindVehicleExited
		ev.PlateText = tr.PlateText
	}

	e.finalize(&ev)
}

func (e *Engine) emitLoitering(tr *tracker.Track, ts time.Time) {
	ev := events.Event{
		Kind:       events.KindLoiteringDetected,
		Timestamp:  ts,
		TrackID:    tr.ID,
		Duration:   tr.Duration(),
		EmployeeID: tr.EmployeeID,
		Metadata:   map[string]string{},
	}
	e.finalize(&ev)
}

// finalize captures evidence when warranted, enqueues the event for durable
// storage, and fires the best-effort activity notification.
func (e *Engine) finalize(ev *events.Event) {
	if ev.Kind.HighPriority() && e.settings.Snapshot.Enabled && e.snapshots != nil {
		e.captureSnapshot(ev)
	}

	e.queueMu.Lock()
	e.queue = append(e.queue, *ev)
	e.queueMu.Unlock()

	if e.metrics != nil {
		e.metrics.EventsGenerated.WithLabelValues(ev.Kind.String()).Inc()
	}
	if e.bus != nil {
		e.bus.PublishEvent(ev)
	}

	e.log.Info("event", "kind", ev.Kind.String(), "track_id", ev.TrackID,
		"employee_id", ev.EmployeeID, "plate", ev.PlateText)
}

// captureSnapshot writes the most recent frame as evidence. Failure means the
// event simply carries no snapshot path.
func (e *Engine) captureSnapshot(ev *events.Event) {
	e.frameMu.Lock()
	jpeg := e.frameJPEG
	e.frameMu.Unlock()
	if len(jpeg) == 0 {
		return
	}

	path, err := e.snapshots.Save(jpeg, ev.Timestamp)
	if err != nil {
		e.log.Warn("snapshot capture failed", "kind", ev.Kind.String(), "error", err)
		return
	}
	ev.SnapshotPath = path
	if e.metrics != nil {
		e.metrics.SnapshotsWritten.Inc()
	}
}

// Flush drains the in-memory queue to the durable store. On failure the
// drained events are put back so nothing is lost before the next attempt.
func (e *Engine) Flush() {
	e.queueMu.Lock()
	pending := e.queue
	e.queue = nil
	e.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}

	records := make([]datastore.Event, 0, len(pending))
	for i := range pending {
		records = append(records, toRecord(&pending[i]))
	}

	if err := e.ds.Save(records); err != nil {
		e.log.Error("event flush failed, re-queuing", "count", len(pending), "error", err)
		e.queueMu.Lock()
		e.queue = append(pending, e.queue...)
		e.queueMu.Unlock()
		return
	}
	e.log.Debug("flushed events", "count", len(pending))
}

// QueueLen returns the number of events waiting to be flushed.
func (e *Engine) QueueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// TodayEventCount returns the number of events recorded since local midnight.
func (e *Engine) TodayEventCount() int64 {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := e.ds.CountSince(midnight)
	if err != nil {
		return 0
	}
	return count
}

// prune removes synced events past the retention period.
func (e *Engine) prune() {
	cutoff := time.Now().Add(-e.settings.Engine.RetentionPeriod)
	removed, err := e.ds.DeleteSyncedOlderThan(cutoff)
	if err != nil {
		e.log.Error("event prune failed", "error", err)
		return
	}
	if removed > 0 {
		e.log.Info("pruned old synced events", "count", removed)
	}
}

// toRecord converts a domain event to its durable form.
func toRecord(ev *events.Event) datastore.Event {
	meta := ""
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			meta = string(b)
		}
	}
	return datastore.Event{
		Type:         ev.Kind.String(),
		Timestamp:    ev.Timestamp.Unix(),
		TrackID:      ev.TrackID,
		EmployeeID:   ev.EmployeeID,
		LicensePlate: ev.PlateText,
		Duration:     int64(ev.Duration.Seconds()),
		Metadata:     meta,
		SnapshotPath: ev.SnapshotPath,
	}
}

// Package pipeline runs the frame ingestion loop: rate-limited, drop-latest
// frame intake, detection, tracking, and event derivation on one worker.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/engine"
	"github.com/sentinel-vision/sentinel-agent/internal/events"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/observability"
	"github.com/sentinel-vision/sentinel-agent/internal/power"
	"github.com/sentinel-vision/sentinel-agent/internal/tracker"
)

const statsInterval = 10 * time.Second

// Pipeline owns the single processing worker. Frames enter through Submit;
// a frame is dropped when the worker is busy or when it arrives before the
// adaptive minimum inter-frame interval has elapsed.
type Pipeline struct {
	settings    *conf.Settings
	detector    detection.Detector
	plateReader detection.PlateReader
	trk         *tracker.Tracker
	eng         *engine.Engine
	rate        *power.Controller
	bus         *events.Bus
	metrics     *observability.Metrics
	log         *slog.Logger

	frameCh      chan *detection.Frame
	lastAccepted atomic.Int64 // unix nanos of the last accepted frame
	lastLoop     atomic.Int64 // unix nanos of the last worker loop activity
	frameCounter atomic.Uint64

	pendingOCRMu sync.Mutex
	pendingOCR   map[uint64]bool

	windowMu       sync.Mutex
	windowFrames   int
	windowInferSum time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a pipeline. plateReader may be nil when plate OCR is not
// available on this device.
func New(settings *conf.Settings, det detection.Detector, plateReader detection.PlateReader,
	trk *tracker.Tracker, eng *engine.Engine, rate *power.Controller,
	bus *events.Bus, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		settings:    settings,
		detector:    det,
		plateReader: plateReader,
		trk:         trk,
		eng:         eng,
		rate:        rate,
		bus:         bus,
		metrics:     metrics,
		log:         logging.ForService("pipeline"),
		frameCh:     make(chan *detection.Frame, 1),
		pendingOCR:  make(map[uint64]bool),
	}
}

// Start launches the worker and stats goroutines. Detector init failure is
// tolerated; the supervisor retries it until it succeeds.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.EnsureDetector(ctx); err != nil {
		p.log.Warn("detector not ready at startup, will retry", "error", err)
	}

	p.lastLoop.Store(time.Now().UnixNano())
	p.wg.Add(2)
	go p.run(ctx)
	go p.statsLoop(ctx)
	p.log.Info("pipeline started")
}

// Stop cancels the worker and waits for it to finish.
func (p *Pipeline) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.log.Info("pipeline stopped")
}

// Running reports whether the pipeline has been started.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Healthy reports whether the worker loop has shown activity within the
// given window. Used by the supervisor's liveness checks.
func (p *Pipeline) Healthy(window time.Duration) bool {
	last := time.Unix(0, p.lastLoop.Load())
	return p.running.Load() && time.Since(last) < window
}

// EnsureDetector initializes the detector if it is not ready yet.
func (p *Pipeline) EnsureDetector(ctx context.Context) error {
	if p.detector.Ready() {
		return nil
	}
	return p.detector.Init(ctx)
}

// Submit offers a frame to the worker. It never blocks: the frame is dropped
// when the previous frame is still processing or when it arrives before the
// adaptive minimum interval has elapsed. Returns true if accepted.
func (p *Pipeline) Submit(frame *detection.Frame) bool {
	if !p.running.Load() || frame == nil {
		return false
	}

	minInterval := p.rate.MinInterval()
	last := time.Unix(0, p.lastAccepted.Load())
	if time.Since(last) < minInterval {
		p.drop()
		return false
	}

	select {
	case p.frameCh <- frame:
		p.lastAccepted.Store(time.Now().UnixNano())
		return true
	default:
		p.drop()
		return false
	}
}

func (p *Pipeline) drop() {
	if p.metrics != nil {
		p.metrics.FramesDropped.Inc()
	}
}

// run is the single processing worker.
func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	idle := time.NewTicker(5 * time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			// The loop being idle is not the loop being dead.
			p.lastLoop.Store(time.Now().UnixNano())
		case frame := <-p.frameCh:
			p.processFrame(ctx, frame)
			p.lastLoop.Store(time.Now().UnixNano())
		}
	}
}

// processFrame runs one tick. Panics from any sub-step are contained here so
// a bad frame can never take the worker down.
func (p *Pipeline) processFrame(ctx context.Context, frame *detection.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("tick panic contained", "panic", r)
		}
	}()

	n := p.frameCounter.Add(1)

	dets := p.detect(ctx, frame)

	// Face processing is throttled to every Nth frame; off-cycle frames keep
	// their detections but not the expensive embeddings.
	if interval := p.settings.Detector.FaceFrameInterval; interval > 1 && n%uint64(interval) != 0 {
		for i := range dets {
			dets[i].FaceEmbedding = nil
			dets[i].FaceConfidence = 0
		}
	}

	active, exited := p.trk.Update(dets, frame.Timestamp)

	p.eng.SetFrame(frame)
	p.dispatchPlateOCR(ctx, frame, active)
	p.eng.ProcessTick(active, exited, frame.Timestamp)

	if p.metrics != nil {
		p.metrics.FramesProcessed.Inc()
		p.metrics.ActiveTracks.Set(float64(len(active)))
	}
}

// detect calls the external detector. Failures, including a not-yet-ready
// detector, mean no detections this tick.
func (p *Pipeline) detect(ctx context.Context, frame *detection.Frame) []detection.RawDetection {
	if !p.detector.Ready() {
		return nil
	}

	start := time.Now()
	dets, err := p.detector.Detect(ctx, frame)
	elapsed := time.Since(start)

	p.windowMu.Lock()
	p.windowFrames++
	p.windowInferSum += elapsed
	p.windowMu.Unlock()
	if p.metrics != nil {
		p.metrics.InferenceTime.Observe(elapsed.Seconds())
	}

	if err != nil {
		p.log.Warn("detector failed this tick", "error", err)
		return nil
	}

	kept := dets[:0]
	for _, d := range dets {
		if d.Confidence >= p.settings.Detector.MinConfidence {
			kept = append(kept, d)
		}
	}
	return kept
}

// dispatchPlateOCR fires background OCR for vehicle tracks that have no
// plate yet. The result is applied to the track by its stable id, so a late
// result lands on the right record or is dropped if the track exited.
func (p *Pipeline) dispatchPlateOCR(ctx context.Context, frame *detection.Frame, active []*tracker.Track) {
	if p.plateReader == nil {
		return
	}

	for _, tr := range active {
		if tr.Class != detection.ClassVehicle || tr.PlateText != "" {
			continue
		}
		p.pendingOCRMu.Lock()
		if p.pendingOCR[tr.ID] {
			p.pendingOCRMu.Unlock()
			continue
		}
		p.pendingOCR[tr.ID] = true
		p.pendingOCRMu.Unlock()

		trackID := tr.ID
		region := tr.BBox
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("plate OCR panic contained", "track_id", trackID, "panic", r)
				}
				p.pendingOCRMu.Lock()
				delete(p.pendingOCR, trackID)
				p.pendingOCRMu.Unlock()
			}()

			ocrCtx, cancel := context.WithTimeout(ctx, p.settings.Detector.PlateTimeout)
			defer cancel()

			plate, err := p.plateReader.ReadPlate(ocrCtx, frame, region)
			if err != nil {
				p.log.Debug("plate OCR failed", "track_id", trackID, "error", err)
				return
			}
			if p.trk.ApplyPlate(trackID, plate) {
				p.log.Debug("plate applied", "track_id", trackID, "plate", plate)
			}
		}()
	}
}

// statsLoop publishes the periodic live stats payload.
func (p *Pipeline) statsLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStats()
		}
	}
}

func (p *Pipeline) publishStats() {
	p.windowMu.Lock()
	frames := p.windowFrames
	inferSum := p.windowInferSum
	p.windowFrames = 0
	p.windowInferSum = 0
	p.windowMu.Unlock()

	fps := float64(frames) / statsInterval.Seconds()
	inferMs := 0.0
	if frames > 0 {
		inferMs = float64(inferSum.Milliseconds()) / float64(frames)
	}

	stats := &events.Stats{
		FPS:             fps,
		ActiveCount:     p.trk.ActiveCount(),
		InferenceTimeMs: inferMs,
		TodayEventCount: p.eng.TodayEventCount(),
	}
	if p.metrics != nil {
		p.metrics.FPS.Set(fps)
	}
	if p.bus != nil {
		p.bus.PublishStats(stats)
	}
}

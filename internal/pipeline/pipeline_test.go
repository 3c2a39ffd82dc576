package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/datastore"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/engine"
	"github.com/sentinel-vision/sentinel-agent/internal/identity"
	"github.com/sentinel-vision/sentinel-agent/internal/power"
	"github.com/sentinel-vision/sentinel-agent/internal/tracker"
)

// scriptedDetector returns one scripted result per Detect call, then nothing.
type scriptedDetector struct {
	mu      sync.Mutex
	results [][]detection.RawDetection
	calls   atomic.Int64
	panicOn int64
	block   chan struct{}
}

func (d *scriptedDetector) Init(ctx context.Context) error { return nil }
func (d *scriptedDetector) Ready() bool                    { return true }

func (d *scriptedDetector) Detect(ctx context.Context, frame *detection.Frame) ([]detection.RawDetection, error) {
	n := d.calls.Add(1)
	if d.block != nil {
		<-d.block
	}
	if d.panicOn != 0 && n == d.panicOn {
		panic("scripted detector panic")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return nil, nil
	}
	out := d.results[0]
	d.results = d.results[1:]
	return out, nil
}

type fakePlateReader struct {
	plate  string
	called atomic.Bool
}

func (f *fakePlateReader) ReadPlate(ctx context.Context, frame *detection.Frame, region detection.BBox) (string, error) {
	f.called.Store(true)
	return f.plate, nil
}

// nopStore satisfies datastore.Interface for pipeline tests; the engine queue
// is inspected directly instead.
type recordStore struct {
	mu    sync.Mutex
	saved []datastore.Event
}

func (r *recordStore) Open() error  { return nil }
func (r *recordStore) Close() error { return nil }
func (r *recordStore) Save(events []datastore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, events...)
	return nil
}
func (r *recordStore) GetUnsynced(limit int) ([]datastore.Event, error)  { return nil, nil }
func (r *recordStore) MarkSynced(ids []uint) error                       { return nil }
func (r *recordStore) DeleteSyncedOlderThan(ts time.Time) (int64, error) { return 0, nil }
func (r *recordStore) GetRecent(limit int) ([]datastore.Event, error)    { return nil, nil }
func (r *recordStore) CountSince(ts time.Time) (int64, error)            { return 0, nil }

func (r *recordStore) records() []datastore.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datastore.Event, len(r.saved))
	copy(out, r.saved)
	return out
}

func pipelineSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Tracker.IoUThreshold = 0.3
	s.Tracker.MaxFramesLost = 15
	s.Detector.MinConfidence = 0.5
	s.Detector.FaceFrameInterval = 1
	s.Detector.PlateTimeout = time.Second
	s.Engine.StateExpiry = 30 * time.Minute
	s.Engine.LoiterThreshold = 5 * time.Minute
	s.Power.DefaultRate = 100000
	s.Power.ReducedRate = 2
	s.Power.MinimumRate = 1
	s.Power.LowBattery = 0.30
	s.Power.CriticalBattery = 0.15
	s.Power.EvalInterval = time.Hour
	return s
}

type pipelineFixture struct {
	p     *Pipeline
	trk   *tracker.Tracker
	eng   *engine.Engine
	store *recordStore
}

func newPipeline(t *testing.T, settings *conf.Settings, det detection.Detector,
	plateReader detection.PlateReader, registry *identity.Registry) *pipelineFixture {
	t.Helper()

	if registry == nil {
		registry = identity.NewRegistry(0.7)
	}
	store := &recordStore{}
	trk := tracker.New(settings)
	eng := engine.New(settings, store, registry, nil, nil, trk, nil)
	rate := power.NewController(settings, nil, nil)

	p := New(settings, det, plateReader, trk, eng, rate, nil, nil)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return &pipelineFixture{p: p, trk: trk, eng: eng, store: store}
}

func frameAt(ts time.Time) *detection.Frame {
	return &detection.Frame{JPEG: []byte("jpeg"), Timestamp: ts, Width: 640, Height: 480}
}

func personDet() detection.RawDetection {
	return detection.RawDetection{
		Class:      detection.ClassPerson,
		BBox:       detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50},
		Confidence: 0.9,
	}
}

// submitAndWait retries submission until the worker has accepted and
// processed one frame.
func submitAndWait(t *testing.T, f *pipelineFixture, frame *detection.Frame, wantQueue int) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.p.Submit(frame)
		return f.eng.QueueLen() >= wantQueue
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitRejectsWhenStopped(t *testing.T) {
	t.Parallel()

	settings := pipelineSettings()
	rate := power.NewController(settings, nil, nil)
	p := New(settings, &scriptedDetector{}, nil, tracker.New(settings),
		engine.New(settings, &recordStore{}, identity.NewRegistry(0.7), nil, nil, tracker.New(settings), nil),
		rate, nil, nil)

	assert.False(t, p.Submit(frameAt(time.Now())), "unstarted pipeline accepts nothing")
	assert.False(t, p.Submit(nil))
	assert.False(t, p.Running())
}

func TestSubmitEnforcesAdaptiveInterval(t *testing.T) {
	t.Parallel()

	settings := pipelineSettings()
	settings.Power.DefaultRate = 1 // one frame per second
	det := &scriptedDetector{}
	f := newPipeline(t, settings, det, nil, nil)

	require.True(t, f.p.Submit(frameAt(time.Now())))
	// The next frame arrives well inside the 1s minimum interval.
	assert.False(t, f.p.Submit(frameAt(time.Now())), "frames faster than the target rate are dropped")
}

func TestSubmitDropsLatestWhenBusy(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{block: make(chan struct{})}
	f := newPipeline(t, pipelineSettings(), det, nil, nil)
	defer close(det.block)

	// First frame: accepted and picked up by the worker, which then blocks
	// inside the detector.
	require.True(t, f.p.Submit(frameAt(time.Now())))
	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	// Second frame: accepted, parks in the buffer.
	time.Sleep(time.Millisecond)
	require.True(t, f.p.Submit(frameAt(time.Now())))

	// Third frame: buffer full, dropped. The newest frame loses.
	time.Sleep(time.Millisecond)
	assert.False(t, f.p.Submit(frameAt(time.Now())))
}

func TestProcessingEmitsEvents(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{results: [][]detection.RawDetection{{personDet()}}}
	f := newPipeline(t, pipelineSettings(), det, nil, nil)

	submitAndWait(t, f, frameAt(time.Now()), 1)
	f.eng.Flush()

	records := f.store.records()
	require.Len(t, records, 1)
	assert.Equal(t, "PERSON_ENTERED", records[0].Type)
}

func TestLowConfidenceDetectionsFiltered(t *testing.T) {
	t.Parallel()

	weak := personDet()
	weak.Confidence = 0.4
	det := &scriptedDetector{results: [][]detection.RawDetection{{weak}}}
	f := newPipeline(t, pipelineSettings(), det, nil, nil)

	f.p.Submit(frameAt(time.Now()))
	require.Eventually(t, func() bool { return det.calls.Load() >= 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, 0, f.trk.ActiveCount(), "below-threshold detections never reach the tracker")
}

func TestFaceThrottleStripsOffCycleEmbeddings(t *testing.T) {
	t.Parallel()

	settings := pipelineSettings()
	settings.Detector.FaceFrameInterval = 3

	registry := identity.NewRegistry(0.7)
	registry.Replace([]identity.EmployeeEmbedding{
		{EmployeeID: "emp-1", Embedding: []float32{1, 0}},
	})

	withFace := personDet()
	withFace.FaceEmbedding = []float32{1, 0}
	withFace.FaceConfidence = 0.9
	det := &scriptedDetector{results: [][]detection.RawDetection{{withFace}}}
	f := newPipeline(t, settings, det, nil, registry)

	// Frame 1 is off-cycle: the embedding is stripped before tracking, so
	// the arrival cannot resolve an identity.
	submitAndWait(t, f, frameAt(time.Now()), 1)
	f.eng.Flush()

	records := f.store.records()
	require.Len(t, records, 1)
	assert.Equal(t, "PERSON_ENTERED", records[0].Type)
	assert.Empty(t, records[0].EmployeeID)
}

func TestFaceKeptWithoutThrottle(t *testing.T) {
	t.Parallel()

	registry := identity.NewRegistry(0.7)
	registry.Replace([]identity.EmployeeEmbedding{
		{EmployeeID: "emp-1", Embedding: []float32{1, 0}},
	})

	withFace := personDet()
	withFace.FaceEmbedding = []float32{1, 0}
	withFace.FaceConfidence = 0.9
	det := &scriptedDetector{results: [][]detection.RawDetection{{withFace}}}
	f := newPipeline(t, pipelineSettings(), det, nil, registry)

	submitAndWait(t, f, frameAt(time.Now()), 1)
	f.eng.Flush()

	records := f.store.records()
	require.Len(t, records, 1)
	assert.Equal(t, "EMPLOYEE_ARRIVED", records[0].Type)
	assert.Equal(t, "emp-1", records[0].EmployeeID)
}

func TestWorkerSurvivesTickPanic(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{
		panicOn: 1,
		results: [][]detection.RawDetection{{personDet()}},
	}
	f := newPipeline(t, pipelineSettings(), det, nil, nil)

	// First frame panics inside the detector; the tick is contained.
	f.p.Submit(frameAt(time.Now()))
	require.Eventually(t, func() bool { return det.calls.Load() >= 1 }, 2*time.Second, time.Millisecond)

	// The worker still processes subsequent frames.
	submitAndWait(t, f, frameAt(time.Now()), 1)
	f.eng.Flush()
	assert.Len(t, f.store.records(), 1)
	assert.True(t, f.p.Healthy(time.Minute))
}

func TestPlateOCRAppliedByTrackID(t *testing.T) {
	t.Parallel()

	vehicle := detection.RawDetection{
		Class:      detection.ClassVehicle,
		BBox:       detection.BBox{Left: 0, Top: 0, Right: 80, Bottom: 60},
		Confidence: 0.9,
	}
	det := &scriptedDetector{results: [][]detection.RawDetection{{vehicle}}}
	reader := &fakePlateReader{plate: "ABC123"}
	f := newPipeline(t, pipelineSettings(), det, reader, nil)

	submitAndWait(t, f, frameAt(time.Now()), 1)
	require.Eventually(t, func() bool { return reader.called.Load() }, 2*time.Second, time.Millisecond)

	// Age the track out; its departure must carry the asynchronously
	// resolved plate.
	require.Eventually(t, func() bool {
		f.p.Submit(frameAt(time.Now()))
		return f.trk.ActiveCount() == 0
	}, 5*time.Second, time.Millisecond)

	f.eng.Flush()
	records := f.store.records()
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, "VEHICLE_EXITED", last.Type)
	assert.Equal(t, "ABC123", last.LicensePlate)
}

func TestHealthyLifecycle(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{}
	settings := pipelineSettings()
	trk := tracker.New(settings)
	eng := engine.New(settings, &recordStore{}, identity.NewRegistry(0.7), nil, nil, trk, nil)
	p := New(settings, det, nil, trk, eng, power.NewController(settings, nil, nil), nil, nil)

	assert.False(t, p.Healthy(time.Minute))

	p.Start(context.Background())
	assert.True(t, p.Running())
	assert.True(t, p.Healthy(time.Minute))

	// Starting twice is a no-op.
	p.Start(context.Background())

	p.Stop()
	assert.False(t, p.Running())
	assert.False(t, p.Healthy(time.Minute))
}

package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Tracker.IoUThreshold = 0.3
	s.Tracker.MaxFramesLost = 15
	s.Detector.FaceConfidenceSwap = 0.8
	return s
}

func personAt(box detection.BBox) detection.RawDetection {
	return detection.RawDetection{
		Class:      detection.ClassPerson,
		BBox:       box,
		Confidence: 0.9,
	}
}

func TestMatchUpdatesTrackInPlace(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()

	box := detection.BBox{Left: 0, Top: 0, Right: 100, Bottom: 100}
	active, exited := trk.Update([]detection.RawDetection{personAt(box)}, base)
	require.Len(t, active, 1)
	require.Empty(t, exited)
	id := active[0].ID
	assert.Equal(t, StateNew, active[0].State)

	// Shifted box with IoU 0.5 against the existing track: updates in
	// place, no new track.
	shifted := detection.BBox{Left: 0, Top: 0, Right: 100, Bottom: 200}
	require.InDelta(t, 0.5, detection.IoU(box, shifted), 1e-9)

	active, exited = trk.Update([]detection.RawDetection{personAt(shifted)}, base.Add(time.Second))
	require.Len(t, active, 1)
	require.Empty(t, exited)
	assert.Equal(t, id, active[0].ID, "matched detection must not spawn a new track")
	assert.Equal(t, StateTracked, active[0].State)
	assert.Equal(t, shifted, active[0].BBox)
	assert.Equal(t, 0, active[0].FramesLost)
}

func TestFramesLostIncrementAndExit(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	active, _ := trk.Update([]detection.RawDetection{personAt(box)}, base)
	require.Len(t, active, 1)
	id := active[0].ID

	// frames_lost goes up by exactly one per unmatched tick, track stays
	// Lost through the ceiling.
	for i := 1; i <= 15; i++ {
		active, exited := trk.Update(nil, base.Add(time.Duration(i)*time.Second))
		require.Empty(t, exited, "tick %d", i)
		require.Len(t, active, 1)
		assert.Equal(t, i, active[0].FramesLost)
		assert.Equal(t, StateLost, active[0].State)
	}

	// The 16th unmatched tick pushes frames_lost past the ceiling.
	active, exited := trk.Update(nil, base.Add(16*time.Second))
	assert.Empty(t, active)
	require.Len(t, exited, 1)
	assert.Equal(t, id, exited[0].ID)
	assert.Equal(t, StateExited, exited[0].State)
	assert.Equal(t, 16, exited[0].FramesLost)

	// Exited tracks are reported exactly once.
	active, exited = trk.Update(nil, base.Add(17*time.Second))
	assert.Empty(t, active)
	assert.Empty(t, exited)
	assert.Equal(t, 0, trk.ActiveCount())
}

func TestLostTrackRecovers(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	active, _ := trk.Update([]detection.RawDetection{personAt(box)}, base)
	id := active[0].ID

	for i := 1; i <= 14; i++ {
		var exited []*Track
		active, exited = trk.Update(nil, base.Add(time.Duration(i)*time.Second))
		require.Empty(t, exited)
	}
	require.Equal(t, 14, active[0].FramesLost)
	require.Equal(t, StateLost, active[0].State)

	// One matched tick fully recovers the track.
	active, exited := trk.Update([]detection.RawDetection{personAt(box)}, base.Add(15*time.Second))
	require.Empty(t, exited)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, 0, active[0].FramesLost)
	assert.Equal(t, StateTracked, active[0].State)
}

func TestUnmatchedDetectionSpawnsMonotonicIDs(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()

	a := detection.BBox{Left: 0, Top: 0, Right: 10, Bottom: 10}
	b := detection.BBox{Left: 100, Top: 100, Right: 110, Bottom: 110}

	active, _ := trk.Update([]detection.RawDetection{personAt(a), personAt(b)}, base)
	require.Len(t, active, 2)
	assert.Less(t, active[0].ID, active[1].ID)

	// Exit both, then spawn a third: ids are never reused.
	for i := 1; i <= 16; i++ {
		trk.Update(nil, base.Add(time.Duration(i)*time.Second))
	}
	active, _ = trk.Update([]detection.RawDetection{personAt(a)}, base.Add(20*time.Second))
	require.Len(t, active, 1)
	assert.Greater(t, active[0].ID, uint64(2))
}

func TestClassMismatchNeverMatches(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	trk.Update([]detection.RawDetection{personAt(box)}, base)

	vehicle := detection.RawDetection{Class: detection.ClassVehicle, BBox: box, Confidence: 0.9}
	active, _ := trk.Update([]detection.RawDetection{vehicle}, base.Add(time.Second))
	// Same box, different class: the vehicle spawns its own track.
	require.Len(t, active, 2)
	assert.NotEqual(t, active[0].Class, active[1].Class)
}

func TestTieBreakPrefersLowerTrackID(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	// Two same-class tracks on the same box.
	active, _ := trk.Update([]detection.RawDetection{personAt(box), personAt(box)}, base)
	require.Len(t, active, 2)
	low, high := active[0].ID, active[1].ID
	require.Less(t, low, high)

	// One detection with equal IoU against both: the lower id wins.
	active, _ = trk.Update([]detection.RawDetection{personAt(box)}, base.Add(time.Second))
	require.Len(t, active, 2)
	for _, tr := range active {
		switch tr.ID {
		case low:
			assert.Equal(t, 0, tr.FramesLost)
			assert.Equal(t, StateTracked, tr.State)
		case high:
			assert.Equal(t, 1, tr.FramesLost)
			assert.Equal(t, StateLost, tr.State)
		}
	}
}

func TestBelowThresholdSpawnsNewTrack(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()

	a := detection.BBox{Left: 0, Top: 0, Right: 10, Bottom: 10}
	trk.Update([]detection.RawDetection{personAt(a)}, base)

	// Slight overlap well below the 0.3 threshold.
	b := detection.BBox{Left: 9, Top: 9, Right: 19, Bottom: 19}
	require.Less(t, detection.IoU(a, b), 0.3)

	active, _ := trk.Update([]detection.RawDetection{personAt(b)}, base.Add(time.Second))
	assert.Len(t, active, 2)
}

func TestFaceEmbeddingAdoption(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	det := personAt(box)
	det.FaceEmbedding = []float32{1, 0}
	det.FaceConfidence = 0.5

	active, _ := trk.Update([]detection.RawDetection{det}, base)
	require.Len(t, active, 1)
	assert.Equal(t, []float32{1, 0}, active[0].FaceEmbedding)

	// Lower-confidence embedding does not replace the existing one.
	det.FaceEmbedding = []float32{0, 1}
	det.FaceConfidence = 0.6
	active, _ = trk.Update([]detection.RawDetection{det}, base.Add(time.Second))
	assert.Equal(t, []float32{1, 0}, active[0].FaceEmbedding)

	// Materially higher confidence does.
	det.FaceEmbedding = []float32{0, 1}
	det.FaceConfidence = 0.9
	active, _ = trk.Update([]detection.RawDetection{det}, base.Add(2*time.Second))
	assert.Equal(t, []float32{0, 1}, active[0].FaceEmbedding)
	assert.Equal(t, 0.9, active[0].FaceConfidence)
}

func TestApplyPlate(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	vehicle := detection.RawDetection{Class: detection.ClassVehicle, BBox: box, Confidence: 0.9}
	active, _ := trk.Update([]detection.RawDetection{vehicle}, base)
	id := active[0].ID

	assert.True(t, trk.ApplyPlate(id, "ABC123"))
	assert.Equal(t, "ABC123", active[0].PlateText)

	// A second result never overwrites the first.
	assert.False(t, trk.ApplyPlate(id, "XYZ789"))
	assert.Equal(t, "ABC123", active[0].PlateText)

	// Unknown or exited track ids are dropped.
	assert.False(t, trk.ApplyPlate(9999, "NOPE"))
	assert.False(t, trk.ApplyPlate(id, ""))
}

func TestAssignEmployee(t *testing.T) {
	t.Parallel()

	trk := New(testSettings())
	base := time.Now()
	box := detection.BBox{Left: 0, Top: 0, Right: 50, Bottom: 50}

	active, _ := trk.Update([]detection.RawDetection{personAt(box)}, base)
	id := active[0].ID

	assert.True(t, trk.AssignEmployee(id, "emp-1"))
	assert.Equal(t, "emp-1", active[0].EmployeeID)
	assert.False(t, trk.AssignEmployee(9999, "emp-2"))
}

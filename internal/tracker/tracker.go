// Package tracker maintains persistent object tracks across frames using
// greedy IoU association.
package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// TrackState is the lifecycle state of a track.
type TrackState int

const (
	StateNew TrackState = iota
	StateTracked
	StateLost
	StateExited
)

// String returns the state name for logging.
func (s TrackState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateTracked:
		return "tracked"
	case StateLost:
		return "lost"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Track is a persistent identity assigned to a detected object across frames.
// Tracks are owned by the Tracker; all mutation goes through its methods.
type Track struct {
	ID             uint64
	Class          detection.ObjectClass
	BBox           detection.BBox
	State          TrackState
	FirstSeen      time.Time
	LastSeen       time.Time
	FramesLost     int
	FaceEmbedding  []float32
	FaceConfidence float64
	EmployeeID     string
	PlateText      string
	SubType        string
}

// Duration returns how long the track has been observed.
func (t *Track) Duration() time.Duration {
	return t.LastSeen.Sub(t.FirstSeen)
}

// Tracker associates per-frame detections with persistent tracks. Update runs
// on the single processing goroutine; ApplyPlate and AssignEmployee may be
// called from other goroutines.
type Tracker struct {
	mu            sync.Mutex
	active        map[uint64]*Track
	nextID        uint64
	iouThreshold  float64
	maxFramesLost int
	faceSwapConf  float64
	log           *slog.Logger
}

// New creates a tracker from settings.
func New(settings *conf.Settings) *Tracker {
	return &Tracker{
		active:        make(map[uint64]*Track),
		nextID:        1,
		iouThreshold:  settings.Tracker.IoUThreshold,
		maxFramesLost: settings.Tracker.MaxFramesLost,
		faceSwapConf:  settings.Detector.FaceConfidenceSwap,
		log:           logging.ForService("tracker"),
	}
}

// Update matches one frame's detections against the active tracks. It returns
// the active set after matching plus the tracks that exited this tick, both
// ordered by ascending track id. Exited tracks are removed from the active
// set; returning them is their single report.
func (t *Tracker) Update(detections []detection.RawDetection, ts time.Time) (active, exited []*Track) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matched := make(map[uint64]bool, len(t.active))
	ordered := t.sortedActiveLocked()

	for i := range detections {
		det := &detections[i]
		best := t.bestMatchLocked(ordered, matched, det)
		if best != nil {
			matched[best.ID] = true
			t.updateMatchedLocked(best, det, ts)
			continue
		}
		nt := t.spawnLocked(det, ts)
		matched[nt.ID] = true
		ordered = append(ordered, nt)
	}

	// Age out everything that went unmatched this tick.
	for _, tr := range ordered {
		if matched[tr.ID] {
			continue
		}
		tr.FramesLost++
		if tr.FramesLost > t.maxFramesLost {
			tr.State = StateExited
			delete(t.active, tr.ID)
			exited = append(exited, tr)
			t.log.Debug("track exited", "track_id", tr.ID, "class", tr.Class.String(),
				"duration", tr.Duration().String())
		} else {
			tr.State = StateLost
		}
	}

	active = t.sortedActiveLocked()
	sort.Slice(exited, func(i, j int) bool { return exited[i].ID < exited[j].ID })
	return active, exited
}

// bestMatchLocked returns the unmatched same-class track with the highest IoU
// above the threshold. Ties go to the lower track id; tracks are iterated in
// ascending id order so behavior is reproducible.
func (t *Tracker) bestMatchLocked(ordered []*Track, matched map[uint64]bool, det *detection.RawDetection) *Track {
	var best *Track
	bestIoU := t.iouThreshold
	for _, tr := range ordered {
		if matched[tr.ID] || tr.Class != det.Class {
			continue
		}
		iou := detection.IoU(tr.BBox, det.BBox)
		if iou > bestIoU {
			bestIoU = iou
			best = tr
		}
	}
	return best
}

func (t *Tracker) updateMatchedLocked(tr *Track, det *detection.RawDetection, ts time.Time) {
	tr.BBox = det.BBox
	tr.LastSeen = ts
	tr.FramesLost = 0
	tr.State = StateTracked

	if len(det.FaceEmbedding) > 0 {
		if len(tr.FaceEmbedding) == 0 || det.FaceConfidence > t.faceSwapConf {
			tr.FaceEmbedding = det.FaceEmbedding
			tr.FaceConfidence = det.FaceConfidence
		}
	}
	if tr.PlateText == "" && det.PlateText != "" {
		tr.PlateText = det.PlateText
	}
	if tr.SubType == "" && det.SubType != "" {
		tr.SubType = det.SubType
	}
}

func (t *Tracker) spawnLocked(det *detection.RawDetection, ts time.Time) *Track {
	tr := &Track{
		ID:             t.nextID,
		Class:          det.Class,
		BBox:           det.BBox,
		State:          StateNew,
		FirstSeen:      ts,
		LastSeen:       ts,
		FaceEmbedding:  det.FaceEmbedding,
		FaceConfidence: det.FaceConfidence,
		PlateText:      det.PlateText,
		SubType:        det.SubType,
	}
	t.nextID++
	t.active[tr.ID] = tr
	t.log.Debug("new track", "track_id", tr.ID, "class", tr.Class.String())
	return tr
}

// ApplyPlate applies an asynchronous OCR result to a track by its stable id.
// The result is dropped if the track has exited or already carries a plate.
func (t *Tracker) ApplyPlate(trackID uint64, plate string) bool {
	if plate == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.active[trackID]
	if !ok || tr.PlateText != "" {
		return false
	}
	tr.PlateText = plate
	return true
}

// AssignEmployee records a resolved employee identity on an active track so
// the departure event can report it.
func (t *Tracker) AssignEmployee(trackID uint64, employeeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.active[trackID]
	if !ok {
		return false
	}
	tr.EmployeeID = employeeID
	return true
}

// ActiveCount returns the number of live tracks.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracker) sortedActiveLocked() []*Track {
	out := make([]*Track, 0, len(t.active))
	for _, tr := range t.active {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

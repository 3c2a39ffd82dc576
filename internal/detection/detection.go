// Package detection defines the frame and detection types exchanged between
// the external detector capability and the tracking pipeline.
package detection

import (
	"context"
	"time"
)

// ObjectClass is the closed set of object classes the pipeline tracks.
type ObjectClass int

const (
	ClassPerson ObjectClass = iota
	ClassVehicle
)

// String returns the class name for logging and wire use.
func (c ObjectClass) String() string {
	switch c {
	case ClassPerson:
		return "person"
	case ClassVehicle:
		return "vehicle"
	default:
		return "unknown"
	}
}

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// Width returns the box width, zero if degenerate.
func (b BBox) Width() float64 {
	if b.Right <= b.Left {
		return 0
	}
	return b.Right - b.Left
}

// Height returns the box height, zero if degenerate.
func (b BBox) Height() float64 {
	if b.Bottom <= b.Top {
		return 0
	}
	return b.Bottom - b.Top
}

// Area returns the box area, zero if degenerate.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// IoU computes intersection-over-union of two boxes. The result is in [0, 1]
// and zero when the boxes do not overlap.
func IoU(a, b BBox) float64 {
	interLeft := max(a.Left, b.Left)
	interTop := max(a.Top, b.Top)
	interRight := min(a.Right, b.Right)
	interBottom := min(a.Bottom, b.Bottom)

	if interRight <= interLeft || interBottom <= interTop {
		return 0
	}
	interArea := (interRight - interLeft) * (interBottom - interTop)
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// RawDetection is a single detector result for one frame. Ephemeral, never
// persisted.
type RawDetection struct {
	Class          ObjectClass
	BBox           BBox
	Confidence     float64   // detector confidence in [0, 1]
	FaceEmbedding  []float32 // optional face embedding, persons only
	FaceConfidence float64   // confidence of the face embedding
	PlateText      string    // optional plate text, vehicles only
	SubType        string    // optional vehicle sub-type, e.g. "truck"
}

// Frame carries one camera frame through the pipeline. JPEG holds the encoded
// frame bytes used for snapshot evidence.
type Frame struct {
	JPEG      []byte
	Timestamp time.Time
	Width     int
	Height    int
}

// Detector is the external detection capability. Implementations must be safe
// to call from the single processing goroutine. A Detect error means "no
// detections this tick" to the caller, never a pipeline failure.
type Detector interface {
	// Init prepares the detector. It may fail on cold start and is retried
	// by the supervisor until it succeeds.
	Init(ctx context.Context) error

	// Ready reports whether Init has completed successfully.
	Ready() bool

	// Detect returns the detections found in the frame.
	Detect(ctx context.Context, frame *Frame) ([]RawDetection, error)
}

// PlateReader performs license-plate OCR on a region of a frame. It is
// dispatched off the processing goroutine with its own timeout.
type PlateReader interface {
	ReadPlate(ctx context.Context, frame *Frame, region BBox) (string, error)
}

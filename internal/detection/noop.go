// noop.go: placeholder detector backend for devices without a compiled
// detector. It initializes immediately and never reports detections, which
// keeps the pipeline, supervision, and sync paths fully exercisable.
package detection

import (
	"context"
	"sync/atomic"
)

// NoopDetector implements Detector with no model behind it.
type NoopDetector struct {
	ready atomic.Bool
}

// NewNoopDetector returns an uninitialized no-op detector.
func NewNoopDetector() *NoopDetector {
	return &NoopDetector{}
}

// Init implements Detector.
func (d *NoopDetector) Init(ctx context.Context) error {
	d.ready.Store(true)
	return nil
}

// Ready implements Detector.
func (d *NoopDetector) Ready() bool {
	return d.ready.Load()
}

// Detect implements Detector.
func (d *NoopDetector) Detect(ctx context.Context, frame *Frame) ([]RawDetection, error) {
	return nil, nil
}

// source.go: spool-directory frame source. An external camera process drops
// encoded JPEG frames into the spool; the agent submits them to the pipeline
// and removes them. Backpressure and rate limiting happen in the pipeline.
package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/detection"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/pipeline"
)

const spoolPollInterval = 100 * time.Millisecond

// FrameSpool feeds frames from a directory into the pipeline.
type FrameSpool struct {
	dir  string
	pipe *pipeline.Pipeline
	log  *slog.Logger
}

// NewFrameSpool creates a spool source over dir.
func NewFrameSpool(dir string, pipe *pipeline.Pipeline) *FrameSpool {
	return &FrameSpool{
		dir:  dir,
		pipe: pipe,
		log:  logging.ForService("frame-spool"),
	}
}

// Run polls the spool until ctx is cancelled. Every frame file is removed
// after the submit attempt; dropped frames are gone, matching the
// keep-only-latest policy.
func (s *FrameSpool) Run(ctx context.Context) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Error("cannot create spool directory", "dir", s.dir, "error", err)
		return
	}
	ticker := time.NewTicker(spoolPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain()
		}
	}
}

// drain submits the newest spooled frame and discards the rest.
func (s *FrameSpool) drain() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("spool read failed", "error", err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	// Only the most recent frame matters; stale spool entries are dropped.
	newest := names[len(names)-1]
	for _, name := range names[:len(names)-1] {
		_ = os.Remove(filepath.Join(s.dir, name))
	}

	path := filepath.Join(s.dir, newest)
	jpeg, err := os.ReadFile(path)
	_ = os.Remove(path)
	if err != nil {
		s.log.Warn("frame read failed", "file", newest, "error", err)
		return
	}

	s.pipe.Submit(&detection.Frame{
		JPEG:      jpeg,
		Timestamp: time.Now(),
	})
}

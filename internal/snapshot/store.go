// Package snapshot stores JPEG evidence files in a bounded directory with
// oldest-first eviction.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// namePattern is the only accepted snapshot filename shape. Readers must
// validate against it before resolving, so a stored snapshot_path can never
// escape the snapshot directory.
var namePattern = regexp.MustCompile(`^event_\d+\.jpg$`)

// Store writes snapshot files under a single directory, never letting the
// file count exceed the configured cap.
type Store struct {
	mu       sync.Mutex
	dir      string
	maxFiles int
	log      *slog.Logger
}

// NewStore creates the snapshot directory if needed and returns a store.
func NewStore(dir string, maxFiles int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &Store{
		dir:      dir,
		maxFiles: maxFiles,
		log:      logging.ForService("snapshot"),
	}, nil
}

// Save writes jpeg bytes as a new snapshot named by the event timestamp and
// returns the file path. If the directory is at its cap the oldest snapshots
// are deleted first; eviction failure never blocks the triggering event
// beyond returning the error.
func (s *Store) Save(jpeg []byte, ts time.Time) (string, error) {
	if len(jpeg) == 0 {
		return "", errors.Newf("empty frame, nothing to save").
			Component("snapshot").
			Category(errors.CategorySnapshot).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.listLocked()
	if err != nil {
		return "", err
	}
	for len(names) >= s.maxFiles {
		oldest := names[0]
		if err := os.Remove(filepath.Join(s.dir, oldest)); err != nil {
			return "", errors.New(err).
				Component("snapshot").
				Category(errors.CategoryFileIO).
				Context("file", oldest).
				Build()
		}
		s.log.Debug("evicted oldest snapshot", "file", oldest)
		names = names[1:]
	}

	name := fmt.Sprintf("event_%d.jpg", ts.UnixMilli())
	path := filepath.Join(s.dir, name)
	// Two events in the same millisecond reference the same frame bytes;
	// bump the timestamp until the name is free.
	for i := 1; fileExists(path); i++ {
		name = fmt.Sprintf("event_%d.jpg", ts.UnixMilli()+int64(i))
		path = filepath.Join(s.dir, name)
	}

	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileIO).
			Context("file", name).
			Build()
	}
	return path, nil
}

// Resolve validates a snapshot filename and returns its absolute path,
// confirming the result stays inside the snapshot directory.
func (s *Store) Resolve(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", errors.Newf("invalid snapshot name: %q", name).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Build()
	}

	dirAbs, err := filepath.Abs(s.dir)
	if err != nil {
		return "", errors.New(err).Component("snapshot").Category(errors.CategoryFileIO).Build()
	}
	resolved := filepath.Clean(filepath.Join(dirAbs, name))
	if !strings.HasPrefix(resolved, dirAbs+string(filepath.Separator)) {
		return "", errors.Newf("snapshot path escapes directory: %q", name).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Build()
	}
	return resolved, nil
}

// Count returns the number of snapshot files currently stored.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.listLocked()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// listLocked returns valid snapshot names sorted oldest first by the
// timestamp encoded in the name.
func (s *Store) listLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileIO).
			Context("dir", s.dir).
			Build()
	}
	type snap struct {
		name string
		ts   int64
	}
	snaps := make([]snap, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !namePattern.MatchString(e.Name()) {
			continue
		}
		ts, err := nameTimestamp(e.Name())
		if err != nil {
			// Digit run outside int64 range: not a name this store ever
			// writes, so treat it like any other foreign file.
			continue
		}
		snaps = append(snaps, snap{e.Name(), ts})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ts < snaps[j].ts })
	names := make([]string, len(snaps))
	for i, sn := range snaps {
		names[i] = sn.name
	}
	return names, nil
}

func nameTimestamp(name string) (int64, error) {
	ts := strings.TrimSuffix(strings.TrimPrefix(name, "event_"), ".jpg")
	return strconv.ParseInt(ts, 10, 64)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// wakelock.go: exclusive wake assertion held while the pipeline runs.
package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/errors"
)

// WakeLock is an OS-level guarantee that the device will not suspend the
// processing thread. Leases are bounded; the supervisor renews before expiry.
type WakeLock interface {
	// Acquire takes the assertion for the given duration.
	Acquire(d time.Duration) error
	// Renew extends the assertion before it expires.
	Renew(d time.Duration) error
	// Release drops the assertion.
	Release() error
}

// FileLease is a lease-file wake lock: the file holds the lease expiry as a
// unix timestamp, visible to platform tooling that honors it. On platforms
// with a native wake API an alternative WakeLock implementation plugs in
// here.
type FileLease struct {
	path string
}

// NewFileLease creates a wake lock persisted at path.
func NewFileLease(path string) *FileLease {
	return &FileLease{path: path}
}

// Acquire implements WakeLock.
func (f *FileLease) Acquire(d time.Duration) error {
	return f.write(d)
}

// Renew implements WakeLock.
func (f *FileLease) Renew(d time.Duration) error {
	return f.write(d)
}

// Release implements WakeLock.
func (f *FileLease) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("supervisor").
			Category(errors.CategoryFileIO).
			Context("file", f.path).
			Build()
	}
	return nil
}

func (f *FileLease) write(d time.Duration) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("supervisor").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}
	expiry := strconv.FormatInt(time.Now().Add(d).Unix(), 10)
	if err := os.WriteFile(f.path, []byte(expiry), 0o644); err != nil {
		return errors.New(err).
			Component("supervisor").
			Category(errors.CategoryFileIO).
			Context("file", f.path).
			Build()
	}
	return nil
}

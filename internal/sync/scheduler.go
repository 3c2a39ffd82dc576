// scheduler.go: sync scheduling with exponential backoff.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// Scheduler drives periodic sync attempts. Successful attempts run on the
// base interval; failures back off exponentially up to the configured
// ceiling, resetting on the next success.
type Scheduler struct {
	manager  *Manager
	settings *conf.Settings
	log      *slog.Logger
}

// NewScheduler creates a scheduler for the given manager.
func NewScheduler(manager *Manager, settings *conf.Settings) *Scheduler {
	return &Scheduler{
		manager:  manager,
		settings: settings,
		log:      logging.ForService("sync-scheduler"),
	}
}

// Run blocks until ctx is cancelled, issuing sync attempts. On cancellation
// one final immediate attempt is made so an orderly shutdown drains what it
// can.
func (s *Scheduler) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.settings.Sync.Interval
	bo.MaxInterval = s.settings.Sync.MaxInterval
	bo.MaxElapsedTime = 0 // retry for the lifetime of the service
	bo.Reset()

	wait := s.settings.Sync.Interval
	for {
		select {
		case <-ctx.Done():
			s.finalSync()
			return
		case <-time.After(wait):
		}

		if err := s.manager.Sync(ctx); err != nil {
			wait = bo.NextBackOff()
			s.log.Warn("sync failed, backing off", "retry_in", wait.String(), "error", err)
			continue
		}
		bo.Reset()
		wait = s.settings.Sync.Interval
	}
}

// finalSync performs the best-effort immediate sync required at shutdown.
func (s *Scheduler) finalSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Sync.Timeout)
	defer cancel()
	if err := s.manager.Sync(ctx); err != nil {
		s.log.Warn("final sync attempt failed", "error", err)
	}
}

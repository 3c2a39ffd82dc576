// Package telemetry initializes Sentry crash reporting and bridges the
// errors package reporting hook to it.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

var enabled bool

// Init configures Sentry when enabled and installs the error reporting hook.
func Init(settings *conf.Settings) error {
	if !settings.Sentry.Enabled || settings.Sentry.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		AttachStacktrace: true,
		Release:          settings.Main.Name,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	enabled = true
	errors.SetReporter(reportError)
	logging.Info("telemetry initialized")
	return nil
}

// CapturePanic reports a panic value before the crash hook re-raises it.
func CapturePanic(r any) {
	if !enabled {
		return
	}
	sentry.CurrentHub().Recover(r)
	sentry.Flush(2 * time.Second)
}

// Flush drains pending telemetry, used at orderly shutdown.
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}

// reportError forwards enhanced errors to Sentry with their metadata.
func reportError(ee *errors.EnhancedError) {
	if !enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		for k, v := range ee.GetContext() {
			scope.SetExtra(k, fmt.Sprintf("%v", v))
		}
		sentry.CaptureException(ee.Err)
	})
}

// crash.go: crash marker persistence and recovery scheduling.
package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/telemetry"
)

// CrashGuard is the process-wide uncaught-panic hook. Install it with defer
// at the top of the main goroutine: it persists a crash marker, reports the
// panic, sleeps the restart delay so the service manager relaunch lands
// after a short cooldown, and re-raises so default crash handling still runs.
func CrashGuard(settings *conf.Settings) {
	r := recover()
	if r == nil {
		return
	}

	log := logging.ForService("supervisor")
	log.Error("uncaught panic, persisting crash marker", "panic", r)

	writeCrashMarker(settings.Supervisor.CrashMarkerFile)
	telemetry.CapturePanic(r)

	time.Sleep(settings.Supervisor.RestartDelay)
	panic(r)
}

// RecoverFromCrash checks for a crash marker at startup, logging and
// clearing it. Returns true if the previous run crashed.
func RecoverFromCrash(settings *conf.Settings) bool {
	path := settings.Supervisor.CrashMarkerFile
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	_ = os.Remove(path)

	log := logging.ForService("supervisor")
	if sec, perr := strconv.ParseInt(string(data), 10, 64); perr == nil {
		log.Warn("recovering from crash", "crashed_at", time.Unix(sec, 0).Format(time.RFC3339))
	} else {
		log.Warn("recovering from crash")
	}
	return true
}

func writeCrashMarker(path string) {
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	_ = os.WriteFile(path, []byte(ts), 0o644)
}

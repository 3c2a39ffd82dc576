package main

import (
	"os"

	"github.com/sentinel-vision/sentinel-agent/cmd"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
	"github.com/sentinel-vision/sentinel-agent/internal/supervisor"
)

func main() {
	settings := conf.Setting()

	logging.Init(settings.Main.Debug)

	// Uncaught-panic hook: persists a crash marker, reports, and re-raises.
	defer supervisor.CrashGuard(settings)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}

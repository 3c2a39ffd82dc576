// Package realtime implements the command running the live pipeline.
package realtime

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinel-vision/sentinel-agent/internal/agent"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/detection"
)

// Command creates the realtime command.
func Command(settings *conf.Settings) *cobra.Command {
	var frameDir string

	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run the perception pipeline in realtime mode",
		Long:  "Start processing camera frames in real time, deriving and syncing security events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The detector backend is supplied by the platform build; this
			// build ships the no-op backend.
			det := detection.NewNoopDetector()
			return agent.RunRealtime(settings, det, nil, frameDir)
		},
	}

	if err := setupFlags(cmd, settings, &frameDir); err != nil {
		return cmd
	}
	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, frameDir *string) error {
	cmd.Flags().StringVar(frameDir, "framedir", "data/frames", "Spool directory where the camera process drops JPEG frames")
	cmd.Flags().StringVar(&settings.Snapshot.Path, "snapshotpath",
		viper.GetString("snapshot.path"), "Path to save snapshot evidence to")
	cmd.Flags().StringVar(&settings.Sync.URL, "backend",
		viper.GetString("sync.url"), "Base URL of the backend")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Package cmd builds the sentinel-agent command tree.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinel-vision/sentinel-agent/cmd/realtime"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinel-agent",
		Short: "Sentinel on-device security agent",
		Long:  "Continuous perception-to-event pipeline: tracks people and vehicles, derives security events, and syncs them to the backend.",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(realtime.Command(settings))

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d",
		viper.GetBool("main.debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Device.Name, "devicename",
		viper.GetString("device.name"), "Device name reported at registration")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

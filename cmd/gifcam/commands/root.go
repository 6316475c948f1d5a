package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "gifcam",
		Short: "gifcam - turn a live camera feed into an animated GIF",
		Long: `gifcam polls a public camera's still-image endpoint, buffers sampled
frames in memory, and assembles a curated selection of them into an
animated GIF.

Features:
  • Poll any still-image camera endpoint on a fixed cadence
  • Bounded frame buffer with automatic capture stop at the cap
  • Per-frame selection for curating the GIF
  • ffmpeg or pure-Go GIF assembly with live progress
  • MJPEG live view of the camera feed
  • REST + WebSocket API for integration
  • Persistent configuration`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gifcam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("camera-url", "", "camera still-image endpoint to poll")
	rootCmd.PersistentFlags().Int("interval", 0, "poll interval in seconds (1-30)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("camera_url", rootCmd.PersistentFlags().Lookup("camera-url"))
	viper.BindPFlag("poll_interval", rootCmd.PersistentFlags().Lookup("interval"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

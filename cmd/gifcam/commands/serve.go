package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awalling/gifcam/internal/api"
	"github.com/awalling/gifcam/internal/capture"
	"github.com/awalling/gifcam/internal/config"
	"github.com/awalling/gifcam/internal/encoder"
	"github.com/awalling/gifcam/internal/frames"
	"github.com/awalling/gifcam/internal/logger"
	"github.com/awalling/gifcam/internal/output"
	"github.com/awalling/gifcam/internal/session"
	"github.com/awalling/gifcam/internal/share"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gifcam server",
	Long: `Start the gifcam HTTP server with camera polling.

The server provides a REST API, a WebSocket state stream and an MJPEG live
view for the configured camera feed.`,
	Example: `  # Start against a camera endpoint
  gifcam serve --camera-url https://example.org/cam/still.jpg

  # Poll every 10 seconds on a custom port
  gifcam serve --camera-url https://example.org/cam/still.jpg --interval 10 --port 9090

  # Start with debug logging
  gifcam serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flag overrides
	if viper.IsSet("server_port") && viper.GetInt("server_port") > 0 {
		cfgMgr.SetPort(viper.GetInt("server_port"))
	}
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfgMgr.SetLogLevel(viper.GetString("log_level"))
	}
	if viper.IsSet("camera_url") && viper.GetString("camera_url") != "" {
		cfgMgr.SetCameraURL(viper.GetString("camera_url"))
	}
	if viper.IsSet("poll_interval") && viper.GetInt("poll_interval") > 0 {
		cfgMgr.SetPollInterval(viper.GetInt("poll_interval"))
	}

	cfg := cfgMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("config", cfgMgr.GetConfigPath()).Msg("Configuration loaded")

	if cfg.Camera.StillURL == "" {
		return fmt.Errorf("no camera endpoint configured (set camera.still_url or pass --camera-url)")
	}

	// Frame store and session manager
	store := frames.NewStore(cfg.Capture.MaxFrames)
	engine, err := encoder.NewEngine(cfg.GIF.Engine)
	if err != nil {
		return fmt.Errorf("failed to select encoding engine: %w", err)
	}
	sessions := session.NewManager(store, engine, cfgMgr)
	defer sessions.Close()

	// Live view relay
	relay := output.NewMJPEGRelay()
	if err := relay.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG relay: %w", err)
	}
	defer relay.Stop()

	// Poller feeds the relay and, through the controller, the frame store
	controller := capture.NewController(sessions)
	poller := capture.NewPoller(
		capture.PollerConfig{
			StillURL:  cfg.Camera.StillURL,
			ProxyBase: cfg.Camera.ProxyBase,
			Interval:  time.Duration(cfg.Camera.PollIntervalSeconds) * time.Second,
		},
		func(ev capture.Event) {
			sessions.ClearFeedError()
			relay.WriteJPEG(ev.Data)
			controller.HandleFrame(ev)
		},
		func(err error) {
			sessions.SetFeedError(err)
		},
	)
	if err := poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	defer poller.Stop()

	// Disk save strategy, when the output directory is usable
	var diskSaver share.Saver
	if saver, err := share.ForCapabilities(share.DetectCapabilities(cfg.GIF.OutputDir), cfg.GIF.OutputDir); err == nil {
		diskSaver = saver
	} else {
		log.Warn().Err(err).Msg("Disk save disabled")
	}

	server := api.NewServer(sessions, store, cfgMgr, relay, diskSaver)

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().
		Int("port", cfg.ServerPort).
		Str("camera", cfg.Camera.StillURL).
		Int("interval_s", cfg.Camera.PollIntervalSeconds).
		Msg("gifcam is running, press Ctrl+C to stop")

	<-sigChan

	log.Info().Msg("Shutting down gracefully...")
	return nil
}

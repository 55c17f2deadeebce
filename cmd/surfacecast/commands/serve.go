package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/surfacecast/surfacecast/internal/api"
	"github.com/surfacecast/surfacecast/internal/config"
	"github.com/surfacecast/surfacecast/internal/logger"
	"github.com/surfacecast/surfacecast/internal/streamer"
	"github.com/surfacecast/surfacecast/internal/surface"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the surfacecast server",
	Long: `Start the surfacecast HTTP server.

The server exposes the stream control and status API and the surface upload
endpoint that editors push pixel data to. Streaming starts on demand via
POST /api/stream/start.`,
	Example: `  # Start server on default port (8080)
  surfacecast serve

  # Start server on custom port
  surfacecast serve --port 9090

  # Start with debug logging
  surfacecast serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// setup loads the configuration, applies flag overrides, initializes logging
// and creates the configured surface, its streamer and the API server.
func setup() (*config.Config, *streamer.Streamer, *api.Server, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	registry := surface.NewRegistry()
	if _, err := registry.Create(cfg.SurfaceName, cfg.SurfaceWidth, cfg.SurfaceHeight); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create surface: %w", err)
	}
	log.Info().
		Str("surface", cfg.SurfaceName).
		Int("width", cfg.SurfaceWidth).
		Int("height", cfg.SurfaceHeight).
		Msg("Surface created")

	str := newStreamer(cfg, registry)
	server := api.NewServer(registry, str)
	return cfg, str, server, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, server, err := setup()
	if err != nil {
		return err
	}

	log := logger.WithComponent("serve")

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("output", cfg.OutputURL).
		Msg("surfacecast is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	return nil
}

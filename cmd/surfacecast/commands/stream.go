package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/surfacecast/surfacecast/internal/config"
	"github.com/surfacecast/surfacecast/internal/logger"
	"github.com/surfacecast/surfacecast/internal/overlay"
	"github.com/surfacecast/surfacecast/internal/streamer"
	"github.com/surfacecast/surfacecast/internal/surface"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start streaming immediately",
	Long: `Start the HTTP server and begin streaming the configured surface
right away, without waiting for a start request. Editors push pixel updates
through the surface upload endpoint while the stream runs.`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

// newStreamer builds a streamer from the configuration.
func newStreamer(cfg *config.Config, registry *surface.Registry) *streamer.Streamer {
	var caption *overlay.Caption
	if cfg.Overlay.Enabled {
		text := cfg.Overlay.Text
		if text == "" {
			text = cfg.SurfaceName
		}
		caption = overlay.New(text)
	}

	return streamer.New(registry, streamer.Options{
		SurfaceName: cfg.SurfaceName,
		FPS:         cfg.FPS,
		OutputURL:   cfg.OutputURL,
		FFmpegPath:  cfg.FFmpegPath,
		BottomUp:    cfg.BottomUp,
		Caption:     caption,
	})
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, str, server, err := setup()
	if err != nil {
		return err
	}

	log := logger.WithComponent("stream")

	if err := str.Start(); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer str.Stop()

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	log.Info().
		Str("output", cfg.OutputURL).
		Int("fps", cfg.FPS).
		Msg("Streaming, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	return nil
}

// Package encoder owns the external ffmpeg subprocess that turns the raw
// RGBA frame feed into a low-latency H.264 MPEG-TS stream.
package encoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/surfacecast/surfacecast/internal/logger"
)

const gracefulStopTimeout = 3 * time.Second

var (
	// ErrConfig indicates invalid encoder configuration (bad dimensions or rate)
	ErrConfig = errors.New("invalid encoder configuration")
	// ErrToolUnavailable indicates the ffmpeg binary could not be located
	ErrToolUnavailable = errors.New("ffmpeg not found")
	// ErrSpawn indicates the encoder process failed to start
	ErrSpawn = errors.New("failed to start ffmpeg")
	// ErrProcessExited indicates the encoder process is no longer running
	ErrProcessExited = errors.New("ffmpeg process exited")
)

// Config describes one encoder session.
type Config struct {
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
	OutputURL  string
}

// Bridge wraps a running ffmpeg process fed raw RGBA frames on stdin.
// One Bridge serves exactly one streaming session; a new session opens a new
// Bridge.
type Bridge struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	alive atomic.Bool
	done  chan struct{}

	closeOnce sync.Once
}

// Open validates the configuration, locates the encoder binary and spawns it
// configured for raw RGBA input at the given size and rate, single-pass
// low-latency H.264, one keyframe per second of video and continuous re-emission
// of MPEG-TS headers so a late-joining viewer can synchronize mid-stream.
// On success the input sink is open and ready for writes.
func Open(cfg Config) (*Bridge, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrConfig, cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: fps %d", ErrConfig, cfg.FPS)
	}
	if cfg.OutputURL == "" {
		return nil, fmt.Errorf("%w: empty output url", ErrConfig)
	}

	path, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, cfg.FFmpegPath)
	}

	return open(path, buildArgs(cfg))
}

// buildArgs assembles the ffmpeg command line: raw RGBA in at a fixed size and
// rate, libx264 tuned for minimal buffering, GOP of one second, MPEG-TS out
// with resent headers.
func buildArgs(cfg Config) []string {
	fps := strconv.Itoa(cfg.FPS)
	return []string{
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fps,
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", fps,
		"-keyint_min", fps,
		"-sc_threshold", "0",
		"-f", "mpegts",
		"-mpegts_flags", "+resend_headers",
		cfg.OutputURL,
	}
}

func open(path string, args []string) (*Bridge, error) {
	log := logger.WithComponent("encoder")

	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	b := &Bridge{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}
	b.alive.Store(true)

	go logStderr(stderr)

	// Reap the process and flip the liveness flag as soon as it exits.
	go func() {
		err := cmd.Wait()
		b.alive.Store(false)
		close(b.done)
		if err != nil {
			log.Warn().Err(err).Msg("ffmpeg exited")
		} else {
			log.Debug().Msg("ffmpeg exited cleanly")
		}
	}()

	log.Info().
		Int("pid", cmd.Process.Pid).
		Str("args", strings.Join(args, " ")).
		Msg("ffmpeg started")

	return b, nil
}

// Write sends one frame to the encoder's input in a single logical operation.
// It fails with ErrProcessExited before touching the pipe when the process has
// already died. The write may block while the encoder's input buffer is full;
// this backpressure is the only throttle between frame production and encoding.
func (b *Bridge) Write(frame []byte) error {
	if !b.alive.Load() {
		return ErrProcessExited
	}

	n, err := b.stdin.Write(frame)
	if err != nil {
		return fmt.Errorf("frame write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("short frame write: %d of %d bytes", n, len(frame))
	}
	return nil
}

// IsAlive reports whether the encoder process is still running. Non-blocking.
func (b *Bridge) IsAlive() bool {
	return b.alive.Load()
}

// Done is closed when the encoder process has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close signals end-of-stream by closing the input sink, requests graceful
// termination and reaps the process, force-killing after a grace period.
// Idempotent, and never fails observably: teardown runs on error-recovery
// paths where there is nothing left to do about a failure.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		log := logger.WithComponent("encoder")

		if err := b.stdin.Close(); err != nil {
			log.Debug().Err(err).Msg("stdin close failed")
		}

		if b.cmd.Process != nil {
			if err := b.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				log.Debug().Err(err).Msg("SIGTERM failed")
			}
		}

		select {
		case <-b.done:
		case <-time.After(gracefulStopTimeout):
			log.Warn().Msg("ffmpeg did not stop gracefully, killing")
			if b.cmd.Process != nil {
				if err := b.cmd.Process.Kill(); err != nil {
					log.Debug().Err(err).Msg("kill failed")
				}
			}
			<-b.done
		}

		log.Info().Msg("encoder stopped")
	})
}

// logStderr forwards ffmpeg's stderr line by line at a level parsed from the
// ffmpeg log prefix.
func logStderr(r io.Reader) {
	log := logger.WithComponent("ffmpeg")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch parseLevel(line) {
		case "fatal", "error":
			log.Error().Msg(line)
		case "warning":
			log.Warn().Msg(line)
		default:
			log.Debug().Msg(line)
		}
	}
}

// parseLevel extracts the log level from ffmpeg output like
// "[libx264 @ 0x...] [warning] ..." or "[error] ...".
func parseLevel(line string) string {
	for _, level := range []string{"fatal", "error", "warning"} {
		if strings.Contains(line, "["+level+"]") {
			return level
		}
	}
	return "info"
}

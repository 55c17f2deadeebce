// Package streamer runs the periodic capture loop: once per frame period it
// decides whether to pull a snapshot from the surface, convert it and push it
// into the encoder, and it owns all session lifecycle and error bookkeeping.
package streamer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surfacecast/surfacecast/internal/encoder"
	"github.com/surfacecast/surfacecast/internal/frame"
	"github.com/surfacecast/surfacecast/internal/logger"
	"github.com/surfacecast/surfacecast/internal/overlay"
	"github.com/surfacecast/surfacecast/internal/surface"
)

// keepaliveInterval is the maximum time between sent frames even with no
// edits, so a viewer joining during an idle period still receives a keyframe
// within about a second. It must stay strictly greater than the frame period.
const keepaliveInterval = time.Second

var (
	// ErrSurfaceMissing indicates the streamed surface is not in the registry
	ErrSurfaceMissing = errors.New("surface not found")
	// ErrEncoderExited indicates the encoder process died between ticks
	ErrEncoderExited = errors.New("encoder exited unexpectedly")
	// ErrWriteFailed indicates a frame could not be written to the encoder
	ErrWriteFailed = errors.New("frame write failed")
)

// frameSink is the slice of the encoder bridge the tick loop needs.
type frameSink interface {
	Write(frame []byte) error
	IsAlive() bool
	Close()
}

// Options configures a Streamer.
type Options struct {
	SurfaceName string
	FPS         int
	OutputURL   string
	FFmpegPath  string
	BottomUp    bool
	Caption     *overlay.Caption // nil disables the overlay
}

// Streamer drives one streaming session at a time from a surface registry
// into an encoder bridge.
//
// The tick loop goroutine is the only mutator of the pipeline state while a
// session runs; Start and Stop serialize through a mutex. Status readers are
// lock-free: every state field is an independent atomic.
type Streamer struct {
	opts     Options
	registry *surface.Registry

	// openSink is swapped out in tests
	openSink func(encoder.Config) (frameSink, error)

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	running    atomic.Bool
	framesSent atomic.Uint64
	lastSendNS atomic.Int64
	lastErr    atomic.Pointer[string]
}

// New creates a streamer reading from the given registry.
func New(registry *surface.Registry, opts Options) *Streamer {
	return &Streamer{
		opts:     opts,
		registry: registry,
		openSink: func(cfg encoder.Config) (frameSink, error) {
			return encoder.Open(cfg)
		},
	}
}

// Start validates the surface and encoder tool, opens the encoder bridge,
// resets session counters and launches the tick loop. Calling Start while a
// session is running is a no-op. On any failure nothing is spawned, the error
// is recorded and the streamer stays stopped.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	// Reap a session that ended itself on a tick error.
	s.reapLocked()

	log := logger.WithComponent("streamer")

	s.lastErr.Store(nil)
	s.framesSent.Store(0)
	s.lastSendNS.Store(0)

	surf := s.registry.Get(s.opts.SurfaceName)
	if surf == nil {
		err := fmt.Errorf("%w: %s", ErrSurfaceMissing, s.opts.SurfaceName)
		s.recordError(err)
		return err
	}

	width, height := surf.Size()
	if width <= 0 || height <= 0 {
		err := fmt.Errorf("invalid surface size: %dx%d", width, height)
		s.recordError(err)
		return err
	}

	if s.opts.FPS <= 0 {
		err := fmt.Errorf("invalid fps: %d", s.opts.FPS)
		s.recordError(err)
		return err
	}
	period := time.Second / time.Duration(s.opts.FPS)
	if period >= keepaliveInterval {
		err := fmt.Errorf("frame period %v must be below keepalive interval %v", period, keepaliveInterval)
		s.recordError(err)
		return err
	}

	sink, err := s.openSink(encoder.Config{
		FFmpegPath: s.opts.FFmpegPath,
		Width:      width,
		Height:     height,
		FPS:        s.opts.FPS,
		OutputURL:  s.opts.OutputURL,
	})
	if err != nil {
		s.recordError(err)
		return err
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running.Store(true)

	go s.run(sink, width, height, period)

	log.Info().
		Str("surface", s.opts.SurfaceName).
		Int("width", width).
		Int("height", height).
		Int("fps", s.opts.FPS).
		Str("output", s.opts.OutputURL).
		Msg("Streaming started")

	return nil
}

// Stop ends the current session, tearing down the encoder bridge. Safe to
// call from any state, including after a tick error; calling Stop while
// stopped is a no-op and teardown failures are swallowed.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
}

// reapLocked shuts down the tick loop goroutine if one exists, waiting for it
// to finish its cleanup. Caller holds s.mu.
func (s *Streamer) reapLocked() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
}

// run is the session tick loop. Ticks never overlap: one goroutine, one timer,
// each tick rescheduling the next. The loop exits when stopped or when a tick
// fails, closing the bridge on the way out in both cases.
func (s *Streamer) run(sink frameSink, width, height int, period time.Duration) {
	log := logger.WithComponent("streamer")

	defer close(s.doneCh)
	defer s.running.Store(false)
	defer sink.Close()

	// First tick fires immediately; with lastSendTime zero the keepalive
	// gate guarantees it sends a frame, so a viewer sees content right away.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			log.Info().Uint64("frames_sent", s.framesSent.Load()).Msg("Streaming stopped")
			return
		case <-timer.C:
			if err := s.tick(sink, width, height); err != nil {
				// Drop running before recording the error so readers never
				// observe an error on a running pipeline.
				s.running.Store(false)
				s.recordError(err)
				log.Error().Err(err).Msg("Streaming aborted")
				return
			}
			timer.Reset(period)
		}
	}
}

// tick executes one scheduling decision. A nil return means the loop
// reschedules after one frame period; an error ends the session.
func (s *Streamer) tick(sink frameSink, width, height int) error {
	if !sink.IsAlive() {
		return ErrEncoderExited
	}

	surf := s.registry.Get(s.opts.SurfaceName)
	if surf == nil {
		return fmt.Errorf("%w: %s", ErrSurfaceMissing, s.opts.SurfaceName)
	}

	now := time.Now()
	sinceLast := now.UnixNano() - s.lastSendNS.Load()
	shouldSend := surf.Dirty() || time.Duration(sinceLast) > keepaliveInterval
	if !shouldSend {
		// Idle path: nothing changed and the keepalive floor is satisfied,
		// so skip the snapshot and conversion entirely.
		return nil
	}

	pixels := surf.ReadPixels()
	buf, err := frame.Convert(pixels, width, height, s.opts.BottomUp)
	if err != nil {
		return err
	}

	if s.opts.Caption != nil {
		s.opts.Caption.Render(buf, width, height)
	}

	if err := sink.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.framesSent.Add(1)
	s.lastSendNS.Store(now.UnixNano())
	return nil
}

func (s *Streamer) recordError(err error) {
	msg := err.Error()
	s.lastErr.Store(&msg)
}

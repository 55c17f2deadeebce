package streamer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/surfacecast/surfacecast/internal/encoder"
	"github.com/surfacecast/surfacecast/internal/surface"
)

type fakeSink struct {
	alive atomic.Bool

	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
}

func newFakeSink() *fakeSink {
	f := &fakeSink{}
	f.alive.Store(true)
	return f
}

func (f *fakeSink) Write(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeSink) IsAlive() bool {
	return f.alive.Load()
}

func (f *fakeSink) Close() {
	f.alive.Store(false)
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSink) frame(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[i]
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// newTestStreamer wires a streamer to a registry holding one 4x2 surface and
// a fake encoder sink. opens counts bridge openings.
func newTestStreamer(t *testing.T) (*Streamer, *surface.Registry, *fakeSink, *atomic.Int32) {
	t.Helper()

	registry := surface.NewRegistry()
	if _, err := registry.Create("paint", 4, 2); err != nil {
		t.Fatalf("create surface: %v", err)
	}

	s := New(registry, Options{
		SurfaceName: "paint",
		FPS:         50,
		OutputURL:   "udp://127.0.0.1:1234",
		FFmpegPath:  "ffmpeg",
	})

	sink := newFakeSink()
	opens := &atomic.Int32{}
	s.openSink = func(cfg encoder.Config) (frameSink, error) {
		opens.Add(1)
		return sink, nil
	}

	t.Cleanup(s.Stop)
	return s, registry, sink, opens
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartMissingSurface(t *testing.T) {
	registry := surface.NewRegistry()
	s := New(registry, Options{
		SurfaceName: "missing",
		FPS:         50,
		OutputURL:   "udp://127.0.0.1:1234",
		FFmpegPath:  "ffmpeg",
	})

	opens := 0
	s.openSink = func(cfg encoder.Config) (frameSink, error) {
		opens++
		return newFakeSink(), nil
	}

	err := s.Start()
	if !errors.Is(err, ErrSurfaceMissing) {
		t.Errorf("Start() error = %v, want ErrSurfaceMissing", err)
	}

	st := s.Status()
	if st.State != StateError {
		t.Errorf("state = %v, want error", st.State)
	}
	if st.FramesSent != 0 {
		t.Errorf("framesSent = %d, want 0", st.FramesSent)
	}
	if opens != 0 {
		t.Errorf("bridge opened %d times, want 0", opens)
	}
}

func TestStartBridgeFailure(t *testing.T) {
	s, _, _, _ := newTestStreamer(t)
	s.openSink = func(cfg encoder.Config) (frameSink, error) {
		return nil, encoder.ErrToolUnavailable
	}

	if err := s.Start(); !errors.Is(err, encoder.ErrToolUnavailable) {
		t.Errorf("Start() error = %v, want ErrToolUnavailable", err)
	}
	if st := s.Status(); st.State != StateError {
		t.Errorf("state = %v, want error", st.State)
	}
}

func TestStartPeriodMustBeBelowKeepalive(t *testing.T) {
	registry := surface.NewRegistry()
	registry.Create("paint", 4, 2)
	s := New(registry, Options{
		SurfaceName: "paint",
		FPS:         1, // period == keepalive interval
		OutputURL:   "udp://127.0.0.1:1234",
		FFmpegPath:  "ffmpeg",
	})

	if err := s.Start(); err == nil {
		t.Error("expected error for frame period >= keepalive interval")
	}
}

func TestStartSendsFirstFrameImmediately(t *testing.T) {
	s, _, sink, _ := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no frame sent after start")

	// 4x2 RGBA frame
	if got := len(sink.frame(0)); got != 32 {
		t.Errorf("frame length = %d, want 32", got)
	}
	if st := s.Status(); st.State != StateStreaming {
		t.Errorf("state = %v, want streaming", st.State)
	}
}

func TestStartIdempotent(t *testing.T) {
	s, _, _, opens := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("bridge opened %d times, want 1", n)
	}
}

func TestStopIdempotent(t *testing.T) {
	s, _, sink, _ := newTestStreamer(t)

	// Stop before any start
	s.Stop()
	if st := s.Status(); st.State != StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()

	if st := s.Status(); st.State != StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
	if st := s.Status(); st.LastError != "" {
		t.Errorf("lastError = %q, want empty", st.LastError)
	}
	if !sink.isClosed() {
		t.Error("bridge not closed by Stop")
	}
}

func TestDirtySurfaceKeepsSending(t *testing.T) {
	s, registry, sink, _ := newTestStreamer(t)
	surf := registry.Get("paint")

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	// While dirty, frames flow at the frame rate, well below the keepalive.
	surf.MarkDirty()
	before := sink.frameCount()
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= before+3 },
		"dirty surface did not produce frames at the frame rate")
}

func TestCleanSurfaceThrottledToKeepalive(t *testing.T) {
	if testing.Short() {
		t.Skip("keepalive timing test")
	}

	s, _, sink, _ := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	// Surface is never marked dirty: only the keepalive floor sends.
	time.Sleep(1200 * time.Millisecond)
	n := sink.frameCount()
	if n < 2 {
		t.Errorf("keepalive liveness violated: %d frames after 1.2s", n)
	}
	if n > 4 {
		t.Errorf("clean surface sent %d frames in 1.2s, expected roughly one per second", n)
	}

	if st := s.Status(); st.FramesSent != uint64(n) {
		t.Errorf("framesSent = %d, sink saw %d", st.FramesSent, n)
	}
}

func TestEncoderDeathStopsSession(t *testing.T) {
	s, _, sink, _ := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	sink.alive.Store(false)

	waitFor(t, time.Second, func() bool { return s.Status().State == StateError },
		"session did not stop after encoder death")

	st := s.Status()
	if st.LastError == "" {
		t.Error("lastError not recorded")
	}
	if s.Running() {
		t.Error("running should be false after encoder death")
	}

	// No writes after death
	n := sink.frameCount()
	time.Sleep(100 * time.Millisecond)
	if sink.frameCount() != n {
		t.Error("frames written to a dead encoder")
	}
}

func TestWriteFailureStopsSession(t *testing.T) {
	s, registry, sink, _ := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	sink.setWriteErr(errors.New("broken pipe"))
	registry.Get("paint").MarkDirty()

	waitFor(t, time.Second, func() bool { return s.Status().State == StateError },
		"session did not stop after write failure")

	if !sink.isClosed() {
		t.Error("bridge not closed after write failure")
	}
}

func TestSurfaceVanishingStopsSession(t *testing.T) {
	s, registry, sink, _ := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	registry.Remove("paint")

	waitFor(t, time.Second, func() bool { return s.Status().State == StateError },
		"session did not stop after surface removal")
}

func TestStartAfterErrorRecovers(t *testing.T) {
	s, _, sink, opens := newTestStreamer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.frameCount() >= 1 },
		"no initial frame")

	sink.alive.Store(false)
	waitFor(t, time.Second, func() bool { return s.Status().State == StateError },
		"session did not stop after encoder death")

	// A fresh sink for the retry; the old handle must not be reused.
	fresh := newFakeSink()
	s.openSink = func(cfg encoder.Config) (frameSink, error) {
		opens.Add(1)
		return fresh, nil
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start after error: %v", err)
	}

	st := s.Status()
	if st.State != StateStreaming {
		t.Errorf("state = %v, want streaming", st.State)
	}
	if st.LastError != "" {
		t.Errorf("lastError = %q, want cleared", st.LastError)
	}
	if st.FramesSent != 0 {
		t.Errorf("framesSent = %d, want reset to 0", st.FramesSent)
	}
	waitFor(t, time.Second, func() bool { return fresh.frameCount() >= 1 },
		"no frame after restart")
}

func TestStatusBeforeFirstFrame(t *testing.T) {
	s, _, _, _ := newTestStreamer(t)

	st := s.Status()
	if st.State != StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
	if st.SecondsSinceLastSend != -1 {
		t.Errorf("secondsSinceLastSend = %v, want -1", st.SecondsSinceLastSend)
	}
}

package streamer

import "time"

// State is the externally visible pipeline state.
type State string

const (
	StateStopped   State = "stopped"
	StateStreaming State = "streaming"
	StateError     State = "error"
)

// Status is a read-only snapshot of the pipeline state.
type Status struct {
	State                State   `json:"state"`
	LastError            string  `json:"last_error,omitempty"`
	FramesSent           uint64  `json:"frames_sent"`
	SecondsSinceLastSend float64 `json:"seconds_since_last_send"`
}

// Status returns a snapshot of the pipeline state. Pure and side-effect free;
// any number of callers may invoke it concurrently without affecting the
// scheduler. Fields are read independently, so a snapshot taken mid-transition
// may mix adjacent states but each field is always a consistent value.
// SecondsSinceLastSend is -1 before the first frame of a session.
func (s *Streamer) Status() Status {
	st := Status{
		State:                StateStopped,
		FramesSent:           s.framesSent.Load(),
		SecondsSinceLastSend: -1,
	}

	if errMsg := s.lastErr.Load(); errMsg != nil {
		st.State = StateError
		st.LastError = *errMsg
	} else if s.running.Load() {
		st.State = StateStreaming
	}

	if last := s.lastSendNS.Load(); last > 0 {
		st.SecondsSinceLastSend = time.Since(time.Unix(0, last)).Seconds()
	}

	return st
}

// Running reports whether a streaming session is active.
func (s *Streamer) Running() bool {
	return s.running.Load()
}

package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/echogate/internal/vad"
)

// LifecycleState tracks where a session is in its connection lifecycle.
// Transitions are strictly forward: Connecting → Active → Closing → Closed.
type LifecycleState int32

const (
	// StateConnecting covers the window between transport accept and the
	// completion of the configuration handshake.
	StateConnecting LifecycleState = iota

	// StateActive means the handshake completed and frames are flowing.
	StateActive

	// StateClosing means teardown has begun; no new work is accepted.
	StateClosing

	// StateClosed means all session-owned state has been released.
	StateClosed
)

// String returns the human-readable name of the lifecycle state.
func (s LifecycleState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the registry-owned state for one accepted client connection.
// Each session owns exactly one VAD segmenter and exactly one outbound
// playback queue (held by the playback dispatcher under this session's ID);
// neither is ever shared across sessions.
//
// The segmenter and the frame/utterance counters are confined to the
// session's own processing goroutine. Lifecycle state and the activity
// timestamp are touched concurrently (liveness monitor, registry) and use
// atomics.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// RemoteAddr is the client's network address, for logging.
	RemoteAddr string

	// SampleRate and ChunkSize are the negotiated audio format.
	SampleRate int
	ChunkSize  int

	// Segmenter is this session's VAD state machine.
	Segmenter *vad.Segmenter

	// StartedAt is when the connection was admitted.
	StartedAt time.Time

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
	closed    chan struct{}

	frameSeq uint64 // next inbound frame sequence number
	uttSeq   uint64 // next utterance completion index
}

// State returns the session's current lifecycle state.
func (s *Session) State() LifecycleState {
	return LifecycleState(s.state.Load())
}

// Activate transitions the session from Connecting to Active. Reports
// whether the transition happened; it fails if teardown already began.
func (s *Session) Activate() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// beginClose moves the session to Closing, from either Connecting or Active.
func (s *Session) beginClose() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closed)
	})
}

// Done returns a channel closed when the session enters teardown. Playback
// and liveness paths select on it to stop work for dead clients.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Touch records inbound activity. Called for every decoded frame, ping, and
// pong so the liveness monitor sees any sign of life.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the most recent inbound activity.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// NextFrameSeq stamps and returns the next inbound frame sequence number.
// Confined to the session's processing goroutine.
func (s *Session) NextFrameSeq() uint64 {
	seq := s.frameSeq
	s.frameSeq++
	return seq
}

// UttSeq returns the next utterance completion index without consuming it.
func (s *Session) UttSeq() uint64 { return s.uttSeq }

// ConsumeUttSeq consumes and returns the next utterance completion index.
// Call only after the utterance was accepted by the work queue, so that a
// rejected utterance does not burn an index the playback dispatcher would
// wait for.
func (s *Session) ConsumeUttSeq() uint64 {
	seq := s.uttSeq
	s.uttSeq++
	return seq
}

// Package vad implements energy-threshold voice activity segmentation.
//
// Each session owns exactly one [Segmenter]. The segmenter consumes the
// session's inbound frames in arrival order and cuts the continuous stream
// into discrete utterances: a segment opens on the first frame whose RMS
// energy reaches the threshold and closes once energy has stayed below the
// threshold for the configured hangover window. A duration cap bounds memory
// for continuous sound.
//
// The state machine is strictly local to one session, so no locking is
// needed — a Segmenter must only ever be driven by its session's own
// processing goroutine.
package vad

import (
	"fmt"
	"time"

	"github.com/MrWong99/echogate/pkg/audio"
)

// State is the segmenter's position in the speech/silence cycle.
type State int

const (
	// StateSilence is the initial state; no segment is open.
	StateSilence State = iota

	// StateSpeech means a segment is open and the last frame was speech.
	StateSpeech

	// StateTrailing means a segment is open but energy has dropped below
	// the threshold; the hangover counter is running.
	StateTrailing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	case StateTrailing:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Config holds the tuning knobs for a [Segmenter].
type Config struct {
	// Threshold is the RMS energy level in [0.0, 1.0] at or above which a
	// frame counts as speech.
	Threshold float64

	// HangoverFrames is the number of consecutive below-threshold frames
	// tolerated before an open segment is finalized. A dip shorter than
	// this does not split the segment.
	HangoverFrames int

	// MaxUtterance caps the audio duration of a single segment. When an
	// open segment reaches the cap it is force-finalized and accumulation
	// restarts immediately. Zero disables the cap.
	MaxUtterance time.Duration

	// SampleRate is the session's negotiated sample rate in Hz, used to
	// convert MaxUtterance into a sample budget.
	SampleRate int
}

// Segmenter is the per-session utterance segmentation state machine.
// Not safe for concurrent use; confine each instance to one goroutine.
type Segmenter struct {
	cfg        Config
	maxSamples int

	state    State
	buf      []float32
	hang     int
	start    time.Time
	emitted  uint64
	now      func() time.Time // injectable for tests
}

// New creates a Segmenter. Threshold must be in [0.0, 1.0] and
// HangoverFrames must be positive.
func New(cfg Config) (*Segmenter, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("vad: threshold %v out of range [0,1]", cfg.Threshold)
	}
	if cfg.HangoverFrames <= 0 {
		return nil, fmt.Errorf("vad: hangover frames must be positive, got %d", cfg.HangoverFrames)
	}
	var maxSamples int
	if cfg.MaxUtterance > 0 && cfg.SampleRate > 0 {
		maxSamples = int(cfg.MaxUtterance.Seconds() * float64(cfg.SampleRate))
	}
	return &Segmenter{
		cfg:        cfg,
		maxSamples: maxSamples,
		state:      StateSilence,
		now:        time.Now,
	}, nil
}

// State returns the segmenter's current state.
func (s *Segmenter) State() State { return s.state }

// Emitted returns the number of utterances produced so far.
func (s *Segmenter) Emitted() uint64 { return s.emitted }

// Process consumes one frame and returns a completed utterance, or nil if
// the segment is still open (or no segment is active). The returned
// utterance carries Samples, Start, and End; SessionID, Seq, and SampleRate
// are stamped by the caller that owns the session.
func (s *Segmenter) Process(frame audio.Frame) *audio.Utterance {
	energy := audio.RMS(frame.Samples)
	speech := energy >= s.cfg.Threshold

	switch s.state {
	case StateSilence:
		if !speech {
			return nil
		}
		s.state = StateSpeech
		s.start = s.now()
		s.buf = append(s.buf[:0], frame.Samples...)
		return s.capCheck()

	case StateSpeech:
		s.buf = append(s.buf, frame.Samples...)
		if !speech {
			s.state = StateTrailing
			s.hang = 1
			if s.hang >= s.cfg.HangoverFrames {
				return s.finalize()
			}
		}
		return s.capCheck()

	case StateTrailing:
		s.buf = append(s.buf, frame.Samples...)
		if speech {
			// Speech resumed within the hangover window; same utterance.
			s.state = StateSpeech
			s.hang = 0
			return s.capCheck()
		}
		s.hang++
		if s.hang >= s.cfg.HangoverFrames {
			return s.finalize()
		}
		return s.capCheck()
	}
	return nil
}

// Reset discards any open segment and returns the segmenter to silence.
// Used when a session ends mid-utterance.
func (s *Segmenter) Reset() {
	s.state = StateSilence
	s.buf = nil
	s.hang = 0
}

// capCheck force-finalizes the open segment once it reaches the duration
// cap. Accumulation restarts from silence, so continuous sound produces a
// sequence of capped utterances rather than unbounded growth.
func (s *Segmenter) capCheck() *audio.Utterance {
	if s.maxSamples == 0 || s.state == StateSilence || len(s.buf) < s.maxSamples {
		return nil
	}
	return s.finalize()
}

// finalize closes the open segment and emits it as an utterance.
func (s *Segmenter) finalize() *audio.Utterance {
	u := &audio.Utterance{
		Samples:    append([]float32(nil), s.buf...),
		SampleRate: s.cfg.SampleRate,
		Start:      s.start,
		End:        s.now(),
	}
	s.state = StateSilence
	s.buf = s.buf[:0]
	s.hang = 0
	s.emitted++
	return u
}

// Package audio defines the core audio data types that flow through the
// echogate pipeline: frames arriving from remote microphones, utterances
// produced by voice-activity segmentation, and the helpers shared by both.
//
// Samples are normalized float32 amplitudes in [-1.0, 1.0] — the format the
// wire protocol carries and the downstream recognizers consume. Conversion
// to and from 16-bit PCM (needed by some providers) lives in this package so
// every stage agrees on the same rounding behaviour.
package audio

import (
	"math"
	"time"
)

// Frame is one immutable chunk of samples received from a client. Frames are
// the atomic unit of inbound audio transport: decoded from the wire, scored
// by VAD, and accumulated into utterances. Seq increases monotonically per
// session and preserves inbound arrival order end-to-end.
type Frame struct {
	// Samples holds normalized float32 amplitudes. The slice must not be
	// mutated after construction.
	Samples []float32

	// Seq is the frame's sequence number relative to its session.
	Seq uint64
}

// Utterance is one contiguous speech segment bounded by silence (or by the
// maximum-duration cap). It is created exactly once by the segmenter, handed
// to the work queue, and never mutated afterwards.
type Utterance struct {
	// SessionID identifies the owning session.
	SessionID string

	// Seq is the per-session utterance completion index. Playback for a
	// session is delivered in Seq order regardless of downstream latency.
	Seq uint64

	// Samples is the concatenation of all frames in the segment, including
	// the hangover window.
	Samples []float32

	// SampleRate is the negotiated sample rate in Hz.
	SampleRate int

	// Start and End record when the segment began and was finalized.
	Start, End time.Time
}

// Duration returns the audio duration of the utterance based on its sample
// count, not wall-clock time.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(u.Samples)) / float64(u.SampleRate) * float64(time.Second))
}

// RMS computes the root-mean-square amplitude of samples. The result is in
// [0.0, 1.0] for normalized input and is the energy measure the VAD threshold
// is compared against. An empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FloatToPCM16 converts normalized float32 samples to 16-bit little-endian
// signed PCM bytes. Values outside [-1, 1] are clipped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		n := int16(math.Round(v * 32767))
		out[i*2] = byte(n)
		out[i*2+1] = byte(n >> 8)
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian signed PCM bytes to normalized
// float32 samples. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		n := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(n) / 32768
	}
	return out
}

// Drain empties ch of all buffered values without blocking and reports how
// many were discarded. Use it to release audio still queued on a streaming
// channel once its consumers have stopped.
func Drain[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer converts one reply into a complete buffer of normalized
// float32 samples. The gateway delivers synthesized audio as whole playback
// jobs (the wire protocol carries full sample arrays), so the interface is
// batch rather than streaming.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text as audio. Returns normalized float32
	// samples and their sample rate in Hz.
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}

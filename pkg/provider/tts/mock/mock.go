// Package mock provides a test double for the tts.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echogate/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Samples and SampleRate are returned from Synthesize when
	// SynthesizeFunc is nil.
	Samples    []float32
	SampleRate int

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeFunc, if non-nil, overrides the canned behaviour.
	SynthesizeFunc func(ctx context.Context, text string) ([]float32, int, error)

	// Texts records the text passed to every Synthesize call.
	Texts []string
}

// Synthesize records the call and returns the configured result.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	s.mu.Lock()
	s.Texts = append(s.Texts, text)
	fn := s.SynthesizeFunc
	samples, rate, err := s.Samples, s.SampleRate, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return samples, rate, err
}

// Package mock provides a test double for the stt.Recognizer interface.
//
// Use Recognizer to feed controlled transcripts to consumers and to inspect
// which audio was delivered:
//
//	r := &mock.Recognizer{Text: "hello"}
//	text, _ := r.Recognize(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echogate/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Recognizer = (*Recognizer)(nil)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Samples is the audio passed to Recognize.
	Samples []float32
	// SampleRate is the sample rate passed to Recognize.
	SampleRate int
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Text is returned from Recognize when RecognizeFunc is nil.
	Text string

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFunc, if non-nil, overrides the canned Text/Err behaviour.
	RecognizeFunc func(ctx context.Context, samples []float32, sampleRate int) (string, error)

	// Calls records every invocation of Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the configured result.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RecognizeCall{Samples: samples, SampleRate: sampleRate})
	fn := r.RecognizeFunc
	text, err := r.Text, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	return text, err
}

// CallCount returns the number of recorded Recognize calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A Recognizer wraps a transcription engine (a hosted API such as OpenAI's
// Whisper endpoint, or an in-process whisper.cpp model) behind a single
// batch call: one completed utterance in, one transcript out. Batch rather
// than streaming is deliberate — utterances are already segmented by VAD
// before they reach the recognizer, and the work-queue workers invoke the
// downstream pipeline one item at a time.
//
// Implementations must be safe for concurrent use unless documented
// otherwise; serialized access is enforced by the worker pool, not assumed
// by callers.
package stt

import "context"

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes one utterance. samples are normalized float32
	// amplitudes at the given sample rate. Returns the recognized text,
	// which may be empty when the audio contains no intelligible speech.
	Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

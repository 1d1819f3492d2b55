// Package engine defines the downstream pipeline interface consumed by the
// work-queue workers.
//
// A Pipeline turns one completed utterance into one playback result by
// running recognition, response generation, and synthesis in sequence. Any
// stage's failure short-circuits the remaining stages for that utterance;
// the failure is contained to the item and never crashes a worker.
//
// The pipeline models a scarce downstream resource: implementations are
// invoked by at most worker-pool-size goroutines at a time, each strictly
// one utterance at a time. This package lives under internal/ because it
// encapsulates application-private processing logic.
package engine

import (
	"context"

	"github.com/MrWong99/echogate/pkg/audio"
)

// Result is the outcome of a successful pipeline run for one utterance.
type Result struct {
	// Text is the reply that was synthesized. It travels with the
	// playback audio so clients can display what is being spoken.
	Text string

	// Samples is the synthesized audio as normalized float32 amplitudes.
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int
}

// Pipeline runs the full recognize → respond → synthesize cascade for one
// utterance. Implementations must be safe for concurrent use up to the
// worker-pool size.
type Pipeline interface {
	Process(ctx context.Context, u audio.Utterance) (Result, error)
}

// Package mock provides a test double for the engine.Pipeline interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echogate/internal/engine"
	"github.com/MrWong99/echogate/pkg/audio"
)

// Compile-time interface assertion.
var _ engine.Pipeline = (*Pipeline)(nil)

// Pipeline is a mock implementation of engine.Pipeline.
type Pipeline struct {
	mu sync.Mutex

	// Result is returned from Process when ProcessFunc is nil.
	Result engine.Result

	// Err, if non-nil, is returned as the error from Process.
	Err error

	// ProcessFunc, if non-nil, overrides the canned Result/Err behaviour.
	// Use it to inject per-utterance latency or failures.
	ProcessFunc func(ctx context.Context, u audio.Utterance) (engine.Result, error)

	// Processed records every utterance passed to Process.
	Processed []audio.Utterance
}

// Process records the call and returns the configured result.
func (p *Pipeline) Process(ctx context.Context, u audio.Utterance) (engine.Result, error) {
	p.mu.Lock()
	p.Processed = append(p.Processed, u)
	fn := p.ProcessFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, u)
	}
	return res, err
}

// ProcessedCount returns the number of utterances processed so far.
func (p *Pipeline) ProcessedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Processed)
}

// Package mock provides a test double for the llm.Responder interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echogate/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Responder = (*Responder)(nil)

// Responder is a mock implementation of llm.Responder.
type Responder struct {
	mu sync.Mutex

	// Reply is returned from Respond when RespondFunc is nil.
	Reply string

	// Err, if non-nil, is returned as the error from Respond.
	Err error

	// RespondFunc, if non-nil, overrides the canned Reply/Err behaviour.
	RespondFunc func(ctx context.Context, text string) (string, error)

	// Prompts records the text passed to every Respond call.
	Prompts []string
}

// Respond records the call and returns the configured result.
func (r *Responder) Respond(ctx context.Context, text string) (string, error) {
	r.mu.Lock()
	r.Prompts = append(r.Prompts, text)
	fn := r.RespondFunc
	reply, err := r.Reply, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return reply, err
}

// Package llm defines the Responder interface for response-generation
// backends.
//
// A Responder turns one recognized utterance into the reply that will be
// synthesized back to the client. The interface is intentionally narrow —
// no streaming, no tool calling — because the gateway's workers consume the
// full reply before handing it to synthesis.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Responder is the abstraction over any response-generation backend.
type Responder interface {
	// Respond generates a reply to the recognized text.
	Respond(ctx context.Context, text string) (string, error)
}

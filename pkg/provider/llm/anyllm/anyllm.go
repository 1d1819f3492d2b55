// Package anyllm provides a responder backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	r, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	reply, err := r.Respond(ctx, "what time is it?")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/echogate/pkg/provider/llm"
)

// defaultSystemPrompt keeps spoken replies short enough to synthesize and
// play back without long dead air.
const defaultSystemPrompt = "You are a voice assistant. Reply in one or two short spoken sentences. Do not use markup or lists."

// Compile-time interface assertion.
var _ llm.Responder = (*Responder)(nil)

// Responder implements llm.Responder by wrapping any-llm-go.
type Responder struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
}

// Option is a functional option for configuring a Responder.
type Option func(*Responder)

// WithSystemPrompt overrides the default system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(r *Responder) { r.systemPrompt = prompt }
}

// New creates a Responder backed by the given provider name, one of:
// "openai", "anthropic", "gemini", "ollama", "mistral", "groq".
//
// backendOpts are any-llm-go configuration options (e.g.,
// anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key option,
// the backend falls back to its environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, ...).
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Responder, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	r := &Responder{
		backend:      backend,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Respond implements llm.Responder.
func (r *Responder) Respond(ctx context.Context, text string) (string, error) {
	params := anyllmlib.CompletionParams{
		Model: r.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: r.systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
	}

	resp, err := r.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// createBackend instantiates the named any-llm-go provider.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Package openai provides a recognizer backed by the OpenAI audio
// transcription API (Whisper).
//
// Each utterance is wrapped in a RIFF/WAV container and submitted as one
// batch transcription request. The API is inherently batch, which matches
// the gateway's utterance-at-a-time worker model.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/echogate/pkg/audio"
	"github.com/MrWong99/echogate/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Compile-time interface assertion.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements stt.Recognizer using the OpenAI API.
type Recognizer struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Primarily used in
// tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the BCP-47 language hint sent with every request
// (e.g., "en", "de"). Empty lets the model auto-detect.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI-backed Recognizer. If model is empty,
// [DefaultModel] (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Recognizer{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Recognize implements stt.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("openai stt: empty utterance")
	}

	wav := audio.EncodeWAV(audio.FloatToPCM16(samples), sampleRate, 1)
	params := oai.AudioTranscriptionNewParams{
		Model: r.model,
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
	}
	if r.language != "" {
		params.Language = oai.String(r.language)
	}
	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return resp.Text, nil
}

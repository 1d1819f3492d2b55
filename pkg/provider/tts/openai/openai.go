// Package openai provides a synthesizer backed by the OpenAI speech API.
//
// Synthesis requests ask for raw PCM output (24 kHz, 16-bit, mono), which is
// decoded straight into the normalized float32 samples the wire protocol
// carries — no container parsing needed.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/echogate/pkg/audio"
	"github.com/MrWong99/echogate/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is the default voice profile.
	DefaultVoice = oai.AudioSpeechNewParamsVoiceAlloy

	// pcmSampleRate is the fixed output rate of the OpenAI PCM response
	// format.
	pcmSampleRate = 24000
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	voice  oai.AudioSpeechNewParamsVoice
}

// config holds optional configuration for the synthesizer.
type config struct {
	baseURL string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice selects the voice profile (e.g., "alloy", "nova", "shimmer").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI-backed Synthesizer. If model is empty,
// [DefaultModel] (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
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

	voice := DefaultVoice
	if cfg.voice != "" {
		voice = oai.AudioSpeechNewParamsVoice(cfg.voice)
	}

	return &Synthesizer{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  voice,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	if text == "" {
		return nil, 0, fmt.Errorf("openai tts: empty text")
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          s.model,
		Voice:          s.voice,
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("openai tts: empty audio response")
	}

	return audio.PCM16ToFloat(pcm), pcmSampleRate, nil
}

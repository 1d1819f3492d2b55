// Package whisper provides an in-process recognizer backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// This is the canonical "scarce downstream engine" the gateway's worker
// pool exists to protect: inference is CPU-bound and a single model context
// processes one utterance at a time. The model itself is loaded once and
// shared; each Recognize call runs on its own context, so the safe
// concurrency ceiling is the worker-pool size.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/echogate/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time interface assertion.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements stt.Recognizer using whisper.cpp Go bindings (CGO).
type Recognizer struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// New creates a Recognizer that loads the whisper.cpp model from the given
// file path. The model is loaded once and shared across calls. The caller
// must call Close when the recognizer is no longer needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &Recognizer{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// Recognize implements stt.Recognizer. The samples must be mono float32 at
// 16 kHz — whisper.cpp's native input format, which is also the gateway's
// default negotiated format.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(samples) == 0 {
		return "", errors.New("whisper: empty utterance")
	}
	if sampleRate != whisperlib.SampleRate {
		return "", fmt.Errorf("whisper: sample rate %d not supported, need %d", sampleRate, whisperlib.SampleRate)
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", r.language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break // io.EOF ends segment iteration
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(segment.Text))
	}
	return sb.String(), nil
}

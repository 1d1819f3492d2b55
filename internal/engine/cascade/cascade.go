// Package cascade implements engine.Pipeline as a recognize → respond →
// synthesize provider cascade.
//
// Each stage call is guarded by its own circuit breaker so a degraded
// backend sheds queued utterances quickly instead of tying up workers, and
// each stage is traced and timed individually. Between recognition and
// response generation the transcript is realigned against the configured
// vocabulary.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/echogate/internal/engine"
	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/internal/resilience"
	"github.com/MrWong99/echogate/internal/transcript"
	"github.com/MrWong99/echogate/pkg/audio"
	"github.com/MrWong99/echogate/pkg/provider/llm"
	"github.com/MrWong99/echogate/pkg/provider/stt"
	"github.com/MrWong99/echogate/pkg/provider/tts"
)

// ErrEmptyTranscript is returned when recognition yields no usable text,
// typically for utterances that were all breath noise or background hum.
var ErrEmptyTranscript = errors.New("cascade: empty transcript")

// Stage names used in error wrapping and failure metrics.
const (
	StageRecognize  = "recognize"
	StageRespond    = "respond"
	StageSynthesize = "synthesize"
)

// Compile-time interface assertion.
var _ engine.Pipeline = (*Cascade)(nil)

// Cascade chains the three providers into one engine.Pipeline.
type Cascade struct {
	recognizer  stt.Recognizer
	responder   llm.Responder
	synthesizer tts.Synthesizer
	corrector   *transcript.Corrector

	recognizeBreaker  *resilience.CircuitBreaker
	respondBreaker    *resilience.CircuitBreaker
	synthesizeBreaker *resilience.CircuitBreaker

	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a [Cascade].
type Option func(*Cascade)

// WithCorrector enables transcript vocabulary correction between
// recognition and response generation. Nil disables the stage.
func WithCorrector(c *transcript.Corrector) Option {
	return func(ca *Cascade) { ca.corrector = c }
}

// WithBreakerConfig overrides the circuit breaker tuning shared by all
// three stages. The Name field is replaced with the stage name.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(ca *Cascade) {
		cfg.Name = StageRecognize
		ca.recognizeBreaker = resilience.NewCircuitBreaker(cfg)
		cfg.Name = StageRespond
		ca.respondBreaker = resilience.NewCircuitBreaker(cfg)
		cfg.Name = StageSynthesize
		ca.synthesizeBreaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ca *Cascade) { ca.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(ca *Cascade) { ca.logger = l }
}

// New creates a cascade over the three providers. All three are required.
func New(recognizer stt.Recognizer, responder llm.Responder, synthesizer tts.Synthesizer, opts ...Option) (*Cascade, error) {
	if recognizer == nil {
		return nil, errors.New("cascade: recognizer must not be nil")
	}
	if responder == nil {
		return nil, errors.New("cascade: responder must not be nil")
	}
	if synthesizer == nil {
		return nil, errors.New("cascade: synthesizer must not be nil")
	}
	ca := &Cascade{
		recognizer:  recognizer,
		responder:   responder,
		synthesizer: synthesizer,
	}
	WithBreakerConfig(resilience.CircuitBreakerConfig{})(ca)
	for _, opt := range opts {
		opt(ca)
	}
	if ca.metrics == nil {
		ca.metrics = observe.DefaultMetrics()
	}
	if ca.logger == nil {
		ca.logger = slog.Default()
	}
	return ca, nil
}

// Process runs the full cascade for one utterance.
func (ca *Cascade) Process(ctx context.Context, u audio.Utterance) (engine.Result, error) {
	ctx, span := observe.StartSpan(ctx, "cascade.process",
		trace.WithAttributes(
			attribute.String("session_id", u.SessionID),
			attribute.Int64("seq", int64(u.Seq)),
			attribute.Float64("utterance_sec", u.Duration().Seconds()),
		),
	)
	defer span.End()
	start := time.Now()

	text, err := ca.recognize(ctx, u)
	if err != nil {
		ca.metrics.RecordPipelineFailure(ctx, StageRecognize)
		return engine.Result{}, fmt.Errorf("cascade: %s: %w", StageRecognize, err)
	}

	if ca.corrector != nil {
		corrected, corrections := ca.corrector.Correct(text)
		for _, c := range corrections {
			observe.Logger(ctx).Debug("transcript corrected",
				slog.String("original", c.Original),
				slog.String("corrected", c.Corrected),
				slog.Float64("confidence", c.Confidence),
			)
		}
		text = corrected
	}

	reply, err := ca.respond(ctx, text)
	if err != nil {
		ca.metrics.RecordPipelineFailure(ctx, StageRespond)
		return engine.Result{}, fmt.Errorf("cascade: %s: %w", StageRespond, err)
	}

	samples, rate, err := ca.synthesize(ctx, reply)
	if err != nil {
		ca.metrics.RecordPipelineFailure(ctx, StageSynthesize)
		return engine.Result{}, fmt.Errorf("cascade: %s: %w", StageSynthesize, err)
	}

	ca.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	return engine.Result{Text: reply, Samples: samples, SampleRate: rate}, nil
}

func (ca *Cascade) recognize(ctx context.Context, u audio.Utterance) (string, error) {
	ctx, span := observe.StartSpan(ctx, "cascade.recognize")
	defer span.End()
	start := time.Now()

	var text string
	err := ca.recognizeBreaker.Execute(func() error {
		var err error
		text, err = ca.recognizer.Recognize(ctx, u.Samples, u.SampleRate)
		return err
	})
	ca.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func (ca *Cascade) respond(ctx context.Context, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "cascade.respond")
	defer span.End()
	start := time.Now()

	var reply string
	err := ca.respondBreaker.Execute(func() error {
		var err error
		reply, err = ca.responder.Respond(ctx, text)
		return err
	})
	ca.metrics.RespondDuration.Record(ctx, time.Since(start).Seconds())
	return reply, err
}

func (ca *Cascade) synthesize(ctx context.Context, reply string) ([]float32, int, error) {
	ctx, span := observe.StartSpan(ctx, "cascade.synthesize")
	defer span.End()
	start := time.Now()

	var (
		samples []float32
		rate    int
	)
	err := ca.synthesizeBreaker.Execute(func() error {
		var err error
		samples, rate, err = ca.synthesizer.Synthesize(ctx, reply)
		return err
	})
	ca.metrics.SynthesizeDuration.Record(ctx, time.Since(start).Seconds())
	return samples, rate, err
}

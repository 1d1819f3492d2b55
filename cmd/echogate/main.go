// Command echogate is the main entry point for the echogate audio gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echogate/internal/config"
	"github.com/MrWong99/echogate/internal/engine"
	"github.com/MrWong99/echogate/internal/engine/cascade"
	"github.com/MrWong99/echogate/internal/gateway"
	"github.com/MrWong99/echogate/internal/health"
	"github.com/MrWong99/echogate/internal/liveness"
	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/internal/playback"
	"github.com/MrWong99/echogate/internal/registry"
	"github.com/MrWong99/echogate/internal/transcript"
	"github.com/MrWong99/echogate/internal/vad"
	"github.com/MrWong99/echogate/internal/workqueue"
	"github.com/MrWong99/echogate/pkg/provider/llm"
	"github.com/MrWong99/echogate/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/echogate/pkg/provider/llm/mock"
	"github.com/MrWong99/echogate/pkg/provider/stt"
	sttmock "github.com/MrWong99/echogate/pkg/provider/stt/mock"
	sttoai "github.com/MrWong99/echogate/pkg/provider/stt/openai"
	"github.com/MrWong99/echogate/pkg/provider/stt/whisper"
	"github.com/MrWong99/echogate/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echogate/pkg/provider/tts/mock"
	ttsoai "github.com/MrWong99/echogate/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echogate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echogate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echogate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"admin_addr", cfg.Server.AdminAddr,
		"log_level", cfg.Server.LogLevel,
	)
	for _, w := range config.Warnings(cfg) {
		slog.Warn(w)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "echogate",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	recognizer, err := buildRecognizer(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	responder, err := buildResponder(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	synthesizer, err := buildSynthesizer(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	var cascadeOpts []cascade.Option
	if len(cfg.Vocabulary) > 0 {
		cascadeOpts = append(cascadeOpts, cascade.WithCorrector(transcript.New(cfg.Vocabulary)))
		slog.Info("transcript correction enabled", "vocabulary_size", len(cfg.Vocabulary))
	}
	pipeline, err := cascade.New(recognizer, responder, synthesizer, cascadeOpts...)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Session registry ──────────────────────────────────────────────────────
	reg, err := registry.New(registry.Config{
		MaxClients: cfg.Sessions.MaxClients,
		SampleRate: cfg.Audio.SampleRate,
		ChunkSize:  cfg.Audio.ChunkSize,
		VAD: vad.Config{
			Threshold:      cfg.VAD.Threshold,
			HangoverFrames: cfg.VAD.HangoverFrames,
			MaxUtterance:   time.Duration(cfg.VAD.MaxUtteranceSec) * time.Second,
			SampleRate:     cfg.Audio.SampleRate,
		},
	})
	if err != nil {
		slog.Error("failed to build session registry", "err", err)
		return 1
	}

	// ── Playback, queue, gateway ──────────────────────────────────────────────
	dispatcher := playback.New()

	var srv *gateway.Server
	sink := func(sessionID string, seq uint64, res engine.Result, err error) {
		srv.Sink()(sessionID, seq, res, err)
	}
	queue, err := workqueue.New(workqueue.Config{
		Capacity: cfg.Queue.Capacity,
		Workers:  cfg.Queue.Workers,
	}, pipeline, sink)
	if err != nil {
		slog.Error("failed to build work queue", "err", err)
		return 1
	}

	gwCfg := gateway.Config{
		Addr:       cfg.Server.ListenAddr,
		SampleRate: cfg.Audio.SampleRate,
		ChunkSize:  cfg.Audio.ChunkSize,
	}
	if cfg.Server.TLS != nil {
		gwCfg.TLSCertFile = cfg.Server.TLS.CertFile
		gwCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}
	srv, err = gateway.New(gwCfg, reg, queue, dispatcher)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}

	// Release per-session playback state whenever a session goes away,
	// regardless of whether the client disconnected or the liveness monitor
	// removed it.
	reg.OnRemove(func(s *registry.Session) {
		dispatcher.Unregister(context.Background(), s.ID)
	})

	// ── Liveness monitor ──────────────────────────────────────────────────────
	monitor, err := liveness.New(liveness.Config{
		Interval:    cfg.Sessions.KeepaliveInterval(),
		TimeoutMult: cfg.Sessions.KeepaliveTimeoutMult,
	}, reg, srv.Probe())
	if err != nil {
		slog.Error("failed to build liveness monitor", "err", err)
		return 1
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	admin := gateway.NewAdminServer(cfg.Server.AdminAddr, synthesizer, reg, dispatcher, logger,
		health.Checker{Name: "capacity", Check: func(context.Context) error {
			if reg.Len() >= cfg.Sessions.MaxClients {
				return fmt.Errorf("all %d session slots in use", cfg.Sessions.MaxClients)
			}
			return nil
		}},
		health.Checker{Name: "queue", Check: func(context.Context) error {
			if queue.Len() >= cfg.Queue.Capacity {
				return fmt.Errorf("queue full at %d items", cfg.Queue.Capacity)
			}
			return nil
		}},
	)

	// ── Run everything ────────────────────────────────────────────────────────
	slog.Info("server ready — press Ctrl+C to shut down",
		"max_clients", cfg.Sessions.MaxClients,
		"workers", cfg.Queue.Workers,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return admin.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildRecognizer(entry config.ProviderEntry) (stt.Recognizer, error) {
	switch entry.Name {
	case "openai":
		var opts []sttoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttoai.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, sttoai.WithLanguage(lang))
		}
		return sttoai.New(entry.APIKey, entry.Model, opts...)

	case "whisper-native":
		modelPath := entry.StringOption("model_path", entry.Model)
		var opts []whisper.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)

	case "mock":
		// Offline smoke-testing mode: every utterance transcribes to a
		// fixed string.
		return &sttmock.Recognizer{Text: entry.StringOption("text", "mock transcript")}, nil

	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildResponder(entry config.ProviderEntry) (llm.Responder, error) {
	if entry.Name == "" {
		return nil, errors.New("providers.llm.name is required")
	}
	if entry.Name == "mock" {
		return &llmmock.Responder{RespondFunc: func(_ context.Context, text string) (string, error) {
			return "you said: " + text, nil
		}}, nil
	}
	var backendOpts []anyllmlib.Option
	if entry.APIKey != "" {
		backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	var opts []anyllm.Option
	if prompt := entry.StringOption("system_prompt", ""); prompt != "" {
		opts = append(opts, anyllm.WithSystemPrompt(prompt))
	}
	return anyllm.New(entry.Name, entry.Model, backendOpts, opts...)
}

func buildSynthesizer(entry config.ProviderEntry) (tts.Synthesizer, error) {
	switch entry.Name {
	case "openai":
		var opts []ttsoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsoai.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsoai.WithVoice(voice))
		}
		return ttsoai.New(entry.APIKey, entry.Model, opts...)

	case "mock":
		// One second of silence at the gateway sample rate.
		return &ttsmock.Synthesizer{Samples: make([]float32, 16000), SampleRate: 16000}, nil

	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

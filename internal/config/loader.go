package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Warnings] to flag unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper-native", "mock"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "mock"},
	"tts": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8765"
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = ":9090"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.ChunkSize == 0 {
		cfg.Audio.ChunkSize = 1024
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = 0.8
	}
	if cfg.VAD.HangoverFrames == 0 {
		cfg.VAD.HangoverFrames = 5
	}
	if cfg.VAD.MaxUtteranceSec == 0 {
		cfg.VAD.MaxUtteranceSec = 30
	}
	if cfg.Sessions.MaxClients == 0 {
		cfg.Sessions.MaxClients = 10
	}
	if cfg.Sessions.KeepaliveIntervalSec == 0 {
		cfg.Sessions.KeepaliveIntervalSec = 10
	}
	if cfg.Sessions.KeepaliveTimeoutMult == 0 {
		cfg.Sessions.KeepaliveTimeoutMult = 3
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 16
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must be positive", cfg.Audio.ChunkSize))
	}

	// VAD
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.HangoverFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_frames %d must be positive", cfg.VAD.HangoverFrames))
	}
	if cfg.VAD.MaxUtteranceSec <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_utterance_sec %d must be positive", cfg.VAD.MaxUtteranceSec))
	}

	// Sessions
	if cfg.Sessions.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_clients %d must be positive", cfg.Sessions.MaxClients))
	}
	if cfg.Sessions.KeepaliveIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("sessions.keepalive_interval_sec %d must be positive", cfg.Sessions.KeepaliveIntervalSec))
	}
	if cfg.Sessions.KeepaliveTimeoutMult < 2 {
		errs = append(errs, fmt.Errorf("sessions.keepalive_timeout_mult %d must be at least 2", cfg.Sessions.KeepaliveTimeoutMult))
	}

	// Queue
	if cfg.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must be positive", cfg.Queue.Capacity))
	}
	if cfg.Queue.Workers <= 0 {
		errs = append(errs, fmt.Errorf("queue.workers %d must be positive", cfg.Queue.Workers))
	}

	return errors.Join(errs...)
}

// Warnings reports non-fatal configuration concerns: unconfigured provider
// kinds and provider names outside [ValidProviderNames]. Unknown names are
// not errors because they may be newer backends; the provider factories
// reject genuinely unusable names at startup. Callers decide how to surface
// the messages.
func Warnings(cfg *Config) []string {
	var out []string
	for kind, name := range map[string]string{
		"stt": cfg.Providers.STT.Name,
		"llm": cfg.Providers.LLM.Name,
		"tts": cfg.Providers.TTS.Name,
	} {
		if name == "" {
			out = append(out, fmt.Sprintf("providers.%s.name is unset; the pipeline cannot start without it", kind))
			continue
		}
		if known := ValidProviderNames[kind]; len(known) > 0 && !slices.Contains(known, name) {
			out = append(out, fmt.Sprintf("providers.%s.name %q is not a known provider (known: %v); it may be a typo", kind, name, known))
		}
	}
	slices.Sort(out)
	return out
}

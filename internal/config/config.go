// Package config provides the configuration schema and loader for the
// echogate audio gateway.
package config

import "time"

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for echogate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Audio      AudioConfig     `yaml:"audio"`
	VAD        VADConfig       `yaml:"vad"`
	Sessions   SessionsConfig  `yaml:"sessions"`
	Queue      QueueConfig     `yaml:"queue"`
	Providers  ProvidersConfig `yaml:"providers"`
	Vocabulary []string        `yaml:"vocabulary"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the WebSocket gateway listens on.
	// Default: ":8765".
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr is the TCP address of the admin HTTP server carrying the
	// health, metrics, and synthesis-test endpoints. Default: ":9090".
	AdminAddr string `yaml:"admin_addr"`

	// LogLevel controls verbosity. Default: "info".
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the gateway. When nil, plain TCP is used.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig is the audio format offered to every client in the
// configuration handshake.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSize is the expected number of samples per audio message and
	// the upper bound enforced on inbound payloads. Default: 1024.
	ChunkSize int `yaml:"chunk_size"`
}

// VADConfig tunes utterance segmentation.
type VADConfig struct {
	// Threshold is the RMS energy level in [0, 1] that separates speech
	// from silence. Default: 0.8.
	Threshold float64 `yaml:"threshold"`

	// HangoverFrames is the number of consecutive below-threshold frames
	// that close an utterance. Default: 5.
	HangoverFrames int `yaml:"hangover_frames"`

	// MaxUtteranceSec caps the length of a single utterance; continuous
	// speech is force-split at this bound. Default: 30.
	MaxUtteranceSec int `yaml:"max_utterance_sec"`
}

// SessionsConfig bounds admission and liveness.
type SessionsConfig struct {
	// MaxClients is the number of concurrently connected clients.
	// Default: 10.
	MaxClients int `yaml:"max_clients"`

	// KeepaliveIntervalSec is how often idle sessions are probed.
	// Default: 10.
	KeepaliveIntervalSec int `yaml:"keepalive_interval_sec"`

	// KeepaliveTimeoutMult is the number of keepalive intervals of total
	// silence after which a session is dropped. Default: 3.
	KeepaliveTimeoutMult int `yaml:"keepalive_timeout_mult"`
}

// KeepaliveInterval returns the probe interval as a duration.
func (s SessionsConfig) KeepaliveInterval() time.Duration {
	return time.Duration(s.KeepaliveIntervalSec) * time.Second
}

// QueueConfig bounds the utterance work queue.
type QueueConfig struct {
	// Capacity is the number of utterances that may wait for a worker
	// before submissions are rejected. Default: 16.
	Capacity int `yaml:"capacity"`

	// Workers is the number of concurrent pipeline workers. Default: 2.
	Workers int `yaml:"workers"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai",
	// "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.,
	// "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above (e.g., "model_path" for whisper-native, "voice" for
	// openai TTS, "language" for transcription).
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named entry of Options as a string, or fallback
// when absent or of another type.
func (p ProviderEntry) StringOption(key, fallback string) string {
	if v, ok := p.Options[key].(string); ok {
		return v
	}
	return fallback
}

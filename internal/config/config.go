// Package config provides the configuration schema, loader and provider
// registry for the vocalis server.
package config

import (
	"time"

	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/pkg/provider/tts/convert"
)

// LogLevel controls log verbosity for the vocalis server.
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// STTMode selects where speech recognition runs.
type STTMode string

const (
	// STTLocal runs a whisper.cpp model in-process.
	STTLocal STTMode = "local"

	// STTRemote calls the provider named in stt.remote.
	STTRemote STTMode = "remote"
)

// IsValid reports whether m is a recognised STT mode.
func (m STTMode) IsValid() bool {
	return m == STTLocal || m == STTRemote
}

// Config is the root configuration structure for vocalis.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	STT     STTConfig     `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	Observe ObserveConfig `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// AppName is reported in the startup log. Default "AI Voice Assistant".
	AppName string `yaml:"app_name"`

	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// APIPrefix is prepended to every API route. Default "/api/v1".
	APIPrefix string `yaml:"api_prefix"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// CORSAllowOrigins lists allowed origins. "*" allows any.
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`

	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig places speaker profiles, generated audio and uploads.
// Empty directories are derived from DataDir.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	VoicesDir    string `yaml:"voices_dir"`
	GeneratedDir string `yaml:"generated_dir"`
	UploadsDir   string `yaml:"uploads_dir"`

	// NATS, when URL is set, stores generated audio in a JetStream object
	// store instead of GeneratedDir.
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig selects the JetStream object store for artifacts.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Timeout bounds a single request. Zero uses the section default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific settings. Decode them with
	// [DecodeOptions].
	Options map[string]any `yaml:"options"`
}

// Label returns "name/model", or just the name when no model is set.
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// LLMConfig configures text generation.
type LLMConfig struct {
	// Primary is tried first on every request.
	Primary ProviderEntry `yaml:"primary"`

	// Models is the ordered secondary list with sticky affinity.
	Models []ProviderEntry `yaml:"models"`

	SystemPrompt string `yaml:"system_prompt"`

	// Temperature is the sampling temperature. Nil uses the router default.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Timeout is the default per-request timeout. Default 120s.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// STTConfig configures speech recognition.
type STTConfig struct {
	Mode     STTMode `yaml:"mode"`
	Language string  `yaml:"language"`

	// Timeout bounds one transcription. Default 60s.
	Timeout time.Duration `yaml:"timeout"`

	Local  LocalSTTConfig `yaml:"local"`
	Remote ProviderEntry  `yaml:"remote"`
}

// LocalSTTConfig configures the in-process whisper.cpp model.
type LocalSTTConfig struct {
	// ModelSize names a ggml model ("small" resolves to ggml-small.bin inside
	// ModelsDir). Ignored when ModelPath is set.
	ModelSize string `yaml:"model_size"`
	ModelPath string `yaml:"model_path"`
	ModelsDir string `yaml:"models_dir"`

	MaxConcurrent int64 `yaml:"max_concurrent"`
	BeamSize      int   `yaml:"beam_size"`
	Threads       uint  `yaml:"threads"`
}

// SpeakerConfig overrides synthesis for one speaker id.
type SpeakerConfig struct {
	Mode      string `yaml:"mode"`
	Reference string `yaml:"reference"`
}

// TTSConfig configures voice synthesis.
type TTSConfig struct {
	// DefaultMode applies to speakers without an entry in Speakers.
	// Default "enrolled-default".
	DefaultMode string `yaml:"default_mode"`

	Speakers map[string]SpeakerConfig `yaml:"speakers"`

	Local  LocalTTSConfig  `yaml:"local"`
	Remote RemoteTTSConfig `yaml:"remote"`

	// Base is the base-voice generator of generate-then-convert.
	Base ProviderEntry `yaml:"base"`

	// Converter names the registered converter. Default "command".
	Converter string `yaml:"converter"`

	// Conversion is the voice conversion command.
	Conversion convert.Config `yaml:"conversion"`

	Enroll EnrollConfig `yaml:"enroll"`

	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LocalTTSConfig configures the Coqui XTTS clone engine.
type LocalTTSConfig struct {
	URL           string        `yaml:"url"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// RemoteTTSConfig configures the remote clone worker.
type RemoteTTSConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Sticky keeps using the local engine after the worker failed until the
	// local engine fails too.
	Sticky bool `yaml:"sticky"`
}

// EnrollConfig tunes reference enrollment.
type EnrollConfig struct {
	// Sanitize trims silence, caps length and normalises enrolled WAV files.
	Sanitize bool `yaml:"sanitize"`

	// MaxDuration caps sanitized references. Default 10s.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	// Metrics serves /metrics when true.
	Metrics bool `yaml:"metrics"`

	// ServiceName is reported in telemetry. Default "vocalis".
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of traces sampled. Zero samples all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

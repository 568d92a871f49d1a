package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vocalis/internal/voice"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"ollama", "openai_compat", "openai", "gemini", "anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {"whisper-server", "deepgram"},
	"tts":       {"gemini", "google", "coqui", "worker"},
	"converter": {"command"},
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from a file extension. Anything that is not
// .toml is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads the configuration file at path, applies a .env file from the
// working directory and environment overrides, fills defaults and validates
// the result.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r, FormatYAML)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses r in the given format. Unknown keys are rejected in both
// formats.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		var raw map[string]any
		if err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if err := decodeMap(raw, cfg, "yaml", true); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	return cfg, nil
}

// DecodeOptions decodes a provider's options map into out, a pointer to a
// struct with mapstructure tags. Keys match field tags ignoring case, dashes
// and underscores, and scalar values are converted weakly ("5" into an int).
func DecodeOptions(opts map[string]any, out any) error {
	if len(opts) == 0 {
		return nil
	}
	if err := decodeMap(opts, out, "mapstructure", false); err != nil {
		return fmt.Errorf("config: decode options: %w", err)
	}
	return nil
}

func decodeMap(in map[string]any, out any, tag string, strict bool) error {
	dc := &mapstructure.DecoderConfig{
		TagName:     tag,
		Result:      out,
		ErrorUnused: strict,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	if !strict {
		dc.WeaklyTypedInput = true
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}
	dec, err := mapstructure.NewDecoder(dc)
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func normalizeKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// ---- environment ----

// EnvOverrides are the environment variables Load honours. Each one fills
// its field only when the file left it empty.
type EnvOverrides struct {
	ListenAddr     string   `env:"VOCALIS_LISTEN_ADDR"`
	LogLevel       string   `env:"VOCALIS_LOG_LEVEL"`
	LogFormat      string   `env:"VOCALIS_LOG_FORMAT"`
	CORSOrigins    []string `env:"VOCALIS_CORS_ALLOW_ORIGINS" envSeparator:","`
	DataDir        string   `env:"VOCALIS_DATA_DIR"`
	NATSURL        string   `env:"VOCALIS_NATS_URL"`
	LLMBackend     string   `env:"VOCALIS_LLM_BACKEND"`
	OpenAIAPIKey   string   `env:"OPENAI_API_KEY"`
	GeminiAPIKey   string   `env:"GEMINI_API_KEY"`
	DeepgramAPIKey string   `env:"DEEPGRAM_API_KEY"`
}

// ApplyEnv copies environment overrides into cfg. environ replaces the
// process environment when non-nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var ov EnvOverrides
	if err := env.Parse(&ov, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}

	fill(&cfg.Server.ListenAddr, ov.ListenAddr)
	fill((*string)(&cfg.Server.LogLevel), ov.LogLevel)
	fill((*string)(&cfg.Server.LogFormat), ov.LogFormat)
	if len(cfg.Server.CORSAllowOrigins) == 0 && len(ov.CORSOrigins) > 0 {
		cfg.Server.CORSAllowOrigins = ov.CORSOrigins
	}
	fill(&cfg.Storage.DataDir, ov.DataDir)
	fill(&cfg.Storage.NATS.URL, ov.NATSURL)
	fill(&cfg.LLM.Primary.Name, ov.LLMBackend)

	keys := map[string]string{
		"openai":   ov.OpenAIAPIKey,
		"gemini":   ov.GeminiAPIKey,
		"deepgram": ov.DeepgramAPIKey,
	}
	fillKey := func(e *ProviderEntry) {
		if k, ok := keys[e.Name]; ok {
			fill(&e.APIKey, k)
		}
	}
	fillKey(&cfg.LLM.Primary)
	for i := range cfg.LLM.Models {
		fillKey(&cfg.LLM.Models[i])
	}
	fillKey(&cfg.STT.Remote)
	fillKey(&cfg.TTS.Base)
	return nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// ---- defaults ----

// Defaults applied by ApplyDefaults.
const (
	DefaultAppName        = "AI Voice Assistant"
	DefaultListenAddr     = ":8000"
	DefaultAPIPrefix      = "/api/v1"
	DefaultDataDir        = "data"
	DefaultNATSBucket     = "vocalis-audio"
	DefaultMaxUploadBytes = 32 << 20
	DefaultLLMBackend     = "ollama"
	DefaultLanguage       = "ru"
	DefaultModelSize      = "small"
	DefaultModelsDir      = "models"
	DefaultBeamSize       = 5
	DefaultCoquiURL       = "http://localhost:5002"
	DefaultConverter      = "command"
	DefaultServiceName    = "vocalis"

	DefaultShutdownTimeout   = 15 * time.Second
	DefaultLLMTimeout        = 120 * time.Second
	DefaultSTTTimeout        = 60 * time.Second
	DefaultTTSTimeout        = 60 * time.Second
	DefaultConversionTimeout = 120 * time.Second
	DefaultMaxReference      = 10 * time.Second
)

// backendDefaults are the endpoints and models of the built-in LLM backends.
var backendDefaults = map[string]ProviderEntry{
	"ollama":        {BaseURL: "http://localhost:11434", Model: "qwen2.5:7b-instruct"},
	"openai_compat": {BaseURL: "http://localhost:8001/v1", Model: "Qwen/Qwen2.5-7B-Instruct", APIKey: "local"},
	"openai":        {Model: "gpt-4o-mini"},
	"gemini":        {BaseURL: "https://generativelanguage.googleapis.com/v1beta", Model: "gemini-2.0-flash"},
}

// ApplyDefaults fills every zero setting with its default. It is idempotent.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	fill(&s.AppName, DefaultAppName)
	fill(&s.ListenAddr, DefaultListenAddr)
	fill(&s.APIPrefix, DefaultAPIPrefix)
	fill((*string)(&s.LogLevel), string(LogInfo))
	fill((*string)(&s.LogFormat), string(LogFormatText))
	if s.CORSAllowOrigins == nil {
		s.CORSAllowOrigins = []string{"*"}
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	st := &cfg.Storage
	fill(&st.DataDir, DefaultDataDir)
	fill(&st.VoicesDir, filepath.Join(st.DataDir, "voices"))
	fill(&st.GeneratedDir, filepath.Join(st.DataDir, "generated_audio"))
	fill(&st.UploadsDir, filepath.Join(st.DataDir, "uploads"))
	fill(&st.NATS.Bucket, DefaultNATSBucket)

	l := &cfg.LLM
	if l.Primary.Name == "" && len(l.Models) == 0 {
		l.Primary.Name = DefaultLLMBackend
	}
	if l.Timeout <= 0 {
		l.Timeout = DefaultLLMTimeout
	}
	applyBackendDefaults(&l.Primary, l.Timeout)
	for i := range l.Models {
		applyBackendDefaults(&l.Models[i], l.Timeout)
	}

	t := &cfg.STT
	if t.Mode == "" {
		t.Mode = STTLocal
	}
	fill(&t.Language, DefaultLanguage)
	if t.Timeout <= 0 {
		t.Timeout = DefaultSTTTimeout
	}
	if t.Remote.Timeout <= 0 {
		t.Remote.Timeout = t.Timeout
	}
	fill(&t.Local.ModelSize, DefaultModelSize)
	fill(&t.Local.ModelsDir, DefaultModelsDir)
	if t.Local.MaxConcurrent <= 0 {
		t.Local.MaxConcurrent = 1
	}
	if t.Local.BeamSize <= 0 {
		t.Local.BeamSize = DefaultBeamSize
	}

	v := &cfg.TTS
	fill(&v.DefaultMode, string(voice.ModeEnrolledDefault))
	fill(&v.Local.URL, DefaultCoquiURL)
	if v.Local.MaxConcurrent <= 0 {
		v.Local.MaxConcurrent = 1
	}
	if v.Local.Timeout <= 0 {
		v.Local.Timeout = DefaultTTSTimeout
	}
	if v.Remote.Timeout <= 0 {
		v.Remote.Timeout = DefaultTTSTimeout
	}
	if v.Base.Timeout <= 0 {
		v.Base.Timeout = DefaultTTSTimeout
	}
	fill(&v.Converter, DefaultConverter)
	if v.Conversion.Timeout <= 0 {
		v.Conversion.Timeout = DefaultConversionTimeout
	}
	if v.Enroll.MaxDuration <= 0 {
		v.Enroll.MaxDuration = DefaultMaxReference
	}

	fill(&cfg.Observe.ServiceName, DefaultServiceName)
}

func applyBackendDefaults(e *ProviderEntry, timeout time.Duration) {
	if d, ok := backendDefaults[e.Name]; ok {
		fill(&e.BaseURL, d.BaseURL)
		fill(&e.Model, d.Model)
		fill(&e.APIKey, d.APIKey)
	}
	if e.Timeout <= 0 {
		e.Timeout = timeout
	}
}

// ResolvedModelPath returns the whisper model file for the local STT settings.
func (c LocalSTTConfig) ResolvedModelPath() string {
	if c.ModelPath != "" {
		return c.ModelPath
	}
	return filepath.Join(c.ModelsDir, "ggml-"+c.ModelSize+".bin")
}

// ---- validation ----

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if p := cfg.Server.APIPrefix; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix %q must start with /", p))
	}

	// LLM
	if cfg.LLM.Primary.Name == "" && len(cfg.LLM.Models) == 0 {
		errs = append(errs, errors.New("llm: a primary provider or at least one model is required"))
	}
	validateProviderName("llm", cfg.LLM.Primary.Name)
	if cfg.LLM.Primary.Name == "openai" && cfg.LLM.Primary.APIKey == "" {
		slog.Warn("llm.primary is openai but no api key is set; every request will fall through to llm.models")
	}
	seen := make(map[string]int, len(cfg.LLM.Models))
	for i, m := range cfg.LLM.Models {
		prefix := fmt.Sprintf("llm.models[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", m.Name)
		if prev, ok := seen[m.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of llm.models[%d]", prefix, m.Label(), prev))
		}
		seen[m.Label()] = i
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", *t))
	}

	// STT
	if cfg.STT.Mode != "" && !cfg.STT.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("stt.mode %q is invalid; valid values: local, remote", cfg.STT.Mode))
	}
	if cfg.STT.Mode == STTRemote {
		if cfg.STT.Remote.Name == "" {
			errs = append(errs, errors.New("stt.remote.name is required when stt.mode is remote"))
		}
		validateProviderName("stt", cfg.STT.Remote.Name)
	}

	// TTS
	modes := map[voice.Mode]bool{}
	if m := voice.Mode(cfg.TTS.DefaultMode); cfg.TTS.DefaultMode != "" {
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("tts.default_mode %q is invalid; valid values: %s", m, modeList()))
		}
		modes[m] = true
	}
	for id, sp := range cfg.TTS.Speakers {
		if _, err := voice.Sanitize(id); err != nil {
			errs = append(errs, fmt.Errorf("tts.speakers[%q]: %w", id, err))
		}
		if sp.Mode == "" {
			continue
		}
		m := voice.Mode(sp.Mode)
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("tts.speakers[%q].mode %q is invalid; valid values: %s", id, m, modeList()))
		}
		modes[m] = true
	}
	if modes[voice.ModeRemoteFallback] && cfg.TTS.Remote.URL == "" {
		errs = append(errs, fmt.Errorf("tts.remote.url is required by mode %q", voice.ModeRemoteFallback))
	}
	if modes[voice.ModeGenerateConvert] {
		if cfg.TTS.Base.Name == "" {
			errs = append(errs, fmt.Errorf("tts.base.name is required by mode %q", voice.ModeGenerateConvert))
		}
		if cfg.TTS.Conversion.Command == "" {
			errs = append(errs, fmt.Errorf("tts.conversion.command is required by mode %q", voice.ModeGenerateConvert))
		}
	}
	validateProviderName("tts", cfg.TTS.Base.Name)
	validateProviderName("converter", cfg.TTS.Converter)

	// Storage
	if cfg.Storage.NATS.URL != "" && cfg.Storage.NATS.Bucket == "" {
		errs = append(errs, errors.New("storage.nats.bucket is required when storage.nats.url is set"))
	}
	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

func modeList() string {
	names := make([]string, len(voice.Modes))
	for i, m := range voice.Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

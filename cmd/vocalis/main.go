// Command vocalis is the main entry point for the vocalis voice assistant server.
//
// Usage:
//
//	vocalis [-config vocalis.yaml]
//	vocalis sanitize in.wav out.wav
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

	"github.com/MrWong99/vocalis/internal/app"
	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/textgen"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
	"github.com/MrWong99/vocalis/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/vocalis/pkg/provider/llm/gemini"
	"github.com/MrWong99/vocalis/pkg/provider/llm/openai"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/deepgram"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"github.com/MrWong99/vocalis/pkg/provider/tts/convert"
	"github.com/MrWong99/vocalis/pkg/provider/tts/coqui"
	geminitts "github.com/MrWong99/vocalis/pkg/provider/tts/gemini"
	"github.com/MrWong99/vocalis/pkg/provider/tts/google"
	"github.com/MrWong99/vocalis/pkg/provider/tts/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "sanitize" {
		os.Exit(sanitize(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "vocalis.yaml", "path to the YAML or TOML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalis: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat))

	slog.Info("vocalis starting",
		"app", cfg.Server.AppName,
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if cfg.Observe.Metrics {
		shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Observe.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Observe.TraceSampleRatio,
		})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Backends served by any-llm share one pattern: optional key and base URL.
	for _, name := range []string{"ollama", "anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			if name == "ollama" {
				return anyllm.NewOllama(entry.Model, opts...)
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithTimeout(entry.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai_compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.NewCompatible(entry.BaseURL, entry.APIKey, entry.Model, openai.WithTimeout(entry.Timeout))
	})

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []geminillm.Option{geminillm.WithTimeout(entry.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-server", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithTimeout(entry.Timeout)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		opts := []coqui.Option{coqui.WithTimeout(entry.Timeout)}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("worker", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		return worker.New(entry.BaseURL, worker.WithTimeout(entry.Timeout))
	})

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		opts := []geminitts.Option{geminitts.WithTimeout(entry.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, geminitts.WithVoice(v))
		}
		return geminitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("google", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var gcfg google.Config
		if err := config.DecodeOptions(entry.Options, &gcfg); err != nil {
			return nil, fmt.Errorf("google tts options: %w", err)
		}
		if gcfg.Voice == "" {
			gcfg.Voice = entry.Model
		}
		return google.New(ctx, gcfg)
	})

	// ── Conversion ────────────────────────────────────────────────────────────

	reg.RegisterConverter("command", func(cfg convert.Config) (tts.Converter, error) {
		return convert.New(cfg)
	})

	for _, kind := range []string{"llm", "stt", "tts", "converter"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── Text generation ───────────────────────────────────────────────────────
	if cfg.LLM.Primary.Name != "" {
		p, err := createLLM(reg, cfg.LLM.Primary, cfg.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Primary.Name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Primary.Label())
	}
	for _, entry := range cfg.LLM.Models {
		p, err := createLLM(reg, entry, cfg.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create llm model %q: %w", entry.Label(), err)
		}
		ps.Models = append(ps.Models, textgen.Model{Name: entry.Label(), Provider: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Label(), "role", "model")
	}

	// ── Speech recognition ────────────────────────────────────────────────────
	switch cfg.STT.Mode {
	case config.STTLocal:
		local := cfg.STT.Local
		ps.STTLoader = func(context.Context) (stt.Transcriber, error) {
			path := local.ResolvedModelPath()
			slog.Info("loading whisper model", "path", path)
			return whisper.NewNative(path, whisper.WithBeamSize(local.BeamSize), whisper.WithThreads(local.Threads))
		}
	case config.STTRemote:
		p, err := reg.CreateSTT(cfg.STT.Remote)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Remote.Name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", cfg.STT.Remote.Name)
	}

	// ── Voice synthesis ───────────────────────────────────────────────────────
	t := cfg.TTS
	if t.Local.URL != "" {
		p, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui", BaseURL: t.Local.URL, Timeout: t.Local.Timeout})
		if err != nil {
			return nil, fmt.Errorf("create local tts: %w", err)
		}
		ps.TTSLocal = p
	}
	if t.Remote.URL != "" {
		p, err := reg.CreateTTS(config.ProviderEntry{Name: "worker", BaseURL: t.Remote.URL, Timeout: t.Remote.Timeout})
		if err != nil {
			return nil, fmt.Errorf("create remote tts: %w", err)
		}
		ps.TTSRemote = p
	}
	if t.Base.Name != "" {
		p, err := reg.CreateTTS(t.Base)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("base voice provider not available; skipping", "name", t.Base.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create base tts %q: %w", t.Base.Name, err)
		} else {
			ps.TTSBase = p
			slog.Info("provider created", "kind", "tts", "name", t.Base.Label(), "role", "base")
		}
	}
	if t.Conversion.Command != "" {
		c, err := reg.CreateConverter(t.Converter, t.Conversion)
		if err != nil {
			return nil, fmt.Errorf("create converter %q: %w", t.Converter, err)
		}
		ps.Converter = c
	}

	return ps, nil
}

// createLLM builds one text-generation entry. A backend that lacks its API key
// is wired as an always-failing member, so requests fall through to the next
// entry instead of startup aborting.
func createLLM(reg *config.Registry, entry config.ProviderEntry, timeout time.Duration) (llm.Provider, error) {
	p, err := reg.CreateLLM(withTimeout(entry, timeout))
	if errors.Is(err, llm.ErrMissingCredential) {
		slog.Warn("llm provider has no credential; requests will fail over", "name", entry.Label(), "err", err)
		return llm.Unavailable(entry.Label(), err), nil
	}
	return p, err
}

// withTimeout fills the entry timeout from the section default.
func withTimeout(e config.ProviderEntry, d time.Duration) config.ProviderEntry {
	if e.Timeout == 0 {
		e.Timeout = d
	}
	return e
}

// ── Sanitize subcommand ───────────────────────────────────────────────────────

// sanitize cleans a reference recording the way enrollment does.
func sanitize(args []string) int {
	fs := flag.NewFlagSet("sanitize", flag.ContinueOnError)
	maxDur := fs.Duration("max", config.DefaultMaxReference, "maximum output duration")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: vocalis sanitize [-max 10s] in.wav out.wav")
		return 2
	}

	in, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		return 1
	}
	clip, err := audio.DecodeWAV(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalis: %s: %v\n", fs.Arg(0), err)
		return 1
	}
	out := audio.Sanitize(clip, audio.SanitizeOptions{MaxDuration: *maxDur})
	if err := os.WriteFile(fs.Arg(1), audio.EncodeWAV(out), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		return 1
	}
	fmt.Printf("%s: %s -> %s\n", fs.Arg(1), clip.Duration().Round(time.Millisecond), out.Duration().Round(time.Millisecond))
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
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
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

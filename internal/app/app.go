// Package app wires all vocalis subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is done, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithArtifactStore,
// WithClassifier, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalis/internal/api"
	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/assistant"
	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/emotion"
	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/internal/speech"
	"github.com/MrWong99/vocalis/internal/textgen"
	"github.com/MrWong99/vocalis/internal/voice"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// Providers holds the backends built by main.go via the config registry. Nil
// means the backend is not configured.
type Providers struct {
	// LLM is the primary text strategy; Models is the sticky secondary list.
	LLM    llm.Provider
	Models []textgen.Model

	// STT is the remote transcriber. STTLoader builds the local one on first
	// use; it wins when stt.mode is local.
	STT       stt.Transcriber
	STTLoader speech.Loader

	TTSLocal  tts.Synthesizer
	TTSRemote tts.Synthesizer
	TTSBase   tts.Synthesizer
	Converter tts.Converter
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	artifacts  artifact.Store
	speakers   *voice.Store
	synth      *voice.Router
	speech     *speech.Adapter
	text       *textgen.Router
	assistant  *assistant.Orchestrator
	api        *api.Server
	health     *health.Handler
	metrics    *observe.Metrics
	classifier emotion.Classifier
	srv        *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArtifactStore injects an artifact store instead of creating one from config.
func WithArtifactStore(s artifact.Store) Option {
	return func(a *App) { a.artifacts = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClassifier replaces the keyword emotion heuristic.
func WithClassifier(c emotion.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Voice synthesis ───────────────────────────────────────────────
	if err := a.initVoice(); err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}

	// ── 3. Speech recognition ────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 4. Text generation ───────────────────────────────────────────────
	if err := a.initText(); err != nil {
		return nil, fmt.Errorf("app: init text generation: %w", err)
	}

	// ── 5. Orchestrator + HTTP ───────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	// Backends that hold connections close after the server has drained.
	for _, p := range []any{providers.LLM, providers.STT, providers.TTSLocal, providers.TTSRemote, providers.TTSBase, providers.Converter} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage creates the data directories and the artifact store.
func (a *App) initStorage(ctx context.Context) error {
	st := a.cfg.Storage
	for _, dir := range []string{st.VoicesDir, st.UploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var sopts []voice.StoreOption
	if a.cfg.TTS.Enroll.Sanitize {
		sopts = append(sopts, voice.WithSanitize(audio.SanitizeOptions{MaxDuration: a.cfg.TTS.Enroll.MaxDuration}))
	}
	speakers, err := voice.NewStore(st.VoicesDir, sopts...)
	if err != nil {
		return err
	}
	a.speakers = speakers

	if a.artifacts != nil {
		return nil
	}
	if st.NATS.URL == "" {
		fs, err := artifact.NewFileStore(st.GeneratedDir)
		if err != nil {
			return err
		}
		a.artifacts = fs
		return nil
	}

	nc, err := nats.Connect(st.NATS.URL, nats.Name(a.cfg.Server.AppName))
	if err != nil {
		return fmt.Errorf("connect nats %q: %w", st.NATS.URL, err)
	}
	ns, err := artifact.NewNATSStore(ctx, nc, st.NATS.Bucket)
	if err != nil {
		nc.Close()
		return err
	}
	a.artifacts = ns
	a.closers = append(a.closers, nc.Drain)
	slog.Info("storing artifacts in nats", "url", st.NATS.URL, "bucket", st.NATS.Bucket)
	return nil
}

// initVoice builds the synthesis router from the configured engines.
func (a *App) initVoice() error {
	t := a.cfg.TTS
	opts := []voice.Option{
		voice.WithDefaultMode(voice.Mode(t.DefaultMode)),
		voice.WithLocalConcurrency(t.Local.MaxConcurrent),
		voice.WithCircuitBreaker(t.CircuitBreaker),
		voice.WithObserver(a.metrics.ProviderObserver(observe.KindTTS)),
	}
	for id, sp := range t.Speakers {
		opts = append(opts, voice.WithSpeaker(id, voice.SpeakerConfig{Mode: voice.Mode(sp.Mode), Reference: sp.Reference}))
	}
	if t.Remote.Sticky {
		opts = append(opts, voice.WithRemoteAffinity(&resilience.Affinity{}))
	}

	engines := voice.Engines{
		Local:     a.providers.TTSLocal,
		Remote:    a.providers.TTSRemote,
		Base:      a.providers.TTSBase,
		Converter: a.providers.Converter,
	}
	synth, err := voice.NewRouter(a.speakers, a.artifacts, engines, opts...)
	if err != nil {
		return err
	}
	a.synth = synth
	return nil
}

// initSpeech builds the recognition adapter for stt.mode. Without a backend
// voice turns fail with assistant.ErrNoTranscriber.
func (a *App) initSpeech() error {
	s := a.cfg.STT
	observer := speech.WithObserver(a.metrics.ProviderObserver(observe.KindSTT))
	var err error
	switch {
	case s.Mode == config.STTLocal && a.providers.STTLoader != nil:
		a.speech, err = speech.NewLocal("whisper-native", a.providers.STTLoader,
			speech.WithMaxConcurrent(s.Local.MaxConcurrent),
			speech.WithTimeout(s.Timeout),
			observer,
		)
	case s.Mode == config.STTRemote && a.providers.STT != nil:
		a.speech, err = speech.NewRemote(s.Remote.Name, a.providers.STT,
			speech.WithTimeout(s.Timeout),
			observer,
		)
	default:
		slog.Warn("speech recognition is not configured; voice turns will fail", "mode", s.Mode)
	}
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.closeSpeech)
	return nil
}

// closeSpeech releases the local whisper model if it was loaded.
func (a *App) closeSpeech() error {
	if a.speech == nil {
		return nil
	}
	return a.speech.Close()
}

// initText builds the text generation router.
func (a *App) initText() error {
	l := a.cfg.LLM
	opts := []textgen.Option{
		textgen.WithMaxTokens(l.MaxTokens),
		textgen.WithCircuitBreaker(l.CircuitBreaker),
		textgen.WithObserver(a.metrics.ProviderObserver(observe.KindLLM)),
	}
	if name := l.Primary.Label(); name != "" {
		opts = append(opts, textgen.WithPrimaryName(name))
	}
	if l.SystemPrompt != "" {
		opts = append(opts, textgen.WithSystemPrompt(l.SystemPrompt))
	}
	if l.Temperature != nil {
		opts = append(opts, textgen.WithTemperature(*l.Temperature))
	}
	text, err := textgen.New(a.providers.LLM, a.providers.Models, opts...)
	if err != nil {
		return err
	}
	a.text = text
	return nil
}

// initServer builds the orchestrator, health checks and HTTP server.
func (a *App) initServer() error {
	s := a.cfg.Server
	prefix := "/" + strings.Trim(s.APIPrefix, "/")

	aopts := []assistant.Option{
		assistant.WithSynthesizer(a.synth),
		assistant.WithAudioPrefix(prefix + "/voice/audio/"),
		assistant.WithMetrics(a.metrics),
	}
	if a.speech != nil {
		aopts = append(aopts, assistant.WithTranscriber(a.speech))
	}
	if a.classifier != nil {
		aopts = append(aopts, assistant.WithClassifier(a.classifier))
	}
	orch, err := assistant.New(a.text, aopts...)
	if err != nil {
		return err
	}
	a.assistant = orch

	checks := []health.Checker{
		health.DirWritable("voices", a.cfg.Storage.VoicesDir),
		health.DirWritable("uploads", a.cfg.Storage.UploadsDir),
		health.Ping("artifacts", a.artifacts),
	}
	a.health = health.New(checks...)

	var metricsHandler http.Handler
	if a.cfg.Observe.Metrics {
		metricsHandler = promhttp.Handler()
	}

	srv, err := api.New(orch, a.speakers, a.artifacts, api.Config{
		Prefix:         prefix,
		UploadsDir:     a.cfg.Storage.UploadsDir,
		CORSOrigins:    s.CORSAllowOrigins,
		MaxUploadBytes: s.MaxUploadBytes,
		Health:         a.health,
		MetricsHandler: metricsHandler,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.api = srv
	a.srv = &http.Server{
		Addr:              s.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Addr returns the address Run is listening on, or nil before Run started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// TextRouter exposes the text generation router, mainly for its affinity.
func (a *App) TextRouter() *textgen.Router { return a.text }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and blocks until ctx is cancelled or
// the listener fails. On cancellation the server is drained for at most
// server.shutdown_timeout and ctx's error is returned.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.srv.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(sctx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "prefix", a.cfg.Server.APIPrefix)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and runs the closers in init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

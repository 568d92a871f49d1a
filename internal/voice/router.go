package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// Mode selects how a speaker's audio is produced.
type Mode string

const (
	// ModeDirectClone clones the voice with the local engine from a fixed
	// reference recording.
	ModeDirectClone Mode = "direct-clone"

	// ModeRemoteFallback tries the remote clone worker and falls back to the
	// local engine.
	ModeRemoteFallback Mode = "remote-with-local-fallback"

	// ModeGenerateConvert speaks the text in a base voice and re-voices the
	// result with the converter.
	ModeGenerateConvert Mode = "generate-then-convert"

	// ModeEnrolledDefault clones from the enrolled reference with the local
	// engine.
	ModeEnrolledDefault Mode = "enrolled-default"
)

// Modes lists every known mode.
var Modes = []Mode{ModeDirectClone, ModeRemoteFallback, ModeGenerateConvert, ModeEnrolledDefault}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return slices.Contains(Modes, m)
}

// ErrEngineUnavailable is returned when the engine a mode needs is not
// configured.
var ErrEngineUnavailable = errors.New("voice: synthesis engine unavailable")

// Engine names used for logs and metrics.
const (
	EngineLocal     = "local"
	EngineRemote    = "remote"
	EngineBase      = "base"
	EngineConverter = "converter"
)

// SpeakerConfig overrides the routing of one speaker.
type SpeakerConfig struct {
	// Mode is the synthesis mode. Empty uses the router default.
	Mode Mode

	// Reference is a fixed reference recording. Empty uses the enrolled one.
	Reference string
}

// Engines are the synthesis backends a Router can use. Nil engines make the
// modes that need them fail with [ErrEngineUnavailable].
type Engines struct {
	Local     tts.Synthesizer
	Remote    tts.Synthesizer
	Base      tts.Synthesizer
	Converter tts.Converter
}

// Router implements voice synthesis for assistant turns.
type Router struct {
	store     *Store
	artifacts artifact.Store
	engines   Engines

	local    tts.Synthesizer
	remote   *resilience.FallbackGroup[tts.Synthesizer]
	speakers map[string]SpeakerConfig

	defaultMode      Mode
	localConcurrency int64
	affinity         *resilience.Affinity
	breakerCfg       resilience.CircuitBreakerConfig
	observer         resilience.Observer

	optErrs []error
}

// Option is a functional option for Router.
type Option func(*Router)

// WithSpeaker sets the routing of speaker id. id is sanitized; an id that
// cannot be sanitized makes NewRouter fail.
func WithSpeaker(id string, cfg SpeakerConfig) Option {
	return func(r *Router) {
		clean, err := Sanitize(id)
		if err != nil {
			r.optErrs = append(r.optErrs, fmt.Errorf("voice: speaker %q: %w", id, err))
			return
		}
		r.speakers[clean] = cfg
	}
}

// WithDefaultMode sets the mode of speakers without their own. Defaults to
// [ModeEnrolledDefault].
func WithDefaultMode(m Mode) Option {
	return func(r *Router) { r.defaultMode = m }
}

// WithLocalConcurrency bounds concurrent local synthesis. Defaults to 1.
func WithLocalConcurrency(n int64) Option {
	return func(r *Router) { r.localConcurrency = n }
}

// WithRemoteAffinity makes the remote-then-local chain sticky.
func WithRemoteAffinity(a *resilience.Affinity) Option {
	return func(r *Router) { r.affinity = a }
}

// WithCircuitBreaker sets the breaker template of the remote-then-local chain.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Router) { r.breakerCfg = cfg }
}

// WithObserver is called after every engine attempt.
func WithObserver(o resilience.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// NewRouter builds a Router over store and artifacts.
func NewRouter(store *Store, artifacts artifact.Store, engines Engines, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, errors.New("voice: store must not be nil")
	}
	if artifacts == nil {
		return nil, errors.New("voice: artifact store must not be nil")
	}
	r := &Router{
		store:            store,
		artifacts:        artifacts,
		engines:          engines,
		speakers:         make(map[string]SpeakerConfig),
		defaultMode:      ModeEnrolledDefault,
		localConcurrency: 1,
	}
	for _, o := range opts {
		o(r)
	}
	if err := errors.Join(r.optErrs...); err != nil {
		return nil, err
	}
	if !r.defaultMode.Valid() {
		return nil, fmt.Errorf("voice: unknown default mode %q", r.defaultMode)
	}
	for id, sc := range r.speakers {
		if sc.Mode != "" && !sc.Mode.Valid() {
			return nil, fmt.Errorf("voice: speaker %q: unknown mode %q", id, sc.Mode)
		}
	}
	if r.localConcurrency < 1 {
		r.localConcurrency = 1
	}
	if engines.Local != nil {
		r.local = &bounded{next: engines.Local, sem: semaphore.NewWeighted(r.localConcurrency)}
	}
	if engines.Remote != nil && r.local != nil {
		r.remote = resilience.NewFallbackGroup(engines.Remote, EngineRemote, resilience.FallbackConfig{
			CircuitBreaker: r.breakerCfg,
			Affinity:       r.affinity,
			Observer:       r.observer,
		})
		r.remote.AddFallback(EngineLocal, r.local)
	}
	return r, nil
}

// ModeFor returns the mode used for speakerID.
func (r *Router) ModeFor(speakerID string) Mode {
	clean, err := Sanitize(speakerID)
	if err != nil {
		return r.defaultMode
	}
	if sc, ok := r.speakers[clean]; ok && sc.Mode != "" {
		return sc.Mode
	}
	return r.defaultMode
}

// Synthesize speaks text in the voice of speakerID and stores the result as a
// new artifact.
//
// A missing reference is reported before any engine is consulted. Engine
// failures are provider faults; a failure to store the result is internal.
func (r *Router) Synthesize(ctx context.Context, text, speakerID, language string) (artifact.Artifact, error) {
	if text == "" {
		return artifact.Artifact{}, fault.Wrap(tts.ErrEmptyText, fault.KindInput)
	}
	speaker, err := Sanitize(speakerID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	mode := r.ModeFor(speaker)

	ref, err := r.reference(speaker, mode)
	if err != nil {
		return artifact.Artifact{}, err
	}
	req := tts.Request{Text: text, Language: language, ReferencePath: ref}

	var wav []byte
	switch mode {
	case ModeDirectClone, ModeEnrolledDefault:
		if r.local == nil {
			return artifact.Artifact{}, unavailable(mode, EngineLocal)
		}
		wav, err = r.attempt(ctx, EngineLocal, func(ctx context.Context) ([]byte, error) {
			return r.local.Synthesize(ctx, req)
		})
	case ModeRemoteFallback:
		if r.remote == nil {
			missing := EngineRemote
			if r.local == nil {
				missing = EngineLocal
			}
			return artifact.Artifact{}, unavailable(mode, missing)
		}
		wav, err = resilience.ExecuteWithResult(ctx, r.remote, func(ctx context.Context, s tts.Synthesizer) ([]byte, error) {
			return s.Synthesize(ctx, req)
		})
	case ModeGenerateConvert:
		wav, err = r.generateConvert(ctx, req)
	}
	if err != nil {
		return artifact.Artifact{}, fault.Wrap(fmt.Errorf("voice: synthesize %s (%s): %w", speaker, mode, err), fault.KindProvider)
	}

	a, err := r.artifacts.Put(ctx, artifact.NewName(speaker), wav)
	if err != nil {
		return artifact.Artifact{}, fault.Wrap(fmt.Errorf("voice: store artifact: %w", err), fault.KindInternal)
	}
	return a, nil
}

func (r *Router) reference(speaker string, mode Mode) (string, error) {
	if sc, ok := r.speakers[speaker]; ok && sc.Reference != "" && mode != ModeEnrolledDefault {
		if _, err := os.Stat(sc.Reference); err != nil {
			return "", fault.Wrap(fmt.Errorf("%w (%s)", ErrReferenceMissing, sc.Reference), fault.KindResourceMissing)
		}
		return sc.Reference, nil
	}
	return r.store.Reference(speaker)
}

func (r *Router) generateConvert(ctx context.Context, req tts.Request) ([]byte, error) {
	if r.engines.Base == nil {
		return nil, unavailable(ModeGenerateConvert, EngineBase)
	}
	if r.engines.Converter == nil {
		return nil, unavailable(ModeGenerateConvert, EngineConverter)
	}
	base, err := r.attempt(ctx, EngineBase, func(ctx context.Context) ([]byte, error) {
		return r.engines.Base.Synthesize(ctx, tts.Request{Text: req.Text, Language: req.Language})
	})
	if err != nil {
		return nil, fmt.Errorf("base voice: %w", err)
	}
	converted, err := r.attempt(ctx, EngineConverter, func(ctx context.Context) ([]byte, error) {
		return r.engines.Converter.Convert(ctx, base, req.ReferencePath)
	})
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	return converted, nil
}

// attempt runs a single engine call and reports it to the observer.
func (r *Router) attempt(ctx context.Context, engine string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	start := time.Now()
	out, err := fn(ctx)
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("%s returned no audio", engine)
	}
	if r.observer != nil && !errors.Is(err, context.Canceled) {
		r.observer(engine, time.Since(start), err)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("synthesis engine failed", "engine", engine, "error", err)
	}
	return out, err
}

func unavailable(mode Mode, engine string) error {
	return fault.Wrap(fmt.Errorf("%w: mode %s needs the %s engine", ErrEngineUnavailable, mode, engine), fault.KindProvider)
}

// bounded limits the number of concurrent calls into a local engine.
type bounded struct {
	next tts.Synthesizer
	sem  *semaphore.Weighted
}

func (b *bounded) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.next.Synthesize(ctx, req)
}

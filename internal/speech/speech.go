// Package speech turns an uploaded recording into user text.
//
// An [Adapter] runs in one of two mutually exclusive modes. In local mode the
// whisper model is loaded on first use, shared by every request and guarded by
// a concurrency bound. In remote mode a pre-built [stt.Transcriber] (a
// whisper-server or Deepgram client) handles every call.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/lazy"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Mode selects where transcription runs.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// DefaultLanguage is used when a request carries no language.
const DefaultLanguage = "ru"

// Loader builds the local transcriber. It runs at most once successfully.
type Loader func(ctx context.Context) (stt.Transcriber, error)

// Adapter implements speech recognition for assistant turns.
type Adapter struct {
	mode     Mode
	name     string
	local    *lazy.Value[stt.Transcriber]
	remote   stt.Transcriber
	sem      *semaphore.Weighted
	timeout  time.Duration
	observer resilience.Observer
}

// Option is a functional option for Adapter.
type Option func(*Adapter)

// WithMaxConcurrent bounds the number of concurrent local inferences.
// Defaults to 1. Ignored in remote mode.
func WithMaxConcurrent(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTimeout bounds each Transcribe call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithObserver registers a callback invoked after every transcription attempt.
func WithObserver(o resilience.Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// NewLocal returns an Adapter that loads its transcriber through load on the
// first request. A failed load is retried on the next request.
func NewLocal(name string, load Loader, opts ...Option) (*Adapter, error) {
	if load == nil {
		return nil, errors.New("speech: loader must not be nil")
	}
	a := &Adapter{
		mode:  ModeLocal,
		name:  name,
		local: lazy.New(func(ctx context.Context) (stt.Transcriber, error) { return load(ctx) }),
		sem:   semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// NewRemote returns an Adapter that forwards every call to t.
func NewRemote(name string, t stt.Transcriber, opts ...Option) (*Adapter, error) {
	if t == nil {
		return nil, errors.New("speech: transcriber must not be nil")
	}
	a := &Adapter{mode: ModeRemote, name: name, remote: t}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Mode reports the adapter's mode.
func (a *Adapter) Mode() Mode { return a.mode }

// Name reports the backend name used for metrics and logs.
func (a *Adapter) Name() string { return a.name }

// Loaded reports whether the local model has been loaded. Always true in
// remote mode.
func (a *Adapter) Loaded() bool {
	if a.mode == ModeRemote {
		return true
	}
	return a.local.Loaded()
}

// Close releases the transcriber if it holds resources, such as a loaded
// local model. The Adapter must not be used afterwards.
func (a *Adapter) Close() error {
	t := a.remote
	if a.mode == ModeLocal {
		var ok bool
		if t, ok = a.local.Peek(); !ok {
			return nil
		}
	}
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Transcribe returns the text spoken in the file at path. Every failure is
// classified as a provider fault; a blank result is [stt.ErrNotRecognized].
func (a *Adapter) Transcribe(ctx context.Context, path, language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := a.transcribe(ctx, path, language)
	if err == nil && strings.TrimSpace(text) == "" {
		err = stt.ErrNotRecognized
	}
	if a.observer != nil && !errors.Is(err, context.Canceled) {
		a.observer(a.name, time.Since(start), err)
	}
	if err != nil {
		return "", fault.Wrap(fmt.Errorf("speech: transcribe: %w", err), fault.KindProvider)
	}
	return strings.TrimSpace(text), nil
}

func (a *Adapter) transcribe(ctx context.Context, path, language string) (string, error) {
	if a.mode == ModeRemote {
		return a.remote.Transcribe(ctx, path, language)
	}

	t, err := a.local.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load local model: %w", err)
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		// The slot is held until inference really ends, even when the caller
		// has gone away.
		defer a.sem.Release(1)
		text, err := t.Transcribe(ctx, path, language)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Package textgen routes a chat turn across text-generation backends.
//
// A [Router] tries a primary strategy first. When it fails for any reason
// (transport error, non-2xx status, malformed or blank answer, missing key) the
// request falls through to an ordered list of named models. The model list is
// sticky: the model that last answered is tried first on the next request and
// forgotten as soon as it fails.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// Defaults applied by New.
const (
	DefaultSystemPrompt = "Ты голосовой AI-ассистент. Отвечай кратко, полезно и дружелюбно."
	DefaultTemperature  = 0.7
	DefaultPrimaryName  = "primary"
)

// ErrEmptyPrompt is returned when Generate is called without user text.
var ErrEmptyPrompt = errors.New("textgen: prompt must not be empty")

// Model is one named entry of the secondary strategy.
type Model struct {
	Name     string
	Provider llm.Provider
}

// Fragment is one element of a streamed reply.
type Fragment struct {
	// Text is a piece of the reply.
	Text string

	// Restart reports that the provider producing the reply failed mid-stream
	// and generation restarts on the next provider. Text received so far must
	// be discarded.
	Restart bool

	// Err is set on the final fragment when every provider failed.
	Err error
}

// Router implements text generation with primary-then-sticky-list failover.
type Router struct {
	primary     llm.Provider
	primaryName string
	primaryCB   *resilience.CircuitBreaker
	models      *resilience.FallbackGroup[llm.Provider]

	affinity     *resilience.Affinity
	breakerCfg   resilience.CircuitBreakerConfig
	observer     resilience.Observer
	systemPrompt string
	temperature  float64
	maxTokens    int
}

// Option is a functional option for Router.
type Option func(*Router)

// WithAffinity injects the cell that remembers the last successful model.
// Tests use it to pre-seed or inspect stickiness; by default each Router owns
// a fresh cell.
func WithAffinity(a *resilience.Affinity) Option {
	return func(r *Router) { r.affinity = a }
}

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(r *Router) { r.systemPrompt = p }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(r *Router) { r.temperature = t }
}

// WithMaxTokens caps completion length. Zero leaves it to the backend.
func WithMaxTokens(n int) Option {
	return func(r *Router) { r.maxTokens = n }
}

// WithCircuitBreaker sets the breaker template used for the primary and every
// model.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Router) { r.breakerCfg = cfg }
}

// WithObserver is called after every provider attempt.
func WithObserver(o resilience.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithPrimaryName sets the name the primary strategy is logged under.
func WithPrimaryName(name string) Option {
	return func(r *Router) { r.primaryName = name }
}

// New builds a Router. primary may be nil when only the model list is used;
// at least one of primary and models is required.
func New(primary llm.Provider, models []Model, opts ...Option) (*Router, error) {
	if primary == nil && len(models) == 0 {
		return nil, errors.New("textgen: at least one provider is required")
	}
	r := &Router{
		primary:      primary,
		primaryName:  DefaultPrimaryName,
		systemPrompt: DefaultSystemPrompt,
		temperature:  DefaultTemperature,
	}
	for _, o := range opts {
		o(r)
	}
	if r.affinity == nil {
		r.affinity = &resilience.Affinity{}
	}
	if primary != nil {
		cb := r.breakerCfg
		cb.Name = r.primaryName
		r.primaryCB = resilience.NewCircuitBreaker(cb)
	}
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m.Name == "" || m.Provider == nil {
			return nil, fmt.Errorf("textgen: model %d: name and provider are required", i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("textgen: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if r.models == nil {
			r.models = resilience.NewFallbackGroup(m.Provider, m.Name, resilience.FallbackConfig{
				CircuitBreaker: r.breakerCfg,
				Affinity:       r.affinity,
				Observer:       r.observer,
			})
			continue
		}
		r.models.AddFallback(m.Name, m.Provider)
	}
	return r, nil
}

// Affinity returns the cell holding the last successful model name.
func (r *Router) Affinity() *resilience.Affinity { return r.affinity }

// request assembles the completion request: system prompt, then history, then
// the user prompt.
func (r *Router) request(prompt string, history []llm.Message) llm.CompletionRequest {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
	return llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: r.systemPrompt,
		Temperature:  llm.Float(r.temperature),
		MaxTokens:    r.maxTokens,
	}
}

// Generate returns the full reply to prompt.
func (r *Router) Generate(ctx context.Context, prompt string, history []llm.Message) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fault.Wrap(ErrEmptyPrompt, fault.KindInput)
	}
	req := r.request(prompt, history)

	complete := func(ctx context.Context, p llm.Provider) (string, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", llm.ErrEmptyCompletion
		}
		return strings.TrimSpace(resp.Content), nil
	}

	var primaryErr error
	if r.primary != nil {
		var text string
		primaryErr = r.runPrimary(ctx, func(ctx context.Context) error {
			var err error
			text, err = complete(ctx, r.primary)
			return err
		})
		if primaryErr == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if r.models == nil {
		return "", exhausted(primaryErr)
	}
	text, err := resilience.ExecuteWithResult(ctx, r.models, complete)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", exhausted(err)
	}
	return text, nil
}

// GenerateStream streams the reply to prompt. The channel is closed after the
// last fragment; a terminal failure arrives as a Fragment with Err set. The
// goroutine feeding the channel exits when ctx is cancelled.
func (r *Router) GenerateStream(ctx context.Context, prompt string, history []llm.Message) (<-chan Fragment, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fault.Wrap(ErrEmptyPrompt, fault.KindInput)
	}
	req := r.request(prompt, history)

	out := make(chan Fragment)
	go func() {
		defer close(out)

		send := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := func(ctx context.Context, p llm.Provider) error {
			chunks, err := p.StreamCompletion(ctx, req)
			if err != nil {
				return err
			}
			got := false
			var trim trimmer
			var streamErr error
			for c := range chunks {
				if c.FinishReason == llm.FinishError {
					streamErr = errors.New(c.Text)
					break
				}
				text := trim.next(c.Text)
				if text == "" {
					continue
				}
				got = true
				if !send(Fragment{Text: text}) {
					return ctx.Err()
				}
			}
			if streamErr == nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if streamErr == nil && !got {
				return llm.ErrEmptyCompletion
			}
			if streamErr != nil && got {
				slog.Warn("stream failed after partial output, restarting", "error", streamErr)
				if !send(Fragment{Restart: true}) {
					return ctx.Err()
				}
			}
			return streamErr
		}

		var primaryErr error
		if r.primary != nil {
			primaryErr = r.runPrimary(ctx, func(ctx context.Context) error {
				return stream(ctx, r.primary)
			})
			if primaryErr == nil || ctx.Err() != nil {
				return
			}
		}

		if r.models == nil {
			send(Fragment{Err: exhausted(primaryErr)})
			return
		}
		if err := r.models.Execute(ctx, stream); err != nil && ctx.Err() == nil {
			send(Fragment{Err: exhausted(err)})
		}
	}()
	return out, nil
}

// trimmer applies the atomic reply's TrimSpace to a fragment stream: leading
// whitespace is dropped and a trailing whitespace run is held back until more
// text follows it, so it never reaches the end of the stream.
type trimmer struct {
	started bool
	pending string
}

// next returns the part of frag that can be emitted now.
func (t *trimmer) next(frag string) string {
	if !t.started {
		frag = strings.TrimLeftFunc(frag, unicode.IsSpace)
		if frag == "" {
			return ""
		}
		t.started = true
	}
	body := strings.TrimRightFunc(frag, unicode.IsSpace)
	if body == "" {
		t.pending += frag
		return ""
	}
	out := t.pending + body
	t.pending = frag[len(body):]
	return out
}

func (r *Router) runPrimary(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	err := r.primaryCB.Execute(ctx, fn)
	if r.observer != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		r.observer(r.primaryName, time.Since(start), err)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("primary strategy failed, trying model list",
			"provider", r.primaryName, "error", err)
	}
	return err
}

// exhausted marks err as the terminal provider failure of a request.
func exhausted(err error) error {
	if !errors.Is(err, resilience.ErrAllFailed) {
		err = fmt.Errorf("%w: %w", resilience.ErrAllFailed, err)
	}
	return fault.Wrap(fmt.Errorf("textgen: %w", err), fault.KindProvider)
}

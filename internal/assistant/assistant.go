// Package assistant runs one assistant turn: optional speech recognition, text
// generation, emotion tagging and optional cloned-voice synthesis.
//
// [Orchestrator.Turn] returns the whole result at once. [Orchestrator.Stream]
// pushes the same turn as an ordered sequence of [Event] values so clients can
// render text before the audio exists.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/emotion"
	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/textgen"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// DefaultLanguage applies when a request carries no language.
const DefaultLanguage = "ru"

// DefaultAudioPrefix is the route prefix artifacts are served under.
const DefaultAudioPrefix = "/api/v1/voice/audio/"

// ErrNoTranscriber is returned for audio turns when speech recognition is not
// configured.
var ErrNoTranscriber = errors.New("assistant: speech recognition is not configured")

// Transcriber turns a recording into text. *speech.Adapter implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
}

// Generator produces the reply text. *textgen.Router implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []llm.Message) (string, error)
	GenerateStream(ctx context.Context, prompt string, history []llm.Message) (<-chan textgen.Fragment, error)
}

// Synthesizer speaks the reply. *voice.Router implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, speakerID, language string) (artifact.Artifact, error)
}

// Request is one assistant turn.
type Request struct {
	// Text is the user message. Ignored when AudioPath is set.
	Text string

	// AudioPath points to a recording of the user message.
	AudioPath string

	// SpeakerID selects the cloned voice. Empty disables synthesis.
	SpeakerID string

	Language      string
	GenerateAudio bool

	// History is the prior conversation, oldest first.
	History []llm.Message
}

func (r Request) mode() string {
	if r.AudioPath != "" {
		return "voice"
	}
	return "chat"
}

func (r Request) wantsAudio() bool {
	return r.GenerateAudio && r.SpeakerID != ""
}

// Result is the outcome of a turn.
type Result struct {
	UserText      string          `json:"user_text"`
	AssistantText string          `json:"assistant_text"`
	Emotion       emotion.Emotion `json:"emotion"`
	AudioURL      *string         `json:"audio_url"`
}

// Orchestrator runs assistant turns. It is safe for concurrent use.
type Orchestrator struct {
	gen        Generator
	stt        Transcriber
	voice      Synthesizer
	classifier emotion.Classifier
	audioURL   func(name string) string
	metrics    *observe.Metrics
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithTranscriber enables audio turns.
func WithTranscriber(t Transcriber) Option {
	return func(o *Orchestrator) { o.stt = t }
}

// WithSynthesizer enables spoken replies.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *Orchestrator) { o.voice = s }
}

// WithClassifier replaces the default [emotion.Heuristic].
func WithClassifier(c emotion.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithAudioPrefix sets the URL prefix artifact names are appended to.
func WithAudioPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		o.audioURL = func(name string) string { return prefix + name }
	}
}

// WithMetrics records turn metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator that generates replies with gen.
func New(gen Generator, opts ...Option) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("assistant: generator must not be nil")
	}
	o := &Orchestrator{
		gen:        gen,
		classifier: emotion.Heuristic{},
	}
	WithAudioPrefix(DefaultAudioPrefix)(o)
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Turn runs a complete turn. A synthesis failure never fails the turn; the
// result then has a nil AudioURL.
func (o *Orchestrator) Turn(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	ctx, end := observe.StartStage(ctx, observe.StageTurn, observe.Attr("mode", req.mode()))
	defer func() {
		end(err)
		o.metrics.RecordTurn(ctx, req.mode(), status(err), time.Since(start))
	}()

	language := languageOf(req)
	userText, err := o.userText(ctx, req, language)
	if err != nil {
		return Result{}, o.classify(ctx, err)
	}
	gctx, endGen := observe.StartStage(ctx, observe.StageGenerate)
	reply, err := o.gen.Generate(gctx, userText, req.History)
	endGen(err)
	if err != nil {
		return Result{}, o.classify(ctx, err)
	}

	res = Result{
		UserText:      userText,
		AssistantText: reply,
		Emotion:       o.classifier.Detect(userText, reply),
	}
	if req.wantsAudio() {
		res.AudioURL = o.speak(ctx, reply, req.SpeakerID, language)
	}
	return res, nil
}

// userText resolves the user message, transcribing audio when present.
func (o *Orchestrator) userText(ctx context.Context, req Request, language string) (string, error) {
	if req.AudioPath == "" {
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return "", fault.Input("text must not be empty")
		}
		return text, nil
	}
	if o.stt == nil {
		return "", fault.Wrap(ErrNoTranscriber, fault.KindProvider)
	}
	ctx, end := observe.StartStage(ctx, observe.StageTranscribe)
	text, err := o.stt.Transcribe(ctx, req.AudioPath, language)
	end(err)
	return text, err
}

// speak synthesizes text and returns its URL, or nil on failure.
func (o *Orchestrator) speak(ctx context.Context, text, speakerID, language string) *string {
	if o.voice == nil {
		return nil
	}
	sctx, end := observe.StartStage(ctx, observe.StageSynthesize, observe.Attr("speaker_id", speakerID))
	a, err := o.voice.Synthesize(sctx, text, speakerID, language)
	end(err)
	if err != nil {
		observe.Logger(ctx).Warn("audio synthesis failed, replying without audio",
			"speaker_id", speakerID, "error", err)
		return nil
	}
	url := o.audioURL(a.Name)
	return &url
}

// classify makes sure err carries a kind. Unclassified errors are internal and
// logged here.
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if fault.KindOf(err) == fault.KindInternal {
		observe.Logger(ctx).Error("assistant turn failed", "error", err)
		return fault.Wrap(fmt.Errorf("assistant: %w", err), fault.KindInternal)
	}
	return err
}

func languageOf(req Request) string {
	if req.Language == "" {
		return DefaultLanguage
	}
	return req.Language
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return string(fault.KindOf(err))
}

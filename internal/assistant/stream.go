package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/observe"
)

// EventType identifies a streamed event.
type EventType string

const (
	// EventText carries a piece of the reply.
	EventText EventType = "text"

	// EventReset tells the client to discard the text received so far; the
	// reply restarts on another provider.
	EventReset EventType = "reset"

	// EventEmotion carries the emotion of the finished reply.
	EventEmotion EventType = "emotion"

	// EventAudio carries the URL of the spoken reply.
	EventAudio EventType = "audio"

	// EventError carries a failure message. It ends the stream unless it
	// reports a synthesis failure, which is followed by EventDone.
	EventError EventType = "error"

	// EventDone ends a successful stream.
	EventDone EventType = "done"
)

// Event is one element of a streamed turn.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Public messages of streamed failures.
const (
	MsgSynthesisFailed = "Audio synthesis failed"
	MsgInternal        = "Internal server error"
)

// Stream runs a turn and pushes its events on the returned channel:
//
//	text*  (reset text*)*  emotion  [audio | error]  done
//
// Any failure before the emotion is a single error event instead. Exactly one
// terminal event (done or error) is sent unless ctx is cancelled first. The
// channel is unbuffered and closed after the terminal event; the producing
// goroutine exits promptly when ctx is cancelled.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		start := time.Now()
		em := &emitter{ctx: ctx, out: out, metrics: o.metrics}
		o.metrics.ActiveStreams.Add(ctx, 1)
		defer func() {
			if r := recover(); r != nil {
				observe.Logger(ctx).Error("stream panicked", "panic", r)
				em.fail(fault.Wrap(fmt.Errorf("assistant: panic: %v", r), fault.KindInternal))
			}
			st := em.status
			if st == "" {
				st = "cancelled"
			}
			o.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
			o.metrics.RecordTurn(context.WithoutCancel(ctx), "stream", st, time.Since(start))
		}()

		o.stream(ctx, req, em)
	}()
	return out
}

func (o *Orchestrator) stream(ctx context.Context, req Request, em *emitter) {
	language := languageOf(req)
	userText, err := o.userText(ctx, req, language)
	if err != nil {
		em.fail(o.classify(ctx, err))
		return
	}

	frags, err := o.gen.GenerateStream(ctx, userText, req.History)
	if err != nil {
		em.fail(o.classify(ctx, err))
		return
	}
	var reply strings.Builder
	for f := range frags {
		switch {
		case f.Err != nil:
			em.fail(o.classify(ctx, f.Err))
			return
		case f.Restart:
			reply.Reset()
			if !em.send(Event{Type: EventReset}) {
				return
			}
		default:
			reply.WriteString(f.Text)
			if !em.send(Event{Type: EventText, Content: f.Text}) {
				return
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	text := strings.TrimSpace(reply.String())
	if !em.send(Event{Type: EventEmotion, Content: string(o.classifier.Detect(userText, text))}) {
		return
	}

	if req.wantsAudio() && o.voice != nil {
		if url := o.speak(ctx, text, req.SpeakerID, language); url != nil {
			if !em.send(Event{Type: EventAudio, Content: *url}) {
				return
			}
		} else if !em.send(Event{Type: EventError, Content: MsgSynthesisFailed}) {
			return
		}
	}
	em.finish(Event{Type: EventDone})
}

// emitter writes events for one stream and guarantees at most one terminal
// event.
type emitter struct {
	ctx     context.Context
	out     chan<- Event
	metrics *observe.Metrics

	once   sync.Once
	closed bool
	status string
}

// send delivers ev unless the stream is finished or ctx is done.
func (e *emitter) send(ev Event) bool {
	if e.closed {
		return false
	}
	select {
	case e.out <- ev:
		e.metrics.RecordStreamEvent(e.ctx, string(ev.Type))
		return true
	case <-e.ctx.Done():
		e.status = "cancelled"
		return false
	}
}

// finish sends the terminal event once.
func (e *emitter) finish(ev Event) {
	e.once.Do(func() {
		if e.status == "" {
			e.status = "ok"
		}
		e.send(ev)
		e.closed = true
	})
}

// fail sends err as the terminal error event.
func (e *emitter) fail(err error) {
	msg := err.Error()
	if fault.KindOf(err) == fault.KindInternal {
		msg = MsgInternal
	}
	if e.ctx.Err() != nil {
		e.status = "cancelled"
	} else {
		e.status = string(fault.KindOf(err))
	}
	e.finish(Event{Type: EventError, Content: msg})
}

// Package emotion tags an assistant reply with the mood a voice frontend
// should render it in.
package emotion

import "strings"

// Emotion is a mood label sent to clients.
type Emotion string

const (
	Neutral    Emotion = "neutral"
	Thinking   Emotion = "thinking"
	Happy      Emotion = "happy"
	Empathetic Emotion = "empathetic"
	Surprised  Emotion = "surprised"
	Sad        Emotion = "sad"
)

// Classifier derives an emotion from one exchange.
type Classifier interface {
	Detect(userText, assistantText string) Emotion
}

// Func adapts a plain function to Classifier.
type Func func(userText, assistantText string) Emotion

// Detect implements Classifier.
func (f Func) Detect(userText, assistantText string) Emotion { return f(userText, assistantText) }

// Heuristic is a keyword classifier tuned for Russian conversation.
type Heuristic struct{}

var _ Classifier = Heuristic{}

type rule struct {
	emotion  Emotion
	keywords []string
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{Thinking, []string{"почему", "как", "зачем", "когда"}},
	{Happy, []string{"отлично", "супер", "класс", "рад", "спасибо"}},
	{Empathetic, []string{"груст", "плохо", "устал", "больно", "тревог"}},
	{Surprised, []string{"вау", "неожидан", "серьезно", "ого"}},
	{Sad, []string{"прости", "жаль", "сожалею"}},
}

// Detect implements Classifier. A question mark in the user text always
// means Thinking. Keywords match as substrings, so stems like "груст" cover
// every inflection.
func (Heuristic) Detect(userText, assistantText string) Emotion {
	if strings.Contains(userText, "?") {
		return Thinking
	}
	text := strings.ToLower(userText + " " + assistantText)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.emotion
			}
		}
	}
	return Neutral
}

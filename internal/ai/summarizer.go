package ai

import (
	"context"
	"errors"
	"strings"
)

// SummaryPrompt is the system instruction sent with every slide.
const SummaryPrompt = "Summarize slide text into short spoken narration."

// ErrNoCredentials is reported when a summarizer is configured without an API key.
var ErrNoCredentials = errors.New("summarizer: no credentials configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Summarizer condenses one slide's text into a narration line.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Narration is the text that will be spoken for a slide. Fallback records why
// the raw text was used instead of a summary; it is never a job failure.
type Narration struct {
	Text       string
	Summarized bool
	Fallback   error
}

// Narrate asks s for a summary of raw and falls back to raw on any failure.
func Narrate(ctx context.Context, s Summarizer, raw string) Narration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Narration{}
	}
	if s == nil {
		return Narration{Text: raw, Fallback: ErrNoCredentials}
	}

	out, err := s.Summarize(ctx, raw)
	if err != nil {
		return Narration{Text: raw, Fallback: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Narration{Text: raw, Fallback: errors.New("summarizer: empty reply")}
	}
	return Narration{Text: out, Summarized: true}
}

func summaryMessages(text string) []Message {
	return []Message{
		{Role: "system", Content: SummaryPrompt},
		{Role: "user", Content: text},
	}
}

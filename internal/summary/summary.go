package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/chatexport/internal/transcript"
)

// Summarizer asks an OpenAI-compatible endpoint for a short abstract of the
// captured conversation, stored in the archive metadata. Entirely optional:
// a failure here is a warning on the export, never a fatal error.
type Summarizer struct {
	Client *openai.Client
	Model  string
	// MaxChars bounds how much transcript text is sent.
	MaxChars int
}

// New builds a summarizer against an OpenAI-compatible server. An empty
// base URL means the public default.
func New(baseURL, apiKey, model string) *Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Summarizer{Client: openai.NewClientWithConfig(cfg), Model: model}
}

// ErrEmptySummary indicates the model answered with no usable text.
var ErrEmptySummary = errors.New("model returned an empty summary")

const systemPrompt = "You summarize chat transcripts. Respond with at most three plain sentences describing what the conversation covers. No preamble, no markdown."

// Summarize returns a short abstract of the transcript.
func (s *Summarizer) Summarize(ctx context.Context, t *transcript.Transcript) (string, error) {
	if s.Client == nil || strings.TrimSpace(s.Model) == "" {
		return "", errors.New("summarizer not configured")
	}
	req := openai.ChatCompletionRequest{
		Model: s.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: s.digest(t)},
		},
		Temperature: 0.2,
	}
	resp, err := s.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySummary
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptySummary
	}
	return out, nil
}

// digest flattens the transcript into a bounded prompt body. Long messages
// are clipped rather than dropped so both ends of the conversation stay
// represented.
func (s *Summarizer) digest(t *transcript.Transcript) string {
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	const perMessage = 400
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(t.Metadata.Title)
	b.WriteString("\n\n")
	for _, m := range t.Messages {
		if b.Len() >= maxChars {
			break
		}
		text := m.Content
		if len(text) > perMessage {
			text = text[:perMessage] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Transcript is the export contract. Field names are bit-exact: external
// viewers parse this shape, so renaming any key is a breaking change.
type Transcript struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

type Metadata struct {
	ConversationID   string     `json:"conversationId"`
	Title            string     `json:"title"`
	ExtractedAt      string     `json:"extractedAt"`
	URL              string     `json:"url"`
	MessageCount     int        `json:"messageCount"`
	ImageCount       int        `json:"imageCount"`
	ExtractionErrors []string   `json:"extractionErrors"`
	PartialSuccess   bool       `json:"partialSuccess"`
	ScrollInfo       ScrollInfo `json:"scrollInfo"`
	// Summary is an optional model-written abstract; absent unless the
	// operator enabled summarization and it succeeded.
	Summary string `json:"summary,omitempty"`
}

type ScrollInfo struct {
	MessagesLoaded int `json:"messagesLoaded"`
	ScrollAttempts int `json:"scrollAttempts"`
}

type Message struct {
	Index       int          `json:"index"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Thinking    string       `json:"thinking"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	OriginalSrc string `json:"originalSrc"`
	Error       string `json:"error,omitempty"`
}

// Validate checks the assembled transcript against its structural
// invariants and returns one message per violation. Violations are recorded
// as diagnostics rather than aborting the export.
func Validate(t *Transcript) []string {
	var issues []string
	if t.Metadata.MessageCount != len(t.Messages) {
		issues = append(issues, fmt.Sprintf("messageCount %d does not match %d messages", t.Metadata.MessageCount, len(t.Messages)))
	}
	for i, m := range t.Messages {
		if m.Index != i {
			issues = append(issues, fmt.Sprintf("message %d: index %d breaks contiguous document order", i, m.Index))
		}
		if m.Role != "user" && m.Role != "assistant" {
			issues = append(issues, fmt.Sprintf("message %d: unknown role %q", i, m.Role))
		}
		if m.Role == "user" && m.Thinking != "" {
			issues = append(issues, fmt.Sprintf("message %d: thinking on a user message", i))
		}
		for j, a := range m.Attachments {
			if a.Type != "image" {
				issues = append(issues, fmt.Sprintf("message %d attachment %d: unknown type %q", i, j, a.Type))
			}
			if a.Filename != "" && a.Error != "" {
				issues = append(issues, fmt.Sprintf("message %d attachment %d: carries both filename and error", i, j))
			}
		}
	}
	return issues
}

// ImageFile is one fetched attachment body destined for the archive.
type ImageFile struct {
	Name string
	Body []byte
}

// WriteArchive lays the portable archive out as a directory: the transcript
// JSON at the top and fetched images under images/. Zip packaging is the
// trigger UI's job, not ours.
func WriteArchive(dir string, t *Transcript, imgs []ImageFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(filepath.Join(dir, "transcript.json"), b, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if len(imgs) == 0 {
		return nil
	}
	imgDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	for _, f := range imgs {
		if err := os.WriteFile(filepath.Join(imgDir, filepath.Base(f.Name)), f.Body, 0o644); err != nil {
			return fmt.Errorf("write image %s: %w", f.Name, err)
		}
	}
	return nil
}

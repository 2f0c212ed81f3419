package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sample() *Transcript {
	return &Transcript{
		Metadata: Metadata{
			ConversationID:   "abc-123",
			Title:            "Trip planning",
			ExtractedAt:      "2025-06-01T10:00:00Z",
			URL:              "https://chat.example.com/c/abc-123",
			MessageCount:     2,
			ImageCount:       1,
			ExtractionErrors: []string{},
			PartialSuccess:   false,
			ScrollInfo:       ScrollInfo{MessagesLoaded: 2, ScrollAttempts: 3},
		},
		Messages: []Message{
			{Index: 0, Role: "user", Content: "Hello", Attachments: []Attachment{}},
			{Index: 1, Role: "assistant", Content: "Hi", Thinking: "greeting",
				Attachments: []Attachment{{Type: "image", Filename: "image_001.png", OriginalSrc: "https://cdn.example.com/a.png"}}},
		},
	}
}

func TestMarshal_FieldNamesAreContractExact(t *testing.T) {
	b, err := json.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, key := range []string{
		`"metadata"`, `"conversationId"`, `"title"`, `"extractedAt"`, `"url"`,
		`"messageCount"`, `"imageCount"`, `"extractionErrors"`, `"partialSuccess"`,
		`"scrollInfo"`, `"messagesLoaded"`, `"scrollAttempts"`,
		`"messages"`, `"index"`, `"role"`, `"content"`, `"thinking"`,
		`"attachments"`, `"type"`, `"filename"`, `"originalSrc"`,
	} {
		if !strings.Contains(s, key) {
			t.Fatalf("contract key %s missing from %s", key, s)
		}
	}
	if strings.Contains(s, `"error"`) {
		t.Fatalf("error key must be omitted when empty")
	}
	if strings.Contains(s, `"summary"`) {
		t.Fatalf("summary key must be omitted when empty")
	}
	if strings.Contains(s, `"extractionErrors":null`) {
		t.Fatalf("extractionErrors must marshal as an array")
	}
}

func TestValidate_CleanTranscript(t *testing.T) {
	if issues := Validate(sample()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestValidate_FlagsViolations(t *testing.T) {
	tr := sample()
	tr.Messages[1].Index = 5
	tr.Messages[0].Role = "system"
	tr.Messages[1].Attachments[0].Error = "boom"
	tr.Metadata.MessageCount = 9

	issues := Validate(tr)
	if len(issues) != 4 {
		t.Fatalf("expected 4 issues, got %d: %v", len(issues), issues)
	}
	joined := strings.Join(issues, "; ")
	for _, want := range []string{"contiguous", "unknown role", "both filename and error", "messageCount"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected issue mentioning %q in %q", want, joined)
		}
	}
}

func TestWriteArchive_LaysOutDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	imgs := []ImageFile{{Name: "image_001.png", Body: []byte{1, 2, 3}}}
	if err := WriteArchive(dir, sample(), imgs); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "transcript.json"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var back Transcript
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Metadata.ConversationID != "abc-123" || len(back.Messages) != 2 {
		t.Fatalf("unexpected round-tripped transcript: %+v", back)
	}
	img, err := os.ReadFile(filepath.Join(dir, "images", "image_001.png"))
	if err != nil || len(img) != 3 {
		t.Fatalf("expected image file, err=%v", err)
	}
}

func TestWriteArchive_NoImagesNoImagesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := WriteArchive(dir, sample(), nil); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images")); !os.IsNotExist(err) {
		t.Fatalf("images dir must not exist without images, err=%v", err)
	}
}

func TestWritePDF_ProducesFile(t *testing.T) {
	tr := sample()
	tr.Messages[1].Content = "Use this:\n\n```go\nfmt.Println(1)\n```"
	out := filepath.Join(t.TempDir(), "transcript.pdf")
	if err := WritePDF(tr, out); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty pdf, err=%v", err)
	}
}

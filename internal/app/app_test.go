package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/chatexport/internal/dom"
	"github.com/hyperifyio/chatexport/internal/domtest"
	"github.com/hyperifyio/chatexport/internal/selectors"
	"github.com/hyperifyio/chatexport/internal/transcript"
)

const conversationHTML = `<main>
  <div data-turn-id="t1">
    <div data-message-author-role="user"><p>Hello</p></div>
    <div data-message-author-role="assistant">
      <p>Hi there</p>
      <img src="data:image/png;base64,AAAA">
    </div>
  </div>
</main>`

func newOrchestrator(t *testing.T, page dom.Page) *Orchestrator {
	t.Helper()
	reg := selectors.Default()
	compiled, err := reg.Compile()
	if err != nil {
		t.Fatalf("compile registry: %v", err)
	}
	return &Orchestrator{
		Page: page,
		Reg:  reg,
		Sel:  compiled,
		Cfg: Config{
			URL:                 "https://chat.example.com/c/abc-123",
			ScrollSettle:        time.Millisecond,
			IndicatorWait:       time.Millisecond,
			MaxScrollIterations: 5,
		},
	}
}

func readyPage() *domtest.FakePage {
	reg := selectors.Default()
	return &domtest.FakePage{
		URL:      "https://chat.example.com/c/abc-123",
		DocTitle: "Fallback title",
		HTML:     conversationHTML,
		Counts: map[string]int{
			reg.ScrollRegion:  1,
			reg.TurnContainer: 1,
		},
	}
}

func TestExtract_SuccessPath(t *testing.T) {
	page := readyPage()
	resp := newOrchestrator(t, page).Extract(context.Background())

	if !resp.Success || resp.Error != "" {
		t.Fatalf("expected success, got %+v", resp)
	}
	data := resp.Data
	if data.Metadata.ConversationID != "abc-123" {
		t.Fatalf("conversation id from URL path expected, got %q", data.Metadata.ConversationID)
	}
	if data.Metadata.MessageCount != 2 || len(data.Messages) != 2 {
		t.Fatalf("expected two messages, got %+v", data.Metadata)
	}
	if data.Messages[0].Role != "user" || data.Messages[1].Role != "assistant" {
		t.Fatalf("role order wrong: %+v", data.Messages)
	}
	if data.Metadata.ImageCount != 1 || len(resp.Images) != 1 || resp.Images[0].Name != "image_001.png" {
		t.Fatalf("inline image should resolve without a fetcher: %+v", resp.Images)
	}
	if got := data.Messages[1].Attachments[0].Filename; got != "image_001.png" {
		t.Fatalf("attachment filename = %q", got)
	}
	if data.Metadata.PartialSuccess || len(data.Metadata.ExtractionErrors) != 0 {
		t.Fatalf("clean run must not be partial: %+v", data.Metadata)
	}
	if data.Metadata.ScrollInfo.ScrollAttempts == 0 {
		t.Fatalf("scroll attempts should be recorded")
	}
	if page.ProgressCleared == 0 {
		t.Fatalf("progress overlay must be cleared")
	}
}

func TestExtract_BusyHostFailsClosed(t *testing.T) {
	page := readyPage()
	page.VisibleSeq = map[string][]bool{selectors.Default().BusyIndicator: {true}}

	resp := newOrchestrator(t, page).Extract(context.Background())
	if resp.Success || resp.Error != ErrHostBusy.Error() {
		t.Fatalf("expected busy failure, got %+v", resp)
	}
	if resp.Data != nil {
		t.Fatalf("no transcript on fail-closed paths")
	}
	if page.ProgressCleared == 0 {
		t.Fatalf("progress overlay must be cleared on failure too")
	}
}

func TestExtract_NoStructureFailsClosed(t *testing.T) {
	page := readyPage()
	page.HTML = `<main><p>nothing recognizable</p></main>`

	resp := newOrchestrator(t, page).Extract(context.Background())
	if resp.Success || resp.Error != ErrNoConversation.Error() {
		t.Fatalf("expected no-structure failure, got %+v", resp)
	}
}

func TestExtract_FailedImageIsPartialNotFatal(t *testing.T) {
	page := readyPage()
	page.HTML = strings.Replace(conversationHTML,
		`data:image/png;base64,AAAA`, `https://cdn.example.com/x.png`, 1)
	page.Resources = map[string]dom.Resource{
		"https://cdn.example.com/x.png": {Status: 404},
	}

	resp := newOrchestrator(t, page).Extract(context.Background())
	if !resp.Success {
		t.Fatalf("image failure must not fail the export: %+v", resp)
	}
	data := resp.Data
	if !data.Metadata.PartialSuccess || data.Metadata.ImageCount != 0 {
		t.Fatalf("expected partial success with zero images, got %+v", data.Metadata)
	}
	a := data.Messages[1].Attachments[0]
	if a.Filename != "" || !strings.Contains(a.Error, "404") {
		t.Fatalf("attachment must carry the failure reason: %+v", a)
	}
	if len(data.Metadata.ExtractionErrors) == 0 {
		t.Fatalf("failure must be listed in extractionErrors")
	}
	if len(resp.Images) != 0 {
		t.Fatalf("no bodies for failed fetches")
	}
}

func TestExtract_PanicBecomesErrorResponse(t *testing.T) {
	page := readyPage()
	o := newOrchestrator(t, page)
	o.Expand = func(ctx context.Context) error { panic("boom") }

	resp := o.Extract(context.Background())
	if resp.Success || !strings.Contains(resp.Error, "internal error") {
		t.Fatalf("panic must fold into an error response, got %+v", resp)
	}
}

func TestExtract_SummaryOutcomes(t *testing.T) {
	page := readyPage()
	o := newOrchestrator(t, page)
	o.Summarize = func(ctx context.Context, tr *transcript.Transcript) (string, error) {
		return "Two people greet each other.", nil
	}
	resp := o.Extract(context.Background())
	if !resp.Success || resp.Data.Metadata.Summary != "Two people greet each other." {
		t.Fatalf("summary not recorded: %+v", resp.Data.Metadata)
	}

	page = readyPage()
	o = newOrchestrator(t, page)
	o.Summarize = func(ctx context.Context, tr *transcript.Transcript) (string, error) {
		return "", errors.New("model offline")
	}
	resp = o.Extract(context.Background())
	if !resp.Success {
		t.Fatalf("summary failure must stay non-fatal: %+v", resp)
	}
	md := resp.Data.Metadata
	if !md.PartialSuccess || md.Summary != "" {
		t.Fatalf("expected partial with no summary, got %+v", md)
	}
	found := false
	for _, e := range md.ExtractionErrors {
		if strings.Contains(e, "summary unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("summary failure must be listed: %v", md.ExtractionErrors)
	}
}

func TestConversationID_Fallback(t *testing.T) {
	if got := conversationID("https://chat.example.com/c/abc-123"); got != "abc-123" {
		t.Fatalf("path segment expected, got %q", got)
	}
	if got := conversationID("https://chat.example.com/"); got == "" {
		t.Fatalf("fallback id must never be empty")
	}
	if a, b := conversationID(""), conversationID(""); a == b {
		t.Fatalf("fallback ids must be unique")
	}
}

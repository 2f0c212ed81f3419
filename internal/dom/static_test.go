package dom

import (
	"context"
	"strings"
	"testing"
)

const snapshot = `<!doctype html>
<html><head><title> Saved chat </title></head>
<body>
  <main class="conversation">
    <div class="turn">one</div>
    <div class="turn">two</div>
  </main>
</body></html>`

func newSnapshot(t *testing.T) *StaticPage {
	t.Helper()
	p, err := NewStaticPage("https://chat.example.com/c/abc", snapshot)
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	return p
}

func TestStaticPage_CountAndTitle(t *testing.T) {
	p := newSnapshot(t)
	ctx := context.Background()

	n, err := p.Count(ctx, ".turn")
	if err != nil || n != 2 {
		t.Fatalf("Count(.turn) = %d, %v", n, err)
	}
	title, err := p.Title(ctx)
	if err != nil || title != "Saved chat" {
		t.Fatalf("Title = %q, %v", title, err)
	}
}

func TestStaticPage_OuterHTMLFallsBackToDocument(t *testing.T) {
	p := newSnapshot(t)
	ctx := context.Background()

	sub, err := p.OuterHTML(ctx, "main.conversation")
	if err != nil || !strings.Contains(sub, "two") || strings.Contains(sub, "<title>") {
		t.Fatalf("subtree render wrong: %q, %v", sub, err)
	}
	whole, err := p.OuterHTML(ctx, ".missing")
	if err != nil || !strings.Contains(whole, "<title>") {
		t.Fatalf("expected whole document fallback, got %q, %v", whole, err)
	}
}

func TestStaticPage_ScrollSemantics(t *testing.T) {
	p := newSnapshot(t)
	ctx := context.Background()

	if _, err := p.ScrollTop(ctx, ".missing"); err != ErrNoNode {
		t.Fatalf("expected ErrNoNode, got %v", err)
	}
	pos, err := p.ScrollTop(ctx, "main.conversation")
	if err != nil || pos != 0 {
		t.Fatalf("expected offset 0, got %v, %v", pos, err)
	}

	sub, err := p.Subscribe(ctx, "main.conversation")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n, err := sub.Take(ctx); err != nil || n != 0 {
		t.Fatalf("static page must never report mutations: %d, %v", n, err)
	}
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStaticPage_RemoteFetchUnavailable(t *testing.T) {
	p := newSnapshot(t)
	if _, err := p.FetchResource(context.Background(), "https://cdn.example.com/a.png"); err == nil {
		t.Fatalf("expected error for remote fetch in snapshot mode")
	}
}

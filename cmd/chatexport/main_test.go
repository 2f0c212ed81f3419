package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperifyio/chatexport/internal/transcript"
)

const snapshotHTML = `<!doctype html>
<html><head><title>Saved chat</title></head>
<body><main>
  <div data-turn-id="t1">
    <div data-message-author-role="user"><p>Hello</p></div>
    <div data-message-author-role="assistant"><p>Hi there</p>
      <img src="data:image/png;base64,AAAA"></div>
  </div>
</main></body></html>`

func writeSnapshot(t *testing.T, html string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.html")
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestRun_SnapshotInput(t *testing.T) {
	opt := options{inputPath: writeSnapshot(t, snapshotHTML)}
	opt.cfg.URL = "https://chat.example.com/c/abc-123"
	opt.cfg.OutDir = filepath.Join(t.TempDir(), "out")
	opt.cfg.PDF = true

	if err := run(opt); err != nil {
		t.Fatalf("run: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(opt.cfg.OutDir, "transcript.json"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var tr transcript.Transcript
	if err := json.Unmarshal(b, &tr); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if tr.Metadata.MessageCount != 2 || tr.Metadata.Title != "Saved chat" {
		t.Fatalf("unexpected transcript: %+v", tr.Metadata)
	}
	// A snapshot cannot be scrolled, so the archive must be flagged partial.
	if !tr.Metadata.PartialSuccess {
		t.Fatalf("snapshot export should be partial: %+v", tr.Metadata)
	}
	if tr.Metadata.ImageCount != 1 {
		t.Fatalf("inline image should survive snapshot mode: %+v", tr.Metadata)
	}
	if _, err := os.Stat(filepath.Join(opt.cfg.OutDir, "images", "image_001.png")); err != nil {
		t.Fatalf("image file missing: %v", err)
	}
	if info, err := os.Stat(filepath.Join(opt.cfg.OutDir, "transcript.pdf")); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty pdf, err=%v", err)
	}
}

func TestRun_SnapshotWithoutStructureFails(t *testing.T) {
	opt := options{inputPath: writeSnapshot(t, `<html><body><p>nothing</p></body></html>`)}
	opt.cfg.URL = "https://chat.example.com/c/x"
	opt.cfg.OutDir = filepath.Join(t.TempDir(), "out")

	if err := run(opt); err == nil {
		t.Fatalf("expected failure when no conversation structure matches")
	}
	if _, err := os.Stat(filepath.Join(opt.cfg.OutDir, "transcript.json")); !os.IsNotExist(err) {
		t.Fatalf("no archive on fail-closed paths, err=%v", err)
	}
}

func TestRun_MissingSnapshotFileFails(t *testing.T) {
	opt := options{inputPath: filepath.Join(t.TempDir(), "nope.html")}
	opt.cfg.OutDir = t.TempDir()
	if err := run(opt); err == nil {
		t.Fatalf("expected error for missing snapshot file")
	}
}

package app

import "time"

// Config holds runtime configuration for one export.
type Config struct {
	// URL is the conversation page address, recorded in the archive and
	// used for the conversation-id fallback.
	URL string
	// OutDir is where transcript.json and images/ are written.
	OutDir string
	// SelectorsPath optionally overrides the built-in selector registry.
	SelectorsPath string

	// Scroll loading
	ScrollStep          float64
	ScrollSettle        time.Duration
	IndicatorWait       time.Duration
	MaxScrollIterations int

	// Images
	ImageBatch int

	// PDF enables the printable rendition next to transcript.json.
	PDF bool

	// Summary (optional; empty model disables it)
	SummaryBaseURL string
	SummaryModel   string
	SummaryAPIKey  string

	Verbose bool
}

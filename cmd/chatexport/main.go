package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatexport/internal/app"
	"github.com/hyperifyio/chatexport/internal/browser"
	"github.com/hyperifyio/chatexport/internal/dom"
	"github.com/hyperifyio/chatexport/internal/selectors"
	"github.com/hyperifyio/chatexport/internal/summary"
	"github.com/hyperifyio/chatexport/internal/transcript"
)

// options selects where the document comes from and what to do with the
// result; app.Config carries the pipeline knobs.
type options struct {
	cfg app.Config

	remoteWS    string
	userDataDir string
	inputPath   string
}

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var opt options

	flag.StringVar(&opt.cfg.URL, "url", "", "Conversation page URL")
	flag.StringVar(&opt.remoteWS, "browser.remote", os.Getenv("CHATEXPORT_REMOTE"), "DevTools websocket URL of a running browser (chrome --remote-debugging-port)")
	flag.StringVar(&opt.userDataDir, "browser.userDataDir", "", "Profile directory for the headless browser (carries authentication)")
	flag.StringVar(&opt.inputPath, "input", "", "Path to a saved HTML snapshot; skips the browser entirely")
	flag.StringVar(&opt.cfg.OutDir, "out", "chatexport-out", "Directory to write the archive into")
	flag.StringVar(&opt.cfg.SelectorsPath, "selectors", os.Getenv("CHATEXPORT_SELECTORS"), "YAML file overriding the built-in selector registry")
	flag.Float64Var(&opt.cfg.ScrollStep, "scroll.step", 1500, "Pixels per backward scroll pass")
	flag.DurationVar(&opt.cfg.ScrollSettle, "scroll.settle", 400*time.Millisecond, "Wait after each scroll pass")
	flag.DurationVar(&opt.cfg.IndicatorWait, "scroll.indicatorWait", 5*time.Second, "Cap on waiting for the loading indicator per pass")
	flag.IntVar(&opt.cfg.MaxScrollIterations, "scroll.maxIterations", 60, "Ceiling on scroll passes; hitting it is a warning, not an error")
	flag.IntVar(&opt.cfg.ImageBatch, "images.batch", 4, "Concurrent image fetches per batch")
	flag.BoolVar(&opt.cfg.PDF, "pdf", false, "Also write a printable transcript.pdf")
	flag.StringVar(&opt.cfg.SummaryBaseURL, "summary.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL for the optional summary")
	flag.StringVar(&opt.cfg.SummaryModel, "summary.model", os.Getenv("LLM_MODEL"), "Model name for the optional summary (empty disables)")
	flag.StringVar(&opt.cfg.SummaryAPIKey, "summary.key", os.Getenv("LLM_API_KEY"), "API key for the summary endpoint")
	flag.BoolVar(&opt.cfg.Verbose, "v", false, "Verbose logging")
	flag.Parse()

	if opt.cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if opt.cfg.URL == "" && opt.inputPath == "" {
		log.Error().Msg("either -url or -input is required")
		os.Exit(2)
	}

	if err := run(opt); err != nil {
		log.Error().Err(err).Msg("export failed")
		// Exit code policy: fail-closed conditions (busy host, no structure,
		// unreachable browser) exit 2; a partial archive still exits 0.
		os.Exit(2)
	}
}

func run(opt options) error {
	ctx := context.Background()

	reg, err := selectors.Load(opt.cfg.SelectorsPath)
	if err != nil {
		return fmt.Errorf("load selectors: %w", err)
	}
	compiled, err := reg.Compile()
	if err != nil {
		return fmt.Errorf("compile selectors: %w", err)
	}

	page, cleanup, err := openPage(ctx, opt)
	if err != nil {
		return err
	}
	defer cleanup()

	o := &app.Orchestrator{Page: page, Reg: reg, Sel: compiled, Cfg: opt.cfg}
	if opt.cfg.SummaryModel != "" {
		s := summary.New(opt.cfg.SummaryBaseURL, opt.cfg.SummaryAPIKey, opt.cfg.SummaryModel)
		o.Summarize = s.Summarize
	}

	resp := o.Extract(ctx)
	if !resp.Success {
		return errors.New(resp.Error)
	}
	for _, w := range resp.Warnings {
		log.Warn().Msg(w)
	}

	if err := transcript.WriteArchive(opt.cfg.OutDir, resp.Data, resp.Images); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if opt.cfg.PDF {
		if err := transcript.WritePDF(resp.Data, filepath.Join(opt.cfg.OutDir, "transcript.pdf")); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}

	log.Info().
		Str("dir", opt.cfg.OutDir).
		Int("messages", resp.Data.Metadata.MessageCount).
		Int("images", resp.Data.Metadata.ImageCount).
		Bool("partial", resp.Data.Metadata.PartialSuccess).
		Msg("archive written")
	return nil
}

// openPage builds the document source: a saved snapshot, a remote browser,
// or a headless one we launch ourselves.
func openPage(ctx context.Context, opt options) (dom.Page, func(), error) {
	if opt.inputPath != "" {
		b, err := os.ReadFile(opt.inputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read snapshot: %w", err)
		}
		p, err := dom.NewStaticPage(opt.cfg.URL, string(b))
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}

	var (
		sess *browser.Session
		err  error
	)
	if opt.remoteWS != "" {
		sess, err = browser.NewRemote(ctx, opt.remoteWS)
	} else {
		sess, err = browser.NewHeadless(ctx, "", opt.userDataDir)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Navigate(ctx, opt.cfg.URL); err != nil {
		sess.Close()
		return nil, nil, fmt.Errorf("navigate: %w", err)
	}
	return sess, sess.Close, nil
}

// Package app orchestrates one conversation export end to end: precondition
// checks, history loading, turn extraction, image resolution, and transcript
// assembly.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatexport/internal/dom"
	"github.com/hyperifyio/chatexport/internal/extract"
	"github.com/hyperifyio/chatexport/internal/images"
	"github.com/hyperifyio/chatexport/internal/scroll"
	"github.com/hyperifyio/chatexport/internal/selectors"
	"github.com/hyperifyio/chatexport/internal/transcript"
)

// ErrHostBusy is returned when the host is still generating a response.
// Extracting mid-generation would archive a half-written turn, so this is
// fail-closed: the operator retries once generation finishes.
var ErrHostBusy = errors.New("a response is still being generated; retry when it finishes")

// ErrNoConversation is returned when no conversation structure matched at
// all. An empty transcript would silently mask selector drift, so this too
// is fail-closed.
var ErrNoConversation = errors.New("no conversation structure found on the page")

// Response is the terminal result of one export attempt. Exactly one of
// Data or Error is meaningful.
type Response struct {
	Success  bool
	Data     *transcript.Transcript
	Images   []transcript.ImageFile
	Warnings []string
	Error    string
}

// Orchestrator wires the pipeline stages over one page.
type Orchestrator struct {
	Page dom.Page
	Reg  selectors.Registry
	Sel  *selectors.Compiled
	Cfg  Config

	// Expand reveals collapsed reasoning sections before the snapshot.
	// Nil gets the default click-the-toggles behavior. Best effort: its
	// error degrades to a warning.
	Expand func(ctx context.Context) error

	// Summarize, when non-nil, produces the optional abstract stored in
	// the metadata. Its failure is a warning, never fatal.
	Summarize func(ctx context.Context, t *transcript.Transcript) (string, error)
}

// Extract runs the pipeline. Every outcome, including a panic in a stage, is
// folded into a single Response; the progress overlay is removed on every
// exit path. Nothing here retries: the operator decides whether to rerun.
func (o *Orchestrator) Extract(ctx context.Context) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("extraction panicked")
			resp = Response{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	defer func() {
		if err := o.Page.ClearProgress(context.WithoutCancel(ctx)); err != nil {
			log.Debug().Err(err).Msg("progress overlay removal failed")
		}
	}()

	busy, err := o.Page.Visible(ctx, o.Reg.BusyIndicator)
	if err == nil && busy {
		return Response{Error: ErrHostBusy.Error()}
	}

	var warnings []string

	loader := &scroll.Loader{
		Page: o.Page,
		Cfg: scroll.Config{
			ScrollRegion:     o.Reg.ScrollRegion,
			LoadingIndicator: o.Reg.LoadingIndicator,
			TurnContainer:    o.Reg.TurnContainer,
			Step:             o.Cfg.ScrollStep,
			SettleDelay:      o.Cfg.ScrollSettle,
			IndicatorWait:    o.Cfg.IndicatorWait,
			MaxIterations:    o.Cfg.MaxScrollIterations,
		},
		Progress: o.progress(ctx),
	}
	loaded, err := loader.Run(ctx)
	if err != nil {
		return Response{Error: fmt.Sprintf("history loading failed: %v", err)}
	}
	if loaded.Advisory != "" {
		warnings = append(warnings, loaded.Advisory)
	}

	if err := o.expand(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("could not expand reasoning sections: %v", err))
		log.Warn().Err(err).Msg("reasoning expansion failed")
	}

	o.show(ctx, "Extracting conversation")
	snapshot, err := o.Page.OuterHTML(ctx, o.Reg.ConversationRoot)
	if err != nil {
		return Response{Error: fmt.Sprintf("snapshot failed: %v", err)}
	}
	ex := &extract.Extractor{Sel: o.Sel}
	turns, err := ex.FromSnapshot(snapshot)
	if err != nil {
		if errors.Is(err, extract.ErrNoStructure) {
			return Response{Error: ErrNoConversation.Error()}
		}
		return Response{Error: fmt.Sprintf("extraction failed: %v", err)}
	}

	title := ex.Title(snapshot)
	if title == "" {
		if t, terr := o.Page.Title(ctx); terr == nil {
			title = t
		}
	}

	pageURL := o.Cfg.URL
	if u, uerr := o.Page.Location(ctx); uerr == nil && u != "" {
		pageURL = u
	}

	var refs []images.Ref
	for _, t := range turns {
		for _, a := range t.Attachments {
			refs = append(refs, images.Ref{Source: a.Source, TurnIndex: a.TurnIndex})
		}
	}
	resolver := &images.Resolver{Fetch: o.Page, BatchSize: o.Cfg.ImageBatch, Progress: o.progress(ctx)}
	outcomes := resolver.Resolve(ctx, refs)

	data, files := o.assemble(pageURL, title, turns, outcomes, loaded, warnings)

	if o.Summarize != nil {
		o.show(ctx, "Summarizing")
		if s, serr := o.Summarize(ctx, data); serr != nil {
			data.Metadata.PartialSuccess = true
			data.Metadata.ExtractionErrors = append(data.Metadata.ExtractionErrors,
				fmt.Sprintf("summary unavailable: %v", serr))
			log.Warn().Err(serr).Msg("summary failed")
		} else {
			data.Metadata.Summary = s
		}
	}

	return Response{Success: true, Data: data, Images: files, Warnings: data.Metadata.ExtractionErrors}
}

// assemble folds turns and image outcomes into the transcript contract.
// Outcomes are aligned 1:1 with discovered references, so walking turns and
// outcomes in lockstep reattaches each result to its owning message.
func (o *Orchestrator) assemble(pageURL, title string, turns []extract.Turn, outcomes []images.Outcome, loaded scroll.Outcome, warnings []string) (*transcript.Transcript, []transcript.ImageFile) {
	msgs := make([]transcript.Message, 0, len(turns))
	var files []transcript.ImageFile
	imageCount := 0
	next := 0
	for _, t := range turns {
		m := transcript.Message{
			Index:       t.Index,
			Role:        string(t.Role),
			Content:     t.Content,
			Thinking:    t.Reasoning,
			Attachments: []transcript.Attachment{},
		}
		for range t.Attachments {
			out := outcomes[next]
			next++
			a := transcript.Attachment{Type: "image", OriginalSrc: out.Source}
			if out.Failed() {
				a.Error = out.Err
			} else {
				a.Filename = out.Filename
				files = append(files, transcript.ImageFile{Name: out.Filename, Body: out.Body})
				imageCount++
			}
			m.Attachments = append(m.Attachments, a)
		}
		msgs = append(msgs, m)
	}

	errs := append([]string{}, warnings...)
	for _, out := range outcomes {
		if out.Failed() {
			errs = append(errs, fmt.Sprintf("image %s: %s", clipLocator(out.Source), out.Err))
		}
	}

	data := &transcript.Transcript{
		Metadata: transcript.Metadata{
			ConversationID:   conversationID(pageURL),
			Title:            title,
			ExtractedAt:      time.Now().UTC().Format(time.RFC3339),
			URL:              pageURL,
			MessageCount:     len(msgs),
			ImageCount:       imageCount,
			ExtractionErrors: errs,
			ScrollInfo: transcript.ScrollInfo{
				MessagesLoaded: loaded.TurnsVisible,
				ScrollAttempts: loaded.Iterations,
			},
		},
		Messages: msgs,
	}
	if issues := transcript.Validate(data); len(issues) > 0 {
		data.Metadata.ExtractionErrors = append(data.Metadata.ExtractionErrors, issues...)
		log.Warn().Strs("issues", issues).Msg("transcript validation flagged issues")
	}
	data.Metadata.PartialSuccess = len(data.Metadata.ExtractionErrors) > 0 || !loaded.Completed
	return data, files
}

// expand clicks every reasoning toggle, then waits for the resulting DOM
// churn to land before the snapshot is taken.
func (o *Orchestrator) expand(ctx context.Context) error {
	if o.Expand != nil {
		return o.Expand(ctx)
	}
	n, err := o.Page.ClickAll(ctx, o.Reg.ReasoningToggle)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug().Int("toggles", n).Msg("expanded reasoning sections")
		settle := o.Cfg.ScrollSettle
		if settle <= 0 {
			settle = 400 * time.Millisecond
		}
		t := time.NewTimer(settle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) progress(ctx context.Context) func(string) {
	return func(text string) { o.show(ctx, text) }
}

func (o *Orchestrator) show(ctx context.Context, text string) {
	if err := o.Page.ShowProgress(ctx, text); err != nil {
		log.Debug().Err(err).Msg("progress overlay update failed")
	}
}

// conversationID takes the last non-empty URL path segment, which is how the
// host addresses individual conversations. Anything unusable falls back to a
// fresh UUID so the archive always has a stable identifier.
func conversationID(pageURL string) string {
	if u, err := url.Parse(pageURL); err == nil {
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segs[len(segs)-1]; last != "" && last != "c" {
			return last
		}
	}
	return uuid.NewString()
}

func clipLocator(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

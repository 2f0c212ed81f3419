package scroll

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatexport/internal/dom"
)

// Outcome reports how history loading went. It is diagnostic only: turn
// extraction proceeds against whatever is rendered regardless of it.
type Outcome struct {
	// Completed is true when the loader reached start-of-history and the
	// document went structurally quiet.
	Completed bool
	// TurnsVisible estimates how many turn containers are rendered after
	// loading. Unreliable under virtualization; diagnostic only.
	TurnsVisible int
	// Iterations is the number of scroll passes performed.
	Iterations int
	// Advisory carries a non-fatal note when loading stopped early.
	Advisory string
}

// Config bounds one loading run.
type Config struct {
	// ScrollRegion, LoadingIndicator and TurnContainer are registry
	// locators evaluated inside the page.
	ScrollRegion     string
	LoadingIndicator string
	TurnContainer    string

	// Step is how far the offset is decreased per iteration, in pixels.
	Step float64
	// SettleDelay is the fixed wait after each synthetic scroll event.
	SettleDelay time.Duration
	// IndicatorWait caps how long one iteration waits for the loading
	// indicator to vanish.
	IndicatorWait time.Duration
	// PollInterval paces indicator polling.
	PollInterval time.Duration
	// MaxIterations is the iteration ceiling; hitting it is advisory,
	// not fatal.
	MaxIterations int
}

func (c Config) withDefaults() Config {
	if c.Step <= 0 {
		c.Step = 1500
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 400 * time.Millisecond
	}
	if c.IndicatorWait <= 0 {
		c.IndicatorWait = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 150 * time.Millisecond
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 60
	}
	return c
}

// Loader drives the host's scrollable region backward through history until
// confident no earlier content remains.
//
// Rendered element count is useless as a completion signal here: the host
// recycles its nodes, so the count can stay constant while content changes
// entirely. The loader instead watches structural mutations under the scroll
// region's subtree and requires two consecutive quiet, motionless rounds at
// start-of-history before declaring completion.
type Loader struct {
	Page dom.Page
	Cfg  Config
	// Progress receives best-effort status strings; may be nil. Its
	// failure or absence never affects the outcome.
	Progress func(string)
}

// Run performs the loading loop. The mutation subscription taken at the
// start is released on every exit path. A missing scroll region is a soft
// failure: the outcome is incomplete with an advisory, not an error.
func (l *Loader) Run(ctx context.Context) (out Outcome, err error) {
	cfg := l.Cfg.withDefaults()

	count, cerr := l.Page.Count(ctx, cfg.ScrollRegion)
	if cerr != nil || count == 0 {
		out.Advisory = "no scrollable region matched role scrollRegion; extracting currently rendered content only"
		log.Warn().Str("selector", cfg.ScrollRegion).Msg("scroll region not found")
		return out, nil
	}

	sub, serr := l.Page.Subscribe(ctx, cfg.ScrollRegion)
	if serr != nil {
		out.Advisory = fmt.Sprintf("mutation observation unavailable: %v; extracting currently rendered content only", serr)
		log.Warn().Err(serr).Msg("mutation subscribe failed")
		return out, nil
	}
	defer func() {
		if cerr := sub.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn().Err(cerr).Msg("mutation subscription close failed")
		}
	}()

	quiet := 0
	for out.Iterations < cfg.MaxIterations {
		pos, err := l.Page.ScrollTop(ctx, cfg.ScrollRegion)
		if err != nil {
			return out, fmt.Errorf("read scroll offset: %w", err)
		}
		target := pos - cfg.Step
		if target < 0 {
			target = 0
		}
		if err := l.Page.SetScrollTop(ctx, cfg.ScrollRegion, target); err != nil {
			return out, fmt.Errorf("move scroll offset: %w", err)
		}
		// Mutating the offset alone does not reliably reach reactive host
		// listeners; a synthetic event does.
		if err := l.Page.DispatchScroll(ctx, cfg.ScrollRegion); err != nil {
			return out, fmt.Errorf("dispatch scroll event: %w", err)
		}
		if err := sleep(ctx, cfg.SettleDelay); err != nil {
			return out, err
		}
		if err := l.awaitIndicator(ctx, cfg); err != nil {
			return out, err
		}

		muts, err := sub.Take(ctx)
		if err != nil {
			return out, fmt.Errorf("read mutation count: %w", err)
		}
		newPos, err := l.Page.ScrollTop(ctx, cfg.ScrollRegion)
		if err != nil {
			return out, fmt.Errorf("re-read scroll offset: %w", err)
		}

		out.Iterations++
		l.report("Loading history (pass %d)", out.Iterations)
		log.Debug().Int("pass", out.Iterations).Float64("offset", newPos).Int("mutations", muts).Msg("scroll pass")

		if muts > 0 || newPos != pos {
			// Node churn counts as activity even when the rendered count
			// is net zero: insert+remove is how virtualization looks.
			quiet = 0
			continue
		}
		quiet++
		if quiet >= 2 && newPos <= 0 {
			out.Completed = true
			break
		}
	}

	if !out.Completed {
		out.Advisory = fmt.Sprintf("scroll iteration ceiling (%d) reached before history settled", cfg.MaxIterations)
		log.Warn().Int("ceiling", cfg.MaxIterations).Msg("scroll stopped at iteration ceiling")
	}
	if n, err := l.Page.Count(ctx, cfg.TurnContainer); err == nil {
		out.TurnsVisible = n
	}
	return out, nil
}

// awaitIndicator polls the loading indicator until it vanishes or the wait
// ceiling elapses. The indicator is best-effort: lookup errors and a stuck
// indicator both just end the wait.
func (l *Loader) awaitIndicator(ctx context.Context, cfg Config) error {
	deadline := time.Now().Add(cfg.IndicatorWait)
	for {
		visible, err := l.Page.Visible(ctx, cfg.LoadingIndicator)
		if err != nil || !visible {
			return nil
		}
		if time.Now().After(deadline) {
			log.Debug().Msg("loading indicator still visible past wait ceiling")
			return nil
		}
		if err := sleep(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (l *Loader) report(format string, args ...any) {
	if l.Progress != nil {
		l.Progress(fmt.Sprintf(format, args...))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// StaticPage is a Page over a fixed HTML snapshot. Snapshot mode skips the
// live-browser stages: there is nothing to scroll, no mutations arrive, and
// remote resources cannot be fetched. Inline data: images still resolve
// because they never touch the network.
type StaticPage struct {
	url  string
	raw  string
	root *html.Node
}

var _ Page = (*StaticPage)(nil)

// NewStaticPage parses a saved HTML document. The url is recorded verbatim
// for the archive metadata.
func NewStaticPage(url, rawHTML string) (*StaticPage, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &StaticPage{url: url, raw: rawHTML, root: root}, nil
}

func (p *StaticPage) Location(ctx context.Context) (string, error) { return p.url, nil }

func (p *StaticPage) Title(ctx context.Context) (string, error) {
	sel, err := cascadia.Compile("title")
	if err != nil {
		return "", err
	}
	n := sel.MatchFirst(p.root)
	if n == nil {
		return "", nil
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (p *StaticPage) Count(ctx context.Context, selector string) (int, error) {
	return p.count(selector)
}

// Visible always reports false: a snapshot has no layout, so busy and
// loading indicators never read as rendered.
func (p *StaticPage) Visible(ctx context.Context, selector string) (bool, error) {
	return false, nil
}

func (p *StaticPage) ScrollTop(ctx context.Context, selector string) (float64, error) {
	n, err := p.count(selector)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoNode
	}
	return 0, nil
}

func (p *StaticPage) SetScrollTop(ctx context.Context, selector string, px float64) error {
	return nil
}

func (p *StaticPage) DispatchScroll(ctx context.Context, selector string) error { return nil }

func (p *StaticPage) ClickAll(ctx context.Context, selector string) (int, error) { return 0, nil }

func (p *StaticPage) OuterHTML(ctx context.Context, selector string) (string, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return "", fmt.Errorf("selector %q: %w", selector, err)
	}
	n := sel.MatchFirst(p.root)
	if n == nil {
		return p.raw, nil
	}
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", fmt.Errorf("render snapshot subtree: %w", err)
	}
	return b.String(), nil
}

func (p *StaticPage) Subscribe(ctx context.Context, selector string) (Subscription, error) {
	return staticSub{}, nil
}

func (p *StaticPage) FetchResource(ctx context.Context, url string) (Resource, error) {
	return Resource{}, errors.New("no browser session: remote resources are unavailable in snapshot mode")
}

func (p *StaticPage) ShowProgress(ctx context.Context, text string) error { return nil }

func (p *StaticPage) ClearProgress(ctx context.Context) error { return nil }

func (p *StaticPage) count(selector string) (int, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return 0, fmt.Errorf("selector %q: %w", selector, err)
	}
	return len(sel.MatchAll(p.root)), nil
}

// staticSub observes a document that never changes.
type staticSub struct{}

func (staticSub) Take(ctx context.Context) (int, error) { return 0, nil }

func (staticSub) Close(ctx context.Context) error { return nil }

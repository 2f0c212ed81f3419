// Package domtest provides a scripted dom.Page for deterministic tests
// against synthetic document structures.
package domtest

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperifyio/chatexport/internal/dom"
)

// FakePage implements dom.Page with scripted behavior. The zero value is a
// blank page; populate fields to shape each call. All methods are safe for
// concurrent use.
type FakePage struct {
	mu sync.Mutex

	URL      string
	DocTitle string
	HTML     string

	// Counts maps a selector to its matched element count.
	Counts map[string]int
	// VisibleSeq scripts successive Visible results per selector; an
	// exhausted or absent script reads as not visible.
	VisibleSeq map[string][]bool
	// Pos is the scroll offset; SetScrollTop clamps it at zero.
	Pos float64
	// ScrollTopErr, when set, fails the next ScrollTop read.
	ScrollTopErr error

	// Mutations is consumed one entry per Subscription.Take; exhausted
	// reads return zero.
	Mutations    []int
	SubscribeErr error
	SubClosed    int
	takeCalls    int

	// Resources and FetchErrs script FetchResource by URL.
	Resources map[string]dom.Resource
	FetchErrs map[string]error

	Clicked map[string]int

	ProgressShown   []string
	ProgressCleared int
}

var _ dom.Page = (*FakePage)(nil)

func (p *FakePage) Location(ctx context.Context) (string, error) { return p.URL, nil }

func (p *FakePage) Title(ctx context.Context) (string, error) { return p.DocTitle, nil }

func (p *FakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[selector], nil
}

func (p *FakePage) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.VisibleSeq[selector]
	if len(seq) == 0 {
		return false, nil
	}
	v := seq[0]
	p.VisibleSeq[selector] = seq[1:]
	return v, nil
}

func (p *FakePage) ScrollTop(ctx context.Context, selector string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScrollTopErr != nil {
		err := p.ScrollTopErr
		p.ScrollTopErr = nil
		return 0, err
	}
	return p.Pos, nil
}

func (p *FakePage) SetScrollTop(ctx context.Context, selector string, px float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if px < 0 {
		px = 0
	}
	p.Pos = px
	return nil
}

func (p *FakePage) DispatchScroll(ctx context.Context, selector string) error { return nil }

func (p *FakePage) ClickAll(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Clicked == nil {
		p.Clicked = map[string]int{}
	}
	p.Clicked[selector]++
	return p.Clicked[selector], nil
}

func (p *FakePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	return p.HTML, nil
}

func (p *FakePage) Subscribe(ctx context.Context, selector string) (dom.Subscription, error) {
	if p.SubscribeErr != nil {
		return nil, p.SubscribeErr
	}
	return &fakeSub{page: p}, nil
}

func (p *FakePage) FetchResource(ctx context.Context, url string) (dom.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.FetchErrs[url]; ok {
		return dom.Resource{}, err
	}
	if res, ok := p.Resources[url]; ok {
		return res, nil
	}
	return dom.Resource{}, errors.New("unknown resource")
}

func (p *FakePage) ShowProgress(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ProgressShown = append(p.ProgressShown, text)
	return nil
}

func (p *FakePage) ClearProgress(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ProgressCleared++
	return nil
}

type fakeSub struct {
	page *FakePage
}

func (s *fakeSub) Take(ctx context.Context) (int, error) {
	p := s.page
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.takeCalls >= len(p.Mutations) {
		p.takeCalls++
		return 0, nil
	}
	n := p.Mutations[p.takeCalls]
	p.takeCalls++
	return n, nil
}

func (s *fakeSub) Close(ctx context.Context) error {
	p := s.page
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubClosed++
	return nil
}

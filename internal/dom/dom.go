package dom

import (
	"context"
	"errors"
)

// ErrNoNode indicates that a selector matched nothing in the document.
var ErrNoNode = errors.New("no matching node")

// Page is the capability surface the extraction engine needs from a rendered
// document. The production implementation drives a browser tab over the
// DevTools protocol; tests substitute scripted fakes, and snapshot mode uses
// a static HTML file. Every component receives a Page explicitly instead of
// reaching for ambient document state, so extraction logic can be exercised
// against synthetic structures.
type Page interface {
	// Location returns the current document URL.
	Location(ctx context.Context) (string, error)
	// Title returns the document title.
	Title(ctx context.Context) (string, error)
	// Count reports how many elements match the selector.
	Count(ctx context.Context, selector string) (int, error)
	// Visible reports whether the first match of the selector is rendered.
	Visible(ctx context.Context, selector string) (bool, error)
	// ScrollTop returns the scroll offset of the first matching element.
	ScrollTop(ctx context.Context, selector string) (float64, error)
	// SetScrollTop moves the scroll offset of the first matching element.
	SetScrollTop(ctx context.Context, selector string, px float64) error
	// DispatchScroll synthesizes a scroll event on the first matching
	// element. Mutating the offset alone does not reliably reach reactive
	// host listeners, so the loader dispatches one after every move.
	DispatchScroll(ctx context.Context, selector string) error
	// ClickAll clicks every element matching the selector and returns how
	// many were clicked.
	ClickAll(ctx context.Context, selector string) (int, error)
	// OuterHTML returns the serialized subtree of the first matching
	// element, or the whole document when nothing matches.
	OuterHTML(ctx context.Context, selector string) (string, error)
	// Subscribe starts observing structural mutations (node insertions and
	// removals) under the first matching element's subtree. The returned
	// subscription is owned by the caller and must be closed on every exit
	// path.
	Subscribe(ctx context.Context, selector string) (Subscription, error)
	// FetchResource reads a resource from inside the page context, with
	// credentials where the origin requires them. Non-2xx statuses are
	// reported through Resource.Status, not as errors.
	FetchResource(ctx context.Context, url string) (Resource, error)
	// ShowProgress renders a transient status overlay in the page.
	ShowProgress(ctx context.Context, text string) error
	// ClearProgress removes the status overlay. Safe to call when none is
	// shown.
	ClearProgress(ctx context.Context) error
}

// Subscription is a handle on a structural-mutation observer.
type Subscription interface {
	// Take returns the number of structural mutations recorded since the
	// previous Take and resets the counter.
	Take(ctx context.Context) (int, error)
	// Close disconnects the observer. Idempotent.
	Close(ctx context.Context) error
}

// Resource is the outcome of an in-page resource read.
type Resource struct {
	Body      []byte
	MediaType string
	Status    int
}

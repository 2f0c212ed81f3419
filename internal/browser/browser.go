// Package browser implements dom.Page over one browser tab driven through
// the DevTools protocol.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatexport/internal/dom"
)

// Session owns a tab context pair for the lifetime of one export. It either
// attaches to the operator's already-authenticated browser or launches a
// headless one of its own.
type Session struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ dom.Page = (*Session)(nil)

// NewRemote attaches to a running browser exposing a DevTools websocket
// (chrome --remote-debugging-port=9222). This is the usual mode: the
// operator's session cookies never leave their own browser.
func NewRemote(ctx context.Context, wsURL string) (*Session, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, wsURL)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	// Touch the target so a bad websocket URL fails here, not mid-export.
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("attach to browser: %w", err)
	}
	return &Session{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// NewHeadless launches a headless browser. The operator has to carry
// authentication some other way in this mode, typically a user-data-dir.
func NewHeadless(ctx context.Context, userAgent string, userDataDir string) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &Session{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// Navigate loads a URL in the tab and waits for the body to exist. The SPA
// keeps rendering after that; preconditions and the scroll loader handle
// the rest.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

// Close tears down the tab and, when we launched it, the browser.
func (s *Session) Close() {
	if s.cancelTab != nil {
		s.cancelTab()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

// run executes actions on the session tab, honoring the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tab := s.tab
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tab, cancel = context.WithDeadline(tab, deadline)
		defer cancel()
	}
	return chromedp.Run(tab, actions...)
}

func (s *Session) eval(ctx context.Context, js string, out any) error {
	return s.run(ctx, chromedp.Evaluate(js, out))
}

func (s *Session) evalAsync(ctx context.Context, js string, out any) error {
	return s.run(ctx, chromedp.Evaluate(js, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, chromedp.Location(&url))
	return url, err
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.eval(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector)), &n)
	return n, err
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return !!(el && el.getClientRects().length);
	})()`, quote(selector))
	var v bool
	err := s.eval(ctx, js, &v)
	return v, err
}

func (s *Session) ScrollTop(ctx context.Context, selector string) (float64, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.scrollTop : -1;
	})()`, quote(selector))
	var px float64
	if err := s.eval(ctx, js, &px); err != nil {
		return 0, err
	}
	if px < 0 {
		return 0, dom.ErrNoNode
	}
	return px, nil
}

func (s *Session) SetScrollTop(ctx context.Context, selector string, px float64) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollTop = %v;
		return true;
	})()`, quote(selector), px)
	var ok bool
	if err := s.eval(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return dom.ErrNoNode
	}
	return nil
}

func (s *Session) DispatchScroll(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.dispatchEvent(new Event('scroll', {bubbles: true}));
		return true;
	})()`, quote(selector))
	var ok bool
	if err := s.eval(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return dom.ErrNoNode
	}
	return nil
}

func (s *Session) ClickAll(ctx context.Context, selector string) (int, error) {
	js := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		els.forEach((el) => el.click());
		return els.length;
	})()`, quote(selector))
	var n int
	err := s.eval(ctx, js, &n)
	return n, err
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s) || document.documentElement;
		return el.outerHTML;
	})()`, quote(selector))
	var html string
	err := s.eval(ctx, js, &html)
	return html, err
}

// Subscribe installs a MutationObserver over the first match's subtree. The
// observer accumulates a structural-mutation count in the page; Take drains
// it, Close disconnects and removes it. At most one observer per session is
// expected; installing again replaces the previous one.
func (s *Session) Subscribe(ctx context.Context, selector string) (dom.Subscription, error) {
	js := fmt.Sprintf(`(() => {
		if (window.__cxObserver) { window.__cxObserver.disconnect(); }
		const root = document.querySelector(%s) || document.body;
		if (!root) return false;
		window.__cxMutations = 0;
		window.__cxObserver = new MutationObserver((records) => {
			for (const r of records) {
				window.__cxMutations += r.addedNodes.length + r.removedNodes.length;
			}
		});
		window.__cxObserver.observe(root, {childList: true, subtree: true});
		return true;
	})()`, quote(selector))
	var ok bool
	if err := s.eval(ctx, js, &ok); err != nil {
		return nil, err
	}
	if !ok {
		return nil, dom.ErrNoNode
	}
	return &subscription{session: s}, nil
}

type subscription struct {
	session *Session
}

func (sub *subscription) Take(ctx context.Context) (int, error) {
	js := `(() => {
		const n = window.__cxMutations || 0;
		window.__cxMutations = 0;
		return n;
	})()`
	var n int
	err := sub.session.eval(ctx, js, &n)
	return n, err
}

func (sub *subscription) Close(ctx context.Context) error {
	js := `(() => {
		if (window.__cxObserver) {
			window.__cxObserver.disconnect();
			delete window.__cxObserver;
		}
		delete window.__cxMutations;
		return true;
	})()`
	var ok bool
	return sub.session.eval(ctx, js, &ok)
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Error  string `json:"error"`
}

// FetchResource reads a resource from inside the page, so blob handles
// resolve and cookie-gated CDNs see the operator's credentials. Non-2xx
// statuses come back in the resource, not as errors; the image pipeline
// records them per attachment.
func (s *Session) FetchResource(ctx context.Context, url string) (dom.Resource, error) {
	js := fmt.Sprintf(`(async () => {
		try {
			const resp = await fetch(%s, {credentials: 'include'});
			if (!resp.ok) {
				return {status: resp.status, body: "", type: "", error: ""};
			}
			const buf = await resp.arrayBuffer();
			const bytes = new Uint8Array(buf);
			let bin = "";
			for (let i = 0; i < bytes.length; i += 0x8000) {
				bin += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
			}
			return {
				status: resp.status,
				body: btoa(bin),
				type: resp.headers.get('content-type') || "",
				error: "",
			};
		} catch (e) {
			return {status: 0, body: "", type: "", error: String(e)};
		}
	})()`, quote(url))
	var res fetchResult
	if err := s.evalAsync(ctx, js, &res); err != nil {
		return dom.Resource{}, err
	}
	if res.Error != "" {
		return dom.Resource{}, fmt.Errorf("in-page fetch: %s", res.Error)
	}
	body, err := base64.StdEncoding.DecodeString(res.Body)
	if err != nil {
		return dom.Resource{}, fmt.Errorf("decode fetched payload: %w", err)
	}
	return dom.Resource{Body: body, MediaType: res.Type, Status: res.Status}, nil
}

const progressID = "__cx_progress"

func (s *Session) ShowProgress(ctx context.Context, text string) error {
	js := fmt.Sprintf(`(() => {
		let el = document.getElementById(%s);
		if (!el) {
			el = document.createElement('div');
			el.id = %s;
			el.style.cssText = 'position:fixed;top:12px;right:12px;z-index:2147483647;' +
				'background:rgba(20,20,20,.85);color:#fff;padding:8px 14px;' +
				'border-radius:6px;font:13px sans-serif;pointer-events:none';
			document.body.appendChild(el);
		}
		el.textContent = %s;
		return true;
	})()`, quote(progressID), quote(progressID), quote(text))
	var ok bool
	if err := s.eval(ctx, js, &ok); err != nil {
		// Progress is fire-and-forget; log and move on.
		log.Debug().Err(err).Msg("progress overlay update failed")
	}
	return nil
}

func (s *Session) ClearProgress(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
		const el = document.getElementById(%s);
		if (el) el.remove();
		return true;
	})()`, quote(progressID))
	var ok bool
	if err := s.eval(ctx, js, &ok); err != nil {
		log.Debug().Err(err).Msg("progress overlay removal failed")
	}
	return nil
}

// quote renders a Go string as a JS string literal.
func quote(s string) string {
	return strconv.Quote(s)
}

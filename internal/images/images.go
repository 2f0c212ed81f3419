package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatexport/internal/dom"
)

// Ref is one unresolved attachment locator discovered during extraction.
type Ref struct {
	Source    string
	TurnIndex int
}

// Outcome is the terminal state of one reference: either a filename and
// body, or a failure reason. Never both.
type Outcome struct {
	Ref
	Filename string
	Body     []byte
	Err      string
	At       time.Time
}

// Failed reports whether this reference could not be resolved.
func (o Outcome) Failed() bool { return o.Err != "" }

// Fetcher reads a resource the way the document's origin would, with
// credentials where required. dom.Page satisfies it.
type Fetcher interface {
	FetchResource(ctx context.Context, url string) (dom.Resource, error)
}

// Resolver turns attachment locators into bytes. Any single failure is
// recorded and skipped, never propagated: image capture is best effort and
// must not cost the operator the transcript.
type Resolver struct {
	Fetch Fetcher
	// BatchSize bounds concurrent in-flight reads. Batch boundaries affect
	// throughput and progress granularity only, never results.
	BatchSize int
	// Progress receives best-effort status strings; may be nil.
	Progress func(string)
}

// Resolve processes every reference and returns outcomes aligned 1:1 with
// the input, in discovery order. Inline payloads are decoded in place;
// everything else goes through the fetcher. Batch N+1 does not start before
// batch N has fully settled. Nothing is auto-retried.
func (r *Resolver) Resolve(ctx context.Context, refs []Ref) []Outcome {
	batch := r.BatchSize
	if batch <= 0 {
		batch = 4
	}
	outcomes := make([]Outcome, len(refs))
	mediaTypes := make([]string, len(refs))
	seq := 0
	for start := 0; start < len(refs); start += batch {
		end := start + batch
		if end > len(refs) {
			end = len(refs)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body, mediaType, errText := r.fetchOne(ctx, refs[i].Source)
				outcomes[i] = Outcome{Ref: refs[i], Body: body, Err: errText, At: time.Now()}
				mediaTypes[i] = mediaType
			}(i)
		}
		wg.Wait()
		for i := start; i < end; i++ {
			if outcomes[i].Failed() {
				log.Warn().Str("locator", clip(refs[i].Source)).Int("turn", refs[i].TurnIndex).Str("reason", outcomes[i].Err).Msg("image fetch failed")
				continue
			}
			seq++
			outcomes[i].Filename = fmt.Sprintf("image_%03d%s", seq, extensionFor(mediaTypes[i], refs[i].Source))
		}
		r.report("Fetching images (%d/%d)", end, len(refs))
	}
	return outcomes
}

func (r *Resolver) fetchOne(ctx context.Context, src string) (body []byte, mediaType string, errText string) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURI(src)
	}
	if r.Fetch == nil {
		return nil, "", "no fetcher available for remote reference"
	}
	res, err := r.Fetch.FetchResource(ctx, src)
	if err != nil {
		return nil, "", err.Error()
	}
	if res.Status < 200 || res.Status > 299 {
		return nil, "", fmt.Sprintf("unexpected status: %d", res.Status)
	}
	return res.Body, res.MediaType, ""
}

// decodeDataURI decodes an inline payload. Malformed encodings become
// failure text, not errors: one broken image must not abort the batch.
func decodeDataURI(src string) (body []byte, mediaType string, errText string) {
	rest := strings.TrimPrefix(src, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", "malformed data URI: missing payload separator"
	}
	meta, payload := rest[:comma], rest[comma+1:]
	mediaType = meta
	if enc, ok := strings.CutSuffix(meta, ";base64"); ok {
		mediaType = enc
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Sprintf("malformed base64 payload: %v", err)
		}
		return b, mediaType, ""
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Sprintf("malformed percent-encoded payload: %v", err)
	}
	return []byte(decoded), mediaType, ""
}

var extByType = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
}

var suffixPattern = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|svg|avif|bmp)(?:[?#]|$)`)

// extensionFor prefers the payload's declared media type, falls back to a
// suffix in the locator, and defaults to .png.
func extensionFor(mediaType, src string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if ext, ok := extByType[mt]; ok {
		return ext
	}
	if m := suffixPattern.FindStringSubmatch(src); m != nil {
		s := strings.ToLower(m[1])
		if s == "jpeg" {
			s = "jpg"
		}
		return "." + s
	}
	return ".png"
}

func (r *Resolver) report(format string, args ...any) {
	if r.Progress != nil {
		r.Progress(fmt.Sprintf(format, args...))
	}
}

// clip shortens locators for log lines; inline payloads can be megabytes.
func clip(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// Package intercept hooks the copy and paste gestures of a document and
// rewrites the images they carry into embedded data URLs.
package intercept

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"pasteinliner/cosmetic"
	"pasteinliner/dom"
	"pasteinliner/reconcile"
	"pasteinliner/resolve"
)

// Default timings.
const (
	DefaultTimeout     = 5000 * time.Millisecond
	DefaultSettleDelay = 300 * time.Millisecond
	DefaultDebounce    = 200 * time.Millisecond
	// DefaultGestureWindow is how far back a copy event still belongs to
	// the keydown that triggered the backstop.
	DefaultGestureWindow = time.Second
)

// Plain text flavors.
const (
	PlainTextRendered = "text"
	PlainTextMarkdown = "markdown"
)

var (
	ErrNoSelection     = errors.New("intercept: no selection")
	ErrNothingToInline = errors.New("intercept: nothing to inline")
	ErrTimeout         = errors.New("intercept: image resolution timed out")
	ErrInvalidated     = errors.New("intercept: extension context invalidated")
)

// lazyAttrs are dropped from an image once it carries its own data.
var lazyAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-srcset", "srcset", "sizes", "loading"}

// Interceptor owns the copy, backstop and paste handlers of one page.
type Interceptor struct {
	Service   resolve.Service
	Clipboard Clipboard
	// Cosmetic supplies the cosmetic configuration read on every copy.
	Cosmetic *cosmetic.Store
	Validity *ContextValidity

	Timeout       time.Duration
	SettleDelay   time.Duration
	Debounce      time.Duration
	GestureWindow time.Duration

	// PlainText selects the text/plain flavor written on copy.
	PlainText string
	// Sanitize strips active content from pasted HTML before insertion.
	Sanitize bool
	// Backstop enables the keyboard-driven second pass.
	Backstop bool
	// Injected lists selectors of the extension's own UI.
	Injected []string

	Logger *log.Logger
	Clock  func() time.Time
	After  func(time.Duration) <-chan time.Time

	mu             sync.Mutex
	processingCopy bool
	lastPrimary    *CopyOperation
	lastBackstop   time.Time
}

// New returns an interceptor with default timings.
func New(svc resolve.Service, cb Clipboard) *Interceptor {
	return &Interceptor{
		Service:       svc,
		Clipboard:     cb,
		Cosmetic:      cosmetic.NewStore(cosmetic.Default()),
		Validity:      &ContextValidity{},
		Timeout:       DefaultTimeout,
		SettleDelay:   DefaultSettleDelay,
		Debounce:      DefaultDebounce,
		GestureWindow: DefaultGestureWindow,
		PlainText:     PlainTextRendered,
		Backstop:      true,
		Injected:      reconcile.InjectedSelectors,
	}
}

// Unload marks the page as gone.
func (in *Interceptor) Unload() {
	if in.Validity.Invalidate() {
		in.logger().Printf("COPY context invalidated reason=unload")
	}
}

func (in *Interceptor) logger() *log.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return log.Default()
}

func (in *Interceptor) now() time.Time {
	if in.Clock != nil {
		return in.Clock()
	}
	return time.Now()
}

func (in *Interceptor) after(d time.Duration) <-chan time.Time {
	if in.After != nil {
		return in.After(d)
	}
	return time.After(d)
}

func (in *Interceptor) timeout() time.Duration {
	if in.Timeout > 0 {
		return in.Timeout
	}
	return DefaultTimeout
}

func (in *Interceptor) cosmeticConfig() cosmetic.Config {
	if in.Cosmetic == nil {
		return cosmetic.Default()
	}
	return in.Cosmetic.Current()
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// setProcessing claims the shared processing flag. It fails when the flag
// is already held.
func (in *Interceptor) setProcessing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.processingCopy {
		return false
	}
	in.processingCopy = true
	return true
}

func (in *Interceptor) clearProcessing() {
	in.mu.Lock()
	in.processingCopy = false
	in.mu.Unlock()
}

// Processing reports whether an asynchronous resolution is in flight.
func (in *Interceptor) Processing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.processingCopy
}

// resolveBatch calls the service unless the context is gone and flips the
// validity flag on an invalidation error.
func (in *Interceptor) resolveBatch(ctx context.Context, urls []string) (resolve.Response, error) {
	if !in.Validity.Valid() {
		return nil, ErrInvalidated
	}
	if in.Service == nil {
		return nil, resolve.ErrUnavailable
	}
	resp, err := in.Service.Resolve(ctx, urls)
	if err != nil {
		if errors.Is(err, resolve.ErrContextInvalidated) {
			if in.Validity.Invalidate() {
				in.logger().Printf("COPY context invalidated reason=%v", err)
			}
			return nil, ErrInvalidated
		}
		return nil, err
	}
	return resolve.Complete(resp, urls), nil
}

// imageSource returns the absolute URL an image loads from, trying the lazy
// loading attributes when src is empty.
func imageSource(img *html.Node, abs func(string) string, attrs ...string) string {
	for _, a := range attrs {
		v := strings.TrimSpace(dom.GetAttr(img, a))
		if v == "" {
			continue
		}
		if resolve.IsEphemeral(v) {
			return v
		}
		if u := abs(v); u != "" {
			return u
		}
		return v
	}
	return ""
}

// collectImages returns the images to inline with their URLs and the
// de-duplicated URL batch.
func collectImages(imgs []*html.Node, abs func(string) string, attrs ...string) (map[*html.Node]string, []string) {
	byImg := make(map[*html.Node]string)
	var urls []string
	for _, img := range imgs {
		src := imageSource(img, abs, attrs...)
		if src == "" || resolve.IsEphemeral(src) {
			continue
		}
		byImg[img] = src
		urls = append(urls, src)
	}
	return byImg, resolve.Dedupe(urls)
}

// rewriteImages swaps every resolved source for its data URL.
func rewriteImages(byImg map[*html.Node]string, resp resolve.Response) int {
	n := 0
	for img, src := range byImg {
		res, ok := resp[src]
		if !ok || !res.OK || res.DataURL == "" {
			continue
		}
		dom.SetAttr(img, "src", res.DataURL)
		for _, a := range lazyAttrs {
			dom.RemoveAttr(img, a)
		}
		n++
	}
	return n
}

// plainText renders the text/plain flavor of a fragment.
func (in *Interceptor) plainText(f *dom.Fragment, markup string) string {
	if in.PlainText == PlainTextMarkdown {
		md, err := htmltomarkdown.ConvertString(markup)
		if err == nil {
			return strings.TrimSpace(md)
		}
		in.logger().Printf("COPY markdown fallback err=%v", err)
	}
	return f.Text()
}

func sanitizePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	p.AllowAttrs("style").Globally()
	return p
}

// Package browser renders a page in headless Chrome and snapshots it into
// a dom.Document with the page's own computed styles, boxes and selection.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"pasteinliner/dom"
	"pasteinliner/reconcile"
)

// DefaultTimeout bounds one page load.
const DefaultTimeout = 25 * time.Second

// Options tune a page load.
type Options struct {
	Header          http.Header
	Timeout         time.Duration
	WaitSelector    string
	WaitNetworkIdle time.Duration
	WaitAfterLoad   time.Duration
	Scripts         []string
	// SelectQuery selects the contents of the first matching element.
	SelectQuery string
	// Properties are the computed properties captured per element.
	Properties []string
}

// Loader owns a Chrome allocator shared by its loads.
type Loader struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger
}

// NewLoader starts an allocator for a headless Chrome.
func NewLoader(logger *log.Logger, extra ...chromedp.ExecAllocatorOption) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	opts = append(opts, extra...)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Loader{allocator: allocCtx, cancel: cancel, logger: logger}
}

// Close shuts the browser down.
func (l *Loader) Close() {
	if l.cancel != nil {
		l.cancel()
	}
}

// Load navigates to target and returns the snapshotted document.
func (l *Loader) Load(ctx context.Context, target string, opt Options) (*dom.Document, error) {
	snap, err := l.Snapshot(ctx, target, opt)
	if err != nil {
		return nil, err
	}
	return snap.Document()
}

// Snapshot navigates to target and runs the snapshot script.
func (l *Loader) Snapshot(ctx context.Context, target string, opt Options) (*Snapshot, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("browser: empty target url")
	}
	taskCtx, cancelBrowser := chromedp.NewContext(l.allocator)
	defer cancelBrowser()

	var cancel context.CancelFunc
	taskCtx, cancel = context.WithCancel(taskCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, timeout)
	defer cancelTimeout()

	props := opt.Properties
	if len(props) == 0 {
		props = reconcile.AllowList
	}
	script, err := buildScript(props, opt.SelectQuery)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	active := 0
	lastActivity := time.Now()
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			mu.Lock()
			active++
			lastActivity = time.Now()
			mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			mu.Lock()
			if active > 0 {
				active--
			}
			lastActivity = time.Now()
			mu.Unlock()
		}
	})

	actions := []chromedp.Action{network.Enable()}
	hdr := cloneHeader(opt.Header)
	if ua := hdr.Get("User-Agent"); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
		hdr.Del("User-Agent")
	}
	if len(hdr) > 0 {
		extra := network.Headers{}
		for k, vs := range hdr {
			if len(vs) == 0 || strings.EqualFold(k, "Content-Length") {
				continue
			}
			extra[http.CanonicalHeaderKey(k)] = strings.Join(vs, ", ")
		}
		if len(extra) > 0 {
			actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
				return network.SetExtraHTTPHeaders(extra).Do(ctx)
			}))
		}
	}

	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(opt.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if opt.WaitNetworkIdle > 0 {
		wait := opt.WaitNetworkIdle
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				mu.Lock()
				idle := active == 0 && time.Since(lastActivity) >= wait
				mu.Unlock()
				if idle {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}))
	}
	if opt.WaitAfterLoad > 0 {
		actions = append(actions, chromedp.Sleep(opt.WaitAfterLoad))
	}
	for _, snippet := range opt.Scripts {
		if code := strings.TrimSpace(snippet); code != "" {
			actions = append(actions, chromedp.Evaluate(code, nil))
		}
	}

	var snap Snapshot
	actions = append(actions, chromedp.Evaluate(script, &snap))
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("browser: load %s: %w", target, err)
	}
	if snap.URL == "" {
		snap.URL = target
	}
	l.logger.Printf("BROWSER loaded url=%s elements=%d selection=%v", snap.URL, len(snap.Nodes), snap.Selection != nil)
	return &snap, nil
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pasteinliner/browser"
	"pasteinliner/dom"
	"pasteinliner/internal/config"
	"pasteinliner/resolve"
)

// pageSource says where a page comes from and what gets selected on it.
type pageSource struct {
	Page    string
	Base    string
	Select  string
	Browser bool
}

func isRemote(page string) bool {
	u, err := url.Parse(page)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// loadPage returns the document for src with the selection applied.
func loadPage(ctx context.Context, cfg *config.Config, src pageSource, logger *log.Logger) (*dom.Document, error) {
	if src.Browser {
		return loadLive(ctx, cfg, src, logger)
	}
	var (
		doc *dom.Document
		err error
	)
	if isRemote(src.Page) {
		doc, err = fetchPage(ctx, src, logger)
	} else {
		doc, err = readPage(ctx, src, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := applySelection(doc, src.Select); err != nil {
		return nil, err
	}
	return doc, nil
}

func loadLive(ctx context.Context, cfg *config.Config, src pageSource, logger *log.Logger) (*dom.Document, error) {
	target := src.Page
	if !isRemote(target) {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, err
		}
		target = (&url.URL{Scheme: "file", Path: abs}).String()
	}
	opt := browser.Options{
		Timeout:       cfg.Browser.Timeout,
		WaitSelector:  cfg.Browser.WaitSelector,
		WaitAfterLoad: cfg.Browser.WaitAfterLoad,
		SelectQuery:   src.Select,
	}
	if cfg.Browser.NetworkIdle {
		opt.WaitNetworkIdle = 500 * time.Millisecond
	}
	l := browser.NewLoader(logger)
	defer l.Close()
	doc, err := l.Load(ctx, target, opt)
	if err != nil {
		return nil, err
	}
	if src.Select == "" && doc.Selection.IsCollapsed() {
		doc.SelectAll()
	}
	return doc, nil
}

func fetchPage(ctx context.Context, src pageSource, logger *log.Logger) (*dom.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Page, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", resolve.DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Page, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", src.Page, resp.StatusCode)
	}
	base := src.Base
	if base == "" {
		base = resp.Request.URL.String()
	}
	return dom.ParseDocument(ctx, resp.Body, base, &dom.StyleOptions{
		Client: client,
		Header: http.Header{"User-Agent": {resolve.DefaultUserAgent}},
		Logger: logger,
	})
}

func readPage(ctx context.Context, src pageSource, logger *log.Logger) (*dom.Document, error) {
	f, err := os.Open(src.Page)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	base := src.Base
	if base == "" {
		abs, err := filepath.Abs(src.Page)
		if err != nil {
			return nil, err
		}
		base = (&url.URL{Scheme: "file", Path: abs}).String()
	}
	var opts *dom.StyleOptions
	if isRemote(base) {
		opts = &dom.StyleOptions{Client: &http.Client{Timeout: 30 * time.Second}, Logger: logger}
	}
	return dom.ParseDocument(ctx, f, base, opts)
}

// applySelection selects the contents of the first element matching sel,
// or the whole body.
func applySelection(doc *dom.Document, sel string) error {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		doc.SelectAll()
		return nil
	}
	n, err := doc.QuerySelector(sel)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("no element matches %q", sel)
	}
	r := doc.NewRange()
	r.SelectNodeContents(n)
	doc.Select(r)
	return nil
}

package main

import (
	"context"
	"errors"
	"log"

	"pasteinliner/cosmetic"
	"pasteinliner/dom"
	"pasteinliner/intercept"
	"pasteinliner/internal/config"
	"pasteinliner/resolve"
)

// newInterceptor wires an interceptor for doc from cfg.
func newInterceptor(cfg *config.Config, doc *dom.Document, cb intercept.Clipboard, logger *log.Logger) (*intercept.Interceptor, error) {
	origin := ""
	if doc.Base != nil {
		origin = doc.Base.String()
	}
	store, err := cosmetic.Load(cfg.Cosmetic)
	if err != nil {
		return nil, err
	}
	in := intercept.New(cfg.ResolveService(origin, logger), cb)
	in.Cosmetic = store
	in.Timeout = cfg.Timeout()
	in.SettleDelay = cfg.SettleDelay()
	in.Debounce = cfg.Debounce()
	in.PlainText = cfg.PlainText
	in.Sanitize = cfg.Sanitize
	in.Backstop = !cfg.NoBackstop
	in.Logger = logger
	return in, nil
}

// pingService checks the side-channel before the first batch. One that
// answers 410 invalidates the interceptor for the rest of the run.
func pingService(ctx context.Context, cfg *config.Config, in *intercept.Interceptor, logger *log.Logger) error {
	if cfg.Service == "" {
		return nil
	}
	p, err := resolve.NewClient(cfg.Service, "").Ping(ctx)
	if errors.Is(err, resolve.ErrContextInvalidated) {
		in.Validity.Invalidate()
	}
	if err != nil {
		return err
	}
	logger.Printf("SIDECAR pong url=%s ts=%d", cfg.Service, p.Timestamp)
	return nil
}

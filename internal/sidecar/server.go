// Package sidecar serves the privileged side-channel: the process that is
// allowed to fetch cross-origin images on behalf of a page.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pasteinliner/resolve"
)

const maxMessageBytes = 1 << 20

// Resolver is what the side-channel delegates fetches to.
type Resolver interface {
	ResolveFrom(ctx context.Context, origin string, urls []string) (resolve.Response, error)
}

// Config describes server wiring and runtime behaviour.
type Config struct {
	Service resolve.Service
	// Resolver, when set, is preferred over Service so the sender's origin
	// is honoured for relative URLs.
	Resolver Resolver
	// Exclusive rejects a batch while another one is in flight.
	Exclusive bool
	Logger    *log.Logger
	Clock     func() time.Time
}

// Server exposes the resolution service over HTTP.
type Server struct {
	cfg     Config
	router  chi.Router
	handler http.Handler
	logger  *log.Logger
	clock   func() time.Time

	invalid atomic.Bool
	busy    sync.Mutex
}

// New wires a new side-channel server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Service == nil && cfg.Resolver == nil {
		cfg.Resolver = resolve.NewFetcher()
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.router)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Invalidate makes every later call answer 410 Gone, the way messages to a
// reloaded extension fail.
func (s *Server) Invalidate() {
	if !s.invalid.Swap(true) {
		s.logger.Printf("SIDECAR invalidated")
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.gone)
	s.router.Post("/resolve", s.handleResolve)
	s.router.Get("/ping", s.handlePing)
	s.router.Post("/ping", s.handlePing)
}

func (s *Server) gone(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.invalid.Load() {
			writeJSON(w, http.StatusGone, resolve.Reply{Error: resolve.ErrContextInvalidated.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, resolve.Pong{Pong: true, Timestamp: s.clock().UnixMilli()})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var msg resolve.Message
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, resolve.Reply{Error: "bad message: " + err.Error()})
		return
	}
	switch msg.Type {
	case resolve.TypeFetch:
	case resolve.TypePing:
		s.handlePing(w, r)
		return
	default:
		writeJSON(w, http.StatusBadRequest, resolve.Reply{Error: "unknown message type " + msg.Type})
		return
	}
	if s.cfg.Exclusive {
		if !s.busy.TryLock() {
			s.logger.Printf("SIDECAR busy urls=%d", len(msg.URLs))
			writeJSON(w, http.StatusConflict, resolve.Reply{Error: "Already processing images", Results: resolve.Response{}})
			return
		}
		defer s.busy.Unlock()
	}

	urls := resolve.Dedupe(msg.URLs)
	start := s.clock()
	var (
		resp resolve.Response
		err  error
	)
	if s.cfg.Resolver != nil {
		resp, err = s.cfg.Resolver.ResolveFrom(r.Context(), msg.Origin, urls)
	} else {
		resp, err = s.cfg.Service.Resolve(r.Context(), urls)
	}
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, resolve.ErrContextInvalidated) {
			status = http.StatusGone
		}
		s.logger.Printf("SIDECAR resolve urls=%d err=%v", len(urls), err)
		writeJSON(w, status, resolve.Reply{Error: err.Error()})
		return
	}
	resp = resolve.Complete(resp, urls)
	s.logger.Printf("SIDECAR resolve urls=%d ok=%d origin=%s took=%s", len(urls), resp.Succeeded(), msg.Origin, s.clock().Sub(start))
	writeJSON(w, http.StatusOK, resolve.Reply{Results: resp})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package server is the kbyg HTTP surface: the tool endpoints used by the
// browser extension and web app, MCP transports, a websocket tool channel,
// the generation proxy and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/kbyg/internal/mcpserver"
	"github.com/stellarlinkco/kbyg/internal/metrics"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr        string
	BearerToken string
	Version     string
	Dispatcher  *tools.Dispatcher
	// Generator backs /v1/generate. Nil answers 503.
	Generator upstream.Generator
	// Events backs the /api event routes. Nil leaves them unmounted.
	Events     store.EventStore
	Metrics    *metrics.Metrics
	SignalChan chan os.Signal // for testing signal handling
}

type Server struct {
	opts    Options
	mcp     *mcp.Server
	httpSrv *http.Server

	clients sync.Map
	nextID  atomic.Int64

	mu       sync.Mutex
	listener net.Listener
}

func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if opts.Generator == nil {
		opts.Generator = upstream.Unconfigured{}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		opts: opts,
		mcp:  mcpserver.New(opts.Dispatcher, opts.Version),
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(withRequestID)
	r.Use(middleware.RequestID)
	r.Use(requestLogger())
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Group(func(api chi.Router) {
		api.Use(bearerAuth(s.opts.BearerToken))

		api.Post("/call", s.handleCall)
		api.Post("/tools/list", s.handleToolsList)
		api.Post("/tools/call", s.handleToolsCall)
		api.Post("/v1/generate", s.handleGenerate)
		api.Get("/ws", s.handleWS)
		api.Handle("/mcp", mcpserver.StreamableHandler(s.mcp))
		api.Handle("/sse", mcpserver.SSEHandler(s.mcp))
		if s.opts.Events != nil {
			api.Route("/api", s.eventRoutes)
		}
	})
	return r
}

// Run serves until ctx is done, a signal arrives or the listener fails,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s (%d tools)", ln.Addr(), s.opts.Dispatcher.Registry().Len())
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Use injected signal channel for testing, or create default
	sigCh := s.opts.SignalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[server] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr reports the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Printf("[server] shutdown complete")
	return nil
}

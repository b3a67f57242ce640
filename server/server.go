// Package server wires the diagnostics pipeline into an HTTP server: the
// live log endpoints, error ingestion, and the application wrapped in
// request logging and the error boundary.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/auditmos/devlens/broadcast"
	"github.com/auditmos/devlens/incident"
	"github.com/auditmos/devlens/livelog"
	"github.com/auditmos/devlens/logging"
	"github.com/auditmos/devlens/storage"
)

const (
	// DefaultRenderTimeout is the stream timeout of the page renderer plus
	// one second of slack to flush partial output.
	DefaultRenderTimeout = 6 * time.Second

	maxIngestBytes = 64 << 10
)

// DeliveryLister lists recent incident mail outcomes.
type DeliveryLister interface {
	ListRecent(limit int) ([]*storage.Delivery, error)
}

// Waiter is anything with background work to drain on shutdown.
type Waiter interface {
	Wait()
}

type ServerConfig struct {
	Addr        string
	Mode        livelog.Mode
	App         http.Handler
	Broadcaster *broadcast.Broadcaster
	Reporter    Capturer
	Deliveries  DeliveryLister
	Limiter     *RateLimiter
	// Proxies may name the client via X-Forwarded-For.
	Proxies       livelog.TrustedProxies
	Logger        logging.Logger
	RenderTimeout time.Duration
	KeepAlive     time.Duration
	OverridesDir  string
	// Drain is waited on after the HTTP server stops.
	Drain []Waiter
}

type Server struct {
	addr          string
	mode          livelog.Mode
	app           http.Handler
	broadcaster   *broadcast.Broadcaster
	reporter      Capturer
	deliveries    DeliveryLister
	limiter       *RateLimiter
	proxies       livelog.TrustedProxies
	logger        logging.Logger
	renderTimeout time.Duration
	keepAlive     time.Duration
	pages         *errorPages
	drain         []Waiter

	// streamsCtx is cancelled when shutdown begins so open live
	// connections end instead of holding the graceful stop.
	streamsCtx  context.Context
	stopStreams context.CancelFunc

	httpServer    *http.Server
	mu            sync.Mutex
	listener      net.Listener
	readyCallback func()
}

func NewServer(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	b := cfg.Broadcaster
	if b == nil {
		b = broadcast.Default()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(storage.DefaultIngestPerMin, storage.DefaultMaxStreamsPerClient)
	}
	renderTimeout := cfg.RenderTimeout
	if renderTimeout <= 0 {
		renderTimeout = DefaultRenderTimeout
	}
	app := cfg.App
	if app == nil {
		app = http.NotFoundHandler()
	}

	pages, err := newErrorPages(cfg.OverridesDir)
	if err != nil {
		return nil, err
	}

	streamsCtx, stopStreams := context.WithCancel(context.Background())

	return &Server{
		addr:          cfg.Addr,
		mode:          cfg.Mode,
		app:           app,
		broadcaster:   b,
		reporter:      cfg.Reporter,
		deliveries:    cfg.Deliveries,
		limiter:       limiter,
		proxies:       cfg.Proxies,
		logger:        logger,
		renderTimeout: renderTimeout,
		keepAlive:     cfg.KeepAlive,
		pages:         pages,
		drain:         cfg.Drain,
		streamsCtx:    streamsCtx,
		stopStreams:   stopStreams,
	}, nil
}

func (s *Server) SetReadyCallback(fn func()) {
	s.readyCallback = fn
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /logs", s.untilShutdown(livelog.NewStream(livelog.StreamConfig{
		Mode:        s.mode,
		Broadcaster: s.broadcaster,
		Logger:      s.logger,
		KeepAlive:   s.keepAlive,
		Limiter:     s.limiter,
		Proxies:     s.proxies,
	})))
	mux.Handle("GET /logs/ws", s.untilShutdown(livelog.NewSocket(livelog.SocketConfig{
		Mode:        s.mode,
		Broadcaster: s.broadcaster,
		Logger:      s.logger,
		KeepAlive:   s.keepAlive,
		Limiter:     s.limiter,
		Proxies:     s.proxies,
	})))
	mux.HandleFunc("POST /api/errors", s.handleIngest)
	mux.HandleFunc("GET /api/deliveries", s.handleDeliveries)
	mux.HandleFunc("GET /health", s.handleHealth)

	boundary := &recoverer{mode: s.mode, reporter: s.reporter, pages: s.pages, logger: s.logger}
	app := http.TimeoutHandler(boundary.wrap(s.app), s.renderTimeout, "render timeout")
	mux.Handle("/", RequestLogger(s.logger, app))
	return mux
}

// untilShutdown ends a long-lived request once shutdown starts.
func (s *Server) untilShutdown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.streamsCtx, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) Handler() http.Handler {
	return s.buildMux()
}

// Start serves until ctx is done, then shuts down and drains background
// captures and mail deliveries.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(s.stopStreams)

	s.logger.WithFields(logging.Fields{
		"addr": ln.Addr().String(),
		"mode": s.mode.String(),
	}).Info("server", "start", "Server started")

	if s.readyCallback != nil {
		s.readyCallback()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("server", "shutdown", "Graceful shutdown incomplete")
			s.httpServer.Close()
		}
	case err := <-errCh:
		if err != http.ErrServerClosed {
			serveErr = fmt.Errorf("server serve: %w", err)
		}
	}

	for _, w := range s.drain {
		w.Wait()
	}
	s.logger.Info("server", "stop", "Server stopped")
	return serveErr
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ingestRequest is an error captured outside the process, typically by the
// browser bundle.
type ingestRequest struct {
	Message string               `json:"message"`
	Stack   string               `json:"stack"`
	Request incident.RequestInfo `json:"request"`
	Params  map[string]string    `json:"params"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	client := s.proxies.ClientKey(r)
	if ok, retryAfter := s.limiter.AllowRequest(client); !ok {
		s.logger.WithFields(logging.Fields{"client": client}).Warn("server", "ingest", "Error ingestion rate limited")
		writeRateLimitExceeded(w, retryAfter)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBytes)
	var in ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, fmt.Sprintf("decode body: %v", err), "BadRequest", http.StatusBadRequest)
		return
	}
	stack := in.Stack
	if stack == "" {
		stack = in.Message
	}
	if stack == "" {
		writeJSONError(w, "message or stack required", "BadRequest", http.StatusBadRequest)
		return
	}

	captured := false
	if s.reporter != nil {
		captured = s.reporter.Capture(r.Context(), incident.Input{
			Stack:   stack,
			Request: in.Request,
			Params:  in.Params,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"accepted": captured})
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if err := livelog.CheckMode(s.mode); err != nil {
		writeJSONError(w, err.Error(), logging.ErrorType(err), http.StatusForbidden)
		return
	}
	if s.deliveries == nil {
		writeJSONError(w, "delivery history not configured", "NotConfigured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, "invalid limit", "BadRequest", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	deliveries, err := s.deliveries.ListRecent(limit)
	if err != nil {
		s.logger.WithError(err).Error("server", "deliveries", "Failed to list deliveries")
		writeJSONError(w, "list deliveries failed", "Internal", http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []*storage.Delivery{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deliveries)
}

func writeJSONError(w http.ResponseWriter, msg, errType string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_type": errType})
}

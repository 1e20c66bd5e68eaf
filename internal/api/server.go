// Package api serves pricing, hunter standings, presale state and wallet
// connection status over HTTP, with live events on a WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wastelandfi/wasteland/internal/config"
	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/metrics"
	"github.com/wastelandfi/wasteland/internal/presale"
	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/referral"
	"github.com/wastelandfi/wasteland/internal/util"
	"github.com/wastelandfi/wasteland/internal/wallet"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = 10 * time.Minute
	maxBodyBytes           = 64 << 10
)

// ConnectionStatus reports the wallet connector's lifecycle.
type ConnectionStatus interface {
	State() (connector.State, error)
	Identity() string
}

// EndpointStatus reports RPC endpoint health.
type EndpointStatus interface {
	Snapshot() []wallet.EndpointHealth
}

// PresaleStatus exposes the cached presale snapshot.
type PresaleStatus interface {
	Snapshot() presale.Snapshot
}

// Deps are the services behind the API. Referral and Pricing are required;
// everything else is optional and its routes answer 503 when missing.
type Deps struct {
	Pricing   *pricing.Calculator
	Referral  *referral.Service
	Presale   PresaleStatus
	Connector ConnectionStatus
	Endpoints EndpointStatus
	Metrics   *metrics.Collector
	Events    *EventHub
	Version   string
}

// rateLimiterEntry tracks a per-IP limiter and when it was last used.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Server is the HTTP API server
type Server struct {
	cfg     config.APIConfig
	deps    Deps
	calc    atomic.Pointer[pricing.Calculator]
	started time.Time
	now     func() time.Time

	rateLimiters sync.Map // ip -> *rateLimiterEntry

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	workers    []<-chan struct{}
}

// NewServer builds a server. It does not listen until Start.
func NewServer(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Pricing == nil || deps.Referral == nil {
		return nil, errors.New("api server needs pricing and referral services")
	}
	if !cfg.WebSocketEnabled {
		deps.Events = nil
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		now:     time.Now,
	}
	s.calc.Store(deps.Pricing)
	return s, nil
}

// SetCalculator swaps the price calculator, e.g. after a config reload.
func (s *Server) SetCalculator(c *pricing.Calculator) {
	if c != nil {
		s.calc.Store(c)
	}
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/v1/price", true, s.handlePrice)
	s.route(mux, "GET /api/v1/hunters", true, s.handleLeaderboard)
	s.route(mux, "GET /api/v1/hunters/{address}", true, s.handleStanding)
	s.route(mux, "POST /api/v1/hunters/{address}/outcomes", true, s.handleRecordOutcome)
	s.route(mux, "GET /api/v1/presale", true, s.handlePresale)
	s.route(mux, "GET /api/v1/connection", true, s.handleConnection)
	s.route(mux, "GET /api/v1/stats", true, s.handleStats)
	s.route(mux, "GET /health", false, s.handleHealth)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	if s.deps.Events != nil {
		s.route(mux, "GET /ws", true, s.deps.Events.ServeHTTP)
	}

	// browsers preflight every cross-origin POST
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// route registers h under pattern, wrapped in CORS, optional rate limiting
// and request metrics labelled by the pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, limited bool, h http.HandlerFunc) {
	label := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		label = pattern[i+1:]
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		s.setCORSHeaders(rec, r)
		if limited && !s.allow(r) {
			logging.Warn("rate limit exceeded",
				"ip", s.extractClientIP(r),
				"path", r.URL.Path,
				"method", r.Method,
				logging.Component("api"))
			rec.Header().Set("Retry-After", "60")
			s.writeJSON(rec, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
		} else {
			h(rec, r)
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRequest(label, rec.status, time.Since(start))
		}
	}
	mux.HandleFunc(pattern, handler)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.running = true
	s.started = s.now()

	// ReadHeaderTimeout rather than ReadTimeout: websocket connections are long-lived.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.workers = append(s.workers[:0], util.SafeGo("api-http", func() {
		logging.Info("HTTP API server starting", "addr", ln.Addr().String(), logging.Component("api"))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error", logging.Err(err), logging.Component("api"))
		}
	}))
	if s.deps.Events != nil {
		s.workers = append(s.workers, util.SafeGo("api-events", func() { s.deps.Events.Run(runCtx) }))
	}
	if s.cfg.RateLimitPerMinute > 0 {
		s.workers = append(s.workers, util.SafeGo("api-ratelimit-cleanup", func() { s.cleanupLoop(runCtx) }))
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down and waits for its goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, cancel, workers := s.httpServer, s.cancel, s.workers
	s.mu.Unlock()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	cancel()

	for _, done := range workers {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		}
	}

	logging.Info("API server stopped", logging.Component("api"))
	return errors.Join(errs...)
}

// allow applies the per-IP limiter. Zero RateLimitPerMinute disables it.
func (s *Server) allow(r *http.Request) bool {
	if s.cfg.RateLimitPerMinute <= 0 {
		return true
	}
	return s.getRateLimiter(s.extractClientIP(r)).Allow()
}

// getRateLimiter returns the limiter for ip, creating it on first use.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := s.now().UnixNano()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	rps := rate.Limit(float64(s.cfg.RateLimitPerMinute) / 60.0)
	entry := &rateLimiterEntry{limiter: rate.NewLimiter(rps, s.cfg.RateLimitBurst)}
	entry.lastSeen.Store(now)

	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP returns the caller's IP. Proxy headers are honoured only
// with TrustProxy set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
			return strings.TrimSpace(cfIP)
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRateLimiters()
		}
	}
}

// cleanupRateLimiters drops limiters idle for longer than limiterIdleTimeout.
func (s *Server) cleanupRateLimiters() int {
	stale := s.now().Add(-limiterIdleTimeout).UnixNano()
	var cleaned int

	s.rateLimiters.Range(func(key, value any) bool {
		if value.(*rateLimiterEntry).lastSeen.Load() < stale {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
	return cleaned
}

// setCORSHeaders allows the request's origin when it is configured.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(s.cfg.CORSOrigins, origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Add("Vary", "Origin")
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader. A hijacked connection is
// reported as 101.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to encode response", logging.Err(err), logging.Component("api"))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

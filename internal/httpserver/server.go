package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dua-ia/dua-credits/internal/adapter"
	"github.com/dua-ia/dua-credits/internal/auth"
	"github.com/dua-ia/dua-credits/internal/credits"
	"github.com/dua-ia/dua-credits/internal/health"
	"github.com/dua-ia/dua-credits/internal/metrics"
	"github.com/dua-ia/dua-credits/internal/ratelimit"
	"github.com/dua-ia/dua-credits/internal/userstore"
)

const maxBodyBytes = 1 << 20

// Options wires the server's dependencies.
type Options struct {
	Credits  *credits.Service
	Tasks    adapter.TaskAdapter
	Auth     *auth.Manager
	Identity userstore.Store
	// RateLimit wraps authenticated routes when set.
	RateLimit *ratelimit.Middleware
	Health    *health.Checker
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
	// AuthDisabled trusts the X-User-ID header instead of bearer tokens.
	AuthDisabled bool
	// RequestTimeout bounds a single vendor call.
	RequestTimeout time.Duration
}

// Server exposes the credit-gated feature routes and the credits API.
type Server struct {
	credits        *credits.Service
	tasks          adapter.TaskAdapter
	auth           *auth.Manager
	identity       userstore.Store
	rateLimit      *ratelimit.Middleware
	health         *health.Checker
	metrics        *metrics.Collector
	log            zerolog.Logger
	authDisabled   bool
	requestTimeout time.Duration
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Credits == nil {
		return nil, errors.New("httpserver: credits service required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("httpserver: task adapter required")
	}
	if opts.Auth == nil && !opts.AuthDisabled {
		return nil, errors.New("httpserver: auth manager required unless auth is disabled")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Server{
		credits:        opts.Credits,
		tasks:          opts.Tasks,
		auth:           opts.Auth,
		identity:       opts.Identity,
		rateLimit:      opts.RateLimit,
		health:         opts.Health,
		metrics:        m,
		log:            opts.Logger.With().Str("component", "http").Logger(),
		authDisabled:   opts.AuthDisabled,
		requestTimeout: timeout,
	}, nil
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r, newHealthEndpoint(s))
	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		if s.rateLimit != nil {
			r.Use(s.rateLimit.Wrap)
		}
		s.registerEndpoints(r, newGateEndpoint(s), newCreditsEndpoint(s), newAdminEndpoint(s))
	})
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondCode(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...Endpoint) {
	for _, ep := range endpoints {
		for _, route := range ep.Routes() {
			h := s.instrument(route.Path, route.Handler)
			if route.Capability != "" {
				h = s.requireCapability(route.Capability)(h)
			}
			r.Method(route.Method, route.Path, h)
		}
	}
}

// instrument records per-route request counts and latency.
func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RecordRequestStart(path)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.metrics.RecordRequestEnd(path)
			s.metrics.RecordRequest(path, time.Since(start))
			if ww.Status() >= http.StatusInternalServerError {
				s.metrics.RecordError(path)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		evt := s.log.Info()
		if status >= http.StatusInternalServerError {
			evt = s.log.Error()
		} else if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			evt = s.log.Debug()
		}
		evt.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	s.respondJSON(w, status, map[string]any{"error": msg})
}

// respondCode writes the {error, code} body clients switch on.
func (s *Server) respondCode(w http.ResponseWriter, status int, code, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg, "code": code})
}

// decodeJSON reads at most maxBodyBytes; an empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback, ceiling int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	if ceiling > 0 && v > ceiling {
		return ceiling
	}
	return v
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

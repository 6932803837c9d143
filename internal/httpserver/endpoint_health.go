package httpserver

import (
	"io"
	"net/http"
	"time"

	"github.com/dua-ia/dua-credits/internal/metrics"
	"github.com/dua-ia/dua-credits/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []EndpointRoute {
	return []EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.HandleMetrics)},
	}
}

// HandleHealth runs the component probes. Without a checker it only reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"version":   version.Version,
			"timestamp": time.Now().UTC(),
		})
		return
	}
	status := s.health.Check(r.Context())
	s.respondJSON(w, status.HTTPStatus(), map[string]any{
		"status":     status.Status,
		"version":    version.Version,
		"timestamp":  status.Timestamp,
		"components": status.Components,
	})
}

// HandleMetrics renders the collector in the Prometheus text format.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, metrics.FormatPrometheus(s.metrics.GetSnapshot()))
}

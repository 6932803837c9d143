package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component types. Only databases are critical.
const (
	TypeDatabase = "database"
	TypeCache    = "cache"
	TypeHTTP     = "http"
)

// Pinger is anything that can report connectivity: the ledger and identity
// stores, or a Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CheckResult
}

// Config holds health checker configuration.
type Config struct {
	// Databases are critical: one unreachable database makes the service unhealthy.
	Databases map[string]Pinger
	// Caches degrade the service when unreachable.
	Caches map[string]Pinger
	// Vendors maps adapter name to base URL; any HTTP answer counts as reachable.
	Vendors map[string]string

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// Checker performs health checks on system components.
type Checker struct {
	cfg    Config
	client *http.Client

	mu   sync.RWMutex
	last []Component
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	return &Checker{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

// Check runs every probe concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		components []Component
	)
	collect := func(comp Component) {
		mu.Lock()
		components = append(components, comp)
		mu.Unlock()
	}

	for name, p := range c.cfg.Databases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(c.checkPinger(ctx, name, TypeDatabase, p))
		}()
	}
	for name, p := range c.cfg.Caches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(c.checkPinger(ctx, name, TypeCache, p))
		}()
	}
	for name, url := range c.cfg.Vendors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(c.checkHTTPEndpoint(ctx, name, url))
		}()
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return overallStatus(components)
}

func (c *Checker) checkPinger(ctx context.Context, name, typ string, p Pinger) Component {
	comp := Component{Name: name, Type: typ, CheckResult: CheckResult{Timestamp: time.Now()}}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pctx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Unreachable"
	case comp.Latency > c.cfg.MaxDatabaseLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: TypeHTTP, CheckResult: CheckResult{Timestamp: time.Now()}}
	if baseURL == "" {
		comp.Status = StatusHealthy
		comp.Message = "Not configured"
		return comp
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Latency = time.Since(start)
		return comp
	}
	resp, err := c.client.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

func overallStatus(components []Component) HealthStatus {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == TypeDatabase {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return HealthStatus{Status: status, Timestamp: time.Now(), Components: components}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// HTTPStatus maps the overall status to a response code; degraded still serves.
func (h HealthStatus) HTTPStatus() int {
	if h.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return overallStatus(c.last)
}

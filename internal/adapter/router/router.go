package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dua-ia/dua-credits/internal/adapter"
	"github.com/dua-ia/dua-credits/internal/metrics"
)

// Ensure Router implements TaskAdapter.
var _ adapter.TaskAdapter = (*Router)(nil)

// Router routes tasks to the appropriate adapter based on their route key.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.TaskAdapter
	routes   map[string]string // route pattern -> adapter name
	fallback string
	metrics  *metrics.Collector
}

// New creates a new Router instance. A nil collector disables metrics.
func New(m *metrics.Collector) *Router {
	return &Router{
		adapters: make(map[string]adapter.TaskAdapter),
		routes:   make(map[string]string),
		metrics:  m,
	}
}

// Name implements adapter.TaskAdapter.
func (r *Router) Name() string {
	return "router"
}

// RegisterAdapter registers an adapter under its own name.
func (r *Router) RegisterAdapter(a adapter.TaskAdapter) error {
	if a == nil {
		return errors.New("router: adapter cannot be nil")
	}
	name := a.Name()
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[name] = a
	return nil
}

// RegisterRoute maps a route pattern to an adapter. Patterns match the
// task's route key ("kind" or "kind/model") and support:
// - Exact match: "video/gen4_turbo"
// - Prefix match: "music*"
// - Suffix match: "*_turbo"
// - Contains match: "*gen4*"
// - Infix match: "video/*_turbo"
func (r *Router) RegisterRoute(pattern, adapterName string) error {
	if pattern == "" {
		return errors.New("router: route pattern cannot be empty")
	}
	if adapterName == "" {
		return errors.New("router: adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}

	r.routes[strings.ToLower(pattern)] = adapterName
	return nil
}

// SetFallback names the adapter used for unmatched tasks.
func (r *Router) SetFallback(adapterName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.fallback = adapterName
	return nil
}

// Submit routes the task to the matching adapter.
func (r *Router) Submit(ctx context.Context, task adapter.Task) (adapter.Result, error) {
	if task.Kind == "" {
		return adapter.Result{}, errors.New("router: task kind required")
	}

	name, err := r.findAdapter(task.RouteKey())
	if err != nil {
		return adapter.Result{}, err
	}

	r.mu.RLock()
	selected, exists := r.adapters[name]
	r.mu.RUnlock()
	if !exists {
		return adapter.Result{}, fmt.Errorf("router: adapter %q not found", name)
	}

	start := time.Now()
	res, err := selected.Submit(ctx, task)
	if r.metrics != nil {
		r.metrics.RecordVendorRequest(name, time.Since(start), err)
	}
	return res, err
}

// findAdapter finds the adapter for a route key. Exact routes win, then the
// longest matching pattern.
func (r *Router) findAdapter(key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key = strings.ToLower(strings.TrimSpace(key))

	if name, exists := r.routes[key]; exists {
		return name, nil
	}

	best, bestLen := "", -1
	for pattern, name := range r.routes {
		if matchPattern(key, pattern) && len(pattern) > bestLen {
			best, bestLen = name, len(pattern)
		}
	}
	if best != "" {
		return best, nil
	}

	// "music/v5" falls back to a plain "music" route.
	if kind, _, ok := strings.Cut(key, "/"); ok {
		if name, exists := r.routes[kind]; exists {
			return name, nil
		}
	}

	if r.fallback != "" {
		return r.fallback, nil
	}

	return "", fmt.Errorf("router: no adapter found for %q", key)
}

// matchPattern checks if a route key matches a pattern.
func matchPattern(key, pattern string) bool {
	key = strings.ToLower(key)
	pattern = strings.ToLower(pattern)

	if key == pattern {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return false
	}

	// Prefix match: "music*"
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}

	// Suffix match: "*_turbo"
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(key, strings.TrimPrefix(pattern, "*"))
	}

	// Contains match: "*gen4*"
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		return strings.Contains(key, strings.Trim(pattern, "*"))
	}

	// Infix wildcard: "video/*_turbo"
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, strings.TrimPrefix(suffix, "*"))
}

// AdapterFor returns the adapter name a task would be routed to.
func (r *Router) AdapterFor(task adapter.Task) (string, error) {
	return r.findAdapter(task.RouteKey())
}

// ListAdapters returns all registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns all registered routes.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]string, len(r.routes))
	for pattern, name := range r.routes {
		routes[pattern] = name
	}
	return routes
}

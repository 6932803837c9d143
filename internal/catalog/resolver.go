package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"
)

// Price sources, from highest to lowest precedence.
const (
	SourceOverride = "override"
	SourceFile     = "file"
	SourceStatic   = "static"
)

// OverrideSource returns the live, admin-edited cost of an operation.
// ok is false when no active override exists.
type OverrideSource interface {
	CostOverride(ctx context.Context, operation string) (cost int64, ok bool, err error)
}

// Price is an operation together with the source its cost came from.
type Price struct {
	Operation
	Source string `json:"source"`
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Overrides OverrideSource
	// FileCosts replaces static costs, typically loaded with LoadPriceFile.
	FileCosts map[string]int64
	CacheSize int
	CacheTTL  time.Duration
}

type cachedOverride struct {
	cost int64
	ok   bool
}

// Resolver answers "what does this operation cost right now". Every caller goes
// through Resolve so there is exactly one precedence order: active override,
// then price file, then the compiled-in table.
type Resolver struct {
	overrides OverrideSource
	file      map[string]int64
	cache     *expirable.LRU[string, cachedOverride]
}

// NewResolver validates the price file costs and builds a resolver.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	for name, cost := range opts.FileCosts {
		if !Known(name) {
			return nil, fmt.Errorf("price file: %w: %q", ErrUnknownOperation, name)
		}
		if cost < 0 {
			return nil, fmt.Errorf("price file: negative cost for %q", name)
		}
	}
	size := opts.CacheSize
	if size <= 0 {
		size = len(operations)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		overrides: opts.Overrides,
		file:      opts.FileCosts,
		cache:     expirable.NewLRU[string, cachedOverride](size, nil, ttl),
	}, nil
}

// Resolve returns the effective price of an operation.
func (r *Resolver) Resolve(ctx context.Context, name string) (Price, error) {
	base, err := Lookup(name)
	if err != nil {
		return Price{}, err
	}
	if r == nil {
		return Price{Operation: base, Source: SourceStatic}, nil
	}
	if r.overrides != nil {
		entry, hit := r.cache.Get(name)
		if !hit {
			cost, ok, err := r.overrides.CostOverride(ctx, name)
			if err != nil {
				return Price{}, fmt.Errorf("load cost override for %s: %w", name, err)
			}
			entry = cachedOverride{cost: cost, ok: ok}
			r.cache.Add(name, entry)
		}
		if entry.ok && entry.cost >= 0 {
			return Price{Operation: withCost(base, entry.cost), Source: SourceOverride}, nil
		}
	}
	if cost, ok := r.file[name]; ok {
		return Price{Operation: withCost(base, cost), Source: SourceFile}, nil
	}
	return Price{Operation: base, Source: SourceStatic}, nil
}

// Prices resolves the whole catalog.
func (r *Resolver) Prices(ctx context.Context) ([]Price, error) {
	out := make([]Price, 0, len(operations))
	for _, o := range operations {
		p, err := r.Resolve(ctx, o.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Select keeps the prices of ops, in the order prices lists them.
func Select(prices []Price, ops []Operation) []Price {
	want := make(map[string]bool, len(ops))
	for _, o := range ops {
		want[o.Name] = true
	}
	out := make([]Price, 0, len(ops))
	for _, p := range prices {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// Invalidate drops a cached override so the next Resolve reads it again.
func (r *Resolver) Invalidate(name string) {
	if r == nil {
		return
	}
	if name == "" {
		r.cache.Purge()
		return
	}
	r.cache.Remove(name)
}

func withCost(o Operation, cost int64) Operation {
	o.Cost = cost
	o.Free = cost == 0
	return o
}

type priceFile struct {
	Costs map[string]int64 `yaml:"costs"`
}

// LoadPriceFile reads a YAML document of the form:
//
//	costs:
//	  music_convert_wav: 2
//	  image_ultra: 30
func LoadPriceFile(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price file: %w", err)
	}
	var doc priceFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse price file: %w", err)
	}
	for name, cost := range doc.Costs {
		if !Known(name) {
			return nil, fmt.Errorf("price file: %w: %q", ErrUnknownOperation, name)
		}
		if cost < 0 {
			return nil, fmt.Errorf("price file: negative cost for %q", name)
		}
	}
	return doc.Costs, nil
}

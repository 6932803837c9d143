// Package bootstrap scaffolds configuration and turns a loaded config into
// the stores and services both binaries run on.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dua-ia/dua-credits/internal/adapter/httptask"
	"github.com/dua-ia/dua-credits/internal/adapter/loopback"
	adapterrouter "github.com/dua-ia/dua-credits/internal/adapter/router"
	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/config"
	"github.com/dua-ia/dua-credits/internal/credits"
	"github.com/dua-ia/dua-credits/internal/hooks"
	"github.com/dua-ia/dua-credits/internal/ledger"
	ledgerpg "github.com/dua-ia/dua-credits/internal/ledger/postgres"
	ledgersqlite "github.com/dua-ia/dua-credits/internal/ledger/sqlite"
	"github.com/dua-ia/dua-credits/internal/metrics"
	"github.com/dua-ia/dua-credits/internal/userstore"
	userpg "github.com/dua-ia/dua-credits/internal/userstore/postgres"
	usersqlite "github.com/dua-ia/dua-credits/internal/userstore/sqlite"
)

// LedgerStore is the full persistence surface of one ledger backend.
type LedgerStore interface {
	ledger.Store
	ledger.InviteStore
	ledger.PriceStore
}

// Stores holds the opened databases.
type Stores struct {
	Ledger   LedgerStore
	Identity userstore.Store
}

// Close closes every store, returning the first error.
func (s *Stores) Close() error {
	var errs []error
	if s.Ledger != nil {
		errs = append(errs, s.Ledger.Close())
	}
	if s.Identity != nil {
		errs = append(errs, s.Identity.Close())
	}
	return errors.Join(errs...)
}

// OpenStores opens the ledger and identity databases for cfg.DatabaseDriver.
func OpenStores(cfg config.CreditsConfig) (*Stores, error) {
	stores := &Stores{}
	switch cfg.DatabaseDriver {
	case "postgres":
		l, err := ledgerpg.New(cfg.DatabaseDSN, cfg.DBMaxOpen, cfg.DBMaxIdle, 30, 5)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		stores.Ledger = l
		u, err := userpg.New(cfg.IdentityDSN, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("open identity store: %w", err)
		}
		stores.Identity = u
	default:
		l, err := ledgersqlite.New(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		stores.Ledger = l
		u, err := usersqlite.New(cfg.IdentityPath)
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("open identity store: %w", err)
		}
		stores.Identity = u
	}
	return stores, nil
}

// NewResolver builds the price resolver, loading the price file when configured.
func NewResolver(cfg config.CreditsConfig, overrides catalog.OverrideSource) (*catalog.Resolver, error) {
	opts := catalog.ResolverOptions{Overrides: overrides, CacheTTL: cfg.PriceOverrideTTL}
	if strings.TrimSpace(cfg.PriceFile) != "" {
		costs, err := catalog.LoadPriceFile(cfg.PriceFile)
		if err != nil {
			return nil, err
		}
		opts.FileCosts = costs
	}
	return catalog.NewResolver(opts)
}

// NewDispatcher starts a background dispatcher with the structured-log and
// script handlers that cfg enables. Callers Close it to flush pending events.
func NewDispatcher(cfg hooks.Config, logger zerolog.Logger) *hooks.Dispatcher {
	hookLog := logger.With().Str("component", "hooks").Logger()
	d := hooks.NewAsyncDispatcher(hooks.AsyncOptions{Timeout: cfg.Timeout, Logger: hookLog})
	if cfg.LogEvents {
		d.Register(hooks.NewLogHandler(hookLog))
	}
	if h := cfg.BuildScriptHandler(); h != nil {
		d.Register(h)
	}
	return d
}

// NewService wires the credit gate on top of opened stores.
func NewService(cfg config.CreditsConfig, stores *Stores, dispatcher *hooks.Dispatcher, m *metrics.Collector, logger zerolog.Logger) (*credits.Service, error) {
	mode, err := credits.ParseMode(cfg.GateMode)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(cfg, stores.Ledger)
	if err != nil {
		return nil, err
	}
	return credits.New(credits.Options{
		Store:         stores.Ledger,
		Invites:       stores.Ledger,
		Pricing:       stores.Ledger,
		Prices:        resolver,
		Hooks:         dispatcher,
		Metrics:       m,
		Logger:        logger,
		Mode:          mode,
		DeductTimeout: cfg.DeductTimeout,
	})
}

// NewTaskRouter registers one HTTP adapter per configured vendor kind plus the
// loopback adapter, routes each kind to its vendor and applies vendor_routes.
func NewTaskRouter(cfg config.CreditsConfig, m *metrics.Collector, logger zerolog.Logger) (*adapterrouter.Router, error) {
	r := adapterrouter.New(m)
	if err := r.RegisterAdapter(loopback.New()); err != nil {
		return nil, err
	}

	kinds := make([]string, 0, len(cfg.Vendors))
	for kind := range cfg.Vendors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		vc := cfg.Vendors[kind]
		a, err := httptask.New(httptask.Config{
			Name:           kind,
			APIKey:         vc.Key,
			BaseURL:        vc.URL,
			Path:           vc.Path,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := r.RegisterAdapter(a); err != nil {
			return nil, err
		}
		if err := r.RegisterRoute(kind, kind); err != nil {
			return nil, err
		}
		logger.Info().Str("kind", kind).Str("url", vc.URL).Msg("vendor adapter registered")
	}

	for pattern, name := range cfg.VendorRoutes {
		if err := r.RegisterRoute(pattern, name); err != nil {
			return nil, fmt.Errorf("vendor route %q: %w", pattern, err)
		}
	}
	if cfg.FallbackAdapter != "" {
		if err := r.SetFallback(cfg.FallbackAdapter); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// BootstrapAdmins promotes cfg.AdminEmails, logging who was promoted.
func BootstrapAdmins(ctx context.Context, cfg config.CreditsConfig, identity userstore.Store, logger zerolog.Logger) error {
	admins, err := userstore.BootstrapAdmins(ctx, identity, cfg.AdminEmails)
	if err != nil {
		return err
	}
	for _, a := range admins {
		logger.Info().Str("email", a.Email).Str("role", string(a.Role)).Str("user_id", a.ID).Msg("administrator ensured")
	}
	return nil
}

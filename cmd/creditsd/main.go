package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dua-ia/dua-credits/internal/auth"
	"github.com/dua-ia/dua-credits/internal/bootstrap"
	"github.com/dua-ia/dua-credits/internal/config"
	"github.com/dua-ia/dua-credits/internal/health"
	"github.com/dua-ia/dua-credits/internal/httpserver"
	"github.com/dua-ia/dua-credits/internal/logging"
	"github.com/dua-ia/dua-credits/internal/metrics"
	"github.com/dua-ia/dua-credits/internal/ratelimit"
	"github.com/dua-ia/dua-credits/internal/version"
)

func main() {
	cfg, err := config.LoadCreditsConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}

	logger, closer, err := logging.NewLogger(logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Service:     "creditsd",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init logging")
	}
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("creditsd stopped")
		os.Exit(1)
	}
}

func run(cfg config.CreditsConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info().
		Str("version", version.FullInfo()).
		Str("environment", cfg.Environment).
		Str("driver", cfg.DatabaseDriver).
		Str("gate_mode", cfg.GateMode).
		Msg("starting creditsd")

	stores, err := bootstrap.OpenStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := bootstrap.BootstrapAdmins(ctx, cfg, stores.Identity, logger); err != nil {
		return err
	}

	m := metrics.NewCollector()
	dispatcher := bootstrap.NewDispatcher(cfg.Hooks, logger)
	defer dispatcher.Close()
	if cfg.Hooks.Enabled {
		logger.Info().Str("script", cfg.Hooks.ScriptPath).Msg("hooks dispatcher enabled")
	}

	svc, err := bootstrap.NewService(cfg, stores, dispatcher, m, logger)
	if err != nil {
		return err
	}
	tasks, err := bootstrap.NewTaskRouter(cfg, m, logger)
	if err != nil {
		return err
	}

	var authManager *auth.Manager
	if cfg.AuthDisabled {
		logger.Warn().Msg("authorization disabled: trusting X-User-ID")
	} else {
		authManager = auth.NewManager(cfg.AuthSecret)
	}

	checks := health.Config{
		Databases: map[string]health.Pinger{"ledger": stores.Ledger, "identity": stores.Identity},
		Vendors:   make(map[string]string),
	}
	for kind, vc := range cfg.Vendors {
		checks.Vendors[kind] = vc.URL
	}

	var limit *ratelimit.Middleware
	if cfg.RateLimit.Enabled {
		limiterStore, err := newLimiterStore(ctx, cfg.RateLimit, logger)
		if err != nil {
			return err
		}
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			Store:             limiterStore,
			RequestsPerSecond: cfg.RateLimit.RPS,
			BurstSize:         float64(cfg.RateLimit.Burst),
			Logger:            logger,
		})
		defer limiter.Close()
		if rs, ok := limiterStore.(*ratelimit.RedisStore); ok {
			checks.Caches = map[string]health.Pinger{"redis": rs}
		}
		limit = ratelimit.NewMiddleware(limiter, true, httpserver.SessionUserID, m, logger)
	}

	httpSrv, err := httpserver.New(httpserver.Options{
		Credits:        svc,
		Tasks:          tasks,
		Auth:           authManager,
		Identity:       stores.Identity,
		RateLimit:      limit,
		Health:         health.New(checks),
		Metrics:        m,
		Logger:         logger,
		AuthDisabled:   cfg.AuthDisabled,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Strs("adapters", tasks.ListAdapters()).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newLimiterStore(ctx context.Context, cfg config.RateLimitConfig, logger zerolog.Logger) (ratelimit.Store, error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStore(), nil
	}
	store, err := ratelimit.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("rate limiter using redis")
	return store, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cwygoda/streamwatch/internal/adapter/fetch"
	httpAdapter "github.com/cwygoda/streamwatch/internal/adapter/http"
	"github.com/cwygoda/streamwatch/internal/adapter/session"
	"github.com/cwygoda/streamwatch/internal/adapter/sqlite"
	"github.com/cwygoda/streamwatch/internal/adapter/strategy"
	"github.com/cwygoda/streamwatch/internal/adapter/xlsx"
	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/config"
	"github.com/cwygoda/streamwatch/internal/domain"
	"github.com/cwygoda/streamwatch/internal/logger"
	"github.com/cwygoda/streamwatch/internal/metrics"
	"github.com/cwygoda/streamwatch/internal/queue"
	"github.com/cwygoda/streamwatch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// app is the wired engine.
type app struct {
	cfg        *config.Config
	log        logger.Logger
	closeStore func() error
	sessions   *session.Store
	registry   *strategy.Registry
	prom       *prometheus.Registry
	worker     *worker.Worker
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	clk := clock.New()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := session.Open(cfg.Session.Dir, clk, log)
	if err != nil {
		closeStore()
		return nil, err
	}
	registry, err := buildRegistry(cfg, sessions)
	if err != nil {
		closeStore()
		return nil, err
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(prom)

	q := queue.New(queue.Config{
		Concurrency: cfg.Queue.Concurrency,
		Pace:        cfg.Queue.Pace,
		Paused:      true,
	}, clk)
	m.ObserveQueue(q.Size)

	reconciler := domain.NewReconciler(store, clk, cfg.Sweep.Archive, cfg.Sweep.Expiry)
	controller := worker.NewController(q, registry, reconciler, sessions, clk, log, m, worker.RetryPolicy{
		MaxRetries:        cfg.Retry.MaxRetries,
		Backoff:           cfg.Retry.Backoff,
		RateLimitCooldown: cfg.Retry.RateLimitCooldown,
		ChallengeDelay:    cfg.Retry.ChallengeDelay,
		ChallengeTimeout:  cfg.Retry.ChallengeTimeout,
	})
	w := worker.New(store, registry, q, controller, clk, log, m, worker.Config{
		Collections: cfg.Sweep.Collections,
		Freshness:   cfg.Sweep.Freshness,
		Interval:    cfg.Sweep.Interval,
	}).WithRefresher(sessions)

	log.Info("engine ready",
		logger.String("store", cfg.Store.Driver),
		logger.String("path", cfg.Store.Path),
		logger.Any("platforms", registry.Platforms()),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		closeStore: closeStore,
		sessions:   sessions,
		registry:   registry,
		prom:       prom,
		worker:     w,
	}, nil
}

// openStore opens the configured item store.
func openStore(cfg *config.Config) (domain.ItemStore, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverXLSX:
		loc, err := cfg.Location()
		if err != nil {
			return nil, nil, err
		}
		wb, err := xlsx.Open(cfg.Store.Path, loc)
		if err != nil {
			return nil, nil, err
		}
		return wb, func() error { return nil }, nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		repo, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize database: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildRegistry registers a strategy for every enabled platform, each with
// its own session-bound fetcher.
func buildRegistry(cfg *config.Config, sessions *session.Store) (*strategy.Registry, error) {
	pc := cfg.Platforms
	registry := strategy.NewRegistry()

	client := func(p domain.Platform, userAgent string) (*fetch.Client, *session.Session, error) {
		s, err := sessions.Session(p)
		if err != nil {
			return nil, nil, err
		}
		return fetch.New(s, userAgent, pc.RequestTimeout), s, nil
	}

	if pc.YouTube.APIKey != "" {
		f, _, err := client(domain.PlatformYouTube, pc.UserAgent)
		if err != nil {
			return nil, err
		}
		registry.Register(strategy.NewYouTube(f, pc.YouTube.APIKey, ""))
	}
	if pc.Twitch.Enabled {
		f, _, err := client(domain.PlatformTwitch, pc.UserAgent)
		if err != nil {
			return nil, err
		}
		registry.Register(strategy.NewTwitch(f, strategy.TwitchConfig{
			ClientID:    pc.Twitch.ClientID,
			Token:       pc.Twitch.Token,
			EmbedParent: pc.Twitch.EmbedParent,
		}))
	}
	if pc.Facebook.Enabled {
		f, _, err := client(domain.PlatformFacebook, strategy.MobileUserAgent)
		if err != nil {
			return nil, err
		}
		registry.Register(strategy.NewFacebook(f))
	}
	if pc.Periscope.Enabled {
		f, _, err := client(domain.PlatformPeriscope, pc.UserAgent)
		if err != nil {
			return nil, err
		}
		registry.Register(strategy.NewPeriscope(f))
	}
	if pc.Instagram.Enabled {
		f, s, err := client(domain.PlatformInstagram, pc.UserAgent)
		if err != nil {
			return nil, err
		}
		registry.Register(strategy.NewInstagram(f, s))
	}
	return registry, nil
}

// run sweeps until ctx is cancelled, serving the status endpoints if an
// address is configured.
func (a *app) run(ctx context.Context) error {
	var srv *httpAdapter.Server
	if a.cfg.HTTP.Addr != "" {
		srv = httpAdapter.NewServer(a.worker, a.prom, a.log, a.cfg.HTTP.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("http server error", logger.Error(err))
			}
		}()
	}

	err := a.worker.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Warn("http server shutdown error", logger.Error(serr))
		}
	}
	return err
}

func (a *app) Close() error {
	return a.closeStore()
}

package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/stellarlinkco/kbyg/internal/cache"
	"github.com/stellarlinkco/kbyg/internal/config"
	"github.com/stellarlinkco/kbyg/internal/gemini"
	"github.com/stellarlinkco/kbyg/internal/metrics"
	"github.com/stellarlinkco/kbyg/internal/outreach"
	"github.com/stellarlinkco/kbyg/internal/prompts"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

// App is the wired set of collaborators shared by the commands.
type App struct {
	Config     *config.Config
	Store      *store.SQLStore
	Prompts    *prompts.Set
	Generator  upstream.Generator
	Backend    string
	Metrics    *metrics.Metrics
	Dispatcher *tools.Dispatcher
	Cache      cache.Cache
}

// loadConfig reads .env files and the config file.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(".env", filepath.Join(config.ConfigDir(), ".env")); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*App, error) {
	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	set, err := prompts.Load(cfg.Prompts.Dir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	m := metrics.New()
	gen, backend, err := newGenerator(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	gen = m.InstrumentGenerator(backend, gen)

	svc := outreach.New(gen, st, set)
	var events cache.Cache
	if cfg.Cache.RedisURL != "" {
		events, err = cache.OpenRedis(context.Background(), cfg.Cache.RedisURL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		svc.WithEventCache(events, cfg.EventCacheTTL())
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterGTM(reg, st, svc); err != nil {
		_ = st.Close()
		if events != nil {
			_ = events.Close()
		}
		return nil, fmt.Errorf("register tools: %w", err)
	}
	log.Printf("[kbyg] store=%s backend=%s tools=%d", st.Driver(), backend, reg.Len())

	return &App{
		Config:     cfg,
		Store:      st,
		Prompts:    set,
		Generator:  gen,
		Backend:    backend,
		Metrics:    m,
		Dispatcher: tools.NewDispatcher(reg, m),
		Cache:      events,
	}, nil
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("[kbyg] close store warning: %v", err)
		}
	}
}

// newGenerator picks the generation backend: a configured upstream
// endpoint first, then Gemini directly, else a backend that refuses.
func newGenerator(cfg *config.Config) (upstream.Generator, string, error) {
	switch {
	case cfg.Upstream.EndpointURL != "":
		return upstream.New(upstream.Options{
			EndpointURL: cfg.Upstream.EndpointURL,
			BearerToken: cfg.Upstream.BearerToken,
			Model:       cfg.Upstream.Model,
			Temperature: cfg.Upstream.Temperature,
			MaxTokens:   cfg.Upstream.MaxTokens,
			Timeout:     cfg.UpstreamTimeout(),
		}), "upstream", nil
	case cfg.Gemini.APIKey != "":
		p, err := gemini.New(gemini.Options{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxTokens:   cfg.Gemini.MaxTokens,
			Timeout:     cfg.UpstreamTimeout(),
		})
		if err != nil {
			return nil, "", fmt.Errorf("create gemini backend: %w", err)
		}
		return p, "gemini", nil
	default:
		return upstream.Unconfigured{}, "none", nil
	}
}

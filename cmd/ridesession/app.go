package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-ride-session/authhttp"
	"github.com/jrsteele09/go-ride-session/backend"
	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/jrsteele09/go-ride-session/kvstore"
	"github.com/jrsteele09/go-ride-session/kvstore/filestore"
	"github.com/jrsteele09/go-ride-session/kvstore/redisstore"
	"github.com/jrsteele09/go-ride-session/metrics"
	"github.com/jrsteele09/go-ride-session/oauthflow"
	"github.com/jrsteele09/go-ride-session/presenter"
	"github.com/jrsteele09/go-ride-session/session"
	"github.com/jrsteele09/go-ride-session/token/idtoken"
	"github.com/jrsteele09/go-ride-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app is the fully wired session client.
type app struct {
	sessions  *session.Manager
	refresher *refresh.Manager
	login     *oauthflow.Controller
	presenter presenter.Presenter
	client    *authhttp.Client

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, returnError error) {
	a := &app{}
	defer func() {
		if returnError != nil {
			_ = a.close(context.Background())
		}
	}()

	store, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewManager(store)
	a.sessions.Subscribe(func(isAuthenticated bool) {
		log.Debug().Bool("authenticated", isAuthenticated).Msg("session changed")
	})

	recorder, err := a.startMetrics(cfg)
	if err != nil {
		return nil, err
	}

	api, err := backend.New(cfg.GetAPIURL(), backend.WithTimeout(cfg.GetRequestTimeout()))
	if err != nil {
		return nil, err
	}

	a.presenter, err = presenter.ForPlatform(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.presenter.Shutdown)

	options := []oauthflow.Option{oauthflow.WithRecorder(recorder)}
	if issuer := cfg.GetOIDCIssuer(); issuer != "" {
		verifier, err := idtoken.NewVerifier(ctx, issuer, cfg.GetOIDCClientID())
		if err != nil {
			log.Warn().Err(err).Str("issuer", issuer).Msg("id_token verification disabled")
		} else {
			options = append(options, oauthflow.WithProfileVerifier(verifier))
		}
	}

	a.login = oauthflow.NewController(api, a.sessions, a.presenter, cfg, options...)
	a.refresher = refresh.NewManager(api, a.sessions, cfg, refresh.WithRecorder(recorder))
	a.client = authhttp.New(api, a.sessions, a.refresher)
	return a, nil
}

func (a *app) openStore(cfg config.StoreConfig) (kvstore.Store, error) {
	switch kind := cfg.GetStoreKind(); kind {
	case config.StoreKindFile:
		var options []filestore.Option
		if passphrase := cfg.GetStorePassphrase(); passphrase != "" {
			options = append(options, filestore.WithPassphrase(passphrase))
		}
		return filestore.New(cfg.GetStoreDir(), options...)

	case config.StoreKindRedis:
		store, err := redisstore.New(redisstore.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil

	case config.StoreKindMemory:
		// an in-process Redis; the session lasts as long as the command
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("[openStore] starting in-memory store: %w", err)
		}
		store := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg.GetRedisPrefix())
		a.closers = append(a.closers, func(context.Context) error {
			err := store.Close()
			mr.Close()
			return err
		})
		return store, nil

	default:
		return nil, fmt.Errorf("[openStore] unknown store kind %q", kind)
	}
}

// startMetrics serves Prometheus metrics when a metrics address is configured.
func (a *app) startMetrics(cfg config.EnvConfig) (metrics.Recorder, error) {
	addr := cfg.GetMetricsAddr()
	if addr == "" {
		return metrics.NopRecorder{}, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder, err := metrics.NewPromRecorder(reg)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.closers = append(a.closers, server.Shutdown)
	return recorder, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

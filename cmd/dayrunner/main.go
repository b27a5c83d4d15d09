package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/citygrid/h3delay/internal/config"
	"github.com/citygrid/h3delay/internal/health"
	"github.com/citygrid/h3delay/internal/history"
	"github.com/citygrid/h3delay/internal/httpclient"
	"github.com/citygrid/h3delay/internal/ingest/odkafka"
	"github.com/citygrid/h3delay/internal/logger"
	"github.com/citygrid/h3delay/internal/metricsserver"
	"github.com/citygrid/h3delay/internal/middleware"
	"github.com/citygrid/h3delay/internal/observability"
	"github.com/citygrid/h3delay/internal/odsource"
	"github.com/citygrid/h3delay/internal/orchestrator"
	"github.com/citygrid/h3delay/internal/provider"
	"github.com/citygrid/h3delay/internal/redisstore"
	"github.com/citygrid/h3delay/internal/snapshot"
)

var Version = "dev"

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dayrunner: configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "dayrunner"}, os.Stdout)
	slogger := logger.NewSlog(&log)
	log.Info().Str("addr", cfg.Addr).Str("version", Version).Msg("starting dayrunner")

	metrics := metricsserver.Init(metricsserver.Config{
		Enabled: true,
		Build:   metricsserver.BuildInfo{Version: Version},
	})
	observability.Init(metrics.Registerer(), true)

	holder := snapshot.New()
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis mirror unavailable, snapshot will be process-local only")
		} else {
			holder = holder.WithRedisMirror(rc, "h3delay:snapshot", 10*time.Minute)
		}
	}

	sink := buildSink(cfg)

	var provFinal provider.Provider
	if cfg.TomTomAPIKey != "" {
		tt := provider.NewTomTom(httpclient.NewOutbound(), cfg.TomTomAPIKey, cfg.TomTomTimeout, log)
		cached, err := provider.NewCached(tt, "tomtom", cfg.ProviderCacheSize, 5*time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("provider cache disabled, calling tomtom uncached")
			provFinal = tt
		} else {
			provFinal = cached
		}
	} else {
		log.Info().Msg("no provider key configured, running orange-only")
	}

	computeDay := func(ctx context.Context, date, source string) error {
		rows, err := odsource.Load(source)
		if err != nil {
			return fmt.Errorf("compute_day: load od batch: %w", err)
		}
		res, err := orchestrator.ComputeDay(ctx, date, rows, cfg.Delay, orchestrator.Options{
			Provider:        provFinal,
			ProviderTimeout: cfg.TomTomTimeout,
			Sink:            sink,
		})
		if err != nil {
			return err
		}
		return holder.Publish(ctx, res.GeoJSON, time.Now())
	}

	kafkaCfg := odkafka.FromEnv()
	runner := odkafka.New(kafkaCfg, computeDay, odkafka.Options{Logger: log, Register: metrics.Registerer()})

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := runner.Start(rootCtx); err != nil {
		log.Error().Err(err).Msg("od-ready trigger failed to start")
		os.Exit(1)
	}
	defer runner.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(slogger))
	r.Use(middleware.CORS())
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(runner))
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/snapshot", snapshotHandler(holder))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ops server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("signal received, shutting down")
	case err := <-serverErrCh:
		log.Error().Err(err).Msg("ops server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("dayrunner stopped")
}

// buildSink wires history.Chain per SPEC_FULL §4.11: the network sink is
// tried first and a local JSONL fallback second, with a partial failure
// on either reported but never aborting the other.
func buildSink(cfg config.Config) history.Sink {
	var sinks []history.Sink
	if cfg.EntityUpsertURL != "" {
		sinks = append(sinks, &history.EntityUpsert{
			HTTP:    httpclient.NewOutbound(),
			BaseURL: cfg.EntityUpsertURL,
			Prefix:  cfg.EntityUpsertPrefix,
			Tenant:  cfg.EntityUpsertTenant,
			Token:   cfg.EntityUpsertToken,
		})
	}
	if cfg.JSONLPath != "" {
		sinks = append(sinks, &history.JSONLFile{Path: cfg.JSONLPath})
	}
	if len(sinks) == 0 {
		return nil
	}
	return &history.Chain{Sinks: sinks}
}

func snapshotHandler(h *snapshot.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur := h.Current()
		if cur.GeoJSON == nil {
			http.Error(w, "no snapshot published yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Last-Modified", cur.TSUTC.Format(http.TimeFormat))
		_, _ = w.Write(cur.GeoJSON)
	}
}

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/api"
	"github.com/shehryarbajwa/invite-runner/internal/config"
	"github.com/shehryarbajwa/invite-runner/internal/engine"
	"github.com/shehryarbajwa/invite-runner/internal/proxy"
	"github.com/shehryarbajwa/invite-runner/internal/ratelimit"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "invite-runner:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	shutdownTracing, err := telemetry.SetupTracing("invite-runner", cfg.TraceStdout)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(ctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	setupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	launcher, closeLauncher, err := cfg.Launcher(setupCtx, log)
	cancel()
	if err != nil {
		return err
	}
	defer closeLauncher()

	registry := proxy.NewRegistry()
	eng, err := engine.New(cfg.Engine(), launcher,
		engine.WithLogger(log.Named("engine")),
		engine.WithMetrics(metrics),
		engine.WithObserver(registry),
	)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	handler := api.NewHandler(eng, registry, cfg.MaxConcurrentRuns, metrics, log.Named("api"))
	router := handler.SetupRoutes(proxy.NewServer(registry, log.Named("relay")), limiter, reg)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// a response is written only once the run is over
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go pruneLimiter(ctx, limiter)

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.String("backend", cfg.Backend),
			zap.Bool("headless", cfg.Headless),
			zap.Bool("proxy", cfg.Proxy != nil),
			zap.Int64("max_runs", cfg.MaxConcurrentRuns))
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

	log.Info("shutting down, waiting for in-flight runs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(2 * time.Hour)
		}
	}
}

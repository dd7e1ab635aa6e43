package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trigear/internal/products"
)

func runServe(ctx context.Context, logLevel, addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs, err := setupLogging(ctx, cfg, logLevel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		obs.Close(sctx)
	}()

	if addr == "" {
		addr = cfg.Server.Addr
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.Server.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           newHandler(a, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("Serving storefront", "address", addr, "markets", len(cfg.Markets), "cache", cfg.Cache.Backend)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		return gracefulShutdown(server)
	}
}

// newHandler builds the full route table. reg may be nil to disable metrics.
func newHandler(a *app, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	products.NewHandler(a.products).Register(mux)

	ro := &readyOnce{}
	if r, ok := a.cache.(Readyable); ok {
		ro.Add(r)
	}
	ro.Add(a.products)
	mux.Handle("GET /ready", ro)

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return WithMiddleware(mux, registerer)
}

func gracefulShutdown(svr *http.Server) error {
	// Give outstanding requests 25 seconds to complete (kubernetes has 30 second grace period)
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := svr.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		if closeErr := svr.Close(); closeErr != nil {
			slog.Error("Server close error", "error", closeErr)
		}
		return err
	}
	slog.Info("Server stopped")
	return nil
}

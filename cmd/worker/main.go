package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DTokenSale/internal/app"
	"DTokenSale/internal/config"
	"DTokenSale/internal/logging"
	"DTokenSale/internal/metrics"
	"DTokenSale/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger, logCloser := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oracles, closeOracles, err := app.BuildOracles(ctx, cfg)
	if err != nil {
		logger.Error("oracle setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeOracles()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	w := &worker.Worker{
		Oracles:  oracles,
		Metrics:  m,
		Logger:   logger.With(slog.String("component", "oracle-monitor")),
		Interval: time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		Timeout:  10 * time.Second,
	}

	if m != nil && cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("err", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker started", slog.Any("oracles", oracles.IDs()))
	w.Run(ctx)
	logger.Info("worker stopped")
}

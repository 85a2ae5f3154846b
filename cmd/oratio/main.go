// Command oratio is the main entry point for the Oratio speech engine server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evandegr/oratio/internal/app"
	"github.com/evandegr/oratio/internal/config"
	"github.com/evandegr/oratio/internal/observe"
	"github.com/evandegr/oratio/pkg/model"
	_ "github.com/evandegr/oratio/pkg/model/sim" // registers the "sim" backend
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oratio: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oratio: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("oratio starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "oratio",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Model backend ─────────────────────────────────────────────────────────
	manifest, err := model.LoadManifest(cfg.Model.Manifest)
	if err != nil {
		slog.Error("failed to load model manifest", "err", err)
		return 1
	}
	backend, err := model.Open(manifest)
	if err != nil {
		slog.Error("failed to open model backend", "err", err)
		return 1
	}
	defer backend.Close()

	mc := backend.Describe()
	capability := model.DetectCapability()
	slog.Info("model loaded",
		"name", manifest.Name,
		"backend", manifest.Backend,
		"sample_rate", mc.SampleRate,
		"frame", mc.FrameDuration(),
		"capability", capability.String(),
	)
	if !capability.RealTime(mc.FrameDuration()) {
		slog.Warn("detected compute capability cannot sustain real-time generation; expect heavy playback underflow",
			"capability", capability.String(),
			"frame", mc.FrameDuration(),
			"expected_step_latency", capability.ExpectedStepLatency,
		)
	}

	// ── Manager and HTTP surface ──────────────────────────────────────────────
	mgr := app.NewManager(backend, cfg, metrics, logger)
	handler, err := app.NewServer(mgr, cfg, metrics, logger).Handler()
	if err != nil {
		slog.Error("failed to build HTTP handler", "err", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready, press Ctrl+C to shut down")
		if cfg.Server.TLS != nil {
			serveErr <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("conversation shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// Command player runs a Stream Orchestrator against a fake transport and a
// fake presentation element, exposing a debug control plane over HTTP: a
// runnable demonstration of the library wired end to end.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-player/internal/debugapi"
	"adaptive-player/internal/demo"
	"adaptive-player/internal/orchestrator"
	"adaptive-player/internal/platform/config"
	"adaptive-player/internal/platform/logger"
	"adaptive-player/internal/platform/metrics"
	"adaptive-player/internal/surface/fakeelement"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	configPath := config.GetEnv("PLAYER_CONFIG", "")
	cfg := config.DefaultPlayerConfig()
	if configPath != "" {
		loaded, err := config.LoadYAML(configPath)
		if err == nil {
			cfg = loaded
		}
	}
	cfg.ControlPlaneAddr = config.GetEnv("CONTROL_PLANE_ADDR", cfg.ControlPlaneAddr)
	cfg.LogLevel = config.GetEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = config.GetEnv("LOG_FORMAT", cfg.LogFormat)

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	manifest := demo.Manifest()
	tr := demo.NewTransport(50*time.Millisecond, manifest)
	element := fakeelement.New()

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.AutoPlay = cfg.AutoPlay
	orchCfg.WantedBufferAhead = cfg.WantedBufferAhead
	orchCfg.MaxBufferAhead = cfg.MaxBufferAhead
	orchCfg.MaxBufferBehind = cfg.MaxBufferBehind
	orchCfg.EndOfPlay = cfg.EndOfPlay
	orchCfg.ManifestRefreshThrottle = time.Duration(cfg.ManifestRefreshThrottleSeconds * float64(time.Second))
	orchCfg.SwitchCanFlush = cfg.SwitchCanFlush
	orchCfg.NeedsMediaSource = true

	orch := orchestrator.New(
		tr.Transport(),
		element,
		demo.NativeSinkFactory(),
		nil,
		orchCfg,
		log,
		met,
	)

	dbg := debugapi.New(log, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := orch.Start(ctx, manifest.GetURL())
	if err != nil {
		log.Error("orchestrator failed to start", "error", err)
		os.Exit(1)
	}
	dbg.Attach(out)

	srv := &http.Server{Addr: cfg.ControlPlaneAddr, Handler: dbg.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control plane error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("player starting",
		"control_plane_addr", cfg.ControlPlaneAddr,
		"manifest_url", manifest.GetURL(),
		"log_level", cfg.LogLevel,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, tearing down orchestrator")

	orch.Dispose()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("player stopped")
}

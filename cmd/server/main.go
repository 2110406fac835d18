// Package main provides the entry point for the ffmpeg job server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smilingthrone13/ffmpeg-commands/internal/bootstrap"
	"github.com/smilingthrone13/ffmpeg-commands/internal/config"
	"github.com/smilingthrone13/ffmpeg-commands/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting ffmpeg job server",
		slog.Int("port", cfg.Port),
		slog.String("ffmpeg", cfg.FFmpegPath),
		slog.String("ffprobe", cfg.FFprobePath),
		slog.String("media_root", cfg.MediaRoot),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	handlers := server.NewHandlers(deps.Service, logger, server.WithMediaRoot(cfg.MediaRoot))
	routerCfg := server.DefaultConfig()
	routerCfg.Gatherer = deps.Registry
	routerCfg.Metrics = deps.Metrics
	router := server.NewRouter(handlers, logger, routerCfg)

	// No WriteTimeout: the job events stream stays open for the whole job.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Service.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown were cancelled", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}

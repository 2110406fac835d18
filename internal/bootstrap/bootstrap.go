// Package bootstrap wires configuration into the job service and its
// ffmpeg, storage and metrics dependencies.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/smilingthrone13/ffmpeg-commands/internal/concat"
	"github.com/smilingthrone13/ffmpeg-commands/internal/config"
	"github.com/smilingthrone13/ffmpeg-commands/internal/job"
	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
	"github.com/smilingthrone13/ffmpeg-commands/internal/metrics"
	"github.com/smilingthrone13/ffmpeg-commands/internal/probe"
	"github.com/smilingthrone13/ffmpeg-commands/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *job.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	enc := EncodingConfig(cfg)
	prober := probe.NewFFprobe(cfg.FFprobePath)
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath,
		media.WithProber(prober),
		media.WithEncoding(enc),
		media.WithLogger(logger.With(slog.String("component", "media"))),
		media.WithMetrics(m),
	)
	engine := concat.NewEngine(prober, processor,
		concat.WithEncoding(enc),
		concat.WithLogger(logger.With(slog.String("component", "concat"))),
		concat.WithMetrics(m),
	)

	svc := job.NewService(job.NewMemoryRepository(), processor, engine,
		job.WithServiceLogger(logger.With(slog.String("component", "jobs"))),
		job.WithServiceMetrics(m),
		job.WithStorage(store),
		job.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		job.WithTimeout(cfg.JobTimeout),
	)

	return &Dependencies{
		Service:  svc,
		Metrics:  m,
		Registry: registry,
	}, nil
}

// EncodingConfig maps the encoder settings of cfg onto media.EncodingConfig.
func EncodingConfig(cfg *config.Config) media.EncodingConfig {
	return media.EncodingConfig{
		Codec:     cfg.VideoCodec,
		Preset:    cfg.EncoderPreset,
		Threads:   cfg.EncoderThreads,
		ConcatCRF: cfg.ConcatCRF,
		Quality: media.QualityMap{
			High:   cfg.QualityHighCRF,
			Normal: cfg.QualityNormalCRF,
			Low:    cfg.QualityLowCRF,
		},
		FallbackFPS:    cfg.FallbackFPS,
		EXRCompression: cfg.EXRCompression,
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("prefix", cfg.S3Prefix),
		)
		return s3Store, nil
	}

	logger.Info("local storage configured")
	return storage.NewLocalStorage(), nil
}

// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrQualityOrder is returned when the quality CRFs are not high < normal < low.
	ErrQualityOrder = errors.New("config: quality CRFs must satisfy QUALITY_HIGH_CRF < QUALITY_NORMAL_CRF < QUALITY_LOW_CRF")
	// ErrInvalidFallbackFPS is returned when FALLBACK_FPS is not positive.
	ErrInvalidFallbackFPS = errors.New("config: FALLBACK_FPS must be positive")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_JOBS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_JOBS must be positive")
	// ErrInvalidCRF is returned when a CRF is outside 0..63.
	ErrInvalidCRF = errors.New("config: CRF values must be between 0 and 63")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// MediaRoot restricts API paths to this directory when set.
	MediaRoot string `env:"MEDIA_ROOT" json:"media_root,omitempty"`

	// Encoding settings
	VideoCodec       string  `env:"VIDEO_CODEC, default=libx264" json:"video_codec"`
	EncoderPreset    string  `env:"ENCODER_PRESET, default=slow" json:"encoder_preset"`
	EncoderThreads   int     `env:"ENCODER_THREADS, default=0" json:"encoder_threads"` // 0 lets ffmpeg decide
	ConcatCRF        int     `env:"CONCAT_CRF, default=15" json:"concat_crf"`
	QualityHighCRF   int     `env:"QUALITY_HIGH_CRF, default=10" json:"quality_high_crf"`
	QualityNormalCRF int     `env:"QUALITY_NORMAL_CRF, default=20" json:"quality_normal_crf"`
	QualityLowCRF    int     `env:"QUALITY_LOW_CRF, default=30" json:"quality_low_crf"`
	FallbackFPS      float64 `env:"FALLBACK_FPS, default=24" json:"fallback_fps"`
	EXRCompression   int     `env:"EXR_COMPRESSION, default=3" json:"exr_compression"`

	// Processing settings
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT, default=2h" json:"job_timeout"` // 0 disables

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"` // MinIO or other S3-compatible storage
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// Variables from a .env file in the working directory, if present, are
// loaded first; variables already set in the environment take precedence.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files. Missing files are ignored.
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and the ordering of the quality tiers.
func (c *Config) Validate() error {
	for _, crf := range []int{c.ConcatCRF, c.QualityHighCRF, c.QualityNormalCRF, c.QualityLowCRF} {
		if crf < 0 || crf > 63 {
			return fmt.Errorf("%w: got %d", ErrInvalidCRF, crf)
		}
	}
	if c.QualityHighCRF >= c.QualityNormalCRF || c.QualityNormalCRF >= c.QualityLowCRF {
		return ErrQualityOrder
	}
	if c.FallbackFPS <= 0 {
		return ErrInvalidFallbackFPS
	}
	if c.MaxConcurrentJobs <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, FFmpegPath: %s, FFprobePath: %s, MediaRoot: %s, VideoCodec: %s, EncoderPreset: %s, "+
			"ConcatCRF: %d, Quality: %d/%d/%d, FallbackFPS: %g, MaxConcurrentJobs: %d, JobTimeout: %s, "+
			"S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.FFmpegPath,
		c.FFprobePath,
		c.MediaRoot,
		c.VideoCodec,
		c.EncoderPreset,
		c.ConcatCRF,
		c.QualityHighCRF, c.QualityNormalCRF, c.QualityLowCRF,
		c.FallbackFPS,
		c.MaxConcurrentJobs,
		c.JobTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

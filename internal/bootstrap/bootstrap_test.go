package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilingthrone13/ffmpeg-commands/internal/config"
	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
)

func testConfig() *config.Config {
	return &config.Config{
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		VideoCodec:        "libx265",
		EncoderPreset:     "medium",
		EncoderThreads:    4,
		ConcatCRF:         18,
		QualityHighCRF:    12,
		QualityNormalCRF:  22,
		QualityLowCRF:     32,
		FallbackFPS:       30,
		EXRCompression:    4,
		MaxConcurrentJobs: 1,
		JobTimeout:        time.Minute,
	}
}

func TestEncodingConfig(t *testing.T) {
	enc := EncodingConfig(testConfig())

	assert.Equal(t, media.EncodingConfig{
		Codec:          "libx265",
		Preset:         "medium",
		Threads:        4,
		ConcatCRF:      18,
		Quality:        media.QualityMap{High: 12, Normal: 22, Low: 32},
		FallbackFPS:    30,
		EXRCompression: 4,
	}, enc)
}

func TestNewDependencies_LocalStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	require.NotNil(t, deps.Service)
	require.NotNil(t, deps.Metrics)

	families, err := deps.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	jobs, err := deps.Service.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, deps.Service.Shutdown(ctx))
}

func TestNewDependencies_S3Storage(t *testing.T) {
	cfg := testConfig()
	cfg.S3Bucket = "renders"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	store, err := initStorage(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.True(t, store.Remote())
}

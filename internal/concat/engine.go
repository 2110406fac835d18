package concat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
	"github.com/smilingthrone13/ffmpeg-commands/internal/metrics"
	"github.com/smilingthrone13/ffmpeg-commands/internal/probe"
)

// Prober reads stream metadata. Satisfied by *probe.FFprobe.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Descriptor, error)
}

// Runner runs ffmpeg and streams its stderr line by line.
// Satisfied by *media.FFmpegProcessor.
type Runner interface {
	Run(ctx context.Context, op string, args []string, onLine func(line string)) error
}

// SkippedInput is an input left out because it could not be probed.
type SkippedInput struct {
	Path string
	Err  error
}

// Result is the outcome of a successful concatenation.
type Result struct {
	OutputPath string
	Plan       *Plan
	Skipped    []SkippedInput
}

// Warnings returns human-readable notes about skipped and mismatched inputs.
func (r *Result) Warnings() []string {
	var out []string
	for _, s := range r.Skipped {
		out = append(out, fmt.Sprintf("skipped %s: %v", filepath.Base(s.Path), s.Err))
	}
	if r.Plan != nil {
		for _, m := range r.Plan.Mismatches {
			out = append(out, fmt.Sprintf("differs from key video %s: %s", r.Plan.Key.Name, m))
		}
	}
	return out
}

// Engine concatenates videos.
type Engine struct {
	prober  Prober
	runner  Runner
	enc     media.EncodingConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithEncoding sets the encoder configuration.
func WithEncoding(cfg media.EncodingConfig) Option {
	return func(e *Engine) {
		e.enc = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records plan outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an Engine.
func NewEngine(prober Prober, runner Runner, opts ...Option) *Engine {
	e := &Engine{
		prober: prober,
		runner: runner,
		enc:    media.DefaultEncodingConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Concatenate joins paths in order into "<dir of first>/result/concat_output.<ext>".
// Inputs that fail to probe are skipped. onProgress may be nil.
func (e *Engine) Concatenate(ctx context.Context, ext string, paths []string, onProgress ProgressFunc) (*Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}
	if media.NormalizeExtension(ext) == "" {
		return nil, fmt.Errorf("%w: empty", media.ErrInvalidExtension)
	}

	inputs, skipped, err := e.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	plan, err := BuildPlan(inputs, e.fallbackFPS())
	if err != nil {
		e.metrics.RecordConcatPlan(len(skipped), 0)
		return nil, err
	}
	e.logPlan(plan)
	e.metrics.RecordConcatPlan(len(skipped), len(plan.Mismatches))

	output := OutputPath(paths[0], ext)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}

	lastFrame := -1
	onLine := func(line string) {
		p, ok := ParseProgressLine(line, plan.EstimatedFrames)
		if !ok || p.Frame == lastFrame {
			return
		}
		lastFrame = p.Frame
		if onProgress != nil {
			onProgress(p)
		}
	}

	if err := e.runner.Run(ctx, "concat", plan.Args(output, e.enc), onLine); err != nil {
		return nil, fmt.Errorf("concatenate %d inputs: %w", len(plan.Inputs), err)
	}

	e.logger.Info("videos concatenated",
		slog.String("output", output),
		slog.Int("inputs", len(plan.Inputs)),
		slog.Int("skipped", len(skipped)),
		slog.Int("frames", lastFrame),
	)

	return &Result{OutputPath: output, Plan: plan, Skipped: skipped}, nil
}

// probeAll probes every path in order and keeps the ones that succeed.
// Only context cancellation aborts; other failures skip the input.
func (e *Engine) probeAll(ctx context.Context, paths []string) ([]*probe.Descriptor, []SkippedInput, error) {
	inputs := make([]*probe.Descriptor, 0, len(paths))
	var skipped []SkippedInput

	for _, path := range paths {
		d, err := e.prober.Probe(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("probe inputs: %w", ctx.Err())
			}
			e.logger.Warn("skipping unreadable input",
				slog.String("path", path),
				slog.Any("error", err),
			)
			skipped = append(skipped, SkippedInput{Path: path, Err: err})
			continue
		}
		inputs = append(inputs, d)
	}
	return inputs, skipped, nil
}

func (e *Engine) fallbackFPS() float64 {
	if e.enc.FallbackFPS > 0 {
		return e.enc.FallbackFPS
	}
	return media.DefaultEncodingConfig().FallbackFPS
}

func (e *Engine) logPlan(plan *Plan) {
	e.logger.Info("concatenation planned",
		slog.String("key", plan.Key.Name),
		slog.String("resolution", plan.Key.Resolution()),
		slog.String("sar", plan.Key.SampleAspectRatio),
		slog.String("fps", plan.TargetFrameRateExpr),
		slog.Int("inputs", len(plan.Inputs)),
		slog.Int("estimated_frames", plan.EstimatedFrames),
	)

	for _, d := range plan.Inputs {
		w, h := media.FitWithin(d.Width, d.Height, plan.Key.Width, plan.Key.Height)
		e.logger.Debug("input normalization",
			slog.String("input", d.Name),
			slog.String("source", d.Resolution()),
			slog.String("scaled", fmt.Sprintf("%dx%d", w, h)),
		)
	}

	for _, m := range plan.Mismatches {
		e.logger.Warn("input may get black bars or wrong aspect ratio",
			slog.String("key", plan.Key.Name),
			slog.String("input", m.Input.Name),
			slog.Any("reasons", m.Reasons),
		)
	}
}

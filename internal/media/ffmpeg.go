package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/smilingthrone13/ffmpeg-commands/internal/metrics"
	"github.com/smilingthrone13/ffmpeg-commands/internal/probe"
)

// Static errors for media operations.
var (
	// ErrInvalidResolution is returned when the target resolution is not two positive ints.
	ErrInvalidResolution = errors.New("invalid resolution: width and height must be positive")
	// ErrSourceNotFound is returned when the input file does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrInvalidExtension is returned when no output extension is given.
	ErrInvalidExtension = errors.New("invalid output extension")
)

// stderrTailLines bounds how much ffmpeg diagnostic output is kept for errors.
const stderrTailLines = 20

// Prober reads stream metadata. Satisfied by *probe.FFprobe.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Descriptor, error)
}

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	prober     Prober
	enc        EncodingConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an FFmpegProcessor.
type Option func(*FFmpegProcessor)

// WithProber sets the prober used for frame rate auto-detection.
func WithProber(p Prober) Option {
	return func(fp *FFmpegProcessor) {
		fp.prober = p
	}
}

// WithEncoding sets the encoder configuration.
func WithEncoding(cfg EncodingConfig) Option {
	return func(fp *FFmpegProcessor) {
		fp.enc = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(fp *FFmpegProcessor) {
		if l != nil {
			fp.logger = l
		}
	}
}

// WithMetrics records every ffmpeg run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(fp *FFmpegProcessor) {
		fp.metrics = m
	}
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
// Without WithProber, frame rates are probed with ffprobe from PATH.
func NewFFmpegProcessor(ffmpegPath string, opts ...Option) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	p := &FFmpegProcessor{
		ffmpegPath: ffmpegPath,
		prober:     probe.NewFFprobe(""),
		enc:        DefaultEncodingConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Encoding returns the processor's encoder configuration.
func (p *FFmpegProcessor) Encoding() EncodingConfig {
	return p.enc
}

// Logger returns the processor's logger.
func (p *FFmpegProcessor) Logger() *slog.Logger {
	return p.logger
}

// baseArgs are prepended to every invocation.
func baseArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y", // Overwrite output file without asking
	}
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, op string, args []string) error {
	start := time.Now()

	// #nosec G204 - ffmpegPath is set by the application, args are an argument vector
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("running ffmpeg", slog.String("op", op), slog.Any("args", args))

	err := cmd.Run()
	if err != nil {
		err = p.wrapRunError(ctx, op, args, stderr.String(), err)
	}
	p.metrics.ObserveProcess(op, time.Since(start), err)
	return err
}

// Run executes ffmpeg with args and streams its stderr to onLine one line at a
// time, treating both '\r' and '\n' as terminators. It returns after the
// stream is exhausted and the process has exited.
func (p *FFmpegProcessor) Run(ctx context.Context, op string, args []string, onLine func(line string)) error {
	start := time.Now()

	// #nosec G204 - ffmpegPath is set by the application, args are an argument vector
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: stderr pipe: %w", op, err)
	}

	p.logger.Debug("running ffmpeg", slog.String("op", op), slog.Any("args", args))

	if err := cmd.Start(); err != nil {
		err = p.wrapRunError(ctx, op, args, "", err)
		p.metrics.ObserveProcess(op, time.Since(start), err)
		return err
	}

	tail := readLines(stderr, onLine)

	err = cmd.Wait()
	if err != nil {
		err = p.wrapRunError(ctx, op, args, tail, err)
	}
	p.metrics.ObserveProcess(op, time.Since(start), err)
	return err
}

func (p *FFmpegProcessor) wrapRunError(ctx context.Context, op string, args []string, stderr string, err error) error {
	// Check if context was cancelled
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg %s cancelled: %w", op, ctx.Err())
	}
	ferr := &FFmpegError{
		Op:       op,
		Args:     args,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ferr.ExitCode = exitErr.ExitCode()
	}
	return ferr
}

// progressKey matches the key=value lines written by -progress.
var progressKey = regexp.MustCompile(`^[a-z_0-9]+=\S*$`)

// readLines feeds every non-empty line of r to onLine until EOF and returns
// the last diagnostic lines, excluding -progress key=value output.
func readLines(r io.Reader, onLine func(string)) string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesWithCR)

	var tail []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
		if progressKey.MatchString(line) {
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
	}
	// A scanner error (line over the buffer limit) stops reading; drain the
	// rest so ffmpeg never blocks on a full pipe before Wait.
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return strings.Join(tail, "\n")
}

// scanLinesWithCR is a bufio.SplitFunc that splits on '\n', '\r' or "\r\n".
// ffmpeg rewrites its status line in place with bare '\r'.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			// '\r' is the last byte seen; wait for more to tell "\r\n" apart.
			if !atEOF {
				return 0, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg %s failed (exit %d): %v\nargs: %v\nstderr: %s", e.Op, e.ExitCode, e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

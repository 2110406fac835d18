package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFprobe implements probing using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// Probe runs a single ffprobe JSON call for the first video stream of path.
// Any failure is returned as *Error; a Descriptor is never partial.
func (p *FFprobe) Probe(ctx context.Context, path string) (*Descriptor, error) {
	// #nosec G204 - ffprobePath is set by the application, path is an argument, not a shell string
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-select_streams", "v:0",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		perr := &Error{Path: path, Kind: KindProcess, Err: err}
		if ctx.Err() != nil {
			perr.Err = fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
			return nil, perr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			perr.ExitCode = exitErr.ExitCode()
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				perr.Err = fmt.Errorf("%w: %s", err, msg)
			}
		}
		return nil, perr
	}

	return ParseJSON(path, stdout.Bytes())
}

// ParseJSON converts raw ffprobe JSON output for path into a Descriptor.
// Exported for testing without a real ffprobe binary.
func ParseJSON(path string, data []byte) (*Descriptor, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Path: path, Kind: KindMalformed, Err: err}
	}
	if len(raw.Streams) == 0 {
		return nil, &Error{Path: path, Kind: KindNoVideoStream, Err: errors.New("ffprobe reported no streams")}
	}

	s := raw.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return nil, &Error{
			Path: path,
			Kind: KindMissingField,
			Err:  fmt.Errorf("width=%d height=%d", s.Width, s.Height),
		}
	}

	d := &Descriptor{
		Name:               filepath.Base(path),
		Path:               path,
		Width:              s.Width,
		Height:             s.Height,
		SampleAspectRatio:  DefaultSampleAspectRatio,
		DisplayAspectRatio: reducedRatio(s.Width, s.Height),
	}
	if validRatio(s.SampleAspectRatio) {
		d.SampleAspectRatio = s.SampleAspectRatio
	}
	if validRatio(s.DisplayAspectRatio) {
		d.DisplayAspectRatio = s.DisplayAspectRatio
	}

	// avg_frame_rate is "0/0" for some containers; r_frame_rate is the
	// container's base rate and is good enough there.
	for i, expr := range []string{s.AvgFrameRate, s.RFrameRate} {
		if fps, ok := ParseFrameRate(expr); ok {
			d.FrameRate = fps
			d.FrameRateExpr = strings.TrimSpace(expr)
			d.FrameRateNominal = i > 0
			break
		}
	}

	d.Duration = parseFloat(s.Duration)
	if d.Duration <= 0 {
		d.Duration = parseFloat(raw.Format.Duration)
	}

	return d, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	Index              int    `json:"index"`
	CodecName          string `json:"codec_name"`
	CodecType          string `json:"codec_type"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	SampleAspectRatio  string `json:"sample_aspect_ratio"`
	DisplayAspectRatio string `json:"display_aspect_ratio"`
	AvgFrameRate       string `json:"avg_frame_rate"`
	RFrameRate         string `json:"r_frame_rate"`
	Duration           string `json:"duration"`
}

// validRatio rejects the placeholders ffprobe emits for unknown ratios.
func validRatio(r string) bool {
	r = strings.TrimSpace(r)
	if r == "" || r == "N/A" {
		return false
	}
	num, _, ok := strings.Cut(r, ":")
	if !ok {
		return false
	}
	return num != "0"
}

// reducedRatio returns "w:h" reduced by the greatest common divisor.
func reducedRatio(w, h int) string {
	g := gcd(w, h)
	if g == 0 {
		return strconv.Itoa(w) + ":" + strconv.Itoa(h)
	}
	return strconv.Itoa(w/g) + ":" + strconv.Itoa(h/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

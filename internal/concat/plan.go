// Package concat joins many videos into one, normalizing every input to the
// resolution and sample aspect ratio of a key video and to a common frame
// rate, and reports encoding progress.
package concat

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
	"github.com/smilingthrone13/ffmpeg-commands/internal/probe"
)

// Static errors for concatenation.
var (
	// ErrNoInputs is returned for an empty input list.
	ErrNoInputs = errors.New("no inputs provided")
	// ErrNoUsableInputs is returned when every input failed to probe.
	ErrNoUsableInputs = errors.New("no suitable video files found")
)

// OutputName is the file name, without extension, of every concatenation result.
const OutputName = "concat_output"

// Mismatch lists the properties in which an input differs from the key
// video or the target frame rate. Mismatches are advisory only.
type Mismatch struct {
	Input   *probe.Descriptor
	Reasons []string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s", m.Input.Name, strings.Join(m.Reasons, ", "))
}

// Plan is everything needed to build one concatenation command.
type Plan struct {
	// Key is the input whose resolution and sample aspect ratio all inputs
	// are normalized to.
	Key *probe.Descriptor
	// TargetFrameRate is the output rate in fps.
	TargetFrameRate float64
	// TargetFrameRateExpr is TargetFrameRate as used in the fps filter.
	TargetFrameRateExpr string
	// Inputs are the usable inputs in their original order.
	Inputs []*probe.Descriptor
	// Filters holds one filter graph fragment per input.
	Filters []string
	// Mismatches lists inputs that will be letterboxed or retimed.
	Mismatches []Mismatch
	// EstimatedFrames is the expected output frame count, at least 1.
	EstimatedFrames int
}

// BuildPlan computes the plan for the usable inputs in order.
func BuildPlan(inputs []*probe.Descriptor, fallbackFPS float64) (*Plan, error) {
	if len(inputs) == 0 {
		return nil, ErrNoUsableInputs
	}

	key := SelectKey(inputs)
	fps, fpsExpr := TargetFrameRate(inputs, fallbackFPS)

	filters := make([]string, len(inputs))
	for i := range inputs {
		filters[i] = InputFilter(i, key, fpsExpr)
	}

	return &Plan{
		Key:                 key,
		TargetFrameRate:     fps,
		TargetFrameRateExpr: fpsExpr,
		Inputs:              inputs,
		Filters:             filters,
		Mismatches:          FindMismatches(key, fps, inputs),
		EstimatedFrames:     EstimateFrames(inputs, fps),
	}, nil
}

// SelectKey returns the input with the largest pixel area. On a tie the last
// such input wins.
func SelectKey(inputs []*probe.Descriptor) *probe.Descriptor {
	var key *probe.Descriptor
	for _, d := range inputs {
		if key == nil || d.Area() >= key.Area() {
			key = d
		}
	}
	return key
}

// TargetFrameRate returns the lowest defined frame rate among inputs and the
// expression to pass to the fps filter. Inputs without a rate are ignored;
// fallback is used when no input has one.
func TargetFrameRate(inputs []*probe.Descriptor, fallback float64) (float64, string) {
	var best *probe.Descriptor
	for _, d := range inputs {
		if !d.HasFrameRate() {
			continue
		}
		if best == nil || d.FrameRate < best.FrameRate {
			best = d
		}
	}

	if best == nil {
		return fallback, media.FormatFPS(fallback)
	}
	if best.FrameRateExpr != "" {
		return best.FrameRate, best.FrameRateExpr
	}
	return best.FrameRate, media.FormatFPS(best.FrameRate)
}

// FindMismatches compares every input against the key video's geometry and
// the target frame rate.
func FindMismatches(key *probe.Descriptor, targetFPS float64, inputs []*probe.Descriptor) []Mismatch {
	var out []Mismatch
	for _, d := range inputs {
		var reasons []string
		if d.Width != key.Width || d.Height != key.Height {
			reasons = append(reasons, fmt.Sprintf("resolution %s != %s", d.Resolution(), key.Resolution()))
		}
		if d.SampleAspectRatio != key.SampleAspectRatio {
			reasons = append(reasons, fmt.Sprintf("sample aspect ratio %s != %s", d.SampleAspectRatio, key.SampleAspectRatio))
		}
		if d.DisplayAspectRatio != key.DisplayAspectRatio {
			reasons = append(reasons, fmt.Sprintf("display aspect ratio %s != %s", d.DisplayAspectRatio, key.DisplayAspectRatio))
		}
		if d.HasFrameRate() && math.Abs(d.FrameRate-targetFPS) > 1e-6 {
			reasons = append(reasons, fmt.Sprintf("frame rate %s != %s", media.FormatFPS(d.FrameRate), media.FormatFPS(targetFPS)))
		}
		if len(reasons) > 0 {
			out = append(out, Mismatch{Input: d, Reasons: reasons})
		}
	}
	return out
}

// InputFilter returns the fragment normalizing input i: shrink to fit the
// key resolution without enlarging, pad centered with black, force the key
// sample aspect ratio and the target frame rate. The result is labeled [vi].
func InputFilter(i int, key *probe.Descriptor, fpsExpr string) string {
	return fmt.Sprintf(
		"[%d:v:0]scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease,"+
			"pad=%d:%d:-1:-1:color=black,setsar=%s,fps=%s[v%d]",
		i, key.Width, key.Height,
		key.Width, key.Height,
		filterRatio(key.SampleAspectRatio), fpsExpr, i,
	)
}

// filterRatio turns "a:b" into "a/b"; ':' separates options in a filter graph.
func filterRatio(r string) string {
	return strings.Replace(r, ":", "/", 1)
}

// FilterGraph joins the per-input fragments and the concat filter into the
// -filter_complex value. The output is labeled [outv].
func (p *Plan) FilterGraph() string {
	var b strings.Builder
	for _, f := range p.Filters {
		b.WriteString(f)
		b.WriteByte(';')
	}
	for i := range p.Filters {
		fmt.Fprintf(&b, "[v%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[outv]", len(p.Filters))
	return b.String()
}

// Args returns the full ffmpeg argument vector writing to output.
// Progress is written to stderr as key=value lines.
func (p *Plan) Args(output string, enc media.EncodingConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:2",
		"-y",
	}
	for _, d := range p.Inputs {
		args = append(args, "-i", d.Path)
	}
	args = append(args,
		"-filter_complex", p.FilterGraph(),
		"-map", "[outv]",
		"-an", // Audio is dropped
		"-fps_mode", "vfr",
	)

	codec := media.CodecForExtension(filepath.Ext(output), enc.Codec)
	args = append(args, enc.EncoderArgs(codec, enc.ConcatCRF)...)
	return append(args, output)
}

// EstimateFrames returns round(sum(duration) * fps), at least 1.
// Inputs with unknown duration contribute nothing.
func EstimateFrames(inputs []*probe.Descriptor, fps float64) int {
	var seconds float64
	for _, d := range inputs {
		seconds += d.Duration
	}
	n := int(math.Round(seconds * fps))
	if n < 1 {
		return 1
	}
	return n
}

// OutputPath returns "<dir of first>/result/concat_output.<ext>".
func OutputPath(first, ext string) string {
	return filepath.Join(filepath.Dir(first), "result", OutputName+"."+media.NormalizeExtension(ext))
}

// parseCount parses a non-negative decimal int.
func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Package probe reads video stream metadata through ffprobe and normalizes
// it into a Descriptor.
package probe

import (
	"errors"
	"fmt"
	"strconv"
)

// DefaultSampleAspectRatio is used when ffprobe does not report one.
const DefaultSampleAspectRatio = "1:1"

// Descriptor is an immutable snapshot of the first video stream of a file.
// It is only ever built from a successful probe.
type Descriptor struct {
	// Name is the file name, used for display.
	Name string
	// Path is the probed path.
	Path string
	// Width and Height are the pixel dimensions of stream 0.
	Width  int
	Height int
	// SampleAspectRatio describes the pixel shape, e.g. "1:1".
	SampleAspectRatio string
	// DisplayAspectRatio describes the frame shape, e.g. "16:9".
	DisplayAspectRatio string
	// FrameRate is the average frame rate in fps; 0 when unknown.
	FrameRate float64
	// FrameRateExpr is the ratio FrameRate was evaluated from.
	FrameRateExpr string
	// FrameRateNominal is set when avg_frame_rate was unusable and FrameRate
	// is the stream's base rate. Stills report a nominal 25 fps this way.
	FrameRateNominal bool
	// Duration is the duration in seconds; 0 when unknown.
	Duration float64
}

// HasFrameRate reports whether the frame rate could be evaluated.
func (d *Descriptor) HasFrameRate() bool {
	return d.FrameRate > 0
}

// Area returns Width*Height.
func (d *Descriptor) Area() int {
	return d.Width * d.Height
}

// Resolution returns "WxH".
func (d *Descriptor) Resolution() string {
	return strconv.Itoa(d.Width) + "x" + strconv.Itoa(d.Height)
}

// ErrorKind classifies why a probe failed.
type ErrorKind int

const (
	// KindProcess means ffprobe could not be started or exited non-zero.
	KindProcess ErrorKind = iota + 1
	// KindMalformed means ffprobe output was not valid JSON.
	KindMalformed
	// KindNoVideoStream means the file has no video stream.
	KindNoVideoStream
	// KindMissingField means a required field (width, height) was absent.
	KindMissingField
)

// Sentinel errors matched by Error.Is.
var (
	ErrProcess       = errors.New("ffprobe process failed")
	ErrMalformed     = errors.New("malformed ffprobe output")
	ErrNoVideoStream = errors.New("no video stream")
	ErrMissingField  = errors.New("missing required field")
)

// Error is returned for any failed probe. Callers skip the file.
type Error struct {
	Path     string
	Kind     ErrorKind
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %v: %v", e.Path, e.sentinel(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindProcess:
		return ErrProcess
	case KindMalformed:
		return ErrMalformed
	case KindNoVideoStream:
		return ErrNoVideoStream
	case KindMissingField:
		return ErrMissingField
	default:
		return ErrProcess
	}
}

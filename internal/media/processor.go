// Package media provides the single-file image and video transforms built on
// the ffmpeg CLI.
package media

import (
	"context"
	"fmt"
)

// Processor defines the single-file transform operations.
// Every operation blocks until its ffmpeg child exits and returns the output
// path only on success.
type Processor interface {
	// ResizeImage shrinks src to fit within res, preserving aspect ratio and
	// rounding to even dimensions. Images already smaller are not enlarged.
	ResizeImage(ctx context.Context, src string, res Resolution) (string, error)

	// SequenceToVideo encodes the image sequence found in opts.Dir into a video
	// written next to the directory.
	SequenceToVideo(ctx context.Context, opts SequenceToVideoOptions) (string, error)

	// VideoToSequence extracts every frame of src into an EXR sequence under a
	// "seq" directory next to the video and returns that directory.
	VideoToSequence(ctx context.Context, src string) (string, error)
}

// Resolution is a bounding box in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate checks that both dimensions are positive.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidResolution, r.Width, r.Height)
	}
	return nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FitWithin returns the size ffmpeg produces when scaling srcW x srcH to fit
// within maxW x maxH without enlarging, preserving aspect ratio and rounding
// down to even dimensions where the source allows it. Returns 0, 0 for
// non-positive input.
func FitWithin(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}

	// Same evaluation order as the scale filter: clamp the box to the
	// source, shrink one side to keep the aspect ratio, then snap to even.
	boxW, boxH := min(maxW, srcW), min(maxH, srcH)
	w := min(rescale(boxH, srcW, srcH), boxW)
	h := min(rescale(boxW, srcH, srcW), boxH)

	return evenDown(w), evenDown(h)
}

// evenDown rounds v down to even. A side that cannot be even without
// enlarging the source stays at 1.
func evenDown(v int) int {
	if v < 2 {
		return 1
	}
	return v / 2 * 2
}

// rescale returns a*b/c rounded to nearest.
func rescale(a, b, c int) int {
	return (a*b + c/2) / c
}

package concat

import (
	"fmt"
	"regexp"
)

// framePattern matches the frame counter in both the classic status line
// ("frame=  60 fps=...") and -progress output ("frame=60").
var framePattern = regexp.MustCompile(`frame=\s*(\d+)`)

// Progress is a snapshot of encoding progress.
type Progress struct {
	// Frame is the last frame count reported by ffmpeg.
	Frame int `json:"frame"`
	// Total is the estimated frame count.
	Total int `json:"total"`
	// Percent is Frame/Total*100. The estimate is approximate, so it may
	// exceed 100.
	Percent float64 `json:"percent"`
}

// String renders the percentage with two decimals, e.g. "50.00%".
func (p Progress) String() string {
	return fmt.Sprintf("%.2f%%", p.Percent)
}

// ProgressFunc receives progress updates. Each call supersedes the last.
type ProgressFunc func(Progress)

// ParseProgressLine extracts the frame count from one line of ffmpeg stderr.
// It reports false for lines without a frame counter.
func ParseProgressLine(line string, total int) (Progress, bool) {
	m := framePattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	frame, ok := parseCount(m[1])
	if !ok {
		return Progress{}, false
	}
	if total < 1 {
		total = 1
	}
	return Progress{
		Frame:   frame,
		Total:   total,
		Percent: float64(frame) / float64(total) * 100,
	}, true
}

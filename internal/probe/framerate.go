package probe

import (
	"regexp"
	"strconv"
	"strings"
)

// frameRatePattern is the whole grammar accepted for a frame-rate field:
// an integer, a decimal, or an integer ratio.
var frameRatePattern = regexp.MustCompile(`^(\d+)(?:\.(\d+)|/(\d+))?$`)

// ParseFrameRate evaluates a frame-rate expression as reported by ffprobe
// ("30000/1001", "25", "23.976"). It returns false for anything else,
// including "0/0", a zero denominator and non-positive rates.
func ParseFrameRate(expr string) (float64, bool) {
	expr = strings.TrimSpace(expr)
	m := frameRatePattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}

	var fps float64
	if m[3] != "" {
		num, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		den, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || den == 0 {
			return 0, false
		}
		fps = float64(num) / float64(den)
	} else {
		v, err := strconv.ParseFloat(expr, 64)
		if err != nil {
			return 0, false
		}
		fps = v
	}

	if fps <= 0 {
		return 0, false
	}
	return fps, true
}

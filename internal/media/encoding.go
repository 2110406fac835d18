package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidQuality is returned for a quality tier other than high, normal or low.
var ErrInvalidQuality = errors.New("invalid quality: must be high, normal or low")

// Quality is a named output quality tier.
type Quality string

// Quality tiers.
const (
	QualityHigh   Quality = "high"
	QualityNormal Quality = "normal"
	QualityLow    Quality = "low"
)

// ParseQuality parses a tier name case-insensitively. Empty means normal.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return QualityNormal, nil
	case QualityHigh, QualityNormal, QualityLow:
		return q, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
}

// QualityMap maps quality tiers to CRF values. Lower CRF is higher quality.
type QualityMap struct {
	High   int
	Normal int
	Low    int
}

// DefaultQualityMap returns the default tier CRFs.
func DefaultQualityMap() QualityMap {
	return QualityMap{High: 10, Normal: 20, Low: 30}
}

// CRF returns the CRF for tier q.
func (m QualityMap) CRF(q Quality) (int, error) {
	q, err := ParseQuality(string(q))
	if err != nil {
		return 0, err
	}
	switch q {
	case QualityHigh:
		return m.High, nil
	case QualityLow:
		return m.Low, nil
	default:
		return m.Normal, nil
	}
}

// EncodingConfig holds encoder settings shared by all encoding operations.
type EncodingConfig struct {
	// Codec is the default video encoder, used when the output extension
	// does not imply one.
	Codec string
	// Preset is passed as -preset to encoders that support it.
	Preset string
	// Threads is passed as -threads; 0 lets ffmpeg decide.
	Threads int
	// ConcatCRF is the CRF used for concatenation output.
	ConcatCRF int
	// Quality maps sequence-to-video quality tiers to CRF.
	Quality QualityMap
	// FallbackFPS is used when no frame rate can be determined.
	FallbackFPS float64
	// EXRCompression is the EXR encoder compression method for sequence export.
	EXRCompression int
}

// DefaultEncodingConfig returns the default encoder settings.
func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		Codec:          "libx264",
		Preset:         "slow",
		Threads:        0,
		ConcatCRF:      15,
		Quality:        DefaultQualityMap(),
		FallbackFPS:    24,
		EXRCompression: 3,
	}
}

// extensionCodecs maps container extensions to the encoder they are written with.
var extensionCodecs = map[string]string{
	"mp4":  "libx264",
	"m4v":  "libx264",
	"mov":  "libx264",
	"mkv":  "libx264",
	"avi":  "libx264",
	"webm": "libvpx-vp9",
}

// CodecForExtension returns the encoder for a container extension, with or
// without the leading dot, or fallback when the extension is not known.
func CodecForExtension(ext, fallback string) string {
	if codec, ok := extensionCodecs[NormalizeExtension(ext)]; ok {
		return codec
	}
	return fallback
}

// NormalizeExtension lowercases ext and strips leading dots and whitespace.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(ext), "."))
}

// EncoderArgs returns the -c:v/-crf/-preset/-threads arguments for codec.
func (c EncodingConfig) EncoderArgs(codec string, crf int) []string {
	args := []string{
		"-c:v", codec,
		"-crf", strconv.Itoa(crf),
	}
	switch codec {
	case "libx264", "libx265":
		if c.Preset != "" {
			args = append(args, "-preset", c.Preset)
		}
	case "libvpx-vp9":
		// Constant quality mode needs a zero bitrate target.
		args = append(args, "-b:v", "0")
	}
	if c.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(c.Threads))
	}
	return args
}

// FormatFPS renders a frame rate for the command line.
func FormatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

// stem returns the file name of path without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

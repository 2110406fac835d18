package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ResizeOutputPath returns "<dir>/<stem>_<W>x<H><ext>" for src.
func ResizeOutputPath(src string, res Resolution) string {
	return filepath.Join(filepath.Dir(src), fmt.Sprintf("%s_%s%s", stem(src), res, filepath.Ext(src)))
}

// resizeFilter shrinks to fit within res and never enlarges; dimensions are
// forced even so the result is encodable as yuv420p.
func resizeFilter(res Resolution) string {
	return fmt.Sprintf(
		"scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		res.Width, res.Height,
	)
}

// resizeArgs builds the argument vector for ResizeImage.
func resizeArgs(src, dst string, res Resolution) []string {
	args := baseArgs()
	return append(args,
		"-i", src, // Input file
		"-vf", resizeFilter(res), // Video filter
		"-frames:v", "1", // Output single frame (image)
		dst, // Output file
	)
}

// ResizeImage shrinks src to fit within res, preserving aspect ratio.
// The result is written next to src as "<stem>_<W>x<H><ext>".
func (p *FFmpegProcessor) ResizeImage(ctx context.Context, src string, res Resolution) (string, error) {
	if err := res.Validate(); err != nil {
		return "", err
	}
	if err := requireFile(src); err != nil {
		return "", err
	}

	dst := ResizeOutputPath(src, res)
	if err := p.runFFmpeg(ctx, "resize", resizeArgs(src, dst, res)); err != nil {
		return "", fmt.Errorf("resize %s: %w", src, err)
	}

	p.logger.Info("image resized",
		slog.String("source", src),
		slog.String("output", dst),
		slog.String("bounds", res.String()),
	)
	return dst, nil
}

// requireFile checks that path exists and is a regular file.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}
	return nil
}

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Sequence errors.
var (
	// ErrInvalidSequenceDir is returned when the sequence path is missing or not a directory.
	ErrInvalidSequenceDir = errors.New("invalid sequence directory")
	// ErrNoSequence is returned when a directory holds no <name>.<digits>.<ext> files.
	ErrNoSequence = errors.New("no sequence found")
)

// frameName matches "<name>.<digits>.<ext>". The greedy name keeps dots in
// names like "shot.v2.0001.exr" in the name part.
var frameName = regexp.MustCompile(`^(.+)\.(\d+)\.([^.]+)$`)

// Sequence is a numbered image sequence inside one directory.
type Sequence struct {
	Dir    string
	Name   string
	Digits int
	Ext    string
	// StartNumber is the lowest frame number present.
	StartNumber int
	// Frames are the frame paths in frame number order.
	Frames []string
}

// Pattern returns the printf-style input pattern ffmpeg's image2 demuxer
// expects, e.g. "<dir>/shot.%08d.exr".
func (s *Sequence) Pattern() string {
	name := strings.ReplaceAll(s.Name, "%", "%%")
	return filepath.Join(s.Dir, fmt.Sprintf("%s.%%0%dd.%s", name, s.Digits, s.Ext))
}

// FirstFrame returns the path of the first frame.
func (s *Sequence) FirstFrame() string {
	return s.Frames[0]
}

// DetectSequence finds the image sequence in dir. The first file in sorted
// order that matches "<name>.<digits>.<ext>" selects the name, digit width
// and extension; every file sharing all three is a frame.
func DetectSequence(dir string) (*Sequence, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSequenceDir, dir)
	}

	// os.ReadDir returns entries sorted by name.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sequence directory: %w", err)
	}

	var seq *Sequence
	numbers := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		name, digits, ext := m[1], m[2], m[3]
		// Counters too large for an int are not frames.
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if seq == nil {
			seq = &Sequence{Dir: dir, Name: name, Digits: len(digits), Ext: ext}
		}
		if name != seq.Name || len(digits) != seq.Digits || ext != seq.Ext {
			continue
		}
		path := filepath.Join(dir, e.Name())
		seq.Frames = append(seq.Frames, path)
		numbers[path] = n
	}

	if seq == nil || len(seq.Frames) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSequence, dir)
	}

	// Same digit width sorts the same lexically and numerically; sort by
	// number anyway so the order never depends on the directory listing.
	sort.SliceStable(seq.Frames, func(i, j int) bool {
		return numbers[seq.Frames[i]] < numbers[seq.Frames[j]]
	})
	seq.StartNumber = numbers[seq.Frames[0]]
	return seq, nil
}

// SequenceToVideoOptions configures SequenceToVideo.
type SequenceToVideoOptions struct {
	// Dir is the directory holding the sequence.
	Dir string
	// Ext is the output container extension, with or without a leading dot.
	Ext string
	// FrameRate is the output rate; 0 detects it from the first frame.
	FrameRate float64
	// Codec overrides the encoder picked from Ext.
	Codec string
	// Quality is the output tier; empty means normal.
	Quality Quality
}

// SequenceVideoPath returns "<parent-of-dir>/<dir-name>.<ext>".
func SequenceVideoPath(dir, ext string) string {
	dir = filepath.Clean(dir)
	return filepath.Join(filepath.Dir(dir), filepath.Base(dir)+"."+NormalizeExtension(ext))
}

// SequenceToVideo encodes the sequence in opts.Dir into a video written next
// to the directory and returns its path.
func (p *FFmpegProcessor) SequenceToVideo(ctx context.Context, opts SequenceToVideoOptions) (string, error) {
	ext := NormalizeExtension(opts.Ext)
	if ext == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidExtension)
	}
	crf, err := p.enc.Quality.CRF(opts.Quality)
	if err != nil {
		return "", err
	}
	if opts.FrameRate < 0 {
		return "", fmt.Errorf("invalid frame rate %v: must not be negative", opts.FrameRate)
	}

	seq, err := DetectSequence(opts.Dir)
	if err != nil {
		return "", err
	}

	fps := p.sequenceFrameRate(ctx, seq, opts.FrameRate)

	codec := opts.Codec
	if codec == "" {
		codec = CodecForExtension(ext, p.enc.Codec)
	}

	dst := SequenceVideoPath(seq.Dir, ext)
	if err := p.runFFmpeg(ctx, "sequence_to_video", p.sequenceToVideoArgs(seq, fps, codec, crf, dst)); err != nil {
		return "", fmt.Errorf("encode sequence %s: %w", seq.Dir, err)
	}

	p.logger.Info("sequence encoded",
		slog.String("sequence", seq.Pattern()),
		slog.Int("frames", len(seq.Frames)),
		slog.String("fps", fps),
		slog.String("codec", codec),
		slog.Int("crf", crf),
		slog.String("output", dst),
	)
	return dst, nil
}

func (p *FFmpegProcessor) sequenceToVideoArgs(seq *Sequence, fps, codec string, crf int, dst string) []string {
	args := baseArgs()
	args = append(args,
		"-framerate", fps, // Input frame rate for the image2 demuxer
		"-start_number", strconv.Itoa(seq.StartNumber),
		"-i", seq.Pattern(),
	)
	args = append(args, p.enc.EncoderArgs(codec, crf)...)
	return append(args, dst)
}

// sequenceFrameRate resolves the output rate: the caller's value, then the
// rate probed from the first frame, then the configured fallback. A nominal
// rate is ignored since every still image reports one.
func (p *FFmpegProcessor) sequenceFrameRate(ctx context.Context, seq *Sequence, userFPS float64) string {
	if userFPS > 0 {
		return FormatFPS(userFPS)
	}

	if p.prober != nil {
		d, err := p.prober.Probe(ctx, seq.FirstFrame())
		if err == nil && d.HasFrameRate() && !d.FrameRateNominal {
			if d.FrameRateExpr != "" {
				return d.FrameRateExpr
			}
			return FormatFPS(d.FrameRate)
		}
		if err != nil {
			p.logger.Debug("frame rate probe failed", slog.String("frame", seq.FirstFrame()), slog.Any("error", err))
		}
	}

	fallback := p.enc.FallbackFPS
	if fallback <= 0 {
		fallback = DefaultEncodingConfig().FallbackFPS
	}
	p.logger.Warn("could not detect sequence frame rate, using fallback",
		slog.String("sequence", seq.Pattern()),
		slog.Float64("fps", fallback),
	)
	return FormatFPS(fallback)
}

// SequenceDir returns the directory VideoToSequence writes frames of src to.
func SequenceDir(src string) string {
	return filepath.Join(filepath.Dir(src), "seq")
}

// VideoToSequence extracts every frame of src as EXR into "<dir>/seq" and
// returns that directory.
func (p *FFmpegProcessor) VideoToSequence(ctx context.Context, src string) (string, error) {
	if err := requireFile(src); err != nil {
		return "", err
	}

	dir := SequenceDir(src)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sequence directory: %w", err)
	}

	args := baseArgs()
	args = append(args,
		"-i", src,
		"-compression", strconv.Itoa(p.enc.EXRCompression),
		filepath.Join(dir, "sequence.%08d.exr"),
	)
	if err := p.runFFmpeg(ctx, "video_to_sequence", args); err != nil {
		return "", fmt.Errorf("split %s: %w", src, err)
	}

	p.logger.Info("video split to sequence", slog.String("source", src), slog.String("output", dir))
	return dir, nil
}

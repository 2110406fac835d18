package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smilingthrone13/ffmpeg-commands/internal/concat"
	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
	"github.com/smilingthrone13/ffmpeg-commands/internal/metrics"
	"github.com/smilingthrone13/ffmpeg-commands/internal/storage"
)

// Service errors.
var (
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
	// ErrShuttingDown is returned when submitting after Shutdown was called.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrEmptyPath is returned when a request has no input path.
	ErrEmptyPath = errors.New("input path is required")
)

// errCancelled is the cause attached to job contexts cancelled by CancelJob.
var errCancelled = errors.New("cancelled by request")

// Concatenator joins videos. Satisfied by *concat.Engine.
type Concatenator interface {
	Concatenate(ctx context.Context, ext string, paths []string, onProgress concat.ProgressFunc) (*concat.Result, error)
}

// ResizeRequest asks for a still image to be shrunk to fit a box.
type ResizeRequest struct {
	Path       string
	Resolution media.Resolution
	Publish    bool
}

// SequenceToVideoRequest asks for an image sequence directory to be encoded.
type SequenceToVideoRequest struct {
	Dir       string
	Ext       string
	FrameRate float64
	Codec     string
	Quality   string
	Publish   bool
}

// VideoToSequenceRequest asks for a video to be split into EXR frames.
type VideoToSequenceRequest struct {
	Path    string
	Publish bool
}

// ConcatRequest asks for videos to be joined in order.
type ConcatRequest struct {
	Paths   []string
	Ext     string
	Publish bool
}

// outcome is what a finished operation hands back to the runner.
type outcome struct {
	output   string
	warnings []string
}

type task func(ctx context.Context, j *Job) (outcome, error)

// pending is a queued job waiting for a run slot. output is the path the job
// writes; two jobs with the same output never run at once.
type pending struct {
	output string
	ready  chan struct{}
}

// Service runs media jobs in the background. At most limit jobs run ffmpeg
// at once; the rest wait IN_QUEUE and start in submission order, except that
// a job whose output path is in use waits for it without holding up others.
type Service struct {
	repo      Repository
	processor media.Processor
	concat    Concatenator
	store     storage.Storage
	logger    *slog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	limit   int
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	queue   []*pending
	running int
	busy    map[string]struct{}
	cancels map[string]context.CancelCauseFunc
	subs    map[string]map[chan *Job]struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceMetrics sets the metrics sink.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStorage sets where outputs of jobs with Publish set are handed off.
func WithStorage(st storage.Storage) ServiceOption {
	return func(s *Service) {
		s.store = st
	}
}

// WithMaxConcurrent bounds how many jobs run at once. Values below 1 are ignored.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithTimeout bounds a job's total lifetime, queueing included. Zero disables it.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewService creates a Service. Jobs run until they finish or Shutdown is called.
func NewService(repo Repository, processor media.Processor, concatenator Concatenator, opts ...ServiceOption) *Service {
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		repo:      repo,
		processor: processor,
		concat:    concatenator,
		store:     storage.NewLocalStorage(),
		logger:    slog.Default(),
		limit:     2,
		baseCtx:   baseCtx,
		stop:      stop,
		cancels:   make(map[string]context.CancelCauseFunc),
		subs:      make(map[string]map[chan *Job]struct{}),
		busy:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitResize validates req and queues a resize job.
func (s *Service) SubmitResize(ctx context.Context, req ResizeRequest) (*Job, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, ErrEmptyPath
	}
	if err := req.Resolution.Validate(); err != nil {
		return nil, err
	}

	output := media.ResizeOutputPath(req.Path, req.Resolution)
	return s.submit(ctx, KindResize, []string{req.Path}, output, req.Publish, func(ctx context.Context, _ *Job) (outcome, error) {
		out, err := s.processor.ResizeImage(ctx, req.Path, req.Resolution)
		return outcome{output: out}, err
	})
}

// SubmitSequenceToVideo validates req and queues a sequence encode.
func (s *Service) SubmitSequenceToVideo(ctx context.Context, req SequenceToVideoRequest) (*Job, error) {
	if strings.TrimSpace(req.Dir) == "" {
		return nil, ErrEmptyPath
	}
	if media.NormalizeExtension(req.Ext) == "" {
		return nil, fmt.Errorf("%w: empty", media.ErrInvalidExtension)
	}
	quality, err := media.ParseQuality(req.Quality)
	if err != nil {
		return nil, err
	}
	if req.FrameRate < 0 {
		return nil, fmt.Errorf("frame rate must not be negative: %v", req.FrameRate)
	}

	opts := media.SequenceToVideoOptions{
		Dir:       req.Dir,
		Ext:       req.Ext,
		FrameRate: req.FrameRate,
		Codec:     req.Codec,
		Quality:   quality,
	}
	output := media.SequenceVideoPath(req.Dir, req.Ext)
	return s.submit(ctx, KindSequenceToVideo, []string{req.Dir}, output, req.Publish, func(ctx context.Context, _ *Job) (outcome, error) {
		out, err := s.processor.SequenceToVideo(ctx, opts)
		return outcome{output: out}, err
	})
}

// SubmitVideoToSequence validates req and queues an EXR extraction.
func (s *Service) SubmitVideoToSequence(ctx context.Context, req VideoToSequenceRequest) (*Job, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, ErrEmptyPath
	}

	return s.submit(ctx, KindVideoToSequence, []string{req.Path}, media.SequenceDir(req.Path), req.Publish, func(ctx context.Context, _ *Job) (outcome, error) {
		out, err := s.processor.VideoToSequence(ctx, req.Path)
		return outcome{output: out}, err
	})
}

// SubmitConcat validates req and queues a concatenation. Frame progress is
// recorded on the job as ffmpeg reports it.
func (s *Service) SubmitConcat(ctx context.Context, req ConcatRequest) (*Job, error) {
	if len(req.Paths) == 0 {
		return nil, concat.ErrNoInputs
	}
	if media.NormalizeExtension(req.Ext) == "" {
		return nil, fmt.Errorf("%w: empty", media.ErrInvalidExtension)
	}
	paths := append([]string(nil), req.Paths...)

	return s.submit(ctx, KindConcat, paths, concat.OutputPath(paths[0], req.Ext), req.Publish, func(ctx context.Context, j *Job) (outcome, error) {
		res, err := s.concat.Concatenate(ctx, req.Ext, paths, func(p concat.Progress) {
			j.UpdateProgress(p.Frame, p.Total, p.Percent)
			s.save(j)
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{output: res.OutputPath, warnings: res.Warnings()}, nil
	})
}

func (s *Service) submit(ctx context.Context, kind Kind, inputs []string, output string, publish bool, run task) (*Job, error) {
	j := New(kind, inputs...)
	j.Publish = publish

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if err := s.repo.Save(ctx, j); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("save job: %w", err)
	}

	jobCtx, cancel := context.WithCancelCause(s.baseCtx)
	runCtx, stopTimer := jobCtx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		runCtx, stopTimer = context.WithTimeout(jobCtx, s.timeout)
	}
	s.cancels[j.ID] = cancel
	p := &pending{output: output, ready: make(chan struct{})}
	s.queue = append(s.queue, p)
	s.dispatchLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.JobCreated(string(kind))
	s.logger.Info("job queued", slog.String("job_id", j.ID), slog.String("kind", string(kind)))

	go func() {
		defer s.wg.Done()
		defer s.forget(j.ID)
		defer stopTimer()
		defer cancel(nil)
		s.execute(runCtx, j, p, run)
	}()

	return j.Clone(), nil
}

// dispatchLocked hands free slots to queued jobs, oldest first. A job whose
// output is in use is passed over until that job releases it.
func (s *Service) dispatchLocked() {
	for i := 0; i < len(s.queue) && s.running < s.limit; {
		p := s.queue[i]
		if _, taken := s.busy[p.output]; taken {
			i++
			continue
		}
		s.queue = slices.Delete(s.queue, i, i+1)
		s.running++
		s.busy[p.output] = struct{}{}
		close(p.ready)
	}
}

// withdraw removes p from the queue. It reports false if p was already
// handed a slot.
func (s *Service) withdraw(p *pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.queue, p)
	if i < 0 {
		return false
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	return true
}

func (s *Service) release(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	delete(s.busy, p.output)
	s.dispatchLocked()
}

func (s *Service) execute(ctx context.Context, j *Job, p *pending, run task) {
	logger := s.logger.With(slog.String("job_id", j.ID), slog.String("kind", string(j.Kind)))

	select {
	case <-p.ready:
	case <-ctx.Done():
		if s.withdraw(p) {
			s.finish(ctx, j, logger, ctx.Err(), time.Time{})
			return
		}
		<-p.ready
	}
	defer s.release(p)

	// Cancelled while the slot was being granted.
	if ctx.Err() != nil {
		s.finish(ctx, j, logger, ctx.Err(), time.Time{})
		return
	}

	if err := j.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.save(j)
	s.metrics.JobStarted()
	logger.Info("job started")
	started := time.Now()

	res, err := s.runTask(ctx, j, logger, run)
	if err == nil {
		j.AddWarnings(res.warnings...)
		err = s.publish(ctx, j, res.output)
	}
	s.finish(ctx, j, logger, err, started)
}

// runTask turns a panic in run into a job failure.
func (s *Service) runTask(ctx context.Context, j *Job, logger *slog.Logger, run task) (res outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", slog.Any("error", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return run(ctx, j)
}

// publish records the output and hands it to storage when requested.
func (s *Service) publish(ctx context.Context, j *Job, output string) error {
	if !j.Publish || s.store == nil {
		j.SetOutput(output, "")
		return nil
	}

	location, err := s.store.Publish(ctx, j.ID, output)
	if err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	if s.store.Remote() {
		j.SetOutput(output, location)
	} else {
		j.SetOutput(location, "")
	}
	return nil
}

// finish moves j to its terminal state. started is zero if the job never ran.
func (s *Service) finish(ctx context.Context, j *Job, logger *slog.Logger, err error, started time.Time) {
	var transitionErr error
	switch {
	case err == nil:
		transitionErr = j.Complete()
	case errors.Is(context.Cause(ctx), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		transitionErr = j.Timeout(fmt.Sprintf("job exceeded timeout of %s", s.timeout))
	case ctx.Err() != nil:
		transitionErr = j.Cancel()
	default:
		transitionErr = j.Fail(err.Error())
	}
	if transitionErr != nil {
		logger.Error("failed to finish job", slog.String("error", transitionErr.Error()))
	}
	s.save(j)

	snap := j.Clone()
	if !started.IsZero() {
		s.metrics.JobFinished(string(snap.Kind), strings.ToLower(string(snap.Status)), time.Since(started))
	}

	attrs := []any{slog.String("status", string(snap.Status))}
	if snap.OutputPath != "" {
		attrs = append(attrs, slog.String("output", snap.OutputPath))
	}
	if snap.Error != "" {
		attrs = append(attrs, slog.String("error", snap.Error))
	}
	if snap.Status == StatusFailed {
		logger.Error("job finished", attrs...)
	} else {
		logger.Info("job finished", attrs...)
	}
}

// save persists j and notifies subscribers. Persistence uses a detached
// context so terminal states are recorded even after cancellation.
func (s *Service) save(j *Job) {
	snap := j.Clone()
	if err := s.repo.Save(context.WithoutCancel(s.baseCtx), snap); err != nil {
		s.logger.Error("failed to save job", slog.String("job_id", snap.ID), slog.String("error", err.Error()))
	}
	s.notify(snap)
}

// GetJob returns a snapshot of the job.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// CancelJob stops a queued or running job. The job reaches CANCELLED
// asynchronously once ffmpeg has exited.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok || j.IsTerminal() {
		return ErrJobFinished
	}

	cancel(errCancelled)
	s.logger.Info("job cancellation requested", slog.String("job_id", id))
	return nil
}

// Subscribe returns a channel of job snapshots. The channel holds only the
// latest snapshot, so slow readers skip intermediate updates. It is closed
// once the job reaches a terminal state or unsubscribe is called.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan *Job, func(), error) {
	ch := make(chan *Job, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Read under the lock so no notification slips between read and register.
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch <- j
	if j.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}

	if s.subs[id] == nil {
		s.subs[id] = make(map[chan *Job]struct{})
	}
	s.subs[id][ch] = struct{}{}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id][ch]; ok {
			delete(s.subs[id], ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

func (s *Service) notify(snap *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs[snap.ID] {
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}

	if snap.IsTerminal() {
		for ch := range s.subs[snap.ID] {
			close(ch)
		}
		delete(s.subs, snap.ID)
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, remaining jobs are cancelled and ctx's error is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stop()
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return ctx.Err()
	}
}

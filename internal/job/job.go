// Package job provides the Job aggregate for media operations run in the
// background, the repository port for persisting jobs and the Service that
// schedules them.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/smilingthrone13/ffmpeg-commands/internal/job/id"
)

// Kind names the media operation a job runs.
type Kind string

const (
	// KindResize shrinks a still image.
	KindResize Kind = "resize"
	// KindSequenceToVideo encodes an image sequence into a video.
	KindSequenceToVideo Kind = "sequence_to_video"
	// KindVideoToSequence splits a video into an EXR sequence.
	KindVideoToSequence Kind = "video_to_sequence"
	// KindConcat concatenates videos.
	KindConcat Kind = "concat"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindResize, KindSequenceToVideo, KindVideoToSequence, KindConcat:
		return true
	default:
		return false
	}
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates ffmpeg is running for the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job exceeded the configured timeout.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one media operation and its outcome.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Kind is the operation the job runs.
	Kind Kind
	// Status is the current job state.
	Status Status
	// Inputs are the input paths (a file, a sequence directory or the
	// concatenation list).
	Inputs []string
	// Publish indicates whether the output is handed to storage.
	Publish bool
	// Frame is the last frame reported by ffmpeg; only concat reports frames.
	Frame int
	// TotalFrames is the estimated frame count.
	TotalFrames int
	// Progress is the percentage of completion (0-100).
	Progress float64
	// Warnings are non-fatal notes such as skipped or mismatched inputs.
	Warnings []string
	// Error contains any error message if the job failed.
	Error string
	// OutputPath is the local path of the result.
	OutputPath string
	// OutputURL is the published location when the store is remote.
	OutputURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job of the given kind with a generated ID and initial
// IN_QUEUE status.
func New(kind Kind, inputs ...string) *Job {
	return NewWithID(id.Generate(string(kind)), kind, inputs...)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, kind Kind, inputs ...string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		Inputs:    append([]string(nil), inputs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.CompletedAt = j.UpdatedAt
		j.Progress = 100
	case StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	return j.finishWithError(StatusFailed, errMsg)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state with an error message.
func (j *Job) Timeout(errMsg string) error {
	return j.finishWithError(StatusTimedOut, errMsg)
}

func (j *Job) finishWithError(status Status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records the latest frame count. The percentage is clamped
// to 0-100 since the frame total is an estimate.
func (j *Job) UpdateProgress(frame, total int, percent float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.Frame = frame
	j.TotalFrames = total
	j.Progress = percent
	j.UpdatedAt = time.Now()
}

// AddWarnings appends non-fatal notes.
func (j *Job) AddWarnings(warnings ...string) {
	if len(warnings) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Warnings = append(j.Warnings, warnings...)
	j.UpdatedAt = time.Now()
}

// SetOutput sets the output path and optional published URL.
func (j *Job) SetOutput(path, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.OutputURL = url
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Inputs:      append([]string(nil), j.Inputs...),
		Publish:     j.Publish,
		Frame:       j.Frame,
		TotalFrames: j.TotalFrames,
		Progress:    j.Progress,
		Warnings:    append([]string(nil), j.Warnings...),
		Error:       j.Error,
		OutputPath:  j.OutputPath,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

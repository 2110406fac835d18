// Package server provides the HTTP API for the ffmpeg job service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"fmt"
	"time"

	"github.com/smilingthrone13/ffmpeg-commands/internal/job"
)

// ResizeRequest is the body of POST /jobs/resize.
type ResizeRequest struct {
	// Path is the source image.
	Path string `json:"path" validate:"required"`
	// Width is the maximum output width.
	Width int `json:"width" validate:"required,min=1,max=16384"`
	// Height is the maximum output height.
	Height int `json:"height" validate:"required,min=1,max=16384"`
	// Publish hands the output to the configured storage.
	Publish bool `json:"publish"`
}

// SequenceToVideoRequest is the body of POST /jobs/sequence-to-video.
type SequenceToVideoRequest struct {
	// Dir is the directory holding the numbered frames.
	Dir string `json:"dir" validate:"required"`
	// Ext is the output container extension, e.g. "mp4".
	Ext string `json:"ext" validate:"required"`
	// FrameRate is the output rate; 0 detects it from the first frame.
	FrameRate float64 `json:"frame_rate" validate:"gte=0"`
	// Codec overrides the encoder picked from the extension.
	Codec string `json:"codec,omitempty"`
	// Quality is "high", "normal" (default) or "low".
	Quality string `json:"quality,omitempty"`
	Publish bool   `json:"publish"`
}

// VideoToSequenceRequest is the body of POST /jobs/video-to-sequence.
type VideoToSequenceRequest struct {
	Path    string `json:"path" validate:"required"`
	Publish bool   `json:"publish"`
}

// ConcatRequest is the body of POST /jobs/concat.
type ConcatRequest struct {
	// Paths are joined in the given order.
	Paths   []string `json:"paths" validate:"required,min=1,dive,required"`
	Ext     string   `json:"ext" validate:"required"`
	Publish bool     `json:"publish"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Kind is the operation the job runs.
	Kind string `json:"kind"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP representation of a job. It is also the message
// format of the job events stream.
type JobResponse struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Status   string   `json:"status"`
	Inputs   []string `json:"inputs"`
	Progress float64  `json:"progress"`
	// ProgressText is Progress rendered with two decimals, e.g. "50.00%".
	ProgressText string     `json:"progress_text"`
	Frame        int        `json:"frame,omitempty"`
	TotalFrames  int        `json:"total_frames,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	Error        string     `json:"error,omitempty"`
	OutputPath   string     `json:"output_path,omitempty"`
	OutputURL    string     `json:"output_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for GET /jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// RequestID correlates the error with server logs.
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Status:       string(j.Status),
		Inputs:       j.Inputs,
		Progress:     j.Progress,
		ProgressText: fmt.Sprintf("%.2f%%", j.Progress),
		Frame:        j.Frame,
		TotalFrames:  j.TotalFrames,
		Warnings:     j.Warnings,
		Error:        j.Error,
		OutputPath:   j.OutputPath,
		OutputURL:    j.OutputURL,
		CreatedAt:    j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		resp.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

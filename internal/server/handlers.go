package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/smilingthrone13/ffmpeg-commands/internal/concat"
	"github.com/smilingthrone13/ffmpeg-commands/internal/job"
	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
)

// ErrPathOutsideRoot is returned when a request path escapes the media root.
var ErrPathOutsideRoot = errors.New("path is outside the media root")

const (
	// maxBodyBytes bounds request bodies; requests carry paths, not media.
	maxBodyBytes    = 1 << 20
	eventsWriteWait = 10 * time.Second
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	validator *validator.Validate
	logger    *slog.Logger
	mediaRoot string
	upgrader  websocket.Upgrader
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMediaRoot resolves relative request paths against root and rejects
// paths outside it. An empty root accepts any path.
func WithMediaRoot(root string) HandlerOption {
	return func(h *Handlers) {
		if root != "" {
			h.mediaRoot = filepath.Clean(root)
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Resize handles POST /jobs/resize.
func (h *Handlers) Resize(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	src, err := h.resolvePath(req.Path)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.service.SubmitResize(r.Context(), job.ResizeRequest{
		Path:       src,
		Resolution: media.Resolution{Width: req.Width, Height: req.Height},
		Publish:    req.Publish,
	})
	h.respondCreated(w, r, created, err)
}

// SequenceToVideo handles POST /jobs/sequence-to-video.
func (h *Handlers) SequenceToVideo(w http.ResponseWriter, r *http.Request) {
	var req SequenceToVideoRequest
	if !h.decode(w, r, &req) {
		return
	}
	dir, err := h.resolvePath(req.Dir)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.service.SubmitSequenceToVideo(r.Context(), job.SequenceToVideoRequest{
		Dir:       dir,
		Ext:       req.Ext,
		FrameRate: req.FrameRate,
		Codec:     req.Codec,
		Quality:   req.Quality,
		Publish:   req.Publish,
	})
	h.respondCreated(w, r, created, err)
}

// VideoToSequence handles POST /jobs/video-to-sequence.
func (h *Handlers) VideoToSequence(w http.ResponseWriter, r *http.Request) {
	var req VideoToSequenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	src, err := h.resolvePath(req.Path)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.service.SubmitVideoToSequence(r.Context(), job.VideoToSequenceRequest{
		Path:    src,
		Publish: req.Publish,
	})
	h.respondCreated(w, r, created, err)
}

// Concat handles POST /jobs/concat.
func (h *Handlers) Concat(w http.ResponseWriter, r *http.Request) {
	var req ConcatRequest
	if !h.decode(w, r, &req) {
		return
	}
	paths := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		resolved, err := h.resolvePath(p)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		paths = append(paths, resolved)
	}

	created, err := h.service.SubmitConcat(r.Context(), job.ConcatRequest{
		Paths:   paths,
		Ext:     req.Ext,
		Publish: req.Publish,
	})
	h.respondCreated(w, r, created, err)
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(found))
}

// CancelJob handles DELETE /jobs/{id}. The job reaches CANCELLED
// asynchronously, so the response is 202.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.service.CancelJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(found))
}

// JobEvents handles GET /jobs/{id}/events. It upgrades to a WebSocket and
// sends a JobResponse for every job update until the job finishes.
func (h *Handlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	updates, unsubscribe, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// Reading is required to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(eventsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(newJobResponse(snap)); err != nil {
				h.logger.Debug("job events client write failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) respondCreated(w http.ResponseWriter, r *http.Request, created *job.Job, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Kind:   string(created.Kind),
		Status: string(created.Status),
	})
}

// resolvePath makes p absolute under the media root, if one is set.
func (h *Handlers) resolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if h.mediaRoot == "" || p == "" {
		return p, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.mediaRoot, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(h.mediaRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, p)
	}
	return p, nil
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, r, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobFinished):
		writeError(w, r, http.StatusConflict, err.Error(), "JOB_FINISHED")
	case errors.Is(err, job.ErrShuttingDown):
		writeError(w, r, http.StatusServiceUnavailable, err.Error(), "SHUTTING_DOWN")
	case errors.Is(err, ErrPathOutsideRoot):
		writeError(w, r, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_ROOT")
	case errors.Is(err, job.ErrEmptyPath),
		errors.Is(err, media.ErrInvalidResolution),
		errors.Is(err, media.ErrInvalidQuality),
		errors.Is(err, media.ErrInvalidExtension),
		errors.Is(err, concat.ErrNoInputs):
		writeError(w, r, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		h.logger.Debug("request cancelled", slog.String("path", r.URL.Path))
	default:
		h.logger.Error("request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

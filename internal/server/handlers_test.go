package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smilingthrone13/ffmpeg-commands/internal/concat"
	"github.com/smilingthrone13/ffmpeg-commands/internal/job"
	"github.com/smilingthrone13/ffmpeg-commands/internal/media"
	"github.com/smilingthrone13/ffmpeg-commands/internal/metrics"
)

// mockProcessor implements media.Processor for testing.
type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ResizeImage(ctx context.Context, src string, res media.Resolution) (string, error) {
	args := m.Called(ctx, src, res)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) SequenceToVideo(ctx context.Context, opts media.SequenceToVideoOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) VideoToSequence(ctx context.Context, src string) (string, error) {
	args := m.Called(ctx, src)
	return args.String(0), args.Error(1)
}

// mockConcatenator implements job.Concatenator for testing.
type mockConcatenator struct {
	mock.Mock
}

func (m *mockConcatenator) Concatenate(ctx context.Context, ext string, paths []string, onProgress concat.ProgressFunc) (*concat.Result, error) {
	args := m.Called(ctx, ext, paths)
	if onProgress != nil {
		onProgress(concat.Progress{Frame: 60, Total: 120, Percent: 50})
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*concat.Result), args.Error(1)
}

type testEnv struct {
	router    http.Handler
	service   *job.Service
	processor *mockProcessor
	concat    *mockConcatenator
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	processor := &mockProcessor{}
	concatenator := &mockConcatenator{}
	svc := job.NewService(job.NewMemoryRepository(), processor, concatenator,
		job.WithServiceLogger(logger),
		job.WithServiceMetrics(m),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	handlers := NewHandlers(svc, logger, opts...)
	router := NewRouter(handlers, logger, Config{
		AllowedOrigins: []string{"*"},
		Gatherer:       registry,
		Metrics:        m,
	})
	return &testEnv{router: router, service: svc, processor: processor, concat: concatenator, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitStatus(t *testing.T, id string, want job.Status) JobResponse {
	t.Helper()
	var resp JobResponse
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/jobs/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = JobResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Status == string(want)
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func createJob(t *testing.T, env *testEnv, path string, body any) CreateJobResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResize(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("ResizeImage", mock.Anything, "/media/still.png", media.Resolution{Width: 640, Height: 360}).
		Return("/media/still_640x360.png", nil)

	created := createJob(t, env, "/jobs/resize", ResizeRequest{Path: "/media/still.png", Width: 640, Height: 360})
	assert.Equal(t, "resize", created.Kind)
	assert.Equal(t, "IN_QUEUE", created.Status)
	assert.True(t, strings.HasPrefix(created.ID, "resize-"))

	resp := env.waitStatus(t, created.ID, job.StatusCompleted)
	assert.Equal(t, "/media/still_640x360.png", resp.OutputPath)
	assert.Equal(t, "100.00%", resp.ProgressText)
	assert.NotNil(t, resp.StartedAt)
	assert.NotNil(t, resp.CompletedAt)
}

func TestSequenceToVideo(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("SequenceToVideo", mock.Anything, media.SequenceToVideoOptions{
		Dir: "/media/shot", Ext: "webm", Quality: media.QualityLow,
	}).Return("/media/shot.webm", nil)

	created := createJob(t, env, "/jobs/sequence-to-video", SequenceToVideoRequest{
		Dir: "/media/shot", Ext: "webm", Quality: "low",
	})

	resp := env.waitStatus(t, created.ID, job.StatusCompleted)
	assert.Equal(t, "/media/shot.webm", resp.OutputPath)
	assert.Equal(t, []string{"/media/shot"}, resp.Inputs)
}

func TestVideoToSequence_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("VideoToSequence", mock.Anything, "/media/missing.mp4").
		Return("", media.ErrSourceNotFound)

	created := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "/media/missing.mp4"})

	resp := env.waitStatus(t, created.ID, job.StatusFailed)
	assert.Contains(t, resp.Error, "source file not found")
}

func TestConcat(t *testing.T) {
	env := newTestEnv(t)
	paths := []string{"/media/a.mp4", "/media/b.mp4"}
	env.concat.On("Concatenate", mock.Anything, "mov", paths).Return(&concat.Result{
		OutputPath: "/media/result/concat_output.mov",
	}, nil)

	created := createJob(t, env, "/jobs/concat", ConcatRequest{Paths: paths, Ext: "mov"})
	assert.Equal(t, "concat", created.Kind)

	resp := env.waitStatus(t, created.ID, job.StatusCompleted)
	assert.Equal(t, "/media/result/concat_output.mov", resp.OutputPath)
	assert.Equal(t, 60, resp.Frame)
	assert.Equal(t, 120, resp.TotalFrames)
}

func TestCreateJob_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode string
	}{
		{"invalid JSON", "/jobs/resize", "{not json", "INVALID_JSON"},
		{"unknown field", "/jobs/resize", `{"path":"a.png","width":1,"height":1,"scale":2}`, "INVALID_JSON"},
		{"missing width", "/jobs/resize", ResizeRequest{Path: "a.png", Height: 10}, "VALIDATION_ERROR"},
		{"missing dir", "/jobs/sequence-to-video", SequenceToVideoRequest{Ext: "mp4"}, "VALIDATION_ERROR"},
		{"negative frame rate", "/jobs/sequence-to-video", SequenceToVideoRequest{Dir: "/d", Ext: "mp4", FrameRate: -1}, "VALIDATION_ERROR"},
		{"unknown quality", "/jobs/sequence-to-video", SequenceToVideoRequest{Dir: "/d", Ext: "mp4", Quality: "best"}, "VALIDATION_ERROR"},
		{"blank extension", "/jobs/sequence-to-video", SequenceToVideoRequest{Dir: "/d", Ext: "."}, "VALIDATION_ERROR"},
		{"missing path", "/jobs/video-to-sequence", VideoToSequenceRequest{}, "VALIDATION_ERROR"},
		{"empty concat list", "/jobs/concat", ConcatRequest{Paths: []string{}, Ext: "mp4"}, "VALIDATION_ERROR"},
		{"blank concat path", "/jobs/concat", ConcatRequest{Paths: []string{"a.mp4", ""}, Ext: "mp4"}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}

	rec := env.do(t, http.MethodGet, "/jobs", nil)
	var list JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Jobs)
}

func TestMediaRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "media")
	env := newTestEnv(t, WithMediaRoot(root))
	env.processor.On("VideoToSequence", mock.Anything, filepath.Join(root, "clips", "a.mp4")).
		Return(filepath.Join(root, "clips", "seq"), nil)

	created := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "clips/a.mp4"})
	env.waitStatus(t, created.ID, job.StatusCompleted)

	for _, p := range []string{"../etc/passwd", "/etc/passwd", "clips/../../x.mp4"} {
		rec := env.do(t, http.MethodPost, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: p})
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
		assert.Equal(t, "PATH_OUTSIDE_ROOT", decodeError(t, rec).Code, p)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/jobs/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("VideoToSequence", mock.Anything, mock.Anything).Return("/media/seq", nil)

	first := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "/media/a.mp4"})
	second := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "/media/b.mp4"})
	env.waitStatus(t, first.ID, job.StatusCompleted)
	env.waitStatus(t, second.ID, job.StatusCompleted)

	rec := env.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 2)
	ids := []string{list.Jobs[0].ID, list.Jobs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

// blockUntilCancelled makes the mocked call run until its context ends.
func blockUntilCancelled(started chan<- struct{}) func(mock.Arguments) {
	return func(args mock.Arguments) {
		started <- struct{}{}
		<-args.Get(0).(context.Context).Done()
	}
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{}, 1)
	env.processor.On("VideoToSequence", mock.Anything, "/media/long.mp4").
		Run(blockUntilCancelled(started)).
		Return("", context.Canceled)

	created := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "/media/long.mp4"})
	<-started

	rec := env.do(t, http.MethodDelete, "/jobs/"+created.ID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	env.waitStatus(t, created.ID, job.StatusCancelled)

	rec = env.do(t, http.MethodDelete, "/jobs/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_FINISHED", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodDelete, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	const incoming = "3f1c2a4e-8a4b-4c1d-9e2f-0a1b2c3d4e5f"
	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, incoming, decodeError(t, rec).RequestID)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)
	env.do(t, http.MethodGet, "/jobs/missing", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",route="GET /health",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",route="GET /jobs/{id}",status="404"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/jobs/concat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestJobEvents(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{}, 1)
	env.processor.On("VideoToSequence", mock.Anything, "/media/long.mp4").
		Run(blockUntilCancelled(started)).
		Return("", context.Canceled)

	server := httptest.NewServer(env.router)
	defer server.Close()

	created := createJob(t, env, "/jobs/video-to-sequence", VideoToSequenceRequest{Path: "/media/long.mp4"})
	<-started

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/jobs/" + created.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var first JobResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, created.ID, first.ID)
	assert.Equal(t, "RUNNING", first.Status)

	require.NoError(t, env.service.CancelJob(context.Background(), created.ID))

	var last JobResponse
	for {
		var msg JobResponse
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = msg
	}
	assert.Equal(t, "CANCELLED", last.Status)
}

func TestJobEvents_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/jobs/missing/events", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// mockS3 records PUT object paths and bodies.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func newMockS3(t *testing.T) (*mockS3, *httptest.Server) {
	t.Helper()
	m := &mockS3{objects: make(map[string]string)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		m.mu.Lock()
		m.objects[r.URL.Path] = string(body)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return m, server
}

func (m *mockS3) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestS3Storage(t *testing.T, endpoint, prefix string) *S3Storage {
	t.Helper()
	storage, err := NewS3Storage(context.Background(), S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		Prefix:          prefix,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}
	return storage
}

func TestNewS3Storage(t *testing.T) {
	storage := newTestS3Storage(t, "http://localhost:4566/", "/renders/")

	if storage.bucket != "test-bucket" {
		t.Errorf("bucket = %v, want test-bucket", storage.bucket)
	}
	if storage.region != "us-east-1" {
		t.Errorf("region = %v, want us-east-1", storage.region)
	}
	if storage.endpoint != "http://localhost:4566" {
		t.Errorf("endpoint = %v, want trailing slash trimmed", storage.endpoint)
	}
	if storage.prefix != "renders" {
		t.Errorf("prefix = %v, want renders", storage.prefix)
	}
	if !storage.Remote() {
		t.Error("S3Storage should be remote")
	}
}

func TestS3Storage_URL(t *testing.T) {
	aws := newTestS3Storage(t, "", "")
	if got, want := aws.url("job-1/out.mp4"), "https://test-bucket.s3.us-east-1.amazonaws.com/job-1/out.mp4"; got != want {
		t.Errorf("url() = %v, want %v", got, want)
	}

	minio := newTestS3Storage(t, "http://minio:9000", "")
	if got, want := minio.url("job-1/out.mp4"), "http://minio:9000/test-bucket/job-1/out.mp4"; got != want {
		t.Errorf("url() = %v, want %v", got, want)
	}
}

func TestS3Storage_Key(t *testing.T) {
	s := newTestS3Storage(t, "", "renders")
	if got, want := s.key("job-1", "out.mp4"), "renders/job-1/out.mp4"; got != want {
		t.Errorf("key() = %v, want %v", got, want)
	}
	if got, want := s.key("", "out.mp4"), "renders/out.mp4"; got != want {
		t.Errorf("key() = %v, want %v", got, want)
	}
}

func TestS3Storage_PublishFile_MockServer(t *testing.T) {
	mock, server := newMockS3(t)
	storage := newTestS3Storage(t, server.URL, "renders")

	file := filepath.Join(t.TempDir(), "concat_output.mp4")
	if err := os.WriteFile(file, []byte("test content"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	url, err := storage.Publish(context.Background(), "job-1", file)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	expectedURL := server.URL + "/test-bucket/renders/job-1/concat_output.mp4"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}

	keys := mock.keys()
	if len(keys) != 1 || keys[0] != "/test-bucket/renders/job-1/concat_output.mp4" {
		t.Errorf("uploaded keys = %v", keys)
	}
	if body := mock.objects[keys[0]]; !strings.Contains(body, "test content") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestS3Storage_PublishDirectory_MockServer(t *testing.T) {
	mock, server := newMockS3(t)
	storage := newTestS3Storage(t, server.URL, "")

	seq := filepath.Join(t.TempDir(), "seq")
	if err := os.MkdirAll(seq, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"sequence.00000001.exr", "sequence.00000002.exr"} {
		if err := os.WriteFile(filepath.Join(seq, name), []byte("frame"), 0o600); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	url, err := storage.Publish(context.Background(), "job-2", seq)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if want := server.URL + "/test-bucket/job-2/seq/"; url != want {
		t.Errorf("url = %v, want %v", url, want)
	}

	want := []string{
		"/test-bucket/job-2/seq/sequence.00000001.exr",
		"/test-bucket/job-2/seq/sequence.00000002.exr",
	}
	got := mock.keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded keys = %v, want %v", got, want)
	}
}

func TestS3Storage_PublishMissing(t *testing.T) {
	storage := newTestS3Storage(t, "http://localhost:4566", "")

	_, err := storage.Publish(context.Background(), "job-3", filepath.Join(t.TempDir(), "missing.mp4"))
	if !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("expected ErrOutputNotFound, got %v", err)
	}
}

func TestS3Storage_PublishServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	storage := newTestS3Storage(t, server.URL, "")
	file := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := storage.Publish(context.Background(), "job-4", file); err == nil {
		t.Error("expected error from server")
	}
}

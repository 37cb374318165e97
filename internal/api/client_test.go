package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ai4ce/vpr-collector/internal/storage"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected baseURL=http://localhost:5000, got %s", c.baseURL)
	}
	if c.apiKey != "secret123" {
		t.Errorf("expected apiKey=secret123, got %s", c.apiKey)
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/healthcheck" {
					t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := New(server.URL, "").Healthcheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Healthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := New(url, "").Healthcheck(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestUpload_Success(t *testing.T) {
	fields := map[string]string{}
	var content []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/add" {
			t.Errorf("expected path /api/v1/sessions/add, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			return
		}
		for _, k := range []string{"secret", "filename", "sessionId", "town", "role", "duration", "frames"} {
			fields[k] = r.FormValue(k)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("failed to get file: %v", err)
			return
		}
		defer file.Close()
		content, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "index.db")
	if err := os.WriteFile(testFile, []byte("test content"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	meta := storage.UploadMetadata{
		SessionID: "run-1",
		Town:      "Town10HD",
		Role:      "hero",
		Duration:  61.5,
		Frames:    1234,
	}
	if err := New(server.URL, "mysecret").Upload(context.Background(), testFile, meta); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	want := map[string]string{
		"secret":    "mysecret",
		"filename":  "index.db",
		"sessionId": "run-1",
		"town":      "Town10HD",
		"role":      "hero",
		"duration":  "61.500000",
		"frames":    "1234",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("expected %s=%s, got %s", k, v, fields[k])
		}
	}
	if string(content) != "test content" {
		t.Errorf("expected file content 'test content', got '%s'", string(content))
	}
}

func TestUpload_FileNotFound(t *testing.T) {
	c := New("http://localhost:5000", "secret")
	if err := c.Upload(context.Background(), "/nonexistent/file.json.gz", storage.UploadMetadata{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "test.json.gz")
	_ = os.WriteFile(testFile, []byte("content"), 0o644)

	if err := New(server.URL, "wrong-secret").Upload(context.Background(), testFile, storage.UploadMetadata{}); err == nil {
		t.Error("expected error for 403 response")
	}
}

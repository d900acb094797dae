package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/go-strata/internal/storage"
)

func saveTestDownload(t *testing.T, env *testEnv, id, path string, content []byte) {
	t.Helper()

	if content != nil {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	record := &storage.DownloadRecord{
		ID:           id,
		URL:          "https://cdn.example.com/" + filepath.Base(path),
		Kind:         "progressive",
		LocalPath:    path,
		Filename:     filepath.Base(path),
		MimeType:     "video/mp4",
		Size:         int64(len(content)),
		DownloadedAt: time.Now(),
	}
	if err := env.storage.AddDownloadRecord(record); err != nil {
		t.Fatalf("Failed to add download record: %v", err)
	}
}

func TestServeDownloadedFile(t *testing.T) {
	env := createTestServer(t)

	content := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	saveTestDownload(t, env, "dl-1", filepath.Join(env.dir, "movie.mp4"), content)

	req := httptest.NewRequest("GET", "/files/dl-1", nil)
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Expected video/mp4, got %s", ct)
	}
	if w.Body.String() != string(content) {
		t.Errorf("Expected full file content, got %q", w.Body.String())
	}
}

func TestServeDownloadedFileRange(t *testing.T) {
	env := createTestServer(t)

	content := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	saveTestDownload(t, env, "dl-1", filepath.Join(env.dir, "movie.mp4"), content)

	tests := []struct {
		name    string
		header  string
		status  int
		body    string
		content string
	}{
		{"prefix", "bytes=0-9", http.StatusPartialContent, "0123456789", "bytes 0-9/36"},
		{"open ended", "bytes=30-", http.StatusPartialContent, "uvwxyz", "bytes 30-35/36"},
		{"suffix", "bytes=-4", http.StatusPartialContent, "wxyz", "bytes 32-35/36"},
		{"unsatisfiable", "bytes=100-200", http.StatusRequestedRangeNotSatisfiable, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/files/dl-1", nil)
			req.Header.Set("Range", tt.header)
			w := httptest.NewRecorder()
			env.server.router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status != http.StatusPartialContent {
				return
			}
			if w.Body.String() != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, w.Body.String())
			}
			if got := w.Header().Get("Content-Range"); got != tt.content {
				t.Errorf("Expected Content-Range %q, got %q", tt.content, got)
			}
		})
	}
}

func TestServeMissingFileRedirectsToOrigin(t *testing.T) {
	env := createTestServer(t)

	saveTestDownload(t, env, "dl-1", filepath.Join(env.dir, "gone.mp4"), nil)

	req := httptest.NewRequest("GET", "/files/dl-1", nil)
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://cdn.example.com/gone.mp4" {
		t.Errorf("Expected redirect to origin, got %s", loc)
	}
}

func TestServeFileOutsideOutputDirectory(t *testing.T) {
	env := createTestServer(t)

	outside := filepath.Join(t.TempDir(), "secret.mp4")
	saveTestDownload(t, env, "dl-1", outside, []byte("secret"))

	req := httptest.NewRequest("GET", "/files/dl-1", nil)
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestServeUnknownFile(t *testing.T) {
	env := createTestServer(t)

	req := httptest.NewRequest("GET", "/files/missing", nil)
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDeleteDownload(t *testing.T) {
	env := createTestServer(t)

	path := filepath.Join(env.dir, "movie.mp4")
	saveTestDownload(t, env, "dl-1", path, []byte("data"))

	w, response := env.do(t, "DELETE", "/api/downloads/dl-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, response.Error)
	}
	if response.Message != "Download removed" {
		t.Errorf("Expected removal message, got %s", response.Message)
	}

	if env.files.FileExists(path) {
		t.Error("Expected downloaded file to be removed")
	}
	if _, err := env.storage.GetDownloadRecord("dl-1"); err == nil {
		t.Error("Expected download record to be removed")
	}

	w, _ = env.do(t, "DELETE", "/api/downloads/dl-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", w.Code)
	}
}

func TestDownloadStats(t *testing.T) {
	env := createTestServer(t)

	saveTestDownload(t, env, "dl-1", filepath.Join(env.dir, "a.mp4"), make([]byte, 2048))
	saveTestDownload(t, env, "dl-2", filepath.Join(env.dir, "b.mp4"), make([]byte, 1024))

	w, response := env.do(t, "GET", "/api/downloads/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	data, ok := response.Data.(map[string]any)
	if !ok {
		t.Fatal("Expected response data to be a map")
	}
	if data["total_downloads"] != float64(2) {
		t.Errorf("Expected 2 downloads, got %v", data["total_downloads"])
	}
	if data["total_size_human"] != "3.1 kB" {
		t.Errorf("Expected human readable size 3.1 kB, got %v", data["total_size_human"])
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		want    string
	}{
		{"mp4 extension", "movie.mp4", "", "video/mp4"},
		{"transport stream", "master.ts", "", "video/mp2t"},
		{"matroska", "clip.MKV", "", "video/x-matroska"},
		{"sniffed webm", "clip.bin", "\x1a\x45\xdf\xa3", "video/webm"},
		{"empty unknown", "clip.bin", "", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.content)
			if got := detectContentType(tt.path, r); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
				t.Errorf("Expected reader position restored, got %d", pos)
			}
		})
	}
}

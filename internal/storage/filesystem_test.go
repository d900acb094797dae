package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCalculateChecksum(t *testing.T) {
	tempDir := t.TempDir()
	fm := createTestFileManager(t, tempDir)

	data := []byte("segment data")
	path := filepath.Join(tempDir, "movie.ts")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	sum, err := fm.CalculateChecksum(path)
	if err != nil {
		t.Fatalf("CalculateChecksum failed: %v", err)
	}

	expected := sha256.Sum256(data)
	if sum != hex.EncodeToString(expected[:]) {
		t.Errorf("Checksum mismatch: got %s", sum)
	}

	if _, err := fm.CalculateChecksum(filepath.Join(tempDir, "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestCleanupPartialDownloads(t *testing.T) {
	tempDir := t.TempDir()
	fm := createTestFileManager(t, tempDir)

	stale := filepath.Join(tempDir, ".strata-111.part")
	fresh := filepath.Join(tempDir, ".strata-222.part")
	kept := filepath.Join(tempDir, "movie.mp4")
	for _, p := range []string{stale, fresh, kept} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}

	old := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{stale, kept} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("Failed to age %s: %v", p, err)
		}
	}

	cleaned, err := fm.CleanupPartialDownloads(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupPartialDownloads failed: %v", err)
	}
	if cleaned != 1 {
		t.Errorf("Expected 1 file cleaned, got %d", cleaned)
	}

	if fm.FileExists(stale) {
		t.Error("Stale partial download should be removed")
	}
	if !fm.FileExists(fresh) {
		t.Error("Fresh partial download should be kept")
	}
	if !fm.FileExists(kept) {
		t.Error("Completed download should never be removed")
	}
}

func TestRemoveFile(t *testing.T) {
	tempDir := t.TempDir()
	fm := createTestFileManager(t, tempDir)

	path := filepath.Join(tempDir, "movie.mp4")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if err := fm.RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile failed: %v", err)
	}
	if fm.FileExists(path) {
		t.Error("File should be removed")
	}

	if err := fm.RemoveFile(path); err != nil {
		t.Errorf("Removing a missing file should succeed, got %v", err)
	}

	outside := filepath.Join(t.TempDir(), "other.mp4")
	if err := fm.RemoveFile(outside); err == nil {
		t.Error("Expected error removing a file outside the directory")
	}
}

func TestContains(t *testing.T) {
	tempDir := t.TempDir()
	fm := createTestFileManager(t, tempDir)

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(tempDir, "a.mp4"), true},
		{filepath.Join(tempDir, "sub", "a.mp4"), true},
		{filepath.Join(tempDir, "..", "a.mp4"), false},
		{filepath.Join(tempDir, "..x"), true},
	}

	for _, tt := range tests {
		if got := fm.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func createTestFileManager(t *testing.T, dir string) *FileManager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return NewFileManager(dir, logger)
}

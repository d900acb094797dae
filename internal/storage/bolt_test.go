package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/go-strata/pkg/config"
)

func TestNewManager(t *testing.T) {
	tempDir := t.TempDir()
	manager := createTestManager(t, tempDir)
	defer manager.Close()

	dbPath := filepath.Join(tempDir, DatabaseFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := manager.HealthCheck(); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}

func TestAddAndGetDownloadRecord(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	record := &DownloadRecord{
		ID:           "dl-1",
		URL:          "https://cdn.example.com/movie.mp4",
		Kind:         "progressive",
		LocalPath:    "/downloads/movie.mp4",
		Filename:     "movie.mp4",
		MimeType:     "video/mp4",
		Size:         1024 * 1024 * 50,
		DownloadedAt: time.Now().Truncate(time.Second),
		Duration:     3 * time.Second,
	}

	if err := manager.AddDownloadRecord(record); err != nil {
		t.Fatalf("Failed to add download record: %v", err)
	}

	retrieved, err := manager.GetDownloadRecord("dl-1")
	if err != nil {
		t.Fatalf("Failed to get download record: %v", err)
	}

	if retrieved.URL != record.URL {
		t.Errorf("URL mismatch: expected %s, got %s", record.URL, retrieved.URL)
	}
	if retrieved.Size != record.Size {
		t.Errorf("Size mismatch: expected %d, got %d", record.Size, retrieved.Size)
	}
	if !retrieved.DownloadedAt.Equal(record.DownloadedAt) {
		t.Errorf("DownloadedAt mismatch: expected %v, got %v", record.DownloadedAt, retrieved.DownloadedAt)
	}
}

func TestAddDownloadRecordValidation(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	if err := manager.AddDownloadRecord(&DownloadRecord{LocalPath: "/x"}); err == nil {
		t.Error("Expected error for record without ID")
	}
	if err := manager.AddDownloadRecord(&DownloadRecord{ID: "x"}); err == nil {
		t.Error("Expected error for record without LocalPath")
	}
}

func TestGetDownloadRecordNotFound(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	_, err := manager.GetDownloadRecord("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListDownloadRecords(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	base := time.Now()
	kinds := []string{"progressive", "hls", "progressive"}
	for i, kind := range kinds {
		record := &DownloadRecord{
			ID:           fmt.Sprintf("dl-%d", i),
			Kind:         kind,
			LocalPath:    fmt.Sprintf("/downloads/%d.mp4", i),
			Size:         int64(100 * (i + 1)),
			DownloadedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := manager.AddDownloadRecord(record); err != nil {
			t.Fatalf("Failed to add record %d: %v", i, err)
		}
	}

	all, err := manager.ListDownloadRecords("")
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].ID != "dl-2" || all[2].ID != "dl-0" {
		t.Errorf("Expected newest first, got %s ... %s", all[0].ID, all[2].ID)
	}

	progressive, err := manager.ListDownloadRecords("progressive")
	if err != nil {
		t.Fatalf("Failed to list progressive records: %v", err)
	}
	if len(progressive) != 2 {
		t.Errorf("Expected 2 progressive records, got %d", len(progressive))
	}
}

func TestRemoveDownloadRecord(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	record := &DownloadRecord{ID: "dl-1", LocalPath: "/downloads/a.mp4"}
	if err := manager.AddDownloadRecord(record); err != nil {
		t.Fatalf("Failed to add record: %v", err)
	}

	if err := manager.RemoveDownloadRecord("dl-1"); err != nil {
		t.Fatalf("Failed to remove record: %v", err)
	}
	if _, err := manager.GetDownloadRecord("dl-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected record to be gone, got %v", err)
	}

	if err := manager.RemoveDownloadRecord("dl-1"); err != nil {
		t.Errorf("Removing a missing record should succeed, got %v", err)
	}
}

func TestGetDownloadStats(t *testing.T) {
	manager := createTestManager(t, t.TempDir())
	defer manager.Close()

	oldest := time.Now().Add(-time.Hour).Truncate(time.Second)
	newest := time.Now().Truncate(time.Second)
	records := []*DownloadRecord{
		{ID: "a", Kind: "hls", LocalPath: "/a.ts", Size: 300, DownloadedAt: newest},
		{ID: "b", Kind: "progressive", LocalPath: "/b.mp4", Size: 200, DownloadedAt: oldest},
	}
	for _, r := range records {
		if err := manager.AddDownloadRecord(r); err != nil {
			t.Fatalf("Failed to add record: %v", err)
		}
	}

	stats, err := manager.GetDownloadStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats.TotalDownloads != 2 {
		t.Errorf("Expected 2 downloads, got %d", stats.TotalDownloads)
	}
	if stats.TotalSize != 500 {
		t.Errorf("Expected total size 500, got %d", stats.TotalSize)
	}
	if stats.DownloadsByKind["hls"] != 1 || stats.DownloadsByKind["progressive"] != 1 {
		t.Errorf("Unexpected per-kind counts: %v", stats.DownloadsByKind)
	}
	if !stats.OldestDownload.Equal(oldest) || !stats.NewestDownload.Equal(newest) {
		t.Errorf("Unexpected range %v - %v", stats.OldestDownload, stats.NewestDownload)
	}
}

func TestSettingsRoundTripAcrossReopen(t *testing.T) {
	tempDir := t.TempDir()
	manager := createTestManager(t, tempDir)

	err := manager.SaveSettings(map[string]any{
		"volume":       0.4,
		"muted":        true,
		"playbackRate": 1.5,
	})
	if err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}
	manager.Close()

	reopened := createTestManager(t, tempDir)
	defer reopened.Close()

	settings, err := reopened.LoadSettings()
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	var volume float64
	if err := json.Unmarshal(settings["volume"], &volume); err != nil {
		t.Fatalf("Failed to decode volume: %v", err)
	}
	if volume != 0.4 {
		t.Errorf("Expected volume 0.4, got %v", volume)
	}
	if string(settings["muted"]) != "true" {
		t.Errorf("Expected muted true, got %s", settings["muted"])
	}
}

func createTestManager(t *testing.T, dir string) *Manager {
	t.Helper()

	cfg := &config.StorageConfig{Directory: dir}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	manager, err := NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create test manager: %v", err)
	}

	return manager
}

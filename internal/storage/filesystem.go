package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PartialPattern matches the temporary files downloads stream into.
const PartialPattern = ".strata-*.part"

// FileManager handles the files in the download directory.
type FileManager struct {
	dir    string
	logger *slog.Logger
}

// NewFileManager creates a file manager rooted at dir.
func NewFileManager(dir string, logger *slog.Logger) *FileManager {
	return &FileManager{
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the managed directory.
func (f *FileManager) Dir() string {
	return f.dir
}

// Contains reports whether path lies inside the managed directory.
func (f *FileManager) Contains(path string) bool {
	root, err := filepath.Abs(f.dir)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CalculateChecksum computes the SHA-256 checksum of a file.
func (f *FileManager) CalculateChecksum(filename string) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CleanupPartialDownloads removes temporary download files older than maxAge,
// left behind when the process stopped mid-download.
func (f *FileManager) CleanupPartialDownloads(maxAge time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, PartialPattern))
	if err != nil {
		return 0, fmt.Errorf("failed to list partial downloads: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			f.logger.Warn("Failed to remove partial download",
				"path", path,
				"error", err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		f.logger.Info("Cleaned up partial downloads", "count", cleaned)
	}

	return cleaned, nil
}

// FileExists checks if a file exists and is accessible.
func (f *FileManager) FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// RemoveFile removes a file inside the managed directory. A missing file is
// not an error.
func (f *FileManager) RemoveFile(filename string) error {
	if !f.Contains(filename) {
		return fmt.Errorf("refusing to remove %s outside %s", filename, f.dir)
	}

	f.logger.Debug("Removing file", "filename", filename)

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file %s: %w", filename, err)
	}

	return nil
}

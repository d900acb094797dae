package downloader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// sink receives download bytes and publishes them under their final name on
// Commit. Abort discards everything written.
type sink interface {
	Write(p []byte) (int, error)
	Reset() error
	Commit(path string) error
	Abort()
}

// fileSink streams into a hidden temporary file in the output directory and
// renames it into place on Commit.
type fileSink struct {
	f    *os.File
	done bool
}

func newFileSink(dir string) (*fileSink, error) {
	f, err := os.CreateTemp(dir, ".strata-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fileSink) Reset() error {
	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate temporary file: %w", err)
	}
	if _, err := s.f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind temporary file: %w", err)
	}
	return nil
}

func (s *fileSink) Commit(path string) error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := atomic.ReplaceFile(s.f.Name(), path); err != nil {
		os.Remove(s.f.Name())
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	s.done = true
	return nil
}

func (s *fileSink) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.f.Close()
	os.Remove(s.f.Name())
}

// memorySink buffers the whole download and writes it atomically on Commit.
type memorySink struct {
	buf bytes.Buffer
}

func (s *memorySink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *memorySink) Reset() error {
	s.buf.Reset()
	return nil
}

func (s *memorySink) Commit(path string) error {
	if err := atomic.WriteFile(path, &s.buf); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return nil
}

func (s *memorySink) Abort() {
	s.buf.Reset()
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first n that
// does not exist yet.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleFile serves a saved download with HTTP Range support for seeking.
// When the file is gone from disk the client is redirected to the address
// it was downloaded from.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.logger.Debug("File request",
		"download_id", id,
		"range", r.Header.Get("Range"))

	record, err := s.storage.GetDownloadRecord(id)
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "Download not found", err)
		return
	}

	if !s.files.Contains(record.LocalPath) {
		s.logger.Warn("Download record points outside the output directory",
			"download_id", id, "path", record.LocalPath)
		s.writeErrorResponse(w, http.StatusForbidden, "File is not servable", nil)
		return
	}

	if !s.files.FileExists(record.LocalPath) {
		if record.URL == "" {
			s.writeErrorResponse(w, http.StatusGone, "Downloaded file no longer exists", nil)
			return
		}
		s.logger.Warn("Downloaded file missing, redirecting to origin",
			"download_id", id, "path", record.LocalPath)
		http.Redirect(w, r, record.URL, http.StatusFound)
		return
	}

	s.serveMediaFile(w, r, record.LocalPath, record.MimeType)
}

// serveMediaFile serves path through http.ServeContent, which handles single
// and multipart ranges and conditional requests.
func (s *Server) serveMediaFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	file, err := os.Open(path)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to open file", err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get file info", err)
		return
	}

	if contentType == "" {
		contentType = detectContentType(path, file)
	}
	w.Header().Set("Content-Type", contentType)

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), file)
}

// detectContentType guesses the MIME type from the extension, falling back
// to content sniffing. The file position is restored.
func detectContentType(path string, file io.ReadSeeker) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".ts":
		return "video/mp2t"
	case ".ogg", ".ogv":
		return "video/ogg"
	case ".mov":
		return "video/quicktime"
	case ".flv":
		return "video/x-flv"
	}

	buffer := make([]byte, 512)
	n, _ := io.ReadFull(file, buffer)
	file.Seek(0, io.SeekStart)
	if n == 0 {
		return "application/octet-stream"
	}

	return http.DetectContentType(buffer[:n])
}

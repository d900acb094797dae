package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/downloader"
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/storage"
	"github.com/opd-ai/go-strata/internal/subtitle"
)

// APIResponse represents a standard API response structure.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// LoadRequest is the body of POST /api/load.
type LoadRequest struct {
	URL         string                 `json:"url"`
	OriginalURL string                 `json:"original_url,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Label       string                 `json:"label,omitempty"`
	Sources     []state.Source         `json:"sources,omitempty"`
	Subtitles   []subtitle.TrackConfig `json:"subtitles,omitempty"`
}

type positionRequest struct {
	Position float64 `json:"position"`
}

type valueRequest struct {
	Value float64 `json:"value"`
	Muted *bool   `json:"muted,omitempty"`
}

type indexRequest struct {
	Index int `json:"index"`
}

type offsetRequest struct {
	Offset float64 `json:"offset"`
}

// DownloadStats is the body of GET /api/downloads/stats.
type DownloadStats struct {
	*storage.DownloadStats
	TotalSizeHuman string `json:"total_size_human"`
}

// handleHealth returns 200 OK when the server is running and storage is
// accessible.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.HealthCheck(); err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Storage unavailable", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Server is healthy",
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.player.State(),
	})
}

// handleLoad switches the session to a new source.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if !s.decode(w, r, &req) {
		return
	}

	src := state.Source{
		URL:         req.URL,
		OriginalURL: req.OriginalURL,
		Type:        req.Type,
		Label:       req.Label,
	}
	if src.URL == "" && len(req.Sources) > 0 {
		src = req.Sources[0]
	}
	opts := core.LoadOptions{Sources: req.Sources, Subtitles: req.Subtitles}
	if err := s.player.Load(src, opts); err != nil {
		s.writeErrorResponse(w, statusFor(err), "Failed to load source", err)
		return
	}

	st := s.player.State()
	var loaded state.Source
	if st.CurrentSourceIndex >= 0 && st.CurrentSourceIndex < len(st.Sources) {
		loaded = st.Sources[st.CurrentSourceIndex]
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    loaded,
		Message: "Source loaded",
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.player.Play()
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.player.Pause()
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.player.Seek(req.Position)
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]float64{"current_time": s.player.State().CurrentTime},
	})
}

// handleVolume sets the volume and, when given, the muted flag.
func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.player.SetVolume(req.Value)
	if req.Muted != nil {
		s.player.SetMuted(*req.Muted)
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.player.SetPlaybackRate(req.Value); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid playback rate", err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.player.SetQuality(req.Index); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid quality level", err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleAudioTrack(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.player.SetAudioTrack(req.Index); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid audio track", err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleAddSubtitle(w http.ResponseWriter, r *http.Request) {
	var req subtitle.TrackConfig
	if !s.decode(w, r, &req) {
		return
	}
	if req.Src == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Subtitle src is required", nil)
		return
	}
	index := s.player.AddSubtitle(req)
	s.writeJSONResponse(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]int{"index": index},
	})
}

// handleSelectSubtitle activates a track and waits for it to load.
func (s *Server) handleSelectSubtitle(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.player.SelectSubtitle(r.Context(), req.Index); err != nil {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, "Failed to select subtitle track", err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleSubtitleOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.player.SetSubtitleOffset(req.Offset)
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleSubtitleSettings(w http.ResponseWriter, r *http.Request) {
	var req subtitle.CustomizationUpdate
	if !s.decode(w, r, &req) {
		return
	}
	s.player.UpdateSubtitleSettings(req)
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.player.State().SubtitleSettings,
	})
}

func (s *Server) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.player.RunAction(id) {
		s.writeErrorResponse(w, http.StatusNotFound, "Notification has no action", nil)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	s.player.DismissNotification(chi.URLParam(r, "id"))
	s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleActiveDownloads(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.player.ActiveDownloads(),
	})
}

// handleStartDownload saves the current source in the background. Progress
// is reported through notifications on the state stream.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var opts core.DownloadOptions
	if r.ContentLength != 0 && !s.decode(w, r, &opts) {
		return
	}

	id, err := s.player.StartDownload(opts)
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "Failed to start download", err)
		return
	}

	s.logger.Info("Download started", "download_id", id)
	s.writeJSONResponse(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]string{"id": id},
		Message: "Download started",
	})
}

func (s *Server) handleDownloadHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.storage.ListDownloadRecords(r.URL.Query().Get("kind"))
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list downloads", err)
		return
	}
	if records == nil {
		records = []*storage.DownloadRecord{}
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    records,
	})
}

func (s *Server) handleDownloadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetDownloadStats()
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get download stats", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: DownloadStats{
			DownloadStats:  stats,
			TotalSizeHuman: humanize.Bytes(uint64(stats.TotalSize)),
		},
	})
}

// handleDeleteDownload cancels an active download, or removes a finished
// one from history together with its saved file.
func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.player.CancelDownload(id) {
		s.logger.Info("Download cancelled", "download_id", id)
		s.writeJSONResponse(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Download cancelled",
		})
		return
	}

	record, err := s.storage.GetDownloadRecord(id)
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "Download not found", err)
		return
	}

	if err := s.files.RemoveFile(record.LocalPath); err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to remove downloaded file", err)
		return
	}
	if err := s.storage.RemoveDownloadRecord(id); err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to remove download record", err)
		return
	}

	s.logger.Info("Download removed", "download_id", id, "path", record.LocalPath)
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Download removed",
	})
}

// decode reads a JSON body into v, writing a 400 response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps session and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoSource):
		return http.StatusConflict
	case errors.Is(err, downloader.ErrUnsupportedSource):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrDestroyed):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// writeJSONResponse writes a JSON response with the specified status code.
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response with the specified status code and message.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	s.logger.Error("HTTP error response",
		"status", statusCode,
		"message", message,
		"error", err)

	errorMsg := message
	if err != nil {
		errorMsg = err.Error()
	}

	s.writeJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   errorMsg,
		Message: message,
	})
}

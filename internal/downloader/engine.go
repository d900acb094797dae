// Package downloader saves media sources to disk. Progressive sources are
// streamed in chunks with range-based resume; HLS sources are reassembled
// from their segments, fetched one after another.
//
// Every download registers a cancel function under its ID. Cancellation is
// checked at each chunk or segment boundary and always takes precedence over
// retries and network failures: a cancelled download clears its progress
// notification and never raises an error notification.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opd-ai/go-strata/internal/fetch"
	"github.com/opd-ai/go-strata/internal/metrics"
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/storage"
	"github.com/opd-ai/go-strata/pkg/config"
)

var (
	// ErrCancelled is the cause attached to a download cancelled by Cancel.
	ErrCancelled = errors.New("download cancelled")
	// ErrEncrypted rejects HLS playlists with segment encryption.
	ErrEncrypted = errors.New("encrypted HLS streams are not supported")
	// ErrUnsupportedSource rejects sources with no fetchable address.
	ErrUnsupportedSource = errors.New("source cannot be downloaded")
	// ErrNoSegments rejects media playlists without segments.
	ErrNoSegments = errors.New("playlist contains no segments")
	// ErrDuplicateID rejects a request whose ID is already active.
	ErrDuplicateID = errors.New("download id already active")
)

const (
	kindProgressive = "progressive"
	kindHLS         = "hls"

	chunkSize            = 32 * 1024
	transportStreamSync  = 0x47
	resultNoticeDuration = 5 * time.Second
)

// Notifier shows and removes user-visible notifications.
type Notifier interface {
	Notify(n state.Notification) string
	Dismiss(id string)
}

// Opener hands a URL to the host so the user can fetch it directly. It is
// the fallback when a progressive download fails.
type Opener interface {
	Open(url string)
}

// History records finished downloads.
type History interface {
	AddDownloadRecord(record *storage.DownloadRecord) error
}

// Request describes one download.
type Request struct {
	// ID is generated when empty.
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
	// OriginalURL is preferred over URL when set.
	OriginalURL string `json:"original_url,omitempty"`
	// Filename is derived from the URL when empty.
	Filename string `json:"filename,omitempty"`
	// Format is the requested output extension for HLS downloads. Defaults to mp4.
	Format string `json:"format,omitempty"`
}

// Source returns the address to fetch.
func (r Request) Source() string {
	if r.OriginalURL != "" {
		return r.OriginalURL
	}
	return r.URL
}

// Result describes a completed download.
type Result struct {
	ID       string        `json:"id"`
	Path     string        `json:"path"`
	Filename string        `json:"filename"`
	MimeType string        `json:"mime_type"`
	Bytes    int64         `json:"bytes"`
	Segments int           `json:"segments,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Engine runs downloads.
type Engine struct {
	cfg      *config.DownloadConfig
	client   *fetch.Client
	notifier Notifier
	opener   Opener
	linker   func(res *Result) string
	history  History
	limiter  *rate.Limiter
	registry *registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine. client performs every request with its retry policy.
func New(cfg *config.DownloadConfig, client *fetch.Client, notifier Notifier, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		client:   client,
		notifier: notifier,
		registry: newRegistry(),
		logger:   logger,
		now:      time.Now,
	}

	if cfg.RateLimitMbps > 0 {
		// Convert Mbps to bytes per second with a one second burst.
		bytesPerSecond := rate.Limit(cfg.RateLimitMbps * 1024 * 1024 / 8)
		e.limiter = rate.NewLimiter(bytesPerSecond, max(int(bytesPerSecond), chunkSize))
	}

	return e
}

// SetOpener sets the fallback used when a progressive download fails.
func (e *Engine) SetOpener(o Opener) {
	e.opener = o
}

// SetLinker sets how a saved file is addressed when the user asks to save
// it. The default is a file:// URL of the local path.
func (e *Engine) SetLinker(fn func(res *Result) string) {
	e.linker = fn
}

// SetHistory sets where completed downloads are recorded.
func (e *Engine) SetHistory(h History) {
	e.history = h
}

// NewID returns a fresh download ID.
func NewID() string {
	return uuid.NewString()
}

// Cancel aborts the download with the given ID and removes it from the
// active set. It reports whether the ID was active.
func (e *Engine) Cancel(id string) bool {
	if !e.registry.cancel(id, ErrCancelled) {
		return false
	}
	e.logger.Info("Download cancel requested", "id", id)
	return true
}

// Active returns the IDs of downloads in progress.
func (e *Engine) Active() []string {
	return e.registry.ids()
}

// IsUnsupported reports whether src has no address that can be fetched.
func IsUnsupported(src string) bool {
	lower := strings.ToLower(strings.TrimSpace(src))
	if lower == "" {
		return true
	}
	for _, prefix := range []string{"blob:", "data:", "mediastream:", "magnet:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// begin validates req and registers it. The returned context is cancelled
// by Cancel or when the download finishes.
func (e *Engine) begin(ctx context.Context, req *Request) (context.Context, func(), error) {
	if IsUnsupported(req.Source()) {
		e.notifier.Notify(state.Notification{
			Message:  "This source cannot be downloaded",
			Type:     state.NotifyWarning,
			Duration: resultNoticeDuration,
		})
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, req.Source())
	}

	if req.ID == "" {
		req.ID = NewID()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	if !e.registry.add(req.ID, cancel) {
		cancel(nil)
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}

	done := func() {
		e.registry.remove(req.ID)
		cancel(nil)
	}
	return ctx, done, nil
}

// finish reports the outcome of a download. Cancellation is checked first so
// that it wins over whatever error the interrupted request produced.
func (e *Engine) finish(ctx context.Context, kind string, req Request, res *Result, err error) (*Result, error) {
	noteID := NotificationID(req.ID)

	if ctx.Err() != nil || errors.Is(err, ErrCancelled) || errors.Is(err, fetch.ErrCancelled) {
		e.notifier.Dismiss(noteID)
		metrics.ObserveDownload(kind, "cancelled", 0)
		e.logger.Info("Download cancelled", "id", req.ID, "url", req.Source())
		return nil, fmt.Errorf("%w: %s", ErrCancelled, req.ID)
	}

	if err != nil {
		metrics.ObserveDownload(kind, "failed", 0)
		e.logger.Error("Download failed", "id", req.ID, "url", req.Source(), "kind", kind, "error", err)
		e.notifier.Notify(state.Notification{
			ID:      noteID,
			Message: fmt.Sprintf("Download failed: %v", err),
			Type:    state.NotifyError,
		})
		return nil, err
	}

	metrics.ObserveDownload(kind, "completed", res.Bytes)
	e.logger.Info("Download completed",
		"id", res.ID,
		"path", res.Path,
		"bytes", res.Bytes,
		"segments", res.Segments,
		"duration", res.Duration)

	e.notifier.Notify(state.Notification{
		ID:       noteID,
		Message:  fmt.Sprintf("Saved %s (%s)", res.Filename, humanize.Bytes(uint64(res.Bytes))),
		Type:     state.NotifySuccess,
		Duration: resultNoticeDuration,
		Action:   &state.Action{Label: "Save", Name: "save-download", Run: func() { e.save(res) }},
	})

	if e.history != nil {
		record := &storage.DownloadRecord{
			ID:           res.ID,
			URL:          req.Source(),
			Kind:         kind,
			LocalPath:    res.Path,
			Filename:     res.Filename,
			MimeType:     res.MimeType,
			Size:         res.Bytes,
			Segments:     res.Segments,
			DownloadedAt: e.now(),
			Duration:     res.Duration,
		}
		if err := e.history.AddDownloadRecord(record); err != nil {
			e.logger.Error("Failed to store download record", "id", res.ID, "error", err)
		}
	}

	return res, nil
}

// save hands the saved file to the host.
func (e *Engine) save(res *Result) {
	if e.opener == nil {
		e.logger.Warn("No opener configured for saved download", "id", res.ID, "path", res.Path)
		return
	}
	link := fileLink(res)
	if e.linker != nil {
		link = e.linker(res)
	}
	e.logger.Debug("Opening saved download", "id", res.ID, "link", link)
	e.opener.Open(link)
}

func fileLink(res *Result) string {
	p, err := filepath.Abs(res.Path)
	if err != nil {
		p = res.Path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

func (e *Engine) newSink() (sink, error) {
	if err := os.MkdirAll(e.cfg.OutputDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if e.cfg.StreamToDisk {
		return newFileSink(e.cfg.OutputDirectory)
	}
	return &memorySink{}, nil
}

func (e *Engine) cancelAction(id string) *state.Action {
	return &state.Action{
		Label: "Cancel",
		Name:  "cancel-download",
		Run:   func() { e.Cancel(id) },
	}
}

// NotificationIDPrefix starts the ID of every download notification.
const NotificationIDPrefix = "download-"

// NotificationID returns the ID of the notification tracking download id.
func NotificationID(id string) string {
	return NotificationIDPrefix + id
}

// limitReader applies the engine's bandwidth cap, if any.
func (e *Engine) limitReader(ctx context.Context, r io.Reader) io.Reader {
	if e.limiter == nil {
		return r
	}
	return &rateLimitedReader{reader: r, limiter: e.limiter, ctx: ctx}
}

// rateLimitedReader implements io.Reader with rate limiting.
type rateLimitedReader struct {
	reader  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(buf []byte) (int, error) {
	if burst := r.limiter.Burst(); len(buf) > burst {
		buf = buf[:burst]
	}
	n, err := r.reader.Read(buf)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// filenameFor picks the saved file name: the requested one, else the last
// path element of src, else "download". defaultExt is appended when the
// name has no extension.
func filenameFor(requested, src, defaultExt string) string {
	name := requested
	if name == "" {
		name = path.Base(stripQuery(src))
		if name == "." || name == "/" {
			name = ""
		}
	}
	name = unsafeFilenameChars.ReplaceAllString(filepath.Base(name), "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		name = "download"
	}
	if filepath.Ext(name) == "" && defaultExt != "" {
		name += "." + defaultExt
	}
	return name
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func withExtension(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + ext
}

var mimeTypes = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"m4a":  "audio/mp4",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"ogg":  "video/ogg",
	"ogv":  "video/ogg",
	"ts":   "video/mp2t",
	"mp3":  "audio/mpeg",
	"flv":  "video/x-flv",
}

func mimeTypeFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// extensionFor maps a response Content-Type to a file extension.
func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for ext, mt := range mimeTypes {
		if mt == ct && ext != "m4v" && ext != "ogv" {
			return ext
		}
	}
	return ""
}

// isContainerFormat reports whether format names a container that a raw
// transport stream must not be written into.
func isContainerFormat(format string) bool {
	switch strings.ToLower(format) {
	case "mp4", "m4v", "mov", "mkv", "webm":
		return true
	}
	return false
}

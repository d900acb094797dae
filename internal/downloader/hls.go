package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/opd-ai/go-strata/internal/fetch"
	"github.com/opd-ai/go-strata/internal/metrics"
	"github.com/opd-ai/go-strata/internal/state"
)

// DownloadHLS saves an HLS stream by concatenating its segments. A master
// playlist is resolved to its highest-bandwidth variant first. Encrypted
// playlists are rejected without retry.
func (e *Engine) DownloadHLS(ctx context.Context, req Request) (*Result, error) {
	ctx, done, err := e.begin(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer done()

	e.logger.Info("Starting download", "id", req.ID, "url", req.Source(), "kind", kindHLS)

	res, err := e.hls(ctx, req)
	return e.finish(ctx, kindHLS, req, res, err)
}

func (e *Engine) hls(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	format := strings.ToLower(strings.TrimPrefix(req.Format, "."))
	if format == "" {
		format = "mp4"
	}
	name := withExtension(filenameFor(req.Filename, strings.TrimSuffix(stripQuery(req.Source()), ".m3u8"), format), format)

	prog := e.newProgress(req.ID, name, true)

	playlist, err := e.resolvePlaylist(ctx, req.Source())
	if err != nil {
		return nil, err
	}

	urls := playlist.Segments
	if playlist.InitSegment != "" {
		urls = append([]string{playlist.InitSegment}, urls...)
	}
	e.logger.Debug("Resolved media playlist",
		"id", req.ID,
		"segments", len(playlist.Segments),
		"init_segment", playlist.InitSegment != "",
		"duration", playlist.Duration)

	out, err := e.newSink()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			out.Abort()
		}
	}()

	var written int64
	for i, segmentURL := range urls {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		result := e.client.Get(ctx, segmentURL)
		if !result.OK() {
			if result.Outcome == fetch.Cancelled {
				return nil, context.Cause(ctx)
			}
			return nil, fmt.Errorf("failed to fetch segment %d of %d: %w", i+1, len(urls), result.Err)
		}

		if i == 0 && len(result.Body) > 0 && result.Body[0] == transportStreamSync && isContainerFormat(format) {
			format = "ts"
			name = withExtension(name, format)
			prog.rename(name)
			e.logger.Info("Stream is MPEG-TS, saving as .ts", "id", req.ID, "requested_format", req.Format)
			e.notifier.Notify(state.Notification{
				Message:  fmt.Sprintf("This stream is MPEG-TS; saving as %s", name),
				Type:     state.NotifyInfo,
				Duration: resultNoticeDuration,
			})
		}

		n, err := io.Copy(out, e.limitReader(ctx, bytes.NewReader(result.Body)))
		written += n
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, fmt.Errorf("failed to write segment %d: %w", i+1, err)
		}
		metrics.HLSSegmentsTotal.Inc()

		prog.update(int64(i+1), int64(len(urls)), i == len(urls)-1)
	}

	finalPath := uniquePath(e.cfg.OutputDirectory, name)
	if err := out.Commit(finalPath); err != nil {
		return nil, err
	}
	committed = true

	return &Result{
		ID:       req.ID,
		Path:     finalPath,
		Filename: name,
		MimeType: mimeTypeFor(name),
		Bytes:    written,
		Segments: len(urls),
		Duration: e.now().Sub(start),
	}, nil
}

// resolvePlaylist fetches src and, for a master playlist, the variant with
// the highest bandwidth. The returned playlist has at least one segment and
// no encryption.
func (e *Engine) resolvePlaylist(ctx context.Context, src string) (*Playlist, error) {
	playlist, err := e.fetchPlaylist(ctx, src)
	if err != nil {
		return nil, err
	}

	if playlist.Master {
		variant, ok := playlist.BestVariant()
		if !ok {
			return nil, fmt.Errorf("%w: master playlist lists no variants", ErrNoSegments)
		}
		e.logger.Debug("Selected HLS variant",
			"uri", variant.URI,
			"bandwidth", variant.Bandwidth,
			"resolution", variant.Resolution)

		playlist, err = e.fetchPlaylist(ctx, variant.URI)
		if err != nil {
			return nil, err
		}
	}

	if playlist.Encrypted() {
		return nil, fmt.Errorf("%w (method %s)", ErrEncrypted, playlist.EncryptionMethod)
	}
	if len(playlist.Segments) == 0 {
		return nil, ErrNoSegments
	}
	return playlist, nil
}

func (e *Engine) fetchPlaylist(ctx context.Context, src string) (*Playlist, error) {
	result := e.client.Get(ctx, src)
	if !result.OK() {
		if result.Outcome == fetch.Cancelled {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("failed to fetch playlist: %w", result.Err)
	}
	return ParsePlaylist(string(result.Body), src)
}

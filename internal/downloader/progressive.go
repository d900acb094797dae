package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/go-strata/internal/fetch"
)

// Download saves a single-file source. When the body is interrupted the
// transfer resumes from the bytes already written if the server honours
// range requests, and restarts otherwise. On failure other than
// cancellation the source is handed to the Opener.
func (e *Engine) Download(ctx context.Context, req Request) (*Result, error) {
	ctx, done, err := e.begin(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer done()

	e.logger.Info("Starting download", "id", req.ID, "url", req.Source(), "kind", kindProgressive)

	res, err := e.progressive(ctx, req)
	res, err = e.finish(ctx, kindProgressive, req, res, err)
	if err != nil && !errors.Is(err, ErrCancelled) && e.opener != nil {
		e.logger.Info("Opening source directly", "id", req.ID, "url", req.Source())
		e.opener.Open(req.Source())
	}
	return res, err
}

func (e *Engine) progressive(ctx context.Context, req Request) (*Result, error) {
	src := req.Source()
	start := e.now()
	name := filenameFor(req.Filename, src, "")
	prog := e.newProgress(req.ID, name, false)

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

	var loaded int64
	total := int64(-1)
	contentType := ""

	for attempt := 1; ; attempt++ {
		stream, result := e.client.Open(ctx, src, loaded)
		if !result.OK() {
			return nil, result.Err
		}

		if loaded > 0 && stream.Offset == 0 {
			e.logger.Debug("Server ignored range request, restarting", "id", req.ID, "offset", loaded)
			if err := out.Reset(); err != nil {
				stream.Body.Close()
				return nil, err
			}
			loaded = 0
		}
		if stream.Total >= 0 {
			total = stream.Total
		}
		if contentType == "" {
			contentType = stream.ContentType
		}

		err := e.copyChunks(ctx, out, stream.Body, &loaded, total, prog)
		stream.Body.Close()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		if errors.Is(err, errSinkWrite) || attempt >= e.cfg.RetryAttempts {
			return nil, fmt.Errorf("failed to download %s: %w", src, err)
		}

		delay := e.client.Policy().Backoff(attempt)
		e.logger.Warn("Download interrupted, retrying",
			"id", req.ID,
			"offset", loaded,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if err := fetch.Sleep(ctx, delay); err != nil {
			return nil, context.Cause(ctx)
		}
	}

	if total > 0 && loaded != total {
		return nil, fmt.Errorf("failed to download %s: received %d of %d bytes", src, loaded, total)
	}
	prog.update(loaded, total, true)

	if req.Filename == "" {
		ext := extensionFor(contentType)
		if ext == "" {
			ext = "mp4"
		}
		name = filenameFor("", src, ext)
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
		Bytes:    loaded,
		Duration: e.now().Sub(start),
	}, nil
}

var errSinkWrite = errors.New("failed to write download data")

// copyChunks streams body into out, checking for cancellation between chunks.
func (e *Engine) copyChunks(ctx context.Context, out sink, body io.Reader, loaded *int64, total int64, prog *progress) error {
	reader := e.limitReader(ctx, body)
	buf := make([]byte, chunkSize)

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: %v", errSinkWrite, werr)
			}
			*loaded += int64(n)
			prog.update(*loaded, total, false)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

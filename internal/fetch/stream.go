package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/go-strata/internal/metrics"
)

// Stream is an open response body. The per-attempt timeout only covers the
// wait for response headers; reading the body is bounded by the caller's
// context alone.
type Stream struct {
	Body       io.ReadCloser
	StatusCode int
	// Offset is the byte position the body starts at. It is zero when the
	// server ignored a range request and sent the whole resource.
	Offset int64
	// Total is the full resource size, or -1 when unknown.
	Total        int64
	AcceptRanges bool
	ContentType  string
}

// Open issues a GET for rawURL starting at offset, retrying until response
// headers arrive or the policy is exhausted. The caller must close the
// returned Stream's Body on success.
func (c *Client) Open(ctx context.Context, rawURL string, offset int64) (*Stream, Result) {
	var last Result
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		stream, result := c.openOnce(ctx, rawURL, offset)
		result.Attempts = attempt
		metrics.IncFetchAttempt(result.Outcome.String())

		if result.Outcome == Success {
			return stream, result
		}
		last = result
		if result.Outcome == Cancelled {
			return nil, result
		}
		if !isRetryable(result.Err, result.StatusCode) || attempt == c.policy.Attempts {
			return nil, result
		}

		delay := c.policy.Backoff(attempt)
		c.logger.Debug("Retrying stream open",
			"url", rawURL,
			"attempt", attempt,
			"offset", offset,
			"outcome", result.Outcome.String(),
			"delay", delay)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, cancelled(rawURL, attempt)
		}
	}
	return nil, last
}

func (c *Client) openOnce(ctx context.Context, rawURL string, offset int64) (*Stream, Result) {
	if ctx.Err() != nil {
		return nil, cancelled(rawURL, 0)
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel(nil)
		return nil, Result{
			Outcome: NetworkError,
			Err:     &permanentError{fmt.Errorf("failed to create request: %w", err)},
		}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	var headerTimer *time.Timer
	if c.policy.Timeout > 0 {
		headerTimer = time.AfterFunc(c.policy.Timeout, func() { cancel(ErrTimeout) })
	}

	resp, err := c.http.Do(req)
	if headerTimer != nil && !headerTimer.Stop() {
		// The timer fired; the attempt context is already cancelled.
		if err == nil {
			resp.Body.Close()
		}
		cancel(nil)
		if ctx.Err() != nil {
			return nil, cancelled(rawURL, 0)
		}
		return nil, Result{Outcome: Timeout, Err: fmt.Errorf("%w: %s", ErrTimeout, rawURL)}
	}
	if err != nil {
		result := classify(ctx, attemptCtx, rawURL, err)
		cancel(nil)
		return nil, result
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		cancel(nil)
		return nil, Result{
			Outcome:    NetworkError,
			StatusCode: resp.StatusCode,
			Err:        &StatusError{URL: rawURL, StatusCode: resp.StatusCode},
		}
	}

	stream := &Stream{
		Body:         &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }},
		StatusCode:   resp.StatusCode,
		Total:        -1,
		AcceptRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		ContentType:  resp.Header.Get("Content-Type"),
	}

	if resp.StatusCode == http.StatusPartialContent {
		stream.Offset = offset
		stream.AcceptRanges = true
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			stream.Total = total
		} else if resp.ContentLength >= 0 {
			stream.Total = offset + resp.ContentLength
		}
	} else if resp.ContentLength >= 0 {
		stream.Total = resp.ContentLength
	}

	return stream, Result{Outcome: Success, StatusCode: resp.StatusCode}
}

// parseContentRangeTotal extracts the complete length from a header such as
// "bytes 100-199/1000".
func parseContentRangeTotal(header string) (int64, bool) {
	slash := strings.LastIndexByte(header, '/')
	if slash < 0 || slash == len(header)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[slash+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

type cancelOnClose struct {
	io.ReadCloser
	cancel func()
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}

// Package fetch performs HTTP GETs with bounded, capped-exponential retry and
// reports every attempt as a tagged outcome, so callers can tell a user
// cancellation from a timeout or a network failure without inspecting error
// strings.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/opd-ai/go-strata/internal/metrics"
)

// Outcome tags the result of a fetch.
type Outcome int

const (
	Success Outcome = iota
	Timeout
	Cancelled
	NetworkError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case NetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

var (
	// ErrTimeout marks an attempt that exceeded its per-attempt timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled marks a fetch abandoned because its context was cancelled.
	ErrCancelled = errors.New("request cancelled")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// permanentError wraps failures that no amount of retrying will fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Policy bounds the retry loop.
type Policy struct {
	Attempts  int
	Timeout   time.Duration // per attempt; zero disables
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Backoff returns the delay to wait after the given failed attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Result is the tagged outcome of Get.
type Result struct {
	Outcome    Outcome
	Body       []byte
	StatusCode int
	Attempts   int
	// Err is nil on Success and wraps ErrTimeout, ErrCancelled, a
	// *StatusError or the transport error otherwise.
	Err error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool {
	return r.Outcome == Success
}

// Client issues retried GET requests.
type Client struct {
	http   *http.Client
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, policy Policy, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Client{
		http:   httpClient,
		policy: policy,
		logger: logger,
		sleep:  Sleep,
	}
}

// WithPolicy returns a copy of c that uses p.
func (c *Client) WithPolicy(p Policy) *Client {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	clone := *c
	clone.policy = p
	return &clone
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Get fetches rawURL into memory, retrying transient failures. Cancellation
// of ctx ends the loop immediately with a Cancelled outcome.
func (c *Client) Get(ctx context.Context, rawURL string) Result {
	var last Result
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		last = c.getOnce(ctx, rawURL)
		last.Attempts = attempt
		metrics.IncFetchAttempt(last.Outcome.String())

		if last.Outcome == Success || last.Outcome == Cancelled {
			return last
		}
		if !isRetryable(last.Err, last.StatusCode) || attempt == c.policy.Attempts {
			return last
		}

		delay := c.policy.Backoff(attempt)
		c.logger.Debug("Retrying fetch",
			"url", rawURL,
			"attempt", attempt,
			"outcome", last.Outcome.String(),
			"delay", delay,
			"error", last.Err)

		if err := c.sleep(ctx, delay); err != nil {
			return cancelled(rawURL, attempt)
		}
	}
	return last
}

func (c *Client) getOnce(ctx context.Context, rawURL string) Result {
	if ctx.Err() != nil {
		return cancelled(rawURL, 0)
	}

	attemptCtx, cancel := c.attemptContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{
			Outcome: NetworkError,
			Err:     &permanentError{fmt.Errorf("failed to create request: %w", err)},
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(ctx, attemptCtx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return Result{
			Outcome:    NetworkError,
			StatusCode: resp.StatusCode,
			Err:        &StatusError{URL: rawURL, StatusCode: resp.StatusCode},
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result := classify(ctx, attemptCtx, rawURL, err)
		result.StatusCode = resp.StatusCode
		return result
	}

	return Result{Outcome: Success, Body: body, StatusCode: resp.StatusCode}
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.Timeout > 0 {
		return context.WithTimeoutCause(ctx, c.policy.Timeout, ErrTimeout)
	}
	return context.WithCancel(ctx)
}

// classify maps a transport error to an outcome. Parent cancellation wins
// over everything else.
func classify(parent, attempt context.Context, rawURL string, err error) Result {
	if parent.Err() != nil {
		return cancelled(rawURL, 0)
	}
	if errors.Is(context.Cause(attempt), ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Result{Outcome: Timeout, Err: fmt.Errorf("%w: %s", ErrTimeout, rawURL)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Result{Outcome: Timeout, Err: fmt.Errorf("%w: %s", ErrTimeout, rawURL)}
	}
	return Result{Outcome: NetworkError, Err: fmt.Errorf("failed to fetch %s: %w", rawURL, err)}
}

func cancelled(rawURL string, attempts int) Result {
	return Result{
		Outcome:  Cancelled,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %s", ErrCancelled, rawURL),
	}
}

// isRetryable classifies a failed attempt. Client errors other than 408 and
// 429 are permanent; server errors and transport failures are transient.
func isRetryable(err error, httpStatus int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	switch {
	case httpStatus == 0:
		return true
	case httpStatus == http.StatusRequestTimeout, httpStatus == http.StatusTooManyRequests:
		return true
	case httpStatus >= 400 && httpStatus < 500:
		return false
	case httpStatus >= 500:
		return true
	default:
		return false
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

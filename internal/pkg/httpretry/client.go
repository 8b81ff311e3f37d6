// Package httpretry posts JSON to third party APIs with a bounded number of
// attempts, honoring Retry-After hints on 429 and 5xx responses.
package httpretry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultTimeout     = 10 * time.Second
	maxBodyBytes       = 1 << 20

	// DefaultMaxInlineDelay bounds a Retry-After pause inside one call.
	DefaultMaxInlineDelay = 5 * time.Second
)

// Request is a single outbound POST.
type Request struct {
	URL    string
	Body   []byte
	Header map[string]string
}

// RequestBuilder produces the request for one attempt. It is called again
// on every attempt.
type RequestBuilder func() (Request, error)

// Response is the transport independent view of an HTTP response.
type Response struct {
	Code    int
	Headers HeaderSource
	Body    []byte
}

// Poster performs one POST. Errors are transport level failures only.
type Poster interface {
	Post(ctx context.Context, req Request) (*Response, error)
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// ContextSleeper waits for d or until ctx is done.
var ContextSleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// Result describes the outcome of PostWithRetry. After a final transport
// failure Code is 0, Response is nil and Err holds the transport error.
type Result struct {
	Success    bool
	Code       int
	Body       []byte
	Response   *Response
	Attempts   int
	Err        error
	RetryAfter time.Duration
}

// Client retries POST requests. A Retry-After hint longer than
// MaxInlineDelay ends the call so the caller can defer the retry.
type Client struct {
	Poster         Poster
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxInlineDelay time.Duration
	Sleeper        Sleeper
	Now            func() time.Time
}

// NewClient returns a Client posting through net/http with the given
// per call timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Poster:         NewHTTPPoster(&http.Client{Timeout: timeout}),
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxInlineDelay: DefaultMaxInlineDelay,
		Sleeper:        ContextSleeper,
		Now:            time.Now,
	}
}

// PostWithRetry runs build and posts the request up to MaxAttempts times.
// Transport errors pause BaseDelay*2^(n-1). 429 and 5xx pause for the
// Retry-After hint when present, otherwise like transport errors. A hint
// above MaxInlineDelay returns at once with RetryAfter set. Any other
// status ends the loop.
func (c *Client) PostWithRetry(ctx context.Context, build RequestBuilder) Result {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	maxInline := c.MaxInlineDelay
	if maxInline <= 0 {
		maxInline = DefaultMaxInlineDelay
	}

	var result Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		req, err := build()
		if err != nil {
			return Result{Attempts: attempt, Err: fmt.Errorf("build request: %w", err)}
		}

		resp, err := c.Poster.Post(ctx, req)
		if err != nil {
			result = Result{Attempts: attempt, Err: err}
			if attempt == maxAttempts {
				break
			}
			log.Debugf("[HTTPRetry] Transport error on attempt %d/%d: %v", attempt, maxAttempts, err)
			if serr := c.pause(ctx, c.backoff(attempt)); serr != nil {
				result.Err = serr
				return result
			}
			continue
		}

		result = Result{
			Code:     resp.Code,
			Body:     resp.Body,
			Response: resp,
			Attempts: attempt,
		}

		switch {
		case resp.Code >= 200 && resp.Code < 300:
			result.Success = true
			return result
		case resp.Code == http.StatusTooManyRequests || resp.Code >= 500:
			result.RetryAfter = RetryAfterFrom(resp.Headers, now())
			if attempt == maxAttempts {
				return result
			}
			if result.RetryAfter > maxInline {
				log.Debugf("[HTTPRetry] HTTP %d asks to wait %s, leaving the retry to the caller", resp.Code, result.RetryAfter)
				return result
			}
			delay := result.RetryAfter
			if delay <= 0 {
				delay = c.backoff(attempt)
			}
			log.Debugf("[HTTPRetry] HTTP %d on attempt %d/%d, retrying in %s", resp.Code, attempt, maxAttempts, delay)
			if serr := c.pause(ctx, delay); serr != nil {
				result.Err = serr
				return result
			}
		default:
			return result
		}
	}
	return result
}

func (c *Client) backoff(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << (attempt - 1)
}

func (c *Client) pause(ctx context.Context, d time.Duration) error {
	sleeper := c.Sleeper
	if sleeper == nil {
		sleeper = ContextSleeper
	}
	return sleeper.Sleep(ctx, d)
}

// HTTPPoster posts JSON through an *http.Client.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster wraps client.
func NewHTTPPoster(client *http.Client) *HTTPPoster {
	return &HTTPPoster{client: client}
}

func (p *HTTPPoster) Post(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Code:    resp.StatusCode,
		Headers: HeadersFrom(resp.Header),
		Body:    body,
	}, nil
}

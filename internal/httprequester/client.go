// Package httprequester implements the HttpRequester component: a JSON
// request/response client with header composition, used by the request
// instance's ChannelRegistry.PublishBatch and by AuthManager's
// issueToken/requestToken flows. Grounded on the teacher's
// internal/rest/client.go doRequest retry loop and rate limiter,
// generalized from Binance's query-string-signed, fixed-endpoint
// surface to QPub's generic verb/path/body HTTP surface with
// AuthManager-supplied headers.
package httprequester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/errs"
)

// HeaderSource supplies the per-request Authorization headers. Callers
// pass auth.Manager.GetAuthHeaders; Client never imports internal/auth
// directly, avoiding an import cycle (auth.Manager's HTTPPoster is
// satisfied by *Client).
type HeaderSource func(ctx context.Context) (map[string]string, error)

// Config configures a Client at construction.
type Config struct {
	BaseURL     string
	Headers     HeaderSource
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   float64 // requests per second, 0 disables limiting
	RateBurst   int
	Logger      zerolog.Logger
}

// Client is the JSON request/response client backing the request
// instance's publish path and the streaming instance's issueToken/
// requestToken auth flows.
type Client struct {
	baseURL     string
	headers     HeaderSource
	httpClient  *http.Client
	rateLimiter *RateLimiter
	maxRetries  int
	logger      zerolog.Logger
}

// New constructs a Client. A zero Config.RateLimit means no rate
// limiting; otherwise New applies the teacher's default of a modest
// token bucket per-instance.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 5
		}
		c.rateLimiter = NewRateLimiter(cfg.RateLimit, burst)
	}
	return c
}

// Get issues a GET request with no body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// Post issues a POST request with a JSON-encoded body, attaching
// AuthManager-composed headers.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// PostWithHeaders issues a POST request like Post, but merges extra on
// top of AuthManager's own header composition. AuthManager uses this for
// its issueToken/requestToken calls so options.WithAuthRequestAugment can
// add caller-supplied headers to the auth round trip itself without those
// values leaking onto every other outbound request.
func (c *Client) PostWithHeaders(ctx context.Context, path string, body interface{}, extra map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, extra)
}

// Put issues a PUT request with a JSON-encoded body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// Delete issues a DELETE request with an optional JSON-encoded body.
func (c *Client) Delete(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, body, nil)
}

// Patch issues a PATCH request with a JSON-encoded body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, extraHeaders map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.Wrap("httprequester.request", errs.KindInternalParseError, "failed to encode request body", err)
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		respBody, status, err := c.attempt(ctx, method, path, payload, extraHeaders)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		retryable := isNetworkError(err) || isRetryableStatus(status)
		if attempt >= c.maxRetries || !retryable {
			return nil, err
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("attempt", attempt).Err(err).Msg("httprequester: retrying")
		c.waitForRetry(attempt)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, extraHeaders map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, errs.Wrap("httprequester.request", errs.KindInternalParseError, "failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.headers != nil {
		headers, err := c.headers(ctx)
		if err != nil {
			return nil, 0, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errs.Wrap("httprequester.request", errs.KindNotConnected, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, errs.Wrap("httprequester.response", errs.KindInternalParseError, "failed to read response", err)
		}
		return respBody, resp.StatusCode, nil
	}

	return nil, resp.StatusCode, parseAPIError(resp)
}

// waitForRetry implements exponential backoff with jitter, carried over
// from the teacher's own doRequest retry loop.
func (c *Client) waitForRetry(attempt int) {
	baseDelay := 100 * time.Millisecond
	maxDelay := 2 * time.Second

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	jitterFactor := float64(time.Now().UnixNano()%100) / 100.0
	jitter := time.Duration(float64(delay) * 0.2 * (2*jitterFactor - 1))
	delay += jitter

	time.Sleep(delay)
}

// String renders a human-readable summary of the client's configuration
// for debug logging.
func (c *Client) String() string {
	return fmt.Sprintf("httprequester.Client{baseURL=%s, maxRetries=%d}", c.baseURL, c.maxRetries)
}

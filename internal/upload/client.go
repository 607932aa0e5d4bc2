// ABOUTME: Authenticated HTTP client that uploads aggregated batches to the remote service.
// ABOUTME: Retries transient failures and tags each body with a content-derived idempotency key.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/observability"
)

// ErrTokenExpired is returned without any request when the bearer JWT has expired.
var ErrTokenExpired = errors.New("upload token expired")

// idempotencyNamespace scopes content-derived request keys.
var idempotencyNamespace = uuid.MustParse("6f1c9a52-3f2e-4d8b-9a47-0c1e5b7d2a90")

// Uploader sends the batches of one metric.
type Uploader interface {
	Upload(ctx context.Context, batches []models.AggregatedBatch, metric models.MetricType) error
}

// HTTPError is an unsuccessful response that was not, or is no longer, retried.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a later attempt may succeed (429 and 5xx).
func (e *HTTPError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Payload is the request body for one metric upload.
type Payload struct {
	Metric      models.MetricType        `json:"metric"`
	Aggregation models.Aggregation       `json:"aggregation"`
	Unit        string                   `json:"unit"`
	Batches     []models.AggregatedBatch `json:"batches"`
}

// Client uploads batches over HTTP.
type Client struct {
	baseURL    string
	token      string
	source     string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger for retry messages.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an upload client for one data source.
func NewClient(baseURL, token, source string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		source:     source,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload posts all batches of metric in one request. Identical content always
// carries the same Idempotency-Key, so retries are safe.
func (c *Client) Upload(ctx context.Context, batches []models.AggregatedBatch, metric models.MetricType) error {
	if len(batches) == 0 {
		return nil
	}
	if err := c.checkToken(); err != nil {
		return err
	}
	body, err := json.Marshal(Payload{
		Metric:      metric,
		Aggregation: metric.Aggregation(),
		Unit:        metric.Unit(),
		Batches:     batches,
	})
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}
	path := fmt.Sprintf("/v1/sources/%s/metrics/%s/batches", url.PathEscape(c.source), url.PathEscape(string(metric)))
	headers := map[string]string{"Idempotency-Key": IdempotencyKey(body)}
	return c.doJSON(ctx, http.MethodPost, path, headers, body)
}

// IdempotencyKey derives a stable request key from the request body.
func IdempotencyKey(body []byte) string {
	return uuid.NewSHA1(idempotencyNamespace, body).String()
}

// checkToken fails fast when the token is a JWT past its exp claim.
// Opaque tokens and JWTs without exp pass through; signatures are the server's concern.
func (c *Client) checkToken() error {
	if c.token == "" || strings.Count(c.token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !c.now().Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, headers map[string]string, body []byte) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.retrying(attempt, requestPath, err.Error())
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}

		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries {
			c.retrying(attempt, requestPath, resp.Status)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retrying(attempt int, path, reason string) {
	observability.RecordUploadRetry()
	if c.logger != nil {
		c.logger.Warn("retrying upload", "path", path, "attempt", attempt+1, "reason", reason)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader, c.now()); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := ts.Sub(now); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package sink implements the remote document-memory boundary: multipart
// uploads and deletes over HTTP, wrapped in the transport retry and
// circuit-breaker policy. The dispatch scheduler consumes the Sink interface
// and never touches HTTP details.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/adalundhe/docrelay/core/transport"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSourceMissing indicates the upload source vanished between enqueue
	// and dispatch. Expected and non-fatal; the delete that usually follows
	// is already on its way through the watcher.
	ErrSourceMissing = errors.New("upload source file no longer exists")
)

// StatusError is a non-2xx sink response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the transport policy should retry this status.
// 5xx is transient by assumption; 404 is retried because the sink creates
// indexes lazily and a just-configured index may not exist yet.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusNotFound
}

// =============================================================================
// Sink
// =============================================================================

// Sink is the upload/delete contract the dispatch scheduler consumes.
type Sink interface {
	// Upload ships the file at sourcePath as documentID into index.
	Upload(ctx context.Context, index, documentID, sourcePath string) error

	// Delete removes documentID from index.
	Delete(ctx context.Context, index, documentID string) error
}

// =============================================================================
// Client
// =============================================================================

// ClientConfig configures the HTTP sink client.
type ClientConfig struct {
	// BaseURL is the sink's base URL without a trailing slash.
	BaseURL string

	// Timeout bounds one HTTP request.
	Timeout time.Duration

	// Retry is the per-call retry policy.
	Retry transport.RetryPolicy

	// Breaker is the circuit breaker policy shared by all calls.
	Breaker transport.CircuitBreakerConfig
}

// Client is the HTTP implementation of Sink. One retry/breaker policy covers
// every call; a call is one attempt from the scheduler's point of view, with
// transient recovery happening inside this layer.
type Client struct {
	baseURL string
	http    *http.Client
	retryer *transport.Retryer
	breaker *transport.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a sink client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retryer: transport.NewRetryer(cfg.Retry),
		breaker: transport.NewCircuitBreaker(cfg.Breaker),
		logger:  logger,
	}
}

// BreakerState exposes the circuit state for logging and tests.
func (c *Client) BreakerState() transport.CircuitState {
	return c.breaker.State()
}

// =============================================================================
// Upload
// =============================================================================

// Upload implements Sink. The source file is read once up front; a missing
// file fails immediately with ErrSourceMissing and is never retried.
func (c *Client) Upload(ctx context.Context, index, documentID, sourcePath string) error {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Join(ErrSourceMissing, err)
		}
		return fmt.Errorf("read upload source %s: %w", sourcePath, err)
	}

	body, contentType, err := buildMultipartBody(index, documentID, sourcePath, content)
	if err != nil {
		return fmt.Errorf("build upload body: %w", err)
	}

	return c.call(ctx, func() error {
		return c.doUpload(ctx, body, contentType)
	})
}

// doUpload performs one POST /upload attempt.
func (c *Client) doUpload(ctx context.Context, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	return c.execute(req)
}

// buildMultipartBody assembles the upload form: index and documentId fields
// plus the file part with its inferred content type.
func buildMultipartBody(index, documentID, sourcePath string, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("index", index); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("documentId", documentID); err != nil {
		return nil, "", err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, fileBaseName(sourcePath)))
	header.Set("Content-Type", ContentTypeFor(sourcePath))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

// fileBaseName extracts the final path element without importing filepath
// semantics into the wire format: both separators are treated as separators.
func fileBaseName(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// =============================================================================
// Delete
// =============================================================================

// Delete implements Sink.
func (c *Client) Delete(ctx context.Context, index, documentID string) error {
	query := url.Values{}
	query.Set("index", index)
	query.Set("documentId", documentID)
	target := c.baseURL + "/documents?" + query.Encode()

	return c.call(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
		if err != nil {
			return err
		}
		return c.execute(req)
	})
}

// =============================================================================
// Policy plumbing
// =============================================================================

// call wraps one logical sink call in the breaker and retry policy. The
// breaker sees the overall outcome, not individual attempts, so a call that
// recovers mid-retry counts as a success.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if !c.breaker.Allow() {
		return transport.ErrCircuitOpen
	}

	err := c.retryer.Do(ctx, isRetryable, fn)
	c.breaker.RecordResult(err == nil)

	if err != nil && c.breaker.State() == transport.CircuitOpen {
		c.logger.Warn("circuit breaker opened for sink",
			slog.String("base_url", c.baseURL))
	}
	return err
}

// isRetryable decides whether an attempt error is worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	// Anything else is a transport-level failure: connection refused,
	// reset, timeout. All transient by assumption.
	return true
}

// execute sends one request and folds the response into an error.
func (c *Client) execute(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

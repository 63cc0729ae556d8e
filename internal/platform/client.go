package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/mlledger/pkg/model"
)

// Client is an HTTP client for the platform REST API. It implements
// Platform.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
	sleep      func(context.Context, time.Duration) error
}

var _ Platform = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets the retry budget for transient failures. GET requests
// retry on 5xx, 429 and transport errors. POST requests create resources, so
// they retry only on 429 and on connection failures before the request was
// sent. Delays double after each attempt, capped at 30 seconds.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithRetrySleep overrides how the client waits between attempts.
func WithRetrySleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a platform API client.
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "platform-client"),
		maxRetries: 3,
		retryDelay: time.Second,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a training job and returns its name.
func (c *Client) Submit(ctx context.Context, spec model.JobSpec) (string, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", spec, &job); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if job.Name == "" {
		return "", fmt.Errorf("submit job: response has no job name")
	}
	c.logger.Info("job submitted", "job", job.Name)
	return job.Name, nil
}

// Attach looks up an existing job by name.
func (c *Client) Attach(ctx context.Context, jobName string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobName), nil, &job); err != nil {
		return nil, fmt.Errorf("attach %s: %w", jobName, err)
	}
	return &job, nil
}

// Deploy creates an endpoint serving job's model and returns its name.
func (c *Client) Deploy(ctx context.Context, job *model.Job, spec model.InstanceSpec) (string, error) {
	if job == nil {
		return "", fmt.Errorf("deploy: nil job")
	}
	var ep model.Endpoint
	path := "/api/v1/jobs/" + url.PathEscape(job.Name) + "/deployments"
	if err := c.do(ctx, http.MethodPost, path, spec, &ep); err != nil {
		return "", fmt.Errorf("deploy %s: %w", job.Name, err)
	}
	c.logger.Info("model deployed", "job", job.Name, "endpoint", ep.Name)
	return ep.Name, nil
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

// do sends one logical request, retrying transient failures, and decodes
// the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	reqID := requestID()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelayFor(attempt - 1)
			c.logger.Debug("retrying request", "method", method, "path", path, "request_id", reqID,
				"attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		resp, err := c.once(ctx, method, path, reqID, payload)
		if err == nil {
			if out != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
				if err := json.Unmarshal(resp.Data, out); err != nil {
					return fmt.Errorf("decode data: %w", err)
				}
			}
			return nil
		}
		lastErr = err
		if !retryable(err, method) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) once(ctx context.Context, method, path, reqID string, payload []byte) (*apiResponse, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, reqID)

	c.logger.Debug("HTTP request", "method", method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	if apiResp.Status == "error" || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, API: apiResp.Error, Body: truncate(string(respBody), 512)}
	}
	return &apiResp, nil
}

func (c *Client) retryDelayFor(attempt int) time.Duration {
	delay := c.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// StatusError is a non-success platform API response.
type StatusError struct {
	StatusCode int
	API        *model.APIError
	Body       string
}

func (e *StatusError) Error() string {
	if e.API != nil {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.API.Error())
	}
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Unwrap exposes the structured API error, if any.
func (e *StatusError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// IsNotFound reports whether err is a NOT_FOUND platform response.
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || (se.API != nil && se.API.Code == model.ErrNotFound)
	}
	return false
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable reports whether a failed request may be sent again. A POST that
// reached the server may already have created its job or endpoint.
func retryable(err error, method string) bool {
	idempotent := method == http.MethodGet || method == http.MethodHead
	var te *transportError
	if errors.As(err, &te) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return idempotent || notSent(err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return idempotent && se.StatusCode >= 500
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// notSent reports whether err happened while dialing, before any bytes of
// the request reached the server.
func notSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

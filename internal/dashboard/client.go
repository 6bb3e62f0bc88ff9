package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"listing_feed/internal/domain"
)

const userAgent = "feedctl/1.0"

// ClientConfig holds the feed server connection settings.
type ClientConfig struct {
	BaseURL        string
	Organization   string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Client talks to the feed server: snapshot queries, status updates and
// the live stream.
type Client struct {
	httpClient     *http.Client
	streamClient   *http.Client
	baseURL        string
	organization   string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// the stream stays open indefinitely; only the request context ends it
		streamClient:   &http.Client{},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		organization:   cfg.Organization,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "client"),
	}
}

// FetchSnapshot loads fresh buy listings first seen within maxHours.
// Transport errors and 5xx responses are retried.
func (c *Client) FetchSnapshot(ctx context.Context, maxHours int) (*domain.SnapshotPage, error) {
	u := c.baseURL + "/api/listings/fresh"
	if maxHours > 0 {
		u += "?" + url.Values{"max_hours": {strconv.Itoa(maxHours)}}.Encode()
	}

	op := func() (*snapshotResponse, error) {
		resp, err := c.getSnapshot(ctx, u)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("snapshot request failed, retrying",
			"backoff", wait,
			"error", err,
		)
	}

	resp, err := backoff.RetryNotifyWithData(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return &domain.SnapshotPage{
		Listings: resp.Listings,
		MaxHours: resp.MaxHours,
		Total:    resp.Total,
		Page:     resp.Page,
	}, nil
}

func (c *Client) getSnapshot(ctx context.Context, u string) (*snapshotResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// SetStatus persists a pipeline status. It is not retried.
func (c *Client) SetStatus(ctx context.Context, listingID string, status domain.Status) error {
	body, err := json.Marshal(statusRequest{Status: status.Stored()})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	u := c.baseURL + "/api/pipeline/" + url.PathEscape(listingID)
	req, err := c.newRequest(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("set status of %s: %w", listingID, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// OpenStream connects to the live stream. It sends no
// Last-Event-ID, so every connection starts at the end of the log.
func (c *Client) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/api/listings/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.organization != "" {
		req.Header.Set("X-Organization-ID", c.organization)
	}
	return req, nil
}

// newBackOff allows maxAttempts requests in total.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.maxAttempts-1))
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

// retryable is false for client errors, which repeat on every attempt.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

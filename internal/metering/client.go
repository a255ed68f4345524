package metering

import (
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
)

// maxBodySize bounds how much of a metering response is read (4 MB).
const maxBodySize = 4 << 20

// MetricsRecorder is an optional interface for recording fetch metrics.
type MetricsRecorder interface {
	ObserveFetchDuration(endpoint string, seconds float64)
	IncFetchError(kind string)
}

// Client queries the external metering service. It never retries; retry
// policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each metering request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a metering client for the given base endpoint and bearer
// credential.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetMetrics sets the optional metrics recorder.
func (c *Client) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// FetchUsage returns the cumulative usage for userID over w.
func (c *Client) FetchUsage(ctx context.Context, userID string, w Window) (*Aggregate, error) {
	var agg Aggregate
	if err := c.get(ctx, "/usage/query", userID, w, &agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// FetchHistory returns one aggregate per period covering w, in the order the
// metering service returned them.
func (c *Client) FetchHistory(ctx context.Context, userID string, w Window) ([]Period, error) {
	var periods []Period
	if err := c.get(ctx, "/usage/history", userID, w, &periods); err != nil {
		return nil, err
	}
	return periods, nil
}

func (c *Client) get(ctx context.Context, endpoint, userID string, w Window, out any) error {
	start := time.Now()
	err := c.do(ctx, endpoint, userID, w, out)
	if c.metrics != nil {
		c.metrics.ObserveFetchDuration(endpoint, time.Since(start).Seconds())
	}
	if err != nil {
		var fe *FetchError
		if c.metrics != nil && errors.As(err, &fe) {
			c.metrics.IncFetchError(fe.Kind())
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, userID string, w Window, out any) error {
	fail := func(status int, err error) error {
		return &FetchError{Endpoint: endpoint, UserID: userID, StatusCode: status, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("from", strconv.FormatInt(w.From.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(w.To.UnixMilli(), 10))
	q.Set("userId", userID)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("metering: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("querying metering service",
		"endpoint", endpoint,
		"user_id", userID,
		"from", w.From,
		"to", w.To,
		"token", redactToken(c.token),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(0, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fail(resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode >= 500:
		return fail(resp.StatusCode, ErrServer)
	default:
		return fail(resp.StatusCode, ErrUnexpectedStatus)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("%w: reading body: %v", ErrInvalidResponse, err))
	}
	if len(body) == 0 {
		return fail(resp.StatusCode, fmt.Errorf("%w: empty response body", ErrInvalidResponse))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}

	return nil
}

// redactToken masks the token for logging.
func redactToken(token string) string {
	if token == "" {
		return "(empty)"
	}
	if len(token) < 8 {
		return "***...***"
	}
	return token[:4] + "***...***" + token[len(token)-3:]
}

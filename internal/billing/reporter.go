// Package billing reports reconciled usage to the external billing provider.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alecgard/meterline/internal/plan"
)

var (
	ErrReportRejected = errors.New("billing: report rejected")
	ErrReportFailed   = errors.New("billing: report failed")
)

// Usage is the payload sent to the billing provider for one user and window.
type Usage struct {
	UserID     string          `json:"user_id"`
	PlanID     string          `json:"plan_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Overage    plan.Overage    `json:"overage"`
	Percentage plan.Percentage `json:"percentage"`
}

// Reporter sends usage to a billing provider.
type Reporter interface {
	ReportUsage(ctx context.Context, u Usage) error
}

// MetricsRecorder is an optional interface for counting report outcomes.
type MetricsRecorder interface {
	IncReport(status string)
}

// Noop is a Reporter that discards every report. It is used when no report
// URL is configured.
type Noop struct{}

// ReportUsage implements Reporter.
func (Noop) ReportUsage(context.Context, Usage) error { return nil }

// HTTPReporter posts usage as JSON to a report URL with a bearer token.
type HTTPReporter struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// NewHTTPReporter creates an HTTPReporter. A nil httpClient gets a client with
// a 30 second timeout.
func NewHTTPReporter(url, token string, httpClient *http.Client, logger *slog.Logger) *HTTPReporter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReporter{
		url:        strings.TrimSpace(url),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SetMetrics sets the optional metrics recorder.
func (r *HTTPReporter) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// ReportUsage implements Reporter. 4xx responses wrap ErrReportRejected, any
// other failure wraps ErrReportFailed.
func (r *HTTPReporter) ReportUsage(ctx context.Context, u Usage) error {
	err := r.post(ctx, u)
	if r.metrics != nil {
		if err != nil {
			r.metrics.IncReport("error")
		} else {
			r.metrics.IncReport("ok")
		}
	}
	if err != nil {
		r.logger.Error("usage report failed", "user_id", u.UserID, "plan_id", u.PlanID, "error", err)
		return err
	}
	r.logger.Info("usage reported", "user_id", u.UserID, "plan_id", u.PlanID)
	return nil
}

func (r *HTTPReporter) post(ctx context.Context, u Usage) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding usage report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrReportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := strings.TrimSpace(string(msg))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrReportRejected, resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: status %d: %s", ErrReportFailed, resp.StatusCode, detail)
}

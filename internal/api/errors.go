package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alecgard/meterline/internal/billing"
	"github.com/alecgard/meterline/internal/metering"
	"github.com/alecgard/meterline/internal/plan"
	"github.com/alecgard/meterline/internal/usage"
)

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Periods lists records a failed sync wrote before it stopped.
	Periods []usage.Record `json:"periods,omitempty"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a domain error to an HTTP status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(r, err)
	writeError(w, status, code, message)
}

// writePartialSyncError reports a failed sync along with the records it
// wrote before failing, so callers know what is already cached.
func writePartialSyncError(w http.ResponseWriter, r *http.Request, err error, written []usage.Record) {
	status, code, message := classifyError(r, err)
	writeJSON(w, status, errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
			Periods: written,
		},
	})
}

func classifyError(r *http.Request, err error) (status int, code, message string) {
	var fetchErr *metering.FetchError
	switch {
	case errors.Is(err, usage.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_window", err.Error()
	case errors.Is(err, plan.ErrNotFound):
		return http.StatusNotFound, "plan_not_found", err.Error()
	case errors.Is(err, usage.ErrRecordNotFound):
		return http.StatusNotFound, "not_found", "usage period not found"
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, "metering_" + fetchErr.Kind(), err.Error()
	case errors.Is(err, billing.ErrReportRejected), errors.Is(err, billing.ErrReportFailed):
		return http.StatusBadGateway, "report_failed", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "operation timed out"
	default:
		slog.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/meterline/internal/metering"
	"github.com/alecgard/meterline/internal/usage"
	"github.com/go-chi/chi/v5"
)

// usageHandler groups the per-user usage HTTP handlers.
type usageHandler struct {
	syncer     Syncer
	history    HistoryReader
	reconciler Reconciler
	now        func() time.Time
}

func newUsageHandler(syncer Syncer, history HistoryReader, reconciler Reconciler, now func() time.Time) *usageHandler {
	return &usageHandler{syncer: syncer, history: history, reconciler: reconciler, now: now}
}

type syncResponse struct {
	UserID  string         `json:"user_id"`
	Count   int            `json:"count"`
	Periods []usage.Record `json:"periods"`
}

type historyResponse struct {
	UserID  string             `json:"user_id"`
	Window  metering.Window    `json:"window"`
	Totals  metering.Aggregate `json:"totals"`
	Records []usage.Record     `json:"records"`
}

// parseWindow reads the optional from/to query params. Unset bounds stay zero.
func parseWindow(r *http.Request) (metering.Window, error) {
	from, err := metering.ParseTime(r.URL.Query().Get("from"))
	if err != nil {
		return metering.Window{}, err
	}
	to, err := metering.ParseTime(r.URL.Query().Get("to"))
	if err != nil {
		return metering.Window{}, err
	}
	return metering.Window{From: from, To: to}, nil
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: use true or false", name, v)
	}
	return b, nil
}

// Sync handles POST /api/v1/admin/users/{userID}/sync.
func (h *usageHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	records, err := h.syncer.Sync(r.Context(), userID, window)
	if err != nil {
		writePartialSyncError(w, r, err, records)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{UserID: userID, Count: len(records), Periods: records})
}

// History handles GET /api/v1/admin/users/{userID}/usage.
func (h *usageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	replica, err := parseBoolParam(r, "replica")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	window = window.MonthToDate(h.now())
	records, err := h.history.QueryHistory(r.Context(), userID, window, usage.QueryOptions{PreferReplica: replica})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		UserID:  userID,
		Window:  window,
		Totals:  usage.Sum(records),
		Records: records,
	})
}

// Period handles GET /api/v1/admin/users/{userID}/usage/{periodID}.
func (h *usageHandler) Period(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	periodID := chi.URLParam(r, "periodID")
	if _, err := time.Parse("2006-01-02", periodID); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "period id must be YYYY-MM-DD")
		return
	}

	rec, err := h.history.GetPeriod(r.Context(), userID, periodID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Overage handles GET /api/v1/admin/users/{userID}/overage.
func (h *usageHandler) Overage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	planID := r.URL.Query().Get("plan_id")
	if planID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "plan_id is required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	live, err := parseBoolParam(r, "live")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	summary, err := h.reconciler.Summarize(r.Context(), userID, planID, window, live)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Reconcile handles POST /api/v1/admin/users/{userID}/reconcile.
func (h *usageHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	planID := r.URL.Query().Get("plan_id")
	if planID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "plan_id is required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	var opts usage.ReconcileOptions
	for name, dst := range map[string]*bool{"sync": &opts.Sync, "report": &opts.Report, "live": &opts.Live} {
		if *dst, err = parseBoolParam(r, name); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}

	result, err := h.reconciler.Reconcile(r.Context(), userID, planID, window, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSummarize(t *testing.T) {
	m := New()
	m.IncSyncRun("ok")
	m.IncSyncRun("ok")
	m.IncSyncRun("error")
	m.IncSyncPeriod("created")
	m.IncSyncPeriod("created")
	m.IncSyncPeriod("replaced")
	m.ObserveSyncDuration(0.2)
	m.ObserveFetchDuration("history", 0.05)
	m.ObserveFetchDuration("query", 0.05)
	m.IncFetchError("server")
	m.IncReport("ok")
	m.IncReport("error")
	m.ObserveHTTPRequest("GET", "/health", 200, 0.001)
	m.ObserveHTTPRequest("POST", "/api/v1/admin/users/{userID}/sync", 502, 0.3)
	m.RegisterDBPoolCollector("primary", func() (int32, int32, int32) { return 4, 3, 1 })
	m.RegisterDBPoolCollector("replica", func() (int32, int32, int32) { return 2, 2, 0 })

	s, err := m.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if s.Sync.Runs != 3 || s.Sync.Failures != 1 {
		t.Errorf("sync runs = %v failures = %v", s.Sync.Runs, s.Sync.Failures)
	}
	if s.Sync.PeriodsCreated != 2 || s.Sync.PeriodsReplaced != 1 {
		t.Errorf("periods created = %v replaced = %v", s.Sync.PeriodsCreated, s.Sync.PeriodsReplaced)
	}
	if s.Sync.P95Duration <= 0 {
		t.Errorf("P95Duration = %v, want > 0", s.Sync.P95Duration)
	}
	if s.Metering.Requests != 2 || s.Metering.Errors != 1 || s.Metering.ErrorKinds["server"] != 1 {
		t.Errorf("metering = %+v", s.Metering)
	}
	if s.Reports.Sent != 1 || s.Reports.Failed != 1 {
		t.Errorf("reports = %+v", s.Reports)
	}
	if s.HTTP.TotalRequests != 2 || s.HTTP.ErrorRate != 0.5 {
		t.Errorf("http = %+v", s.HTTP)
	}
	if s.DB.TotalConns != 6 || s.DB.IdleConns != 5 || s.DB.AcquiredConns != 1 {
		t.Errorf("db = %+v", s.DB)
	}
	if s.Server.StartTime == 0 {
		t.Error("StartTime not set")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncSyncRun("ok")

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Sync.Runs != 1 {
		t.Errorf("sync runs = %v, want 1", s.Sync.Runs)
	}
}

func TestHistogramPercentileEmpty(t *testing.T) {
	if got := histogramPercentile(nil, 0.95); got != 0 {
		t.Errorf("histogramPercentile(nil) = %v, want 0", got)
	}
	if got := computeErrorRate(nil); got != 0 {
		t.Errorf("computeErrorRate(nil) = %v, want 0", got)
	}
}

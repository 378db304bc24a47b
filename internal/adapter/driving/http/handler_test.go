package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httphandler "github.com/ericfisherdev/qabot/internal/adapter/driving/http"
	"github.com/ericfisherdev/qabot/internal/application"
	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockPasses struct {
	last    *application.PassSummary
	next    time.Time
	run     application.PassSummary
	runErr  error
	runs    int
	panicOn bool
}

func (m *mockPasses) RunNow(_ context.Context) (application.PassSummary, error) {
	if m.panicOn {
		panic("boom")
	}
	m.runs++
	return m.run, m.runErr
}

func (m *mockPasses) Last() (application.PassSummary, bool) {
	if m.last == nil {
		return application.PassSummary{}, false
	}
	return *m.last, true
}

func (m *mockPasses) NextRun() time.Time { return m.next }

type mockVerdictStore struct {
	records []model.VerdictRecord
	err     error
	limit   int
}

func (m *mockVerdictStore) RecordVerdict(_ context.Context, rec model.VerdictRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockVerdictStore) ListVerdicts(_ context.Context, limit int) ([]model.VerdictRecord, error) {
	m.limit = limit
	return m.records, m.err
}

func (m *mockVerdictStore) LatestVerdict(_ context.Context, requestID string) (*model.VerdictRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].RequestID == requestID {
			return &m.records[i], nil
		}
	}
	return nil, nil
}

type mockBuildStore struct {
	records []model.BuildRecord
	err     error
}

func (m *mockBuildStore) RecordBuild(_ context.Context, rec model.BuildRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockBuildStore) ListLatestBuilds(_ context.Context) ([]model.BuildRecord, error) {
	return m.records, m.err
}

// --- Helpers ---

var (
	testTime    = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	testTimeStr = "2024-03-15T09:30:00Z"
)

func setupMux(passes *mockPasses, verdicts *mockVerdictStore, builds *mockBuildStore) http.Handler {
	health := application.NewHealthService(passes, 0)
	h := httphandler.NewHandler(health, passes, verdicts, builds, slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func setupMuxWithoutAudit(passes *mockPasses) http.Handler {
	health := application.NewHealthService(passes, 0)
	h := httphandler.NewHandler(health, passes, nil, nil, slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

func samplePass() application.PassSummary {
	return application.PassSummary{
		ID:         "pass-1",
		StartedAt:  testTime,
		FinishedAt: testTime.Add(time.Minute),
		Requests:   2,
		Verdicts: []model.Verdict{
			{RequestID: "100", State: model.GateAwaiting, Status: model.QAStatusInProgress, Jobs: 3},
			{RequestID: "101", State: model.GatePassed, Status: model.QAStatusPassed, Jobs: 5},
		},
		Targets: []application.TargetOutcome{
			{Project: "SUSE:Updates:SLE-SERVER:12-SP3:x86_64", Build: "20240315-1", Held: true},
		},
	}
}

// --- Tests ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		last       *application.PassSummary
		wantCode   int
		wantStatus string
	}{
		{name: "no pass yet", wantCode: http.StatusOK, wantStatus: "starting"},
		{name: "healthy", last: &application.PassSummary{ID: "p1", FinishedAt: testTime}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "aborted pass", last: &application.PassSummary{ID: "p1", Err: "listing requests: 502"}, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(&mockPasses{last: tt.last}, &mockVerdictStore{}, &mockBuildStore{})
			rec := serve(mux, http.MethodGet, "/api/v1/health")

			assert.Equal(t, tt.wantCode, rec.Code)

			var resp httphandler.HealthResponse
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.NotEmpty(t, resp.Time)
			if tt.last != nil {
				assert.Equal(t, tt.last.ID, resp.LastPassID)
			}
		})
	}
}

func TestLastPass(t *testing.T) {
	last := samplePass()
	mux := setupMux(&mockPasses{last: &last, next: testTime.Add(time.Hour)}, &mockVerdictStore{}, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/passes/last")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.PassResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "pass-1", resp.ID)
	assert.Equal(t, testTimeStr, resp.StartedAt)
	assert.Equal(t, "2024-03-15T10:30:00Z", resp.NextRunAt)
	assert.Equal(t, 1, resp.Awaiting)
	require.Len(t, resp.Verdicts, 2)
	assert.Equal(t, "awaiting_results", resp.Verdicts[0].State)
	require.Len(t, resp.Targets, 1)
	assert.True(t, resp.Targets[0].Held)
	assert.NotNil(t, resp.Errors, "nil errors should serialize as []")
}

func TestLastPass_NoneYet(t *testing.T) {
	mux := setupMux(&mockPasses{}, &mockVerdictStore{}, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/passes/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunPass(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		passes := &mockPasses{run: samplePass()}
		mux := setupMux(passes, &mockVerdictStore{}, &mockBuildStore{})

		rec := serve(mux, http.MethodPost, "/api/v1/passes")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, passes.runs)

		var resp httphandler.PassResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "pass-1", resp.ID)
	})

	t.Run("aborted pass", func(t *testing.T) {
		passes := &mockPasses{
			run:    application.PassSummary{ID: "pass-2", Err: "listing pending requests: 502"},
			runErr: errors.New("listing pending requests: 502"),
		}
		mux := setupMux(passes, &mockVerdictStore{}, &mockBuildStore{})

		rec := serve(mux, http.MethodPost, "/api/v1/passes")
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var resp httphandler.PassResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "listing pending requests: 502", resp.Error)
	})

	t.Run("canceled", func(t *testing.T) {
		passes := &mockPasses{runErr: context.Canceled}
		mux := setupMux(passes, &mockVerdictStore{}, &mockBuildStore{})

		rec := serve(mux, http.MethodPost, "/api/v1/passes")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		mux := setupMux(&mockPasses{}, &mockVerdictStore{}, &mockBuildStore{})

		rec := serve(mux, http.MethodGet, "/api/v1/passes")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestListVerdicts(t *testing.T) {
	verdicts := &mockVerdictStore{records: []model.VerdictRecord{
		{ID: 2, PassID: "p2", RequestID: "100", State: model.GatePassed, Status: model.QAStatusPassed, Message: "openQA tests passed", RecordedAt: testTime},
		{ID: 1, PassID: "p1", RequestID: "100", State: model.GateAwaiting, Status: model.QAStatusInProgress, Message: "now testing in openQA", RecordedAt: testTime},
	}}
	mux := setupMux(&mockPasses{}, verdicts, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/verdicts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, verdicts.limit)

	var resp []httphandler.VerdictResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, int64(2), resp[0].ID)
	assert.Equal(t, "passed", resp[0].State)
	assert.Equal(t, testTimeStr, resp[0].RecordedAt)
}

func TestListVerdicts_Limit(t *testing.T) {
	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{query: "?limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{query: "?limit=100000", wantCode: http.StatusOK, wantLimit: 500},
		{query: "?limit=0", wantCode: http.StatusBadRequest},
		{query: "?limit=abc", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			verdicts := &mockVerdictStore{}
			mux := setupMux(&mockPasses{}, verdicts, &mockBuildStore{})

			rec := serve(mux, http.MethodGet, "/api/v1/verdicts"+tt.query)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantLimit, verdicts.limit)
				assert.JSONEq(t, "[]", rec.Body.String())
			}
		})
	}
}

func TestListVerdicts_StoreError(t *testing.T) {
	mux := setupMux(&mockPasses{}, &mockVerdictStore{err: errors.New("disk full")}, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/verdicts")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetVerdict(t *testing.T) {
	verdicts := &mockVerdictStore{records: []model.VerdictRecord{
		{ID: 1, RequestID: "100", State: model.GateAwaiting},
		{ID: 2, RequestID: "100", State: model.GateFailed, Message: "openQA tests problematic"},
	}}
	mux := setupMux(&mockPasses{}, verdicts, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/requests/100/verdict")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.VerdictResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, int64(2), resp.ID)
	assert.Equal(t, "failed", resp.State)

	rec = serve(mux, http.MethodGet, "/api/v1/requests/999/verdict")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBuilds(t *testing.T) {
	builds := &mockBuildStore{records: []model.BuildRecord{
		{PassID: "p1", Project: "SUSE:Updates:SLE-SERVER:12-SP3:x86_64", Build: "20240315-2", RecordedAt: testTime},
		{PassID: "p1", Project: "openSUSE:Leap:15.5:Update", Skipped: true, RecordedAt: testTime},
	}}
	mux := setupMux(&mockPasses{}, &mockVerdictStore{}, builds)

	rec := serve(mux, http.MethodGet, "/api/v1/builds")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []httphandler.BuildResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, "20240315-2", resp[0].Build)
	assert.True(t, resp[1].Skipped)
}

func TestAuditEndpointsWithoutStore(t *testing.T) {
	mux := setupMuxWithoutAudit(&mockPasses{})

	for _, path := range []string{"/api/v1/verdicts", "/api/v1/requests/1/verdict", "/api/v1/builds", "/requests/1/report"} {
		rec := serve(mux, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestReport(t *testing.T) {
	verdicts := &mockVerdictStore{records: []model.VerdictRecord{{
		ID:        7,
		PassID:    "p7",
		RequestID: "100",
		State:     model.GateFailed,
		Status:    model.QAStatusFailed,
		Message: "openQA tests problematic\n\n\n__Group [Maintenance@Server-DVD-Incidents](https://openqa.example.com/tests/overview)__\n" +
			"(1 tests passed, 1 failed)\n\n- [qam-gnome@64bit](https://openqa.example.com/tests/1) failed\n<script>alert(1)</script>",
		RecordedAt: testTime,
	}}}
	mux := setupMux(&mockPasses{}, verdicts, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/requests/100/report")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Request 100</h1>")
	assert.Contains(t, body, `<a href="https://openqa.example.com/tests/1"`)
	assert.Contains(t, body, "<strong>Group")
	assert.NotContains(t, body, "<script>")

	rec = serve(mux, http.MethodGet, "/requests/404/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	mux := setupMux(&mockPasses{}, &mockVerdictStore{}, &mockBuildStore{})

	rec := serve(mux, http.MethodGet, "/api/v1/health")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	mux := setupMux(&mockPasses{panicOn: true}, &mockVerdictStore{}, &mockBuildStore{})

	rec := serve(mux, http.MethodPost, "/api/v1/passes")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal server error", resp["error"])
}

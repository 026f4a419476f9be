package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"admissions-workers/internal/adminlog"
	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
	feedsync "admissions-workers/internal/sync"
	"admissions-workers/internal/transition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	result feedsync.Result
	err    error
	calls  int
}

func (f *fakeSyncer) RunCycle(ctx context.Context) (feedsync.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeVisibility struct {
	mu   stdsync.Mutex
	seen []int
}

func (v *fakeVisibility) SetVisible(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = append(v.seen, n)
}

func (v *fakeVisibility) values() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.seen...)
}

type fixture struct {
	mem        *store.Memory
	cache      *cache.Cache
	logs       *adminlog.Recorder
	syncer     *fakeSyncer
	visibility *fakeVisibility
	server     *Server
	handler    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	tables := store.DefaultTables()
	mem := store.NewMemory()

	applied := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mem.Insert(context.Background(), tables.Applications,
		mapper.NewApplicationRow(mapper.Candidate{ID: "APP001", Name: "Asha", Email: "asha@example.com",
			Course: "Web Development - ₹2999", PaymentType: "UPI", AppliedDate: applied}, 2),
		mapper.NewApplicationRow(mapper.Candidate{ID: "APP002", Name: "Ravi", Email: "ravi@example.com",
			Course: "C Programming", AppliedDate: applied.Add(-48 * time.Hour)}, 2),
	))

	c := cache.New(mem, tables.Applications, log)
	require.NoError(t, c.Reload(context.Background(), cache.TriggerStartup))
	logs := adminlog.NewRecorder(mem, tables.AdminLogs, nil, log)
	engine := transition.NewEngine(transition.Config{Tables: tables}, mem, c, nil, logs, log)

	f := &fixture{mem: mem, cache: c, logs: logs, syncer: &fakeSyncer{}, visibility: &fakeVisibility{}}
	f.server = NewServer(Deps{
		Cache:       c,
		Transitions: engine,
		Sync:        f.syncer,
		Visibility:  f.visibility,
		Logs:        logs,
		Store:       mem,
	}, log)
	f.handler = f.server.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(UserHeader, "priya")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)

	require.NoError(t, f.mem.Close())
	rec := f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body readiness
	decodeBody(t, rec, &body)
	assert.Equal(t, "store unreachable", body.Status)
	assert.Contains(t, body.Checks["store"], "error:")
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsDegradedOptionalBackends(t *testing.T) {
	f := newFixture(t)
	f.server.deps.Optional = map[string]Pinger{
		"redis":         pingerFunc(func(context.Context) error { return nil }),
		"elasticsearch": pingerFunc(func(context.Context) error { return assert.AnError }),
	}

	rec := f.do(t, http.MethodGet, "/ready", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body readiness
	decodeBody(t, rec, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Equal(t, "ok", body.Checks["cache"])
	assert.Contains(t, body.Checks["elasticsearch"], "error:")
}

func TestListApplications(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/applications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Applications []models.Application `json:"applications"`
		Count        int                  `json:"count"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "APP001", body.Applications[0].ID, "newest first")

	rec = f.do(t, http.MethodGet, "/api/applications?status=Approved", "")
	decodeBody(t, rec, &body)
	assert.Equal(t, 0, body.Count)

	rec = f.do(t, http.MethodGet, "/api/applications?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count, "status filter ignores case")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/applications?status=Maybe", "").Code)
}

func TestGetApplication(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/applications/APP002", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var app models.Application
	decodeBody(t, rec, &app)
	assert.Equal(t, "Ravi", app.Name)

	rec = f.do(t, http.MethodGet, "/api/applications/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.ErrCodeNotFound))
}

func TestApproveThroughAPI(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/applications/APP001/approve", `{"paymentType":"Full Payment","paymentAmount":2999}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res transition.Result
	decodeBody(t, rec, &res)
	assert.True(t, res.Success)
	require.NotNil(t, res.Application)
	assert.Equal(t, models.StatusApproved, res.Application.Status)
	assert.Equal(t, "priya", res.Application.ApprovedBy.Username)
	assert.Equal(t, "Chrome", res.Application.ApprovedBy.Browser)

	rec = f.do(t, http.MethodPost, "/api/applications/APP001/approve", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "already decided")
}

func TestApproveRejectsInvalidBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/applications/APP001/approve", `{"paymentAmount":-5}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	require.NotEmpty(t, body.Details)
	assert.Equal(t, "paymentAmount", body.Details[0].Field)

	app, _ := f.cache.Get("APP001")
	assert.Equal(t, models.StatusPending, app.Status)
}

func TestRejectThroughAPI(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/applications/APP002/reject", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = f.do(t, http.MethodPost, "/api/applications/APP002/reject", `{"reason":"bad screenshot"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	app, _ := f.cache.Get("APP002")
	assert.Equal(t, models.StatusRejected, app.Status)
	assert.Equal(t, "bad screenshot", app.RejectionReason)
}

func TestDeleteThroughAPI(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/applications/APP002", "").Code)
	_, ok := f.cache.Get("APP002")
	assert.False(t, ok)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/applications/APP002", "").Code)
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	f.syncer.result = feedsync.Result{Outcome: feedsync.OutcomeApplied, Inserted: 3}

	rec := f.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"inserted":3`)

	f.syncer.result = feedsync.Result{Outcome: feedsync.OutcomeRateLimited}
	f.syncer.err = errors.NewRateLimitedError("feed")
	rec = f.do(t, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, f.syncer.calls)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/applications/APP001/approve", `{"paymentType":"Full Payment","paymentAmount":2999}`)

	rec := f.do(t, http.MethodGet, "/api/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Total    int `json:"total"`
		Approved int `json:"approved"`
		Today    int `json:"today"`
		Courses  []struct {
			Course   string `json:"course"`
			Approved int    `json:"approved"`
		} `json:"courses"`
		Payments struct {
			Revenue float64 `json:"revenue"`
		} `json:"payments"`
	}
	decodeBody(t, rec, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, "Web Development", stats.Courses[0].Course)
	assert.Equal(t, 1, stats.Courses[0].Approved)
	assert.Equal(t, 2999.0, stats.Payments.Revenue)
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/applications/APP002/reject", `{"reason":"incomplete"}`)
	f.do(t, http.MethodDelete, "/api/applications/APP001", "")

	rec := f.do(t, http.MethodGet, "/api/logs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Logs []models.AdminLog `json:"logs"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Logs, 1)

	rec = f.do(t, http.MethodGet, "/api/logs?q=incomplete", "")
	decodeBody(t, rec, &body)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, models.LogTypeReject, body.Logs[0].Type)
	assert.Equal(t, "priya", body.Logs[0].Username)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/logs?limit=x", "").Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	assert.Equal(t, 1, f.server.Viewers())

	f.cache.NotifyChanged(cache.TriggerManual)

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "data-changed", event)
	assert.Contains(t, data, `"reason":"manual"`)

	cancel()
	assert.Eventually(t, func() bool { return len(f.visibility.values()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1, 0}, f.visibility.values())
	assert.Equal(t, 0, f.server.Viewers())
}

func TestViewerCountReportsInOrder(t *testing.T) {
	var v viewerCount
	seen := &fakeVisibility{}

	var wg stdsync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.add(1, seen.SetVisible)
			v.add(-1, seen.SetVisible)
		}()
	}
	wg.Wait()

	values := seen.values()
	require.Len(t, values, 100)
	prev := 0
	for _, n := range values {
		assert.Equal(t, 1, abs(n-prev), "counts must be reported in order: %v", values)
		prev = n
	}
	assert.Equal(t, 0, values[len(values)-1])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

type opRecorder struct{ ops []string }

func (o *opRecorder) RecordOperation(_ context.Context, name, status string, _ time.Duration) {
	o.ops = append(o.ops, name+"="+status)
}

func TestRequestsRecordedAsOperations(t *testing.T) {
	f := newFixture(t)
	ops := &opRecorder{}
	f.server.deps.Ops = ops

	f.do(t, http.MethodGet, "/api/applications/APP001", "")
	f.do(t, http.MethodGet, "/api/applications/NOPE", "")

	assert.Equal(t, []string{
		"GET /api/applications/{id}=ok",
		"GET /api/applications/{id}=error",
	}, ops.ops)
}

func TestActorFromRequest(t *testing.T) {
	tests := []struct {
		ua                        string
		device, browser, platform string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1", "Mobile", "Safari", "iOS"},
		{"Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile Safari/537.36", "Mobile", "Chrome", "Android"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64) Chrome/120.0 Safari/537.36 Edg/120.0", "Desktop", "Edge", "Windows"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Desktop", "Firefox", "Linux"},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", tt.ua)
		a := actorFromRequest(req)
		assert.Equal(t, tt.device, a.Device, tt.ua)
		assert.Equal(t, tt.browser, a.Browser, tt.ua)
		assert.Equal(t, tt.platform, a.Platform, tt.ua)
	}
}

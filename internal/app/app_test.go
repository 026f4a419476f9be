package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct{ text string }

func (f staticFetcher) Fetch(context.Context) (string, error) { return f.text, nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "admissions-test"
	cfg.Store.Driver = "memory"
	cfg.Store.ApplicationsTable = "applications"
	cfg.Store.ApprovedTable = "approved_applications"
	cfg.Store.RejectedTable = "rejected_applications"
	cfg.Store.PaymentsTable = "payments"
	cfg.Store.AdminLogsTable = "admin_logs"
	cfg.Sync.Interval = 15000
	cfg.Sync.BackoffStart = 1000
	cfg.Sync.BackoffMax = 8000
	cfg.Sync.StateBackend = "memory"
	cfg.Transition.DefaultTotalInstallments = 2
	cfg.Transition.NotifyTimeout = 1000
	cfg.Analytics.CourseCapacity = 50
	cfg.Server.Address = "127.0.0.1:0"
	return cfg
}

const feed = "ID,Name,Email,Course,Phone\n" +
	"APP001,Asha,asha@example.com,Web Development,9876543210\n"

func TestNew_WiresMemoryStack(t *testing.T) {
	mem := store.NewMemory()
	a, err := New(context.Background(), testConfig(), logger.NewTestLogger(t), Options{
		Store:   mem,
		Fetcher: staticFetcher{text: feed},
	})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Cache.Reload(context.Background(), "startup"))
	res, err := a.Sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	router := a.Server.Router()
	req := httptest.NewRequest(http.MethodPost, "/api/applications/APP001/approve", strings.NewReader(`{"paymentType":"Full Payment"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows, err := mem.Select(context.Background(), "approved_applications", store.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	logs, err := a.AdminLog.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestNew_RedisUnavailableFallsBackToMemoryState(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.StateBackend = "redis"
	cfg.Database.Redis.Address = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, logger.NewNoOpLogger(), Options{Store: store.NewMemory(), Fetcher: staticFetcher{text: feed}})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Cache.Reload(context.Background(), "startup"))
	_, err = a.Sync.RunCycle(context.Background())
	assert.NoError(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), logger.NewTestLogger(t), Options{Store: store.NewMemory(), Fetcher: staticFetcher{text: feed}})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Cache.Ready() }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	}, 5, time.Millisecond, logger.NewNoOpLogger(), "op")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = retryWithBackoff(context.Background(), func() error { return assert.AnError }, 2, time.Millisecond, logger.NewNoOpLogger(), "op")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "op failed after 2 attempts")
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"admissions-workers/internal/app"
	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = "ID,Name,Email,Course,Phone\n" +
	"APP001,Asha,asha@example.com,Web Development,9876543210\n" +
	"APP002,Ravi,ravi@example.com,C Programming,9876543211\n"

type staticFetcher struct{}

func (staticFetcher) Fetch(context.Context) (string, error) { return feed, nil }

// sharedStore keeps one memory store alive across command invocations.
type sharedStore struct{ store.Store }

func (sharedStore) Close() error { return nil }

func testOpener(t *testing.T) opener {
	mem := sharedStore{store.NewMemory()}
	return func(ctx context.Context, _ string) (*app.App, error) {
		cfg := &config.Config{}
		cfg.Store.Driver = "memory"
		cfg.Store.ApplicationsTable = "applications"
		cfg.Store.ApprovedTable = "approved_applications"
		cfg.Store.RejectedTable = "rejected_applications"
		cfg.Store.PaymentsTable = "payments"
		cfg.Store.AdminLogsTable = "admin_logs"
		cfg.Sync.StateBackend = "memory"
		cfg.Transition.DefaultTotalInstallments = 2
		cfg.Analytics.CourseCapacity = 50

		a, err := app.New(ctx, cfg, logger.NewTestLogger(t), app.Options{Store: mem, Fetcher: staticFetcher{}, SkipWorkers: true})
		if err != nil {
			return nil, err
		}
		return a, a.Cache.Reload(ctx, cache.TriggerManual)
	}
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncThenList(t *testing.T) {
	open := testOpener(t)

	out, err := run(t, open, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "applied: 2 new")

	out, err = run(t, open, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "APP001")
	assert.Contains(t, out, "APP002")

	out, err = run(t, open, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")
}

func TestApproveRejectDelete(t *testing.T) {
	open := testOpener(t)
	_, err := run(t, open, "sync")
	require.NoError(t, err)

	_, err = run(t, open, "approve", "APP001", "--payment-type", "Full Payment", "--amount", "2999", "--user", "priya")
	require.NoError(t, err)

	out, err := run(t, open, "list", "--status", "approved", "--json")
	require.NoError(t, err)
	var apps []models.Application
	require.NoError(t, json.Unmarshal([]byte(out), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "APP001", apps[0].ID)
	require.NotNil(t, apps[0].ApprovedBy)
	assert.Equal(t, "priya", apps[0].ApprovedBy.Username)
	assert.Equal(t, "CLI", apps[0].ApprovedBy.Device)

	_, err = run(t, open, "reject", "APP002")
	assert.EqualError(t, err, "--reason is required")

	_, err = run(t, open, "reject", "APP002", "--reason", "incomplete form")
	require.NoError(t, err)

	_, err = run(t, open, "delete", "APP002")
	require.NoError(t, err)

	_, err = run(t, open, "delete", "APP002")
	assert.Error(t, err)
}

func TestApproveUnknownApplicationFails(t *testing.T) {
	open := testOpener(t)

	_, err := run(t, open, "approve", "NOPE")
	assert.Error(t, err)
}

func TestStatsAndLogs(t *testing.T) {
	open := testOpener(t)
	_, err := run(t, open, "sync")
	require.NoError(t, err)
	_, err = run(t, open, "approve", "APP001", "--amount", "2999")
	require.NoError(t, err)

	out, err := run(t, open, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total 2  Pending 1  Approved 1")
	assert.Contains(t, out, "Web Development")
	assert.Contains(t, out, "Revenue 2999.00")

	out, err = run(t, open, "logs", "--json")
	require.NoError(t, err)
	var logs []models.AdminLog
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	assert.NotEmpty(t, logs)

	out, err = run(t, open, "logs", "-q", "asha")
	require.NoError(t, err)
	assert.Contains(t, out, "APP001")
}

func TestListRejectsUnknownStatus(t *testing.T) {
	_, err := run(t, testOpener(t), "list", "--status", "archived")
	assert.EqualError(t, err, `unknown status "archived"`)
}

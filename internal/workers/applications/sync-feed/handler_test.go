package syncfeed

import (
	"context"
	"io"
	"testing"
	"time"

	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	feedsync "admissions-workers/internal/sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCycler struct {
	mock.Mock
}

func (m *MockCycler) RunCycle(ctx context.Context) (feedsync.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(feedsync.Result), args.Error(1)
}

func TestLoadConfig(t *testing.T) {
	assert.Equal(t, time.Minute, LoadConfig(config.WorkerConfig{}).Timeout)
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		result   feedsync.Result
		err      error
		wantErr  errors.ErrorCode
		wantOut  string
		wantDiff bool
	}{
		{name: "applied", result: feedsync.Result{Outcome: feedsync.OutcomeApplied, Inserted: 2, Patched: 1}, wantOut: "applied", wantDiff: true},
		{name: "unchanged", result: feedsync.Result{Outcome: feedsync.OutcomeUnchanged}, wantOut: "unchanged"},
		{name: "backing off", result: feedsync.Result{Outcome: feedsync.OutcomeBackoff, Backoff: time.Minute}, wantOut: "backoff"},
		{name: "rate limited", result: feedsync.Result{Outcome: feedsync.OutcomeRateLimited}, err: errors.NewRateLimitedError("feed"), wantOut: "rate_limited"},
		{name: "transport failure", result: feedsync.Result{Outcome: feedsync.OutcomeFailed}, err: errors.NewTransportError("feed", io.EOF), wantErr: errors.ErrCodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycler := &MockCycler{}
			cycler.On("RunCycle", mock.Anything).Return(tt.result, tt.err)
			h := NewHandler(LoadConfig(config.WorkerConfig{}), cycler, logger.NewTestLogger(t))

			out, err := h.execute(context.Background())

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, errors.CodeOf(err))
				assert.True(t, errors.IsRetryableErrorCode(errors.CodeOf(err)))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out.Outcome)
			assert.Equal(t, tt.wantDiff, out.Changed)
		})
	}
}

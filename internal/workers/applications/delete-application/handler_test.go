package deleteapplication

import (
	"context"
	"encoding/json"
	"testing"

	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/models"
	"admissions-workers/internal/transition"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDeleter struct {
	mock.Mock
}

func (m *MockDeleter) Delete(ctx context.Context, id string, actor models.Actor) transition.Result {
	args := m.Called(ctx, id, actor)
	return args.Get(0).(transition.Result)
}

func job(variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 3, Type: TaskType, Retries: 3, Variables: string(variablesJSON)}}
}

func TestRun(t *testing.T) {
	deleter := &MockDeleter{}
	deleter.On("Delete", mock.Anything, "APP001", mock.MatchedBy(func(a models.Actor) bool { return a.Username == "ops" })).
		Return(transition.Result{Success: true, Message: "Application deleted"})
	deleter.On("Delete", mock.Anything, "APP404", mock.Anything).
		Return(transition.Result{Message: "No valid pending application", Err: errors.NewNotFoundError("APP404", "no row")})

	h := NewHandler(LoadConfig(config.WorkerConfig{}), deleter, logger.NewTestLogger(t))

	out, err := h.run(context.Background(), job(map[string]interface{}{"applicationId": "APP001", "username": "ops"}))
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, err = h.run(context.Background(), job(map[string]interface{}{"applicationId": "APP404"}))
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = h.run(context.Background(), job(map[string]interface{}{}))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	deleter.AssertNumberOfCalls(t, "Delete", 2)
}

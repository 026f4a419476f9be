package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"admissions-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
)

func TestStartSpan_WithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "sync.cycle")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
}

func TestObservability_RecordOperation(t *testing.T) {
	o := New("admissions-test", logger.NewTestLogger(t))
	defer o.Shutdown()

	ctx, span := StartSpan(context.Background(), "transition.approve")
	assert.True(t, span.SpanContext().IsValid())
	o.RecordOperation(ctx, "approve", "success", 25*time.Millisecond)
	EndSpan(span, nil)
}

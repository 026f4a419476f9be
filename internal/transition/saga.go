package transition

import (
	"context"
	"fmt"

	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Step is one forward write and the write that undoes it. Compensate may be
// nil for the final step.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Failure is returned by Saga.Run when a step fails.
type Failure struct {
	Step  string
	Index int
	Err   error
	// Compensated lists the undone steps, most recent first.
	Compensated []string
	// RollbackErr is set when a compensation failed; later compensations
	// are not attempted.
	RollbackErr  error
	RollbackStep string
}

func (f *Failure) Error() string {
	if f.RollbackErr != nil {
		return fmt.Sprintf("step %s failed: %v; rollback of %s failed: %v", f.Step, f.Err, f.RollbackStep, f.RollbackErr)
	}
	return fmt.Sprintf("step %s failed: %v", f.Step, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// RolledBack reports whether every completed step was undone.
func (f *Failure) RolledBack() bool { return f.RollbackErr == nil }

// Saga runs steps in order and, on failure, compensates the completed ones
// in reverse.
type Saga struct {
	name  string
	steps []Step
	log   logger.Logger
}

func NewSaga(name string, log logger.Logger) *Saga {
	return &Saga{name: name, log: log}
}

func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		stepCtx, span := observability.StartSpan(ctx, s.name+"."+step.Name,
			attribute.Int("saga.step", i))
		err := step.Action(stepCtx)
		observability.EndSpan(span, err)
		if err == nil {
			continue
		}

		f := &Failure{Step: step.Name, Index: i, Err: err}
		s.log.WithError(err).Warn("Saga step failed, compensating", map[string]interface{}{
			"saga": s.name,
			"step": step.Name,
		})
		s.compensate(ctx, i, f)
		return f
	}
	return nil
}

// compensate undoes steps [0, failed) newest first and stops at the first
// compensation error.
func (s *Saga) compensate(ctx context.Context, failed int, f *Failure) {
	// a cancelled caller must not prevent the rollback writes
	ctx = context.WithoutCancel(ctx)

	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		cctx, span := observability.StartSpan(ctx, s.name+"."+step.Name+".compensate")
		err := step.Compensate(cctx)
		observability.EndSpan(span, err)
		if err != nil {
			f.RollbackErr = err
			f.RollbackStep = step.Name
			return
		}
		f.Compensated = append(f.Compensated, step.Name)
	}
}

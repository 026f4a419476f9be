package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"admissions-workers/internal/common/logger"

	"github.com/robfig/cron/v3"
)

// Cycler is the part of Engine the runner drives.
type Cycler interface {
	RunCycle(ctx context.Context) (Result, error)
}

// Runner schedules cycles on a fixed interval. When pauseWhenIdle is set the
// runner pauses while no viewer is attached.
type Runner struct {
	engine        Cycler
	interval      time.Duration
	pauseWhenIdle bool
	log           logger.Logger

	cron *cron.Cron

	mu      stdsync.Mutex
	ctx     context.Context
	paused  bool
	viewers int
	started bool
}

func NewRunner(engine Cycler, interval time.Duration, pauseWhenIdle bool, log logger.Logger) *Runner {
	return &Runner{
		engine:        engine,
		interval:      interval,
		pauseWhenIdle: pauseWhenIdle,
		log:           logger.ForComponent(log, "sync-runner"),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		paused: pauseWhenIdle,
	}
}

// Start runs one cycle immediately and then every interval until ctx ends or
// Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("sync runner already started")
	}
	r.started = true
	r.ctx = ctx
	r.mu.Unlock()

	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return fmt.Errorf("schedule sync %q: %w", spec, err)
	}
	r.cron.Start()
	r.log.Info("Sync runner started", map[string]interface{}{
		"interval":      r.interval.String(),
		"pauseWhenIdle": r.pauseWhenIdle,
	})

	go r.tick()
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop waits for a running cycle to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Runner) tick() {
	r.mu.Lock()
	ctx, paused := r.ctx, r.paused
	r.mu.Unlock()
	if paused || ctx == nil || ctx.Err() != nil {
		return
	}

	// errors are logged by the engine; the next tick retries
	_, _ = r.engine.RunCycle(ctx)
}

func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		r.paused = true
		r.log.Info("Sync paused", nil)
	}
}

func (r *Runner) Resume() {
	r.mu.Lock()
	if !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	started := r.started
	r.mu.Unlock()

	r.log.Info("Sync resumed", nil)
	if started {
		go r.tick()
	}
}

// SetVisible reports the number of attached viewers. Only effective when
// the runner was built with pauseWhenIdle.
func (r *Runner) SetVisible(viewers int) {
	r.mu.Lock()
	r.viewers = viewers
	r.mu.Unlock()

	if !r.pauseWhenIdle {
		return
	}
	if viewers > 0 {
		r.Resume()
	} else {
		r.Pause()
	}
}

func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

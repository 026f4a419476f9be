package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"time"

	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/metrics"
	"admissions-workers/internal/common/observability"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

// Cycle outcomes, also the admissions_sync_cycles_total label.
const (
	OutcomeUnchanged   = "unchanged"
	OutcomeApplied     = "applied"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeBackoff     = "backoff"
	OutcomeNotReady    = "not_ready"
)

// ActivityLog receives operator-facing entries for applied batches and errors.
type ActivityLog interface {
	Record(ctx context.Context, entry models.AdminLog) error
}

type Config struct {
	ApplicationsTable        string
	DefaultTotalInstallments int
	BackoffStart             time.Duration
	BackoffMax               time.Duration
}

// Result summarises one cycle.
type Result struct {
	Outcome   string        `json:"outcome"`
	Hash      string        `json:"hash,omitempty"`
	Rows      int           `json:"rows"`
	Dropped   int           `json:"dropped"`
	Inserted  int           `json:"inserted"`
	Patched   int           `json:"patched"`
	Unchanged int           `json:"unchanged"`
	Decided   int           `json:"decided"`
	Conflicts int           `json:"conflicts"`
	Backoff   time.Duration `json:"backoff,omitempty"`
}

// Engine diffs the feed against the cache and writes the difference. Cycles
// are serialised; concurrent callers wait their turn.
type Engine struct {
	config   Config
	fetcher  Fetcher
	store    store.Store
	cache    *cache.Cache
	state    StateStore
	activity ActivityLog
	log      logger.Logger
	now      func() time.Time

	mu       stdsync.Mutex
	backoff  *Backoff
	lastHash string
	restored bool
	// stale is set when a post-write reload failed; the next cycle reloads
	// before diffing.
	stale bool
}

func NewEngine(config Config, fetcher Fetcher, s store.Store, c *cache.Cache, state StateStore, activity ActivityLog, log logger.Logger) *Engine {
	if config.DefaultTotalInstallments <= 0 {
		config.DefaultTotalInstallments = 2
	}
	if config.BackoffStart <= 0 {
		config.BackoffStart = 30 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 5 * time.Minute
	}
	if state == nil {
		state = NewMemoryStateStore()
	}
	return &Engine{
		config:   config,
		fetcher:  fetcher,
		store:    s,
		cache:    c,
		state:    state,
		activity: activity,
		log:      logger.ForComponent(log, "sync"),
		now:      func() time.Time { return time.Now().UTC() },
		backoff:  NewBackoff(config.BackoffStart, config.BackoffMax),
	}
}

// ContentHash is the change detector for feed text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RunCycle performs one pull. Failures leave the committed hash untouched so
// the next cycle retries; the error is returned for callers that report it.
func (e *Engine) RunCycle(ctx context.Context) (res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "sync.cycle")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.String("outcome", res.Outcome))
		observability.EndSpan(span, err)
		metrics.SyncCycles.WithLabelValues(res.Outcome).Inc()
		e.log.Debug("Sync cycle finished", map[string]interface{}{
			"outcome":  res.Outcome,
			"duration": time.Since(start).String(),
		})
	}()

	e.restore(ctx)

	now := e.now()
	if e.backoff.Active(now) {
		return Result{Outcome: OutcomeBackoff, Backoff: e.backoff.Until().Sub(now)}, nil
	}

	if !e.cache.Ready() || e.stale {
		if err := e.cache.Reload(ctx, cache.TriggerSync); err != nil {
			return Result{Outcome: OutcomeNotReady}, err
		}
		e.stale = false
	}

	text, err := e.fetcher.Fetch(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrRateLimited) {
			delay := e.backoff.Trip(now)
			metrics.SyncBackoffSeconds.Set(delay.Seconds())
			e.persist(ctx)
			e.log.Warn("Feed rate limited, backing off", map[string]interface{}{"delay": delay.String()})
			return Result{Outcome: OutcomeRateLimited, Backoff: delay}, err
		}
		e.fail(ctx, "Feed fetch failed", err)
		return Result{Outcome: OutcomeFailed}, err
	}

	hash := ContentHash(text)
	if hash == e.lastHash {
		e.succeed(ctx, hash)
		return Result{Outcome: OutcomeUnchanged, Hash: hash}, nil
	}

	candidates, stats, err := mapper.ParseFeed(text, now)
	if err != nil {
		e.fail(ctx, "Feed parse failed", err)
		return Result{Outcome: OutcomeFailed}, err
	}

	res = Result{Outcome: OutcomeApplied, Hash: hash, Rows: stats.Rows, Dropped: stats.Dropped}
	if err := e.apply(ctx, candidates, &res); err != nil {
		if res.Inserted+res.Patched > 0 {
			_ = e.refresh(ctx)
		}
		e.fail(ctx, "Sync write failed", err)
		res.Outcome = OutcomeFailed
		return res, err
	}

	if res.Inserted+res.Patched > 0 {
		if err := e.refresh(ctx); err != nil {
			// writes landed but the diff base is unknown, so keep the old hash
			e.log.WithError(err).Warn("Cache reload after sync failed, feed will be re-applied", nil)
			e.succeed(ctx, e.lastHash)
			return res, nil
		}
		e.record(ctx, models.AdminLog{
			Type:    models.LogTypeSync,
			Title:   "Data Synchronised",
			Message: fmt.Sprintf("%d new, %d updated application(s) from the feed", res.Inserted, res.Patched),
		})
		e.log.Info("Sync applied", map[string]interface{}{
			"inserted":  res.Inserted,
			"patched":   res.Patched,
			"conflicts": res.Conflicts,
			"dropped":   res.Dropped,
		})
	}
	e.succeed(ctx, hash)
	return res, nil
}

// apply patches changed Pending records, then inserts the new ones in one batch.
func (e *Engine) apply(ctx context.Context, candidates []mapper.Candidate, res *Result) error {
	var fresh []store.Row
	for _, c := range candidates {
		existing, ok := e.cache.Get(c.ID)
		if !ok {
			fresh = append(fresh, mapper.NewApplicationRow(c, e.config.DefaultTotalInstallments))
			continue
		}
		if !existing.IsPending() {
			res.Decided++
			continue
		}
		if !c.MutableFieldsDiffer(existing) {
			res.Unchanged++
			continue
		}

		patch := mapper.MutablePatch(c)
		patch[mapper.ColVersion] = existing.Version + 1
		n, err := e.store.Update(ctx, e.config.ApplicationsTable,
			mapper.VersionGuard(c.ID, models.StatusPending, existing.Version), patch)
		if err != nil {
			return err
		}
		if n == 0 {
			// decided or edited since the cache was loaded
			res.Conflicts++
			continue
		}
		res.Patched++
		metrics.SyncWrites.WithLabelValues("update").Inc()
	}

	if len(fresh) == 0 {
		return nil
	}
	if err := e.store.Insert(ctx, e.config.ApplicationsTable, fresh...); err != nil {
		return err
	}
	res.Inserted = len(fresh)
	metrics.SyncWrites.WithLabelValues("insert").Add(float64(len(fresh)))
	return nil
}

func (e *Engine) refresh(ctx context.Context) error {
	if err := e.cache.Reload(ctx, cache.TriggerSync); err != nil {
		e.stale = true
		return err
	}
	e.cache.NotifyChanged(cache.TriggerSync)
	return nil
}

func (e *Engine) restore(ctx context.Context) {
	if e.restored {
		return
	}
	e.restored = true
	st, err := e.state.Load(ctx)
	if err != nil {
		e.log.WithError(err).Warn("Sync state unavailable, starting fresh", nil)
		return
	}
	e.lastHash = st.LastHash
	if st.BackoffDelay > 0 {
		e.backoff.Restore(st.BackoffDelay, st.BackoffUntil)
	}
}

func (e *Engine) succeed(ctx context.Context, hash string) {
	e.lastHash = hash
	e.backoff.Reset()
	metrics.SyncBackoffSeconds.Set(0)
	e.persist(ctx)
}

func (e *Engine) persist(ctx context.Context) {
	err := e.state.Save(ctx, State{
		LastHash:     e.lastHash,
		BackoffDelay: e.backoff.Delay(),
		BackoffUntil: e.backoff.Until(),
	})
	if err != nil {
		e.log.WithError(err).Warn("Failed to persist sync state", nil)
	}
}

func (e *Engine) fail(ctx context.Context, msg string, err error) {
	e.log.WithError(err).Error(msg, map[string]interface{}{"code": string(errors.CodeOf(err))})
	e.record(ctx, models.AdminLog{Type: models.LogTypeError, Title: "Sync Error", Message: fmt.Sprintf("%s: %v", msg, err)})
}

func (e *Engine) record(ctx context.Context, entry models.AdminLog) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Record(ctx, entry); err != nil {
		e.log.WithError(err).Warn("Failed to record admin log", nil)
	}
}

// LastHash is the hash of the last successfully applied feed text.
func (e *Engine) LastHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHash
}

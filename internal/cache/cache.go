// Package cache is the in-memory mirror of the applications table. It is
// only ever replaced wholesale by Reload; readers get copies.
package cache

import (
	"context"
	"sync"
	"time"

	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/metrics"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
)

// Reload triggers, used as the metrics label and in logs.
const (
	TriggerStartup    = "startup"
	TriggerSync       = "sync"
	TriggerTransition = "transition"
	TriggerPush       = "push"
	TriggerManual     = "manual"
)

type Cache struct {
	store  store.Store
	table  string
	log    logger.Logger
	events *Broadcaster

	reloadMu sync.Mutex

	mu       sync.RWMutex
	records  []*models.Application
	byID     map[string]*models.Application
	ready    bool
	loadedAt time.Time
}

func New(s store.Store, table string, log logger.Logger) *Cache {
	return &Cache{
		store:  s,
		table:  table,
		log:    logger.ForComponent(log, "cache"),
		events: NewBroadcaster(),
		byID:   make(map[string]*models.Application),
	}
}

// Reload replaces the cached set with a full read of the table, newest
// application first. On error the previous contents stay in place.
func (c *Cache) Reload(ctx context.Context, trigger string) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	rows, err := c.store.Select(ctx, c.table, store.Query{
		Order: []store.Order{{Column: mapper.ColAppliedDate, Descending: true}},
	})
	if err != nil {
		c.log.WithError(err).Error("Cache reload failed", map[string]interface{}{"trigger": trigger})
		return err
	}

	records := make([]*models.Application, 0, len(rows))
	byID := make(map[string]*models.Application, len(rows))
	counts := map[models.Status]int{}
	for _, r := range rows {
		app, err := mapper.ApplicationFromRow(r)
		if err != nil {
			c.log.WithError(err).Warn("Skipping undecodable row", nil)
			continue
		}
		records = append(records, app)
		byID[app.ID] = app
		counts[app.Status]++
	}

	c.mu.Lock()
	c.records = records
	c.byID = byID
	c.ready = true
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	metrics.CacheReloads.WithLabelValues(trigger).Inc()
	for _, s := range []models.Status{models.StatusPending, models.StatusApproved, models.StatusRejected} {
		metrics.CacheRecords.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	c.log.Debug("Cache reloaded", map[string]interface{}{"trigger": trigger, "records": len(records)})
	return nil
}

// Ready reports whether at least one reload has succeeded.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Cache) All() []*models.Application {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Application, 0, len(c.records))
	for _, a := range c.records {
		out = append(out, a.Clone())
	}
	return out
}

func (c *Cache) ByStatus(status models.Status) []*models.Application {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*models.Application
	for _, a := range c.records {
		if a.Status == status {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (c *Cache) Get(id string) (*models.Application, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Remove drops id locally. Used after a delete, ahead of the next reload.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	kept := c.records[:0]
	for _, a := range c.records {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	c.records = kept
	return true
}

// NotifyChanged emits one "data changed" event to every subscriber.
func (c *Cache) NotifyChanged(reason string) {
	c.events.Publish(Event{Reason: reason, At: time.Now().UTC()})
}

// Subscribe registers for "data changed" events. Call the returned func to
// unsubscribe.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

// Subscribers is the number of live event subscriptions.
func (c *Cache) Subscribers() int {
	return c.events.Len()
}

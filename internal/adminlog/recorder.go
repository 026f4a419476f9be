// Package adminlog keeps the operator activity log: one row per decision,
// delete, sync batch or failure, optionally mirrored into Elasticsearch.
package adminlog

import (
	"context"
	"strings"
	"time"

	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"

	"github.com/google/uuid"
)

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 50

type Recorder struct {
	store   store.Store
	table   string
	indexer Indexer
	log     logger.Logger

	now   func() time.Time
	newID func() string
}

// NewRecorder builds a recorder on table. indexer may be nil.
func NewRecorder(s store.Store, table string, indexer Indexer, log logger.Logger) *Recorder {
	return &Recorder{
		store:   s,
		table:   table,
		indexer: indexer,
		log:     logger.ForComponent(log, "adminlog"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Record stores entry, filling its id and timestamp when unset. A failed
// mirror write is logged and does not fail the call.
func (r *Recorder) Record(ctx context.Context, entry models.AdminLog) error {
	if entry.ID == "" {
		entry.ID = r.newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	if err := r.store.Insert(ctx, r.table, mapper.AdminLogRow(entry)); err != nil {
		r.log.WithError(err).Warn("Failed to record admin log", map[string]interface{}{"type": entry.Type, "title": entry.Title})
		return err
	}

	if r.indexer != nil {
		if err := r.indexer.Index(ctx, entry); err != nil {
			r.log.WithError(err).Warn("Failed to mirror admin log", map[string]interface{}{"id": entry.ID})
		}
	}
	return nil
}

// List returns up to limit entries, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]models.AdminLog, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := r.store.Select(ctx, r.table, store.Query{
		Order: []store.Order{{Column: "created_at", Descending: true}},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.AdminLog, 0, len(rows))
	for _, row := range rows {
		entry, err := mapper.AdminLogFromRow(row)
		if err != nil {
			r.log.WithError(err).Warn("Skipping undecodable admin log", nil)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Search finds entries mentioning text. Without an indexer it scans the
// newest entries in the store.
func (r *Recorder) Search(ctx context.Context, text string, limit int) ([]models.AdminLog, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if r.indexer != nil {
		return r.indexer.Search(ctx, text, limit)
	}

	recent, err := r.List(ctx, limit*4)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	out := make([]models.AdminLog, 0, limit)
	for _, e := range recent {
		if len(out) == limit {
			break
		}
		if needle == "" || strings.Contains(strings.ToLower(e.Title+" "+e.Message+" "+e.Username), needle) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Package store is the table-oriented remote store client: select, insert,
// update and delete with equality filters, plus a push change stream.
package store

import (
	"context"
	"time"
)

// Row is one table row keyed by column name.
type Row map[string]interface{}

// Filter is a conjunction of column equality conditions. A nil value matches NULL.
type Filter map[string]interface{}

// ByID is the common single-row filter.
func ByID(id string) Filter {
	return Filter{"id": id}
}

// Order sorts a select on one column.
type Order struct {
	Column     string
	Descending bool
}

// Query narrows a select. The zero value selects every row unordered.
type Query struct {
	Filter Filter
	Order  []Order
	Limit  int
}

// ChangeOp is the kind of row change carried by a ChangeEvent.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	// OpResync means events may have been lost; consumers should reload.
	OpResync ChangeOp = "resync"
)

// AllOps is the event mask for every change.
var AllOps = []ChangeOp{OpInsert, OpUpdate, OpDelete}

// ChangeEvent is one server-pushed change notification.
type ChangeEvent struct {
	Op         ChangeOp  `json:"op"`
	Table      string    `json:"table"`
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"-"`
}

// Subscription delivers change events until Close is called. The events
// channel is closed after Close returns.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Store is the remote table backend.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) error
	// Update applies patch to every row matching filter and reports how many matched.
	Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error)
	Delete(ctx context.Context, table string, filter Filter) (int64, error)
	// Subscribe streams changes on table. An empty ops mask means AllOps.
	Subscribe(ctx context.Context, table string, ops ...ChangeOp) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

func wantsOp(mask []ChangeOp, op ChangeOp) bool {
	if op == OpResync || len(mask) == 0 {
		return true
	}
	for _, m := range mask {
		if m == op {
			return true
		}
	}
	return false
}

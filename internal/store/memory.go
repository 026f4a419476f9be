package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"admissions-workers/internal/common/errors"
)

// Memory is an in-process Store for development and tests. Rows are copied on
// the way in and out. A non-empty "id" column is unique per table.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Row),
		subs:   make(map[*memorySubscription]struct{}),
	}
}

func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransportError("store", err)
	}

	m.mu.RLock()
	var out []Row
	for _, r := range m.tables[table] {
		if matches(r, q.Filter) {
			out = append(out, copyRow(r))
		}
	}
	m.mu.RUnlock()

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table string, rows ...Row) error {
	if err := ctx.Err(); err != nil {
		return errors.NewTransportError("store", err)
	}
	if len(rows) == 0 {
		return nil
	}

	m.mu.Lock()
	existing := make(map[string]struct{}, len(m.tables[table]))
	for _, r := range m.tables[table] {
		if id := rowID(r); id != "" {
			existing[id] = struct{}{}
		}
	}
	for _, r := range rows {
		id := rowID(r)
		if id == "" {
			continue
		}
		if _, dup := existing[id]; dup {
			m.mu.Unlock()
			return errors.NewConstraintViolationError(table, fmt.Errorf("duplicate key id=%s", id))
		}
		existing[id] = struct{}{}
	}
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], copyRow(r))
	}
	m.mu.Unlock()

	for _, r := range rows {
		m.publish(ChangeEvent{Op: OpInsert, Table: table, ID: rowID(r)})
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.NewTransportError("store", err)
	}
	if len(patch) == 0 {
		return 0, errors.NewInvalidInputError("empty update patch")
	}

	m.mu.Lock()
	var ids []string
	for _, r := range m.tables[table] {
		if !matches(r, filter) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		ids = append(ids, rowID(r))
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.publish(ChangeEvent{Op: OpUpdate, Table: table, ID: id})
	}
	return int64(len(ids)), nil
}

func (m *Memory) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.NewTransportError("store", err)
	}
	if len(filter) == 0 {
		return 0, errors.NewInvalidInputError("delete requires a filter")
	}

	m.mu.Lock()
	kept := m.tables[table][:0]
	var ids []string
	for _, r := range m.tables[table] {
		if matches(r, filter) {
			ids = append(ids, rowID(r))
			continue
		}
		kept = append(kept, r)
	}
	m.tables[table] = kept
	m.mu.Unlock()

	for _, id := range ids {
		m.publish(ChangeEvent{Op: OpDelete, Table: table, ID: id})
	}
	return int64(len(ids)), nil
}

func (m *Memory) Subscribe(ctx context.Context, table string, ops ...ChangeOp) (Subscription, error) {
	sub := &memorySubscription{
		owner:  m,
		table:  table,
		ops:    ops,
		events: make(chan ChangeEvent, 256),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewTransportError("store", fmt.Errorf("store closed"))
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.NewTransportError("store", fmt.Errorf("store closed"))
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*memorySubscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

// publish never blocks; a subscriber whose buffer is full gets a resync
// marker on its next free slot instead of the dropped event.
func (m *Memory) publish(ev ChangeEvent) {
	ev.ReceivedAt = time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if s.table != ev.Table || !wantsOp(s.ops, ev.Op) {
			continue
		}
		s.deliver(ev)
	}
}

type memorySubscription struct {
	owner  *Memory
	table  string
	ops    []ChangeOp
	events chan ChangeEvent

	mu      sync.Mutex
	closed  bool
	dropped bool
}

func (s *memorySubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *memorySubscription) deliver(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.dropped {
		select {
		case s.events <- ChangeEvent{Op: OpResync, Table: s.table, ReceivedAt: ev.ReceivedAt}:
			s.dropped = false
		default:
			return
		}
	}
	select {
	case s.events <- ev:
	default:
		s.dropped = true
	}
}

func (s *memorySubscription) Close() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func rowID(r Row) string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func matches(r Row, f Filter) bool {
	for k, want := range f {
		got, ok := r[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders nil first, then numbers, times and strings within
// their own kind. Mixed kinds compare by their formatted text.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Package storetest provides a Store decorator that records calls and injects
// failures, for engine tests.
package storetest

import (
	"context"
	"sync"

	"admissions-workers/internal/store"
)

// Call is one recorded write.
type Call struct {
	Op     string
	Table  string
	Filter store.Filter
	Rows   []store.Row
	Patch  store.Row
}

type fault struct {
	op    string
	table string
	err   error
	times int // 0 = always
	match func(Call) bool
}

// Faulty wraps a Store. Reads pass through; writes are recorded and may fail.
type Faulty struct {
	store.Store

	mu     sync.Mutex
	calls  []Call
	faults []*fault
}

func Wrap(s store.Store) *Faulty {
	return &Faulty{Store: s}
}

// FailOn makes every op ("insert", "update", "delete", "select") on table
// return err. An empty table matches any table.
func (f *Faulty) FailOn(op, table string, err error) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, table: table, err: err})
	return f
}

// FailOnceOn is FailOn for a single call.
func (f *Faulty) FailOnceOn(op, table string, err error) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, table: table, err: err, times: 1})
	return f
}

// FailWhen fails op on table for calls satisfying match.
func (f *Faulty) FailWhen(op, table string, match func(Call) bool, err error) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, table: table, err: err, match: match})
	return f
}

// Reset clears faults and recorded calls.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
	f.calls = nil
}

// Calls returns recorded writes, optionally limited to one op.
func (f *Faulty) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// WriteCount is the number of insert, update and delete calls.
func (f *Faulty) WriteCount() int {
	return len(f.Calls("insert")) + len(f.Calls("update")) + len(f.Calls("delete"))
}

func (f *Faulty) check(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Op != "select" {
		f.calls = append(f.calls, c)
	}
	for i, ft := range f.faults {
		if ft.op != c.Op || (ft.table != "" && ft.table != c.Table) {
			continue
		}
		if ft.match != nil && !ft.match(c) {
			continue
		}
		if ft.times == 1 {
			f.faults = append(f.faults[:i], f.faults[i+1:]...)
		}
		return ft.err
	}
	return nil
}

func (f *Faulty) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	if err := f.check(Call{Op: "select", Table: table, Filter: q.Filter}); err != nil {
		return nil, err
	}
	return f.Store.Select(ctx, table, q)
}

func (f *Faulty) Insert(ctx context.Context, table string, rows ...store.Row) error {
	if err := f.check(Call{Op: "insert", Table: table, Rows: rows}); err != nil {
		return err
	}
	return f.Store.Insert(ctx, table, rows...)
}

func (f *Faulty) Update(ctx context.Context, table string, filter store.Filter, patch store.Row) (int64, error) {
	if err := f.check(Call{Op: "update", Table: table, Filter: filter, Patch: patch}); err != nil {
		return 0, err
	}
	return f.Store.Update(ctx, table, filter, patch)
}

func (f *Faulty) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
	if err := f.check(Call{Op: "delete", Table: table, Filter: filter}); err != nil {
		return 0, err
	}
	return f.Store.Delete(ctx, table, filter)
}

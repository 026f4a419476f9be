package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"

	"github.com/lib/pq"
)

// Postgres implements Store over database/sql with lib/pq.
type Postgres struct {
	db        *sql.DB
	listen    ListenerFactory
	logger    logger.Logger
	maxParams int
}

// NewPostgres wraps db. listen may be nil when change streams are not needed.
func NewPostgres(db *sql.DB, listen ListenerFactory, log logger.Logger) *Postgres {
	return &Postgres{
		db:        db,
		listen:    listen,
		logger:    logger.ForComponent(log, "store.postgres"),
		maxParams: maxBindParams,
	}
}

func (p *Postgres) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(pq.QuoteIdentifier(table))

	where, args := buildWhere(q.Filter, 1)
	sb.WriteString(where)

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts[i] = pq.QuoteIdentifier(o.Column) + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(table, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			// text and numeric columns may come back as []byte
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, err)
	}
	return out, nil
}

// Insert writes all rows in one multi-row INSERT. Columns are the union of
// the rows' keys; a row missing a column inserts NULL.
// maxBindParams is the PostgreSQL limit on parameters in one statement.
const maxBindParams = 65535

// Insert writes rows with multi-row INSERTs sized under the bind parameter
// limit. Several statements run in one transaction so a batch is all or nothing.
func (p *Postgres) Insert(ctx context.Context, table string, rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}

	colSet := map[string]struct{}{}
	for _, r := range rows {
		for c := range r {
			colSet[c] = struct{}{}
		}
	}
	cols := sortedKeys(colSet)

	perStmt := p.maxParams / len(cols)
	if perStmt < 1 {
		return errors.NewInvalidInputError(fmt.Sprintf("%d columns exceed the parameter limit", len(cols)))
	}
	if len(rows) <= perStmt {
		query, args := insertStatement(table, cols, rows)
		if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
			return classify(table, err)
		}
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(table, err)
	}
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		query, args := insertStatement(table, cols, rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return classify(table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(table, err)
	}
	p.logger.Debug("Batched insert committed", map[string]interface{}{
		"table": table,
		"rows":  len(rows),
	})
	return nil
}

func insertStatement(table string, cols []string, rows []Row) (string, []interface{}) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	args := make([]interface{}, 0, len(cols)*len(rows))
	tuples := make([]string, len(rows))
	n := 1
	for i, r := range rows {
		ph := make([]string, len(cols))
		for j, c := range cols {
			ph[j] = fmt.Sprintf("$%d", n)
			args = append(args, r[c])
			n++
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	return query, args
}

func (p *Postgres) Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error) {
	if len(patch) == 0 {
		return 0, errors.NewInvalidInputError("empty update patch")
	}

	cols := make([]string, 0, len(patch))
	for c := range patch {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+len(filter))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
		args = append(args, patch[c])
	}

	where, whereArgs := buildWhere(filter, len(cols)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(table), strings.Join(sets, ", "), where)
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(table, err)
	}
	return rowsAffected(table, res)
}

func (p *Postgres) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	if len(filter) == 0 {
		return 0, errors.NewInvalidInputError("delete requires a filter")
	}

	where, args := buildWhere(filter, 1)
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(table)+where, args...)
	if err != nil {
		return 0, classify(table, err)
	}
	return rowsAffected(table, res)
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return errors.NewTransportError("store", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func rowsAffected(table string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(table, err)
	}
	return n, nil
}

func buildWhere(filter Filter, argStart int) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}

	cols := make([]string, 0, len(filter))
	for c := range filter {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	conds := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols))
	n := argStart
	for i, c := range cols {
		if filter[c] == nil {
			conds[i] = pq.QuoteIdentifier(c) + " IS NULL"
			continue
		}
		conds[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), n)
		args = append(args, filter[c])
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// classify maps integrity violations (SQLSTATE class 23) to
// ConstraintViolation and everything else to TransportError.
func classify(table string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return errors.NewConstraintViolationError(table, err)
	}
	return errors.NewTransportError("store", err)
}

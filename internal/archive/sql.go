package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/schoolarchive/internal/schema"
)

// Row is one scanned source row, column → value.
type Row = map[string]any

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = schema.Quote(c)
	}
	return strings.Join(q, ", ")
}

// scanRows drains rows into maps with []byte values converted to strings.
func scanRows(rows *sqlx.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		m := make(Row)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, schema.Normalize(m))
	}
	return out, rows.Err()
}

// selectEq reads every row of table where column = value.
func selectEq(ctx context.Context, q sqlx.QueryerContext, table, column string, value any, lock string) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?%s",
		schema.Quote(table), schema.Quote(column), lock)
	rows, err := q.QueryxContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return scanRows(rows)
}

// selectIn reads every row of table where column is one of values, chunked.
func selectIn(ctx context.Context, q sqlx.QueryerContext, table, column string, values []any, chunk int, lock string) ([]Row, error) {
	var out []Row
	for _, part := range chunkAny(values, chunk) {
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)%s",
			schema.Quote(table), schema.Quote(column), schema.Placeholders(len(part)), lock)
		rows, err := q.QueryxContext(ctx, query, part...)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		got, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		out = append(out, got...)
	}
	return out, nil
}

// deleteIn removes every row of table where column is one of values,
// chunked, and returns the number of rows removed.
func deleteIn(ctx context.Context, x sqlx.ExecerContext, table, column string, values []any, chunk int) (int64, error) {
	var n int64
	for _, part := range chunkAny(values, chunk) {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			schema.Quote(table), schema.Quote(column), schema.Placeholders(len(part)))
		res, err := x.ExecContext(ctx, query, part...)
		if err != nil {
			return n, fmt.Errorf("delete %s.%s: %w", table, column, err)
		}
		if c, err := res.RowsAffected(); err == nil {
			n += c
		}
	}
	return n, nil
}

// columnValues collects the distinct non-blank values of column across rows.
func columnValues(rows []Row, column string) []any {
	var out []any
	seen := make(map[string]struct{})
	for _, r := range rows {
		v, ok := lookup(r, column)
		if !ok || schema.Blank(v) {
			continue
		}
		key, _ := schema.Text(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// lookup reads column from r, falling back to a case-insensitive match
// because metadata and result-set casing can differ.
func lookup(r Row, column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

func chunkAny(values []any, size int) [][]any {
	if size <= 0 {
		size = len(values)
	}
	var out [][]any
	for len(values) > 0 {
		n := min(size, len(values))
		out = append(out, values[:n])
		values = values[n:]
	}
	return out
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int64
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// presentIDs returns the subset of ids that have a row in table.
func presentIDs(ctx context.Context, q sqlx.QueryerContext, table, column string, ids []int64) (map[int64]bool, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		schema.Quote(column), schema.Quote(table), schema.Quote(column), schema.Placeholders(len(ids)))
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[int64]bool, len(ids))
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[toInt64(v)] = true
	}
	return out, rows.Err()
}

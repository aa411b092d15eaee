package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/schoolarchive/internal/metrics"
	"github.com/yanizio/schoolarchive/internal/schema"
)

// Task is a best-effort identifier repair.  Running it more than once is
// safe: every UPDATE skips rows that already hold the canonical value, so
// at-least-once delivery converges.
type Task struct {
	Key     string
	Repairs []Repair
}

// Empty reports whether there is nothing to write.
func (t Task) Empty() bool { return len(t.Repairs) == 0 }

// Run applies every repair through x.  A failing repair does not stop the
// rest; the joined error lists every failure.  The returned count is the
// number of rows changed.
func (t Task) Run(ctx context.Context, x sqlx.ExecerContext) (int64, error) {
	var (
		changed int64
		errs    []error
	)
	for _, rep := range t.Repairs {
		n, err := rep.apply(ctx, x)
		if err != nil {
			metrics.IdentityRepairs.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("%s.%s: %w", rep.Table, rep.Column, err))
			continue
		}
		metrics.IdentityRepairs.WithLabelValues("ok").Inc()
		changed += n
	}
	return changed, errors.Join(errs...)
}

func (rep Repair) apply(ctx context.Context, x sqlx.ExecerContext) (int64, error) {
	if rep.MatchColumn == "" {
		return 0, fmt.Errorf("no match column")
	}
	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		schema.Quote(rep.Table), schema.Quote(rep.Column), schema.Quote(rep.MatchColumn))
	args := []any{rep.Value, rep.MatchValue}
	if rep.LinkColumn != "" && rep.LinkColumn != rep.MatchColumn {
		query += fmt.Sprintf(" AND %s = ?", schema.Quote(rep.LinkColumn))
		args = append(args, rep.LinkValue)
	}
	query += fmt.Sprintf(" AND (%s IS NULL OR %s <> ?)", schema.Quote(rep.Column), schema.Quote(rep.Column))
	args = append(args, rep.Value)

	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

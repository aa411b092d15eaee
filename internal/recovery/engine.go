// internal/recovery/engine.go
//
// Recovery Engine: preview and guarded restore.
//
// Context
// -------
// Both operations share classify(), which reads the live rows for a batch
// of ids and sorts them into three buckets:
//
//   - recoverable     – row present and its flag equals the set sentinel,
//   - notRecoverable  – row present but the flag is already clear, and
//   - notFound        – no row at all (never an error).
//
// Preview is a pure read with no transaction.  It also shows the archive
// snapshot saved for each found record, when the archive table has one.  Restore never trusts an
// earlier preview: it opens one transaction, re-classifies under row locks
// (`FOR UPDATE` on MySQL), and clears only the ids that are recoverable at
// that moment.  The UPDATE itself is also guarded by `flag = 1`, so a row
// restored by someone else between the read and the write is left alone.
//
// Workflow (restore)
// ------------------
//  1. Validate: ids non-empty, deduplicated, ≤ MaxIDs; reason and approval
//     note present and ≤ 500 chars.  No database work before this passes.
//  2. Load the schema Descriptor and resolve the entity's table, flag,
//     reason, actor, timestamp, and label columns.
//  3. Begin, classify with locks, clear flag + every existing recovery
//     column for the recoverable ids, commit.
//  4. Audit `recovery.restore`, or `recovery.noop` when nothing was
//     recoverable.  Zero recoverable ids is not an error.
//
// Notes
// -----
// • Ids arrive as strings (JSON numbers or strings) and are matched against
//   the identifier column's rendered value in canonical form, so "007"
//   finds row 7.
// • A restore that clears fewer flags than it classified rolls back.
// • Oxford commas, two spaces after periods.
package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/audit"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/metrics"
	"github.com/yanizio/schoolarchive/internal/schema"
	"github.com/yanizio/schoolarchive/internal/validate"
)

// DefaultMaxIDs caps one preview or restore batch.
const DefaultMaxIDs = 200

// Options configures the engine.  ArchiveTables are the archive-table
// candidates read for snapshot review; empty means the archive defaults.
type Options struct {
	MaxIDs        int
	ArchiveTables []string
}

// Record is the live projection of one requested id.
type Record struct {
	ID         string         `json:"id"`
	Flagged    bool           `json:"flagged"`
	OccurredAt any            `json:"occurredAt"`
	Reason     string         `json:"reason"`
	Labels     map[string]any `json:"labels"`
	// Snapshot is the saved archive snapshot, when one exists.
	Snapshot *archive.Stored `json:"snapshot,omitempty"`

	key any
}

// PreviewRequest lists ids to classify.
type PreviewRequest struct {
	EntityKey string   `json:"entity" validate:"required"`
	IDs       []string `json:"ids"    validate:"required,min=1,dive,required,max=64"`
}

// Preview is the three-way classification.
type Preview struct {
	Recoverable    []Record `json:"recoverable"`
	NotRecoverable []Record `json:"notRecoverable"`
	NotFound       []string `json:"notFound"`
}

// RestoreRequest asks for a supervised restore.
type RestoreRequest struct {
	EntityKey    string   `json:"entity"       validate:"required"`
	IDs          []string `json:"ids"          validate:"required,min=1,dive,required,max=64"`
	Reason       string   `json:"reason"       validate:"required,max=500"`
	ApprovalNote string   `json:"approvalNote" validate:"required,max=500"`
	ActorID      int64    `json:"-"`
	IP           string   `json:"-"`
}

// RestoreResult reports what was restored at restore time.
type RestoreResult struct {
	OperationID    string   `json:"operationId"`
	RestoredCount  int      `json:"restoredCount"`
	RestoredIDs    []string `json:"restoredIds"`
	NotRecoverable []string `json:"notRecoverable"`
	NotFound       []string `json:"notFound"`
	NoOp           bool     `json:"noop"`
}

// Engine previews and restores soft-deleted records.
type Engine struct {
	db       *sqlx.DB
	dialect  schema.Dialect
	entities *entity.Registry
	sink     audit.Sink
	log      *zap.Logger
	opts     Options
}

// NewEngine wires an Engine.  sink may be nil to skip auditing.
func NewEngine(db *sqlx.DB, entities *entity.Registry, sink audit.Sink, log *zap.Logger, opts Options) (*Engine, error) {
	dialect, err := schema.DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxIDs <= 0 {
		opts.MaxIDs = DefaultMaxIDs
	}
	if len(opts.ArchiveTables) == 0 {
		opts.ArchiveTables = archive.DefaultOptions().ArchiveTables
	}
	return &Engine{db: db, dialect: dialect, entities: entities, sink: sink, log: log, opts: opts}, nil
}

// Preview classifies ids without mutating anything.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	req.IDs = validate.DedupStrings(req.IDs)
	if err := validate.Join(
		validate.Struct(req),
		validate.MaxItems("ids", len(req.IDs), e.opts.MaxIDs),
	); err != nil {
		return Preview{}, err
	}
	t, d, err := e.target(ctx, req.EntityKey)
	if err != nil {
		return Preview{}, err
	}
	p, err := classify(ctx, e.db, t, req.IDs, "")
	if err != nil {
		return Preview{}, err
	}
	if err := e.attachSnapshots(ctx, d, t.Entity, p); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// attachSnapshots adds the saved archive snapshot to each found record so
// a reviewer sees what was captured at archive time.  A schema without a
// scoped archive table simply has no snapshots to show.
func (e *Engine) attachSnapshots(ctx context.Context, d *schema.Descriptor, ent entity.Entity, p Preview) error {
	recs := make([]*Record, 0, len(p.Recoverable)+len(p.NotRecoverable))
	for i := range p.Recoverable {
		recs = append(recs, &p.Recoverable[i])
	}
	for i := range p.NotRecoverable {
		recs = append(recs, &p.NotRecoverable[i])
	}
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}

	found, err := archive.LookupSnapshots(ctx, e.db, d, e.opts.ArchiveTables, ent, ids)
	var su *apperror.SchemaUnavailable
	if errors.As(err, &su) {
		e.log.Debug("no snapshot store for preview", zap.String("entity", ent.Key), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("preview %s: %w", ent.Key, err)
	}
	for _, r := range recs {
		n, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		if st, ok := found[n]; ok {
			r.Snapshot = &st
		}
	}
	return nil
}

// Restore re-classifies ids inside one transaction and clears the flag on
// those recoverable now.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) (RestoreResult, error) {
	req.IDs = validate.DedupStrings(req.IDs)
	req.Reason = strings.TrimSpace(req.Reason)
	req.ApprovalNote = strings.TrimSpace(req.ApprovalNote)
	if err := validate.Join(
		validate.Struct(req),
		validate.MaxItems("ids", len(req.IDs), e.opts.MaxIDs),
	); err != nil {
		return RestoreResult{}, err
	}
	t, _, err := e.target(ctx, req.EntityKey)
	if err != nil {
		return RestoreResult{}, err
	}

	res := RestoreResult{OperationID: uuid.NewString(), RestoredIDs: []string{}}
	log := e.log.With(zap.String("operation_id", res.OperationID), zap.String("entity", t.Entity.Key))

	p, err := e.restoreTx(ctx, t, req.IDs)
	if err != nil {
		metrics.RecoveryOutcomes.WithLabelValues(t.Entity.Key, "failed").Inc()
		log.Error("restore rolled back", zap.Error(err))
		return RestoreResult{}, err
	}

	for _, r := range p.Recoverable {
		res.RestoredIDs = append(res.RestoredIDs, r.ID)
	}
	res.RestoredCount = len(res.RestoredIDs)
	res.NotRecoverable = recordIDs(p.NotRecoverable)
	res.NotFound = p.NotFound
	res.NoOp = res.RestoredCount == 0

	action := audit.ActionRestore
	if res.NoOp {
		action = audit.ActionRestoreNoop
		metrics.RecoveryOutcomes.WithLabelValues(t.Entity.Key, "noop").Inc()
		log.Info("restore no-op: nothing recoverable", zap.Strings("requested", req.IDs))
	} else {
		metrics.RecoveryOutcomes.WithLabelValues(t.Entity.Key, "restored").Add(float64(res.RestoredCount))
		log.Info("records restored", zap.Strings("restored", res.RestoredIDs), zap.Int("count", res.RestoredCount))
	}
	metrics.RecoveryOutcomes.WithLabelValues(t.Entity.Key, "not_recoverable").Add(float64(len(res.NotRecoverable)))
	metrics.RecoveryOutcomes.WithLabelValues(t.Entity.Key, "not_found").Add(float64(len(res.NotFound)))

	audit.Record(ctx, e.sink, log, audit.Entry{
		OperationID: res.OperationID,
		Action:      action,
		ActorID:     req.ActorID,
		IPAddress:   req.IP,
		Details: map[string]any{
			"entity":          t.Entity.Key,
			"requested_ids":   req.IDs,
			"restored_ids":    res.RestoredIDs,
			"restored_count":  res.RestoredCount,
			"not_recoverable": res.NotRecoverable,
			"not_found":       res.NotFound,
			"noop":            res.NoOp,
			"reason":          req.Reason,
			"approval_note":   req.ApprovalNote,
		},
	})
	return res, nil
}

// target loads the schema and resolves the entity against it.
func (e *Engine) target(ctx context.Context, key string) (entity.Target, *schema.Descriptor, error) {
	ent, err := e.entities.Lookup(key)
	if err != nil {
		return entity.Target{}, nil, err
	}
	d, err := schema.Load(ctx, e.db, e.dialect)
	if err != nil {
		return entity.Target{}, nil, fmt.Errorf("recovery %s: %w", ent.Key, err)
	}
	t, err := ent.Resolve(d)
	return t, d, err
}

// restoreTx runs classification and the guarded UPDATE in one transaction.
func (e *Engine) restoreTx(ctx context.Context, t entity.Target, ids []string) (p Preview, err error) {
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return Preview{}, &apperror.TransactionError{Op: "restore " + t.Entity.Key, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err = classify(ctx, tx, t, ids, e.dialect.LockSuffix())
	if err != nil {
		return Preview{}, &apperror.TransactionError{Op: "restore " + t.Entity.Key, Err: err}
	}
	if len(p.Recoverable) > 0 {
		if err = clearFlags(ctx, tx, t, p.Recoverable); err != nil {
			return Preview{}, &apperror.TransactionError{Op: "restore " + t.Entity.Key, Err: err}
		}
	}
	if err = tx.Commit(); err != nil {
		return Preview{}, &apperror.TransactionError{Op: "restore " + t.Entity.Key, Err: err}
	}
	return p, nil
}

// clearFlags resets the flag and every existing recovery column of recs.
func clearFlags(ctx context.Context, x sqlx.ExecerContext, t entity.Target, recs []Record) error {
	set := []string{schema.Quote(t.Flag) + " = ?"}
	args := []any{entity.FlagClear}
	for _, c := range []string{t.Reason, t.At, t.By} {
		if c != "" {
			set = append(set, schema.Quote(c)+" = NULL")
		}
	}
	for _, r := range recs {
		args = append(args, r.key)
	}
	args = append(args, entity.FlagSet)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s IN (%s) AND %s = ?",
		schema.Quote(t.Table), strings.Join(set, ", "),
		schema.Quote(t.ID), schema.Placeholders(len(recs)), schema.Quote(t.Flag))
	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(recs)) {
		return fmt.Errorf("cleared %d of %d %s flags", n, len(recs), t.Table)
	}
	return nil
}

// classify reads the live rows for ids and partitions them.  Output lists
// follow request order.
func classify(ctx context.Context, q sqlx.QueryerContext, t entity.Target, ids []string, lock string) (Preview, error) {
	p := Preview{Recoverable: []Record{}, NotRecoverable: []Record{}, NotFound: []string{}}

	cols := t.ReadColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.Quote(c)
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		if c := validate.CanonicalID(id); c != id {
			args = append(args, c)
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)%s",
		strings.Join(quoted, ", "), schema.Quote(t.Table), schema.Quote(t.ID), schema.Placeholders(len(args)), lock)

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return p, fmt.Errorf("read %s: %w", t.Table, err)
	}
	defer rows.Close()

	found := make(map[string]Record, len(ids))
	for rows.Next() {
		m := make(map[string]any, len(cols))
		if err := rows.MapScan(m); err != nil {
			return p, err
		}
		r := project(t, schema.Normalize(m))
		found[validate.CanonicalID(r.ID)] = r
	}
	if err := rows.Err(); err != nil {
		return p, err
	}

	for _, id := range ids {
		r, ok := found[validate.CanonicalID(id)]
		switch {
		case !ok:
			p.NotFound = append(p.NotFound, id)
		case r.Flagged:
			p.Recoverable = append(p.Recoverable, r)
		default:
			p.NotRecoverable = append(p.NotRecoverable, r)
		}
	}
	return p, nil
}

func project(t entity.Target, m map[string]any) Record {
	r := Record{Labels: make(map[string]any, len(t.Labels))}
	r.key = m[t.ID]
	r.ID, _ = schema.Text(r.key)
	r.ID = strings.TrimSpace(r.ID)
	r.Flagged = entity.FlagIsSet(m[t.Flag])
	if t.Reason != "" {
		r.Reason, _ = schema.Text(m[t.Reason])
	}
	if t.At != "" {
		r.OccurredAt = m[t.At]
		if ts, ok := r.OccurredAt.(time.Time); ok {
			r.OccurredAt = ts.UTC().Format(time.RFC3339)
		}
	}
	for _, l := range t.Labels {
		r.Labels[l.Name] = m[l.Column]
	}
	return r
}

func recordIDs(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

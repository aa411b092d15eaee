package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/schema"
)

// flagger archives by snapshotting a record and setting its recovery-mode
// flag, reason, actor, and timestamp columns.  The row stays in place so the
// recovery engine can restore it.
type flagger struct {
	target entity.Target
	store  *snapshotStore
	opts   Options
	lock   string
	log    *zap.Logger
}

func newFlagger(e *Engine, d *schema.Descriptor, ent entity.Entity, store *snapshotStore, log *zap.Logger) (*flagger, error) {
	t, err := ent.Resolve(d)
	if err != nil {
		return nil, err
	}
	return &flagger{target: t, store: store, opts: e.opts, lock: d.Dialect().LockSuffix(), log: log}, nil
}

func (f *flagger) present(ctx context.Context, q sqlx.QueryerContext, ids []int64) (map[int64]bool, error) {
	return presentIDs(ctx, q, f.target.Table, f.target.ID, ids)
}

func (f *flagger) archive(ctx context.Context, tx *sqlx.Tx, id int64, req Request) (Archived, bool, error) {
	t := f.target
	rows, err := selectEq(ctx, tx, t.Table, t.ID, id, f.lock)
	if err != nil {
		return Archived{}, false, err
	}
	if len(rows) == 0 {
		return Archived{}, false, nil
	}
	row := rows[0]

	snap := Snapshot{
		RootID:     id,
		EntityKey:  t.Entity.Key,
		Identifier: f.identifier(row, id),
		Name:       displayName(row),
		Email:      firstText(rows, snapshotEmailColumns),
		Contact:    firstText(rows, snapshotContactColumns),
		Reason:     req.Reason,
		ActorID:    req.ActorID,
		ArchivedAt: req.at,
	}
	if snap.Name == "" {
		snap.Name = f.labelText(row)
	}
	if f.opts.ForensicSnapshot {
		snap.Data = forensic(t.Entity.Key, row, nil, f.log)
	}

	archiveID, reused, err := f.store.save(ctx, tx, snap)
	if err != nil {
		return Archived{}, false, err
	}

	set := []string{schema.Quote(t.Flag) + " = ?"}
	args := []any{entity.FlagSet}
	if t.Reason != "" {
		set = append(set, schema.Quote(t.Reason)+" = ?")
		args = append(args, nullable(req.Reason))
	}
	if t.At != "" {
		set = append(set, schema.Quote(t.At)+" = ?")
		args = append(args, req.at)
	}
	if t.By != "" {
		set = append(set, schema.Quote(t.By)+" = ?")
		args = append(args, req.ActorID)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		schema.Quote(t.Table), strings.Join(set, ", "), schema.Quote(t.ID))
	if _, err := tx.ExecContext(ctx, query, append(args, id)...); err != nil {
		return Archived{}, false, fmt.Errorf("flag %s: %w", t.Table, err)
	}

	return Archived{ID: id, Name: snap.Name, Email: snap.Email, ArchiveID: archiveID, Reused: reused}, true, nil
}

// identifier is the record's first non-blank identifier column other than
// the row key, else the row key itself.
func (f *flagger) identifier(row Row, id int64) string {
	for _, c := range schema.ResolveAll(f.target.Cols, f.target.Entity.IDColumns) {
		if c == f.target.ID {
			continue
		}
		if v, ok := lookup(row, c); ok && !schema.Blank(v) {
			s, _ := schema.Text(v)
			return s
		}
	}
	return f.target.Entity.FormatRootID(id)
}

// labelText joins the label values for entities without a name column.
func (f *flagger) labelText(row Row) string {
	var parts []string
	for _, l := range f.target.Labels {
		if v, ok := lookup(row, l.Column); ok && !schema.Blank(v) {
			s, _ := schema.Text(v)
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}

// internal/archive/purge.go
//
// Purge strategy: snapshot, then cascade-delete a user-linked record.
//
// Workflow (one root users id, inside its own transaction)
// --------------------------------------------------------
//  1. Lock and read the root users row.  Absent → not found.
//  2. Collect entity-table rows for the id.  Each candidate table tries its
//     match columns in priority order and keeps the first column that
//     returns rows.
//  3. Reuse the existing snapshot or insert a new one.
//  4. For each collected table, delete everything that references those
//     rows through a discovered foreign key (recursing up to the cascade
//     depth), then delete the rows through the one column that matched.
//  5. Delete rows of every other table that references the root row.
//  6. Delete activity-log rows for the id.
//  7. Delete the root row.
//
// Any error returns to the engine, which rolls the transaction back.
//
// Notes
// -----
// • Rows are only ever matched through the column that found them in step
//   2 or through a discovered edge.  A bare `id` column is used only when
//   a foreign key from that exact column into the root table exists.
// • Blank identifier copies on entity rows are read as the canonical
//   identifier when following edges, so dependents keyed on the canonical
//   value are still found before the reconciler catches up.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/schema"
)

type purge struct {
	ent      entity.Entity
	d        *schema.Descriptor
	graph    *schema.Graph
	ids      *identity.Reconciler
	store    *snapshotStore
	root     string
	rootKey  string
	activity []activityTable
	opts     Options
	lock     string
	log      *zap.Logger
}

type activityTable struct {
	table  string
	column string
}

// source is the set of rows one entity table holds for a root id.
type source struct {
	table  string
	column string
	value  any
	rows   []Row
}

func newPurge(e *Engine, d *schema.Descriptor, ent entity.Entity, store *snapshotStore, log *zap.Logger) (*purge, error) {
	root, cols, ok := schema.ResolveTable(d, e.opts.RootTables)
	if !ok {
		return nil, unavailable(ent, strings.Join(e.opts.RootTables, "|"), "")
	}
	key, ok := schema.ResolveExact(cols, e.opts.RootKeys)
	if !ok {
		return nil, unavailable(ent, root, e.opts.RootKeys[0])
	}

	p := &purge{
		ent:     ent,
		d:       d,
		graph:   schema.NewGraph(d, e.adminTables(store.table)...),
		ids:     e.ids,
		store:   store,
		root:    root,
		rootKey: key,
		opts:    e.opts,
		lock:    d.Dialect().LockSuffix(),
		log:     log,
	}

	linkCandidates := append([]string{"user_id"}, e.opts.RootKeys...)
	for _, name := range e.opts.ActivityTables {
		table, ok := d.Table(name)
		if !ok {
			continue
		}
		col, ok := schema.ResolveExact(d.Columns(table), linkCandidates)
		if !ok || schema.AmbiguousColumn(col) {
			continue
		}
		p.activity = append(p.activity, activityTable{table: table, column: col})
	}
	return p, nil
}

func (p *purge) present(ctx context.Context, q sqlx.QueryerContext, ids []int64) (map[int64]bool, error) {
	return presentIDs(ctx, q, p.root, p.rootKey, ids)
}

func (p *purge) archive(ctx context.Context, tx *sqlx.Tx, rootID int64, req Request) (Archived, bool, error) {
	rootRows, err := selectEq(ctx, tx, p.root, p.rootKey, rootID, p.lock)
	if err != nil {
		return Archived{}, false, err
	}
	if len(rootRows) == 0 {
		return Archived{}, false, nil
	}
	rootRow := rootRows[0]

	canonical, err := p.ids.Canonical(ctx, tx, p.d, p.ent, rootID)
	if err != nil {
		return Archived{}, false, fmt.Errorf("canonical identifier: %w", err)
	}

	sources, err := p.collect(ctx, tx, rootID, canonical)
	if err != nil {
		return Archived{}, false, err
	}

	snap := p.snapshot(rootID, canonical, rootRow, sources, req)
	archiveID, reused, err := p.store.save(ctx, tx, snap)
	if err != nil {
		return Archived{}, false, err
	}

	// Entity tables and their dependents.
	handled := map[string]bool{strings.ToLower(p.root): true}
	for _, src := range sources {
		handled[strings.ToLower(src.table)] = true
	}
	for _, src := range sources {
		chain := map[string]bool{strings.ToLower(p.root): true, strings.ToLower(src.table): true}
		rows := p.withCanonical(src, canonical)
		if err := p.purgeReferencing(ctx, tx, src.table, rows, 1, chain); err != nil {
			return Archived{}, false, err
		}
		n, err := deleteIn(ctx, tx, src.table, src.column, []any{src.value}, 1)
		if err != nil {
			return Archived{}, false, err
		}
		p.log.Debug("entity rows deleted", zap.String("table", src.table), zap.String("column", src.column), zap.Int64("rows", n))
	}

	// Everything else that points at the users row.
	for _, e := range p.graph.ReferencingTables(p.root) {
		if handled[strings.ToLower(e.Table)] {
			continue
		}
		vals := columnValues([]Row{rootRow}, e.ReferencedColumn)
		if len(vals) == 0 {
			continue
		}
		chain := map[string]bool{strings.ToLower(p.root): true}
		if err := p.purgeWhere(ctx, tx, e.Table, e.Column, vals, 1, chain); err != nil {
			return Archived{}, false, err
		}
	}

	for _, a := range p.activity {
		if _, err := deleteIn(ctx, tx, a.table, a.column, []any{rootID}, 1); err != nil {
			return Archived{}, false, err
		}
	}

	if _, err := deleteIn(ctx, tx, p.root, p.rootKey, []any{rootID}, 1); err != nil {
		return Archived{}, false, err
	}

	return Archived{
		ID:        rootID,
		Name:      snap.Name,
		Email:     snap.Email,
		ArchiveID: archiveID,
		Reused:    reused,
	}, true, nil
}

// collect implements step 2: for every entity table that exists, the first
// match column that returns rows wins.
func (p *purge) collect(ctx context.Context, q sqlx.QueryerContext, rootID int64, canonical string) ([]source, error) {
	var out []source
	seen := map[string]bool{strings.ToLower(p.root): true}
	for _, cand := range p.ent.Tables {
		table, ok := p.d.Table(cand)
		if !ok || seen[strings.ToLower(table)] {
			continue
		}
		seen[strings.ToLower(table)] = true

		for _, m := range p.matchers(table, rootID, canonical) {
			rows, err := selectEq(ctx, q, table, m.column, m.value, p.lock)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				out = append(out, source{table: table, column: m.column, value: m.value, rows: rows})
				break
			}
		}
	}
	return out, nil
}

type matcher struct {
	column string
	value  any
}

// matchers lists the (column, value) pairs that may identify rootID's rows
// in table, in priority order: link columns carry the users id, identifier
// columns carry the canonical identifier.
func (p *purge) matchers(table string, rootID int64, canonical string) []matcher {
	cols := p.d.Columns(table)
	var out []matcher
	seen := map[string]bool{}
	add := func(col string, v any) {
		if seen[col] {
			return
		}
		seen[col] = true
		out = append(out, matcher{column: col, value: v})
	}

	for _, col := range schema.ResolveAll(cols, p.ent.LinkColumns) {
		if schema.AmbiguousColumn(col) && !p.graph.Validated(table, col, p.root) {
			continue
		}
		add(col, rootID)
	}
	for _, col := range schema.ResolveAll(cols, p.ent.IDColumns) {
		if schema.AmbiguousColumn(col) {
			if p.graph.Validated(table, col, p.root) {
				add(col, rootID)
			}
			continue
		}
		if canonical != "" {
			add(col, canonical)
		}
	}
	return out
}

// withCanonical returns src's rows with blank identifier columns read as
// the canonical identifier.
func (p *purge) withCanonical(src source, canonical string) []Row {
	if canonical == "" {
		return src.rows
	}
	var idCols []string
	for _, c := range schema.ResolveAll(p.d.Columns(src.table), p.ent.IDColumns) {
		if !schema.AmbiguousColumn(c) {
			idCols = append(idCols, c)
		}
	}
	out := make([]Row, len(src.rows))
	for i, r := range src.rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		for _, c := range idCols {
			if v, _ := lookup(cp, c); schema.Blank(v) {
				cp[c] = canonical
			}
		}
		out[i] = cp
	}
	return out
}

// purgeReferencing deletes every row that references rows of table.
// chain holds the tables on the current path so cycles terminate.
func (p *purge) purgeReferencing(ctx context.Context, tx *sqlx.Tx, table string, rows []Row, depth int, chain map[string]bool) error {
	if len(rows) == 0 {
		return nil
	}
	for _, e := range p.graph.ReferencingTables(table) {
		if chain[strings.ToLower(e.Table)] {
			continue
		}
		vals := columnValues(rows, e.ReferencedColumn)
		if len(vals) == 0 {
			continue
		}
		if err := p.purgeWhere(ctx, tx, e.Table, e.Column, vals, depth, chain); err != nil {
			return err
		}
	}
	return nil
}

// purgeWhere deletes table rows whose column matches vals, after their own
// dependents when depth allows.
func (p *purge) purgeWhere(ctx context.Context, tx *sqlx.Tx, table, column string, vals []any, depth int, chain map[string]bool) error {
	if depth < p.opts.CascadeDepth && len(p.graph.ReferencingTables(table)) > 0 {
		rows, err := selectIn(ctx, tx, table, column, vals, p.opts.ChunkSize, p.lock)
		if err != nil {
			return err
		}
		next := make(map[string]bool, len(chain)+1)
		for k := range chain {
			next[k] = true
		}
		next[strings.ToLower(table)] = true
		if err := p.purgeReferencing(ctx, tx, table, rows, depth+1, next); err != nil {
			return err
		}
	}
	n, err := deleteIn(ctx, tx, table, column, vals, p.opts.ChunkSize)
	if err != nil {
		return err
	}
	p.log.Debug("dependent rows deleted",
		zap.String("table", table), zap.String("column", column), zap.Int("depth", depth), zap.Int64("rows", n))
	return nil
}

// snapshot builds the archive row from the root row and collected sources.
func (p *purge) snapshot(rootID int64, canonical string, root Row, sources []source, req Request) Snapshot {
	all := []Row{root}
	for _, s := range sources {
		all = append(all, s.rows...)
	}
	snap := Snapshot{
		RootID:     rootID,
		EntityKey:  p.ent.Key,
		Identifier: canonical,
		Name:       displayName(all...),
		Email:      firstText(all, snapshotEmailColumns),
		Contact:    firstText(all, snapshotContactColumns),
		Reason:     req.Reason,
		ActorID:    req.ActorID,
		ArchivedAt: req.at,
	}
	if p.opts.ForensicSnapshot {
		tables := make(map[string][]Row, len(sources))
		for _, s := range sources {
			tables[s.table] = s.rows
		}
		snap.Data = forensic(p.ent.Key, root, tables, p.log)
	}
	return snap
}

func forensic(entityKey string, root Row, tables map[string][]Row, log *zap.Logger) []byte {
	b, err := json.Marshal(map[string]any{
		"entity": entityKey,
		"root":   root,
		"tables": tables,
	})
	if err != nil {
		log.Warn("forensic snapshot skipped", zap.Error(err))
		return nil
	}
	return b
}

// displayName prefers a name column, then first + last name.
func displayName(rows ...Row) string {
	if s := firstText(rows, snapshotNameColumns); s != "" {
		return s
	}
	for _, r := range rows {
		first, _ := lookup(r, "first_name")
		last, _ := lookup(r, "last_name")
		f, _ := schema.Text(first)
		l, _ := schema.Text(last)
		if name := strings.TrimSpace(f + " " + l); name != "" {
			return name
		}
	}
	return ""
}

func firstText(rows []Row, columns []string) string {
	for _, r := range rows {
		for _, c := range columns {
			v, ok := lookup(r, c)
			if !ok || schema.Blank(v) {
				continue
			}
			s, _ := schema.Text(v)
			return strings.TrimSpace(s)
		}
	}
	return ""
}

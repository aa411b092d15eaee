// internal/identity/reconciler.go
//
// Identifier Reconciler.
//
// Context
// -------
// Teacher-type entities carry their public identifier (e.g. "7000-042") in
// several denormalized places: `users.master_teacher_id`,
// `master_teacher.master_teacher_id`, sometimes `master_teacher.teacher_id`.
// Those copies drift.  Plan() reads every copy, picks one canonical value,
// and lists the write-backs needed to make the copies agree.
//
// Canonical value, in priority order:
//
//  1. the first non-NULL, non-blank stored copy (root users columns first,
//     then entity-table identifier columns in candidate order),
//  2. the root id formatted with the entity's IDFormat.
//
// Every Repair matches its row on the most specific previous value
// available: the old identifier when one exists (scoped by the row's link
// column when the table has one), otherwise the link column alone.  That
// keeps renamed-but-not-migrated rows reachable.
//
// Workflow
// --------
//  1. Plan() runs inside the caller's read path and never writes.
//  2. Plan.Task() packages the repairs as a best-effort Task.
//  3. A Dispatcher (dispatcher.go) executes the Task outside the caller's
//     transaction.  Failures are logged, never returned to the caller.
//
// Applying a Plan and planning again yields zero repairs.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/schema"
)

// maxEntityRows caps how many entity-table rows one root id may own.
const maxEntityRows = 50

// Location is one stored copy of an entity identifier.
type Location struct {
	Table      string `json:"table"`
	Column     string `json:"column"`
	Value      any    `json:"value"`
	LinkColumn string `json:"link_column"`
	LinkValue  any    `json:"link_value"`
}

// Repair rewrites one Location to the canonical value.
type Repair struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	Value       string `json:"value"`
	MatchColumn string `json:"match_column"`
	MatchValue  any    `json:"match_value"`
	LinkColumn  string `json:"link_column,omitempty"`
	LinkValue   any    `json:"link_value,omitempty"`
}

// Plan is the result of reading every identifier copy for one root id.
type Plan struct {
	EntityKey string     `json:"entity"`
	RootID    int64      `json:"root_id"`
	Canonical string     `json:"canonical"`
	Source    string     `json:"source"`
	Locations []Location `json:"locations"`
	Repairs   []Repair   `json:"repairs"`
}

// Task packages the plan's repairs for a Dispatcher.
func (p Plan) Task() Task {
	return Task{Key: fmt.Sprintf("%s:%d", p.EntityKey, p.RootID), Repairs: p.Repairs}
}

// Reconciler computes canonical identifiers.  Zero value is unusable;
// construct with NewReconciler.
type Reconciler struct {
	rootTables []string
	rootKeys   []string
	log        *zap.Logger
}

// NewReconciler returns a Reconciler that finds the root users row through
// the given candidate table and key-column names.
func NewReconciler(rootTables, rootKeys []string, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{rootTables: rootTables, rootKeys: rootKeys, log: log}
}

// Canonical is Plan without the repair list, for callers that only need the
// value (the archive engine, which is about to delete the copies anyway).
func (r *Reconciler) Canonical(ctx context.Context, q sqlx.QueryerContext, d *schema.Descriptor, ent entity.Entity, rootID int64) (string, error) {
	p, err := r.Plan(ctx, q, d, ent, rootID)
	if err != nil {
		return "", err
	}
	return p.Canonical, nil
}

// Plan reads every identifier copy of ent for rootID and lists the repairs
// that would make them agree.
func (r *Reconciler) Plan(ctx context.Context, q sqlx.QueryerContext, d *schema.Descriptor, ent entity.Entity, rootID int64) (Plan, error) {
	p := Plan{EntityKey: ent.Key, RootID: rootID}

	rootLocs, err := r.rootLocations(ctx, q, d, ent, rootID)
	if err != nil {
		return p, err
	}
	entLocs, err := r.entityLocations(ctx, q, d, ent, rootID)
	if err != nil {
		return p, err
	}
	p.Locations = append(rootLocs, entLocs...)

	for _, loc := range p.Locations {
		if !schema.Blank(loc.Value) {
			s, _ := schema.Text(loc.Value)
			p.Canonical = strings.TrimSpace(s)
			p.Source = loc.Table + "." + loc.Column
			break
		}
	}
	if p.Canonical == "" {
		p.Canonical = ent.FormatRootID(rootID)
		p.Source = "root_id"
	}

	for _, loc := range p.Locations {
		if cur, ok := schema.Text(loc.Value); ok && strings.TrimSpace(cur) == p.Canonical {
			continue
		}
		p.Repairs = append(p.Repairs, repairFor(loc, p.Canonical))
	}

	r.log.Debug("identity plan",
		zap.String("entity", ent.Key),
		zap.Int64("root_id", rootID),
		zap.String("canonical", p.Canonical),
		zap.String("source", p.Source),
		zap.Int("repairs", len(p.Repairs)))
	return p, nil
}

// repairFor builds the write-back for one stale location.
func repairFor(loc Location, canonical string) Repair {
	rep := Repair{Table: loc.Table, Column: loc.Column, Value: canonical}
	if !schema.Blank(loc.Value) {
		rep.MatchColumn, rep.MatchValue = loc.Column, loc.Value
		if loc.LinkColumn != "" {
			rep.LinkColumn, rep.LinkValue = loc.LinkColumn, loc.LinkValue
		}
		return rep
	}
	rep.MatchColumn, rep.MatchValue = loc.LinkColumn, loc.LinkValue
	return rep
}

// rootLocations reads users.<entity id columns> for rootID.
func (r *Reconciler) rootLocations(ctx context.Context, q sqlx.QueryerContext, d *schema.Descriptor, ent entity.Entity, rootID int64) ([]Location, error) {
	table, cols, ok := schema.ResolveTable(d, r.rootTables)
	if !ok || len(ent.RootIDColumns) == 0 {
		return nil, nil
	}
	key, ok := schema.ResolveExact(cols, r.rootKeys)
	if !ok {
		return nil, nil
	}
	idCols := without(schema.ResolveAll(cols, ent.RootIDColumns), key)
	if len(idCols) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		quoteList(idCols), schema.Quote(table), schema.Quote(key))
	rows, err := q.QueryxContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("read %s identifiers: %w", table, err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, c := range idCols {
			out = append(out, Location{Table: table, Column: c, Value: normalize(vals[i]), LinkColumn: key, LinkValue: rootID})
		}
	}
	return out, rows.Err()
}

// entityLocations reads the entity table's identifier columns for every row
// linked to rootID.
func (r *Reconciler) entityLocations(ctx context.Context, q sqlx.QueryerContext, d *schema.Descriptor, ent entity.Entity, rootID int64) ([]Location, error) {
	table, cols, ok := schema.ResolveTable(d, ent.Tables)
	if !ok {
		return nil, nil
	}
	link, ok := schema.ResolveExact(cols, ent.LinkColumns)
	if !ok || schema.AmbiguousColumn(link) {
		return nil, nil
	}

	var idCols []string
	for _, c := range without(schema.ResolveAll(cols, ent.IDColumns), link) {
		if !schema.AmbiguousColumn(c) {
			idCols = append(idCols, c)
		}
	}
	if len(idCols) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT %d",
		quoteList(idCols), schema.Quote(table), schema.Quote(link), maxEntityRows)
	rows, err := q.QueryxContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("read %s identifiers: %w", table, err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, c := range idCols {
			out = append(out, Location{Table: table, Column: c, Value: normalize(vals[i]), LinkColumn: link, LinkValue: rootID})
		}
	}
	return out, rows.Err()
}

func without(cols []string, drop string) []string {
	out := cols[:0:0]
	for _, c := range cols {
		if !strings.EqualFold(c, drop) {
			out = append(out, c)
		}
	}
	return out
}

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = schema.Quote(c)
	}
	return strings.Join(q, ", ")
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// internal/schema/descriptor.go
//
// Column Catalog: an immutable snapshot of the live schema.
//
// Context
// -------
// The portal runs against databases whose shape differs per deployment.
// Rather than asking "does this column exist?" ad hoc, every operation calls
// Load() once.  Load reads every table, column, and foreign key of the
// current schema in two round trips and returns a *Descriptor that is passed
// to every downstream step.  Nothing re-queries the schema mid-operation,
// and a Descriptor is never cached across requests.
//
// Lookups fail soft: Columns() on an absent table returns an empty
// ColumnSet, so callers treat "missing" and "empty" the same way.
//
// Notes
// -----
// • Table lookups are exact first, then case-insensitive.
// • Oxford commas, two spaces after periods.
package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/schoolarchive/internal/metrics"
)

// ColumnSet is the ordered set of columns physically present on one table.
// The zero value is an empty set.
type ColumnSet struct {
	names []string
	index map[string]struct{}
	pk    []string
}

// NewColumnSet builds a set in the given (ordinal) order.
func NewColumnSet(names ...string) ColumnSet {
	cs := ColumnSet{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if _, dup := cs.index[n]; dup {
			continue
		}
		cs.index[n] = struct{}{}
		cs.names = append(cs.names, n)
	}
	return cs
}

// Has reports an exact-name match.
func (c ColumnSet) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Names returns the columns in ordinal order.  Callers must not mutate it.
func (c ColumnSet) Names() []string { return c.names }

// Len returns the number of columns.
func (c ColumnSet) Len() int { return len(c.names) }

// Empty reports whether the table is absent or has no columns.
func (c ColumnSet) Empty() bool { return len(c.names) == 0 }

// PrimaryKey returns the primary-key columns, if known.
func (c ColumnSet) PrimaryKey() []string { return c.pk }

// Edge is one foreign key pointing into ReferencedTable:
// Table.Column → ReferencedTable.ReferencedColumn.
type Edge struct {
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Column is one introspected column row.
type Column struct {
	Table string
	Name  string
	PK    bool
}

// Descriptor is the per-operation view of the live schema.
type Descriptor struct {
	dialect Dialect
	tables  map[string]string // lower(name) → actual name
	columns map[string]ColumnSet
	edges   []Edge
}

// NewDescriptor assembles a Descriptor from already-introspected metadata.
// Edges with an empty ReferencedColumn point at the referenced table's
// primary key.
func NewDescriptor(dialect Dialect, cols []Column, edges []Edge) *Descriptor {
	d := &Descriptor{
		dialect: dialect,
		tables:  make(map[string]string),
		columns: make(map[string]ColumnSet),
	}

	ordered := make(map[string][]string)
	pks := make(map[string][]string)
	var order []string
	for _, c := range cols {
		if _, seen := ordered[c.Table]; !seen {
			order = append(order, c.Table)
		}
		ordered[c.Table] = append(ordered[c.Table], c.Name)
		if c.PK {
			pks[c.Table] = append(pks[c.Table], c.Name)
		}
	}
	for _, t := range order {
		cs := NewColumnSet(ordered[t]...)
		cs.pk = pks[t]
		d.columns[t] = cs
		d.tables[strings.ToLower(t)] = t
	}

	for _, e := range edges {
		if e.ReferencedColumn == "" {
			if pk := d.Columns(e.ReferencedTable).PrimaryKey(); len(pk) == 1 {
				e.ReferencedColumn = pk[0]
			} else {
				continue
			}
		}
		d.edges = append(d.edges, e)
	}
	return d
}

// Load introspects the current schema through q.
func Load(ctx context.Context, q sqlx.QueryerContext, dialect Dialect) (*Descriptor, error) {
	start := time.Now()
	defer func() { metrics.SchemaLoadSeconds.Observe(time.Since(start).Seconds()) }()

	cols, err := dialect.LoadColumns(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	edges, err := dialect.LoadForeignKeys(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load foreign keys: %w", err)
	}
	return NewDescriptor(dialect, cols, edges), nil
}

// Dialect returns the dialect the Descriptor was loaded with.
func (d *Descriptor) Dialect() Dialect { return d.dialect }

// Table returns the actual table name for name, matching exactly first and
// then case-insensitively.
func (d *Descriptor) Table(name string) (string, bool) {
	if _, ok := d.columns[name]; ok {
		return name, true
	}
	actual, ok := d.tables[strings.ToLower(name)]
	return actual, ok
}

// TableExists reports whether name is a table of the current schema.
func (d *Descriptor) TableExists(name string) bool {
	_, ok := d.Table(name)
	return ok
}

// Columns returns the columns of name, or an empty set when it is absent.
func (d *Descriptor) Columns(name string) ColumnSet {
	actual, ok := d.Table(name)
	if !ok {
		return ColumnSet{}
	}
	return d.columns[actual]
}

// ReferencingTables returns every foreign key that points into target,
// including self-references.  Use Graph for the filtered view.
func (d *Descriptor) ReferencingTables(target string) []Edge {
	actual, ok := d.Table(target)
	if !ok {
		return nil
	}
	var out []Edge
	for _, e := range d.edges {
		if strings.EqualFold(e.ReferencedTable, actual) {
			out = append(out, e)
		}
	}
	return out
}

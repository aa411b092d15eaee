// internal/schema/graph.go
//
// Reference Graph Builder.
//
// Context
// -------
// Before a row can be removed, every row that references it through a
// foreign key must go first.  Graph answers "who points at table T?" from
// the constraint metadata captured in the Descriptor, minus:
//
//   - self-references (T.parent_id → T.id), and
//   - administrative tables (the archive store, audit and activity logs),
//     which the archive engine handles in dedicated, explicit steps.
package schema

import "strings"

// Graph is a filtered view over a Descriptor's foreign keys.
type Graph struct {
	d     *Descriptor
	admin map[string]struct{}
}

// NewGraph returns a Graph that never reports the given administrative
// tables.
func NewGraph(d *Descriptor, administrative ...string) *Graph {
	g := &Graph{d: d, admin: make(map[string]struct{}, len(administrative))}
	for _, t := range administrative {
		g.admin[strings.ToLower(t)] = struct{}{}
	}
	return g
}

// Administrative reports whether table is excluded from generic cascading.
func (g *Graph) Administrative(table string) bool {
	_, ok := g.admin[strings.ToLower(table)]
	return ok
}

// ReferencingTables returns the edges pointing into target, excluding
// self-references and administrative tables.
func (g *Graph) ReferencingTables(target string) []Edge {
	var out []Edge
	for _, e := range g.d.ReferencingTables(target) {
		if strings.EqualFold(e.Table, e.ReferencedTable) {
			continue
		}
		if g.Administrative(e.Table) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Validated reports whether table.column is a discovered foreign key into
// referenced.  Ambiguous columns (a bare `id`) may only be used to match
// rows when this holds.
func (g *Graph) Validated(table, column, referenced string) bool {
	for _, e := range g.d.ReferencingTables(referenced) {
		if strings.EqualFold(e.Table, table) && strings.EqualFold(e.Column, column) {
			return true
		}
	}
	return false
}

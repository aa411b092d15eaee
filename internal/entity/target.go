package entity

import (
	"strconv"
	"strings"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/schema"
)

// Label is one display column: the configured name and the live column it
// resolved to.
type Label struct {
	Name   string
	Column string
}

// Target is an entity resolved against one Descriptor.  Reason, At, and By
// are empty when the table lacks them.
type Target struct {
	Entity Entity
	Table  string
	Cols   schema.ColumnSet
	ID     string
	Flag   string
	Reason string
	At     string
	By     string
	Labels []Label
}

// Resolve finds the entity's live table, its identifier column, and its
// recovery-mode columns.  A missing table, identifier, or flag column is
// reported as *apperror.SchemaUnavailable.
//
// Columns that are written (identifier, flag, reason, actor, timestamp)
// resolve on exact and case-insensitive names only.  Substring matching is
// kept for display labels, where a loose match cannot damage data.
func (e Entity) Resolve(d *schema.Descriptor) (Target, error) {
	table, cols, ok := schema.ResolveTable(d, e.Tables)
	if !ok {
		return Target{}, &apperror.SchemaUnavailable{Entity: e.Key, Table: strings.Join(e.Tables, "|")}
	}
	t := Target{Entity: e, Table: table, Cols: cols}

	if t.ID, ok = schema.ResolveExact(cols, e.IDColumns); !ok {
		return Target{}, &apperror.SchemaUnavailable{Entity: e.Key, Table: table, Column: e.IDColumns[0]}
	}

	mc := e.Mode.Columns()
	if t.Flag, ok = schema.ResolveExact(cols, mc.Flag); !ok {
		return Target{}, &apperror.SchemaUnavailable{Entity: e.Key, Table: table, Column: mc.Flag[0]}
	}
	t.Reason, _ = schema.ResolveExact(cols, mc.Reason)
	t.At, _ = schema.ResolveExact(cols, mc.At)
	t.By, _ = schema.ResolveExact(cols, mc.By)

	seen := map[string]struct{}{}
	for _, name := range e.LabelColumns {
		col, ok := schema.ResolveColumn(cols, []string{name})
		if !ok {
			continue
		}
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		t.Labels = append(t.Labels, Label{Name: name, Column: col})
	}
	return t, nil
}

// ReadColumns lists the columns a classification query selects: identifier,
// flag, optional reason and timestamp, then labels, without duplicates.
func (t Target) ReadColumns() []string {
	out := []string{t.ID}
	seen := map[string]struct{}{t.ID: {}}
	add := func(c string) {
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	add(t.Flag)
	add(t.Reason)
	add(t.At)
	for _, l := range t.Labels {
		add(l.Column)
	}
	return out
}

// FlagIsSet reports whether a scanned flag value equals FlagSet.  Any other
// value, including 2 or "yes", is not the soft-deleted sentinel and would not
// match the `flag = 1` guard on restore.
func FlagIsSet(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t == FlagSet
	case int:
		return t == FlagSet
	case float64:
		return t == FlagSet
	}
	s, ok := schema.Text(v)
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil && n == FlagSet
}

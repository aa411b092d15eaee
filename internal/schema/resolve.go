// internal/schema/resolve.go
//
// Candidate Resolver.
//
// Context
// -------
// Deployments disagree on naming: the same identifier may be `teacher_id`,
// `employee_id`, `id`, or `user_id`, and the same entity may live in
// `student` or `students`.  Configuration therefore lists candidates in
// priority order, and these pure functions pick the first one the live
// schema actually has.  Nothing here touches the database; everything is
// computed from a Descriptor or ColumnSet.
//
// Column matching runs three tiers, each tier walking every candidate
// before the next tier starts:
//
//  1. exact name,
//  2. case-insensitive exact name,
//  3. case-insensitive substring (candidate contained in an actual column).
package schema

import "strings"

// ResolveTable returns the first candidate whose ColumnSet is non-empty.
func ResolveTable(d *Descriptor, candidates []string) (string, ColumnSet, bool) {
	for _, c := range candidates {
		cols := d.Columns(c)
		if cols.Empty() {
			continue
		}
		actual, _ := d.Table(c)
		return actual, cols, true
	}
	return "", ColumnSet{}, false
}

// ResolveColumn applies the three-tier match and returns the actual column
// name.
func ResolveColumn(cols ColumnSet, candidates []string) (string, bool) {
	for _, c := range candidates {
		if cols.Has(c) {
			return c, true
		}
	}
	for _, c := range candidates {
		for _, n := range cols.Names() {
			if strings.EqualFold(n, c) {
				return n, true
			}
		}
	}
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if lc == "" {
			continue
		}
		for _, n := range cols.Names() {
			if strings.Contains(strings.ToLower(n), lc) {
				return n, true
			}
		}
	}
	return "", false
}

// ResolveExact is ResolveColumn without the substring tier.  Used where a
// fuzzy match could select an unrelated column for a write or delete.
func ResolveExact(cols ColumnSet, candidates []string) (string, bool) {
	for _, c := range candidates {
		if cols.Has(c) {
			return c, true
		}
	}
	for _, c := range candidates {
		for _, n := range cols.Names() {
			if strings.EqualFold(n, c) {
				return n, true
			}
		}
	}
	return "", false
}

// ResolveAll returns every candidate present on the table (exact or
// case-insensitive), in candidate order and without duplicates.
func ResolveAll(cols ColumnSet, candidates []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		n, ok := ResolveExact(cols, []string{c})
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

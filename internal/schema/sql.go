package schema

import (
	"fmt"
	"strings"
)

// Quote back-tick quotes an identifier discovered from metadata.  Both
// MySQL and SQLite accept this form.
func Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Placeholders returns "?,?,…" with n markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// AmbiguousColumn reports whether a column name is too generic to match
// rows on without a validated foreign key.
func AmbiguousColumn(col string) bool {
	return strings.EqualFold(col, "id")
}

// Blank reports whether a scanned value is NULL or whitespace-only.
func Blank(v any) bool {
	s, ok := Text(v)
	return !ok || strings.TrimSpace(s) == ""
}

// Text renders a scanned driver value as a string.  ok is false for NULL.
func Text(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(t), true
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

// Normalize converts []byte values of a scanned row into strings so rows
// marshal to readable JSON.
func Normalize(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

// internal/schema/schema_test.go
//
// Unit-tests for the catalog, resolver, and reference graph.
//
// Context
// -------
// Resolver and graph tests build a Descriptor by hand, so they never touch
// a database.  Load() is exercised against sqlmock with the exact MySQL
// metadata queries.
//
// Run: go test ./internal/schema -v

package schema

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func portalDescriptor() *Descriptor {
	cols := []Column{
		{Table: "users", Name: "user_id", PK: true},
		{Table: "users", Name: "master_teacher_id"},
		{Table: "users", Name: "email"},
		{Table: "master_teacher", Name: "id", PK: true},
		{Table: "master_teacher", Name: "user_id"},
		{Table: "master_teacher", Name: "Master_Teacher_ID"},
		{Table: "mt_coordinator_handled", Name: "id", PK: true},
		{Table: "mt_coordinator_handled", Name: "master_teacher_id"},
		{Table: "categories", Name: "id", PK: true},
		{Table: "categories", Name: "parent_id"},
		{Table: "account_logs", Name: "user_id"},
	}
	edges := []Edge{
		{Table: "master_teacher", Column: "user_id", ReferencedTable: "users", ReferencedColumn: "user_id"},
		{Table: "mt_coordinator_handled", Column: "master_teacher_id", ReferencedTable: "master_teacher", ReferencedColumn: "Master_Teacher_ID"},
		{Table: "categories", Column: "parent_id", ReferencedTable: "categories"},
		{Table: "account_logs", Column: "user_id", ReferencedTable: "users"},
	}
	return NewDescriptor(MySQL{}, cols, edges)
}

func TestColumnsFailSoft(t *testing.T) {
	d := portalDescriptor()
	if d.TableExists("ghost") {
		t.Fatal("ghost table should not exist")
	}
	if cs := d.Columns("ghost"); !cs.Empty() || cs.Len() != 0 {
		t.Fatalf("absent table returned %v", cs.Names())
	}
	if !d.TableExists("USERS") {
		t.Fatal("case-insensitive table lookup failed")
	}
}

func TestResolveTable(t *testing.T) {
	d := portalDescriptor()
	name, cols, ok := ResolveTable(d, []string{"master_teachers", "master_teacher"})
	if !ok || name != "master_teacher" {
		t.Fatalf("ResolveTable = %q, %v", name, ok)
	}
	if cols.Len() != 3 {
		t.Fatalf("columns = %v", cols.Names())
	}
	if _, _, ok := ResolveTable(d, []string{"nope", "also_nope"}); ok {
		t.Fatal("expected no table")
	}
}

func TestResolveColumnTiers(t *testing.T) {
	cols := NewColumnSet("id", "User_ID", "master_teacher_id", "employee_number")

	cases := []struct {
		name       string
		candidates []string
		want       string
		ok         bool
	}{
		{"exact beats later candidates", []string{"master_teacher_id", "id"}, "master_teacher_id", true},
		{"exact tier walks all candidates first", []string{"teacher_id", "id"}, "id", true},
		{"case-insensitive", []string{"user_id"}, "User_ID", true},
		{"case-insensitive before substring", []string{"employee", "USER_ID"}, "User_ID", true},
		{"substring fallback", []string{"employee"}, "employee_number", true},
		{"no match", []string{"lrn"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveColumn(cols, tc.candidates)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("ResolveColumn(%v) = %q, %v; want %q, %v", tc.candidates, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestResolveExactSkipsSubstring(t *testing.T) {
	cols := NewColumnSet("employee_number")
	if _, ok := ResolveExact(cols, []string{"employee"}); ok {
		t.Fatal("ResolveExact must not fall back to substring matches")
	}
}

func TestResolveAll(t *testing.T) {
	cols := NewColumnSet("teacher_id", "Master_Teacher_ID", "name")
	got := ResolveAll(cols, []string{"master_teacher_id", "teacher_id", "employee_id", "MASTER_TEACHER_ID"})
	if len(got) != 2 || got[0] != "Master_Teacher_ID" || got[1] != "teacher_id" {
		t.Fatalf("ResolveAll = %v", got)
	}
}

func TestGraphExclusions(t *testing.T) {
	d := portalDescriptor()
	g := NewGraph(d, "account_logs", "archived_users")

	edges := g.ReferencingTables("users")
	if len(edges) != 1 || edges[0].Table != "master_teacher" {
		t.Fatalf("users edges = %+v", edges)
	}
	if got := g.ReferencingTables("categories"); len(got) != 0 {
		t.Fatalf("self reference leaked: %+v", got)
	}
	if !g.Validated("master_teacher", "user_id", "users") {
		t.Fatal("master_teacher.user_id should be a validated edge")
	}
	if g.Validated("master_teacher", "id", "users") {
		t.Fatal("bare id must not validate")
	}
}

func TestEdgeDefaultsToPrimaryKey(t *testing.T) {
	d := portalDescriptor()
	for _, e := range d.ReferencingTables("users") {
		if e.Table == "account_logs" && e.ReferencedColumn != "user_id" {
			t.Fatalf("implicit FK target = %q, want user_id", e.ReferencedColumn)
		}
	}
}

func TestLoadMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	xdb := sqlx.NewDb(db, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta(mysqlColumnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "pk"}).
			AddRow("users", "user_id", true).
			AddRow("users", "email", false).
			AddRow("master_teacher", "master_teacher_id", false).
			AddRow("master_teacher", "user_id", false))
	mock.ExpectQuery(regexp.QuoteMeta(mysqlForeignKeysQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("master_teacher", "user_id", "users", "user_id"))

	d, err := Load(context.Background(), xdb, MySQL{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !d.Columns("users").Has("email") {
		t.Fatal("users.email missing")
	}
	if pk := d.Columns("users").PrimaryKey(); len(pk) != 1 || pk[0] != "user_id" {
		t.Fatalf("users pk = %v", pk)
	}
	if e := d.ReferencingTables("users"); len(e) != 1 || e[0].Column != "user_id" {
		t.Fatalf("edges = %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestTextAndBlank(t *testing.T) {
	if s, ok := Text([]byte("7000-042")); !ok || s != "7000-042" {
		t.Errorf("Text([]byte) = %q, %v", s, ok)
	}
	if s, ok := Text(int64(7)); !ok || s != "7" {
		t.Errorf("Text(int64) = %q, %v", s, ok)
	}
	if _, ok := Text(nil); ok {
		t.Error("Text(nil) reported a value")
	}
	if !Blank(nil) || !Blank("  ") || Blank("7000-042") {
		t.Error("Blank misclassified a value")
	}
	if Quote("we`ird") != "`we``ird`" {
		t.Errorf("Quote = %s", Quote("we`ird"))
	}
	if Placeholders(3) != "?,?,?" {
		t.Errorf("Placeholders(3) = %q", Placeholders(3))
	}
}

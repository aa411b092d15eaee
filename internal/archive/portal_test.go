package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/schoolarchive/internal/database"
	"github.com/yanizio/schoolarchive/internal/entity"
)

// portalDDL is a trimmed copy of the school portal schema.
var portalDDL = []string{
	`CREATE TABLE users (
		user_id           INTEGER PRIMARY KEY,
		username          TEXT NOT NULL,
		name              TEXT,
		email             TEXT,
		contact_number    TEXT,
		master_teacher_id TEXT,
		role              TEXT
	)`,
	`CREATE TABLE master_teacher (
		id                INTEGER PRIMARY KEY,
		user_id           INTEGER NOT NULL REFERENCES users(user_id),
		master_teacher_id TEXT UNIQUE,
		first_name        TEXT,
		last_name         TEXT
	)`,
	`CREATE TABLE mt_coordinator_handled (
		id                INTEGER PRIMARY KEY,
		master_teacher_id TEXT NOT NULL REFERENCES master_teacher(master_teacher_id),
		grade_level       TEXT
	)`,
	`CREATE TABLE mt_remedialteacher_handled (
		id                INTEGER PRIMARY KEY,
		master_teacher_id TEXT NOT NULL REFERENCES master_teacher(master_teacher_id),
		section           TEXT
	)`,
	`CREATE TABLE announcements (
		id        INTEGER PRIMARY KEY,
		posted_by INTEGER REFERENCES users(user_id),
		body      TEXT
	)`,
	`CREATE TABLE announcement_reads (
		id              INTEGER PRIMARY KEY,
		announcement_id INTEGER NOT NULL REFERENCES announcements(id),
		reader          TEXT
	)`,
	`CREATE TABLE account_logs (
		log_id  INTEGER PRIMARY KEY,
		user_id INTEGER REFERENCES users(user_id),
		action  TEXT
	)`,
	`CREATE TABLE archived_users (
		archived_id       INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id           INTEGER NOT NULL,
		entity_key        TEXT,
		entity_identifier TEXT,
		name              TEXT,
		email             TEXT,
		contact_number    TEXT,
		reason            TEXT,
		archived_by       INTEGER,
		archived_at       TEXT,
		snapshot_json     TEXT
	)`,
	`CREATE TABLE students (
		student_id     INTEGER PRIMARY KEY,
		lrn            TEXT,
		first_name     TEXT,
		last_name      TEXT,
		grade_level    TEXT,
		is_deleted     INTEGER NOT NULL DEFAULT 0,
		deleted_reason TEXT,
		deleted_at     TEXT,
		deleted_by     INTEGER
	)`,
}

func openPortal(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range portalDDL {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func exec(t *testing.T, db *sqlx.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func count(t *testing.T, db *sqlx.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, query, args...))
	return n
}

// seedMasterTeachers inserts teachers 42 and 43 with reconciled identifiers
// and a spread of dependent rows.
func seedMasterTeachers(t *testing.T, db *sqlx.DB) {
	t.Helper()
	exec(t, db, `INSERT INTO users (user_id, username, name, email, contact_number, master_teacher_id, role)
		VALUES (42, 'msantos', 'Maria Santos', 'maria@school.test', '0917-000-0042', '7000-042', 'master_teacher'),
		       (43, 'jreyes', 'Jose Reyes', 'jose@school.test', NULL, '7000-043', 'master_teacher')`)
	exec(t, db, `INSERT INTO master_teacher (id, user_id, master_teacher_id, first_name, last_name)
		VALUES (1, 42, '7000-042', 'Maria', 'Santos'), (2, 43, '7000-043', 'Jose', 'Reyes')`)
	exec(t, db, `INSERT INTO mt_coordinator_handled (id, master_teacher_id, grade_level)
		VALUES (1, '7000-042', 'Grade 4'), (2, '7000-042', 'Grade 5'), (3, '7000-043', 'Grade 6')`)
	exec(t, db, `INSERT INTO mt_remedialteacher_handled (id, master_teacher_id, section)
		VALUES (1, '7000-042', 'Sampaguita'), (2, '7000-043', 'Narra')`)
	exec(t, db, `INSERT INTO announcements (id, posted_by, body) VALUES (1, 42, 'Reading week'), (2, 43, 'Quiz bee')`)
	exec(t, db, `INSERT INTO announcement_reads (id, announcement_id, reader) VALUES (1, 1, 'g4'), (2, 2, 'g6')`)
	exec(t, db, `INSERT INTO account_logs (log_id, user_id, action) VALUES (1, 42, 'login'), (2, 43, 'login')`)
}

func newTestEngine(t *testing.T, db *sqlx.DB) *Engine {
	t.Helper()
	reg, err := entity.NewRegistry(entity.Builtins())
	require.NoError(t, err)
	e, err := NewEngine(db, reg, nil, zaptest.NewLogger(t), DefaultOptions())
	require.NoError(t, err)
	return e
}

func archiveIDs(t *testing.T, e *Engine, key string, ids ...int64) Result {
	t.Helper()
	res, err := e.Archive(context.Background(), Request{EntityKey: key, RootIDs: ids, Reason: "resigned", ActorID: 1})
	require.NoError(t, err)
	return res
}

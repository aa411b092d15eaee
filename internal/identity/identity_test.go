// internal/identity/identity_test.go
//
// Unit-tests for the reconciler, repair tasks, and dispatchers.
//
// Context
// -------
// Repair SQL is pinned with sqlmock.  Convergence and the master-teacher
// scenario run against a temp-dir SQLite database so the UPDATE guards are
// exercised by a real engine.
//
// Run: go test ./internal/identity -v

package identity

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/audit"
	"github.com/yanizio/schoolarchive/internal/database"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/schema"
)

func masterTeacher(t *testing.T) entity.Entity {
	t.Helper()
	reg, err := entity.NewRegistry(entity.Builtins())
	require.NoError(t, err)
	mt, err := reg.Lookup("master_teacher")
	require.NoError(t, err)
	return mt
}

func openTeachers(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (user_id INTEGER PRIMARY KEY, username TEXT, master_teacher_id TEXT)`,
		`CREATE TABLE master_teacher (
			id                INTEGER PRIMARY KEY,
			user_id           INTEGER REFERENCES users(user_id),
			master_teacher_id TEXT,
			teacher_id        TEXT
		)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func newReconciler() *Reconciler {
	return NewReconciler([]string{"users"}, []string{"user_id", "id"}, zap.NewNop())
}

func planFor(t *testing.T, db *sqlx.DB, ent entity.Entity, rootID int64) Plan {
	t.Helper()
	ctx := context.Background()
	d, err := schema.Load(ctx, db, schema.SQLite{})
	require.NoError(t, err)
	p, err := newReconciler().Plan(ctx, db, d, ent, rootID)
	require.NoError(t, err)
	return p
}

func TestMasterTeacherScenario(t *testing.T) {
	db := openTeachers(t)
	_, err := db.Exec(`INSERT INTO users (user_id, username, master_teacher_id) VALUES (42, 'msantos', '7000-042')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO master_teacher (id, user_id, master_teacher_id, teacher_id) VALUES (1, 42, NULL, '7000-042')`)
	require.NoError(t, err)

	mt := masterTeacher(t)
	p := planFor(t, db, mt, 42)
	assert.Equal(t, "7000-042", p.Canonical)
	assert.Equal(t, "users.master_teacher_id", p.Source)
	require.Len(t, p.Repairs, 1)
	assert.Equal(t, "master_teacher", p.Repairs[0].Table)
	assert.Equal(t, "master_teacher_id", p.Repairs[0].Column)
	assert.Equal(t, "user_id", p.Repairs[0].MatchColumn)

	InlineDispatcher{DB: db, Log: zap.NewNop()}.Submit(context.Background(), p.Task())

	var got string
	require.NoError(t, db.Get(&got, `SELECT master_teacher_id FROM master_teacher WHERE user_id = 42`))
	assert.Equal(t, "7000-042", got)
}

func TestReconcilerConverges(t *testing.T) {
	db := openTeachers(t)
	_, err := db.Exec(`INSERT INTO users (user_id, username, master_teacher_id) VALUES (7, 'rdelacruz', '')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO master_teacher (id, user_id, master_teacher_id, teacher_id) VALUES (1, 7, 'MT-7', '0007')`)
	require.NoError(t, err)

	mt := masterTeacher(t)

	first := planFor(t, db, mt, 7)
	assert.Equal(t, "MT-7", first.Canonical)
	require.Len(t, first.Repairs, 2, "users copy and teacher_id copy diverge")

	n, err := first.Task().Run(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	second := planFor(t, db, mt, 7)
	assert.Equal(t, "MT-7", second.Canonical)
	assert.Empty(t, second.Repairs)

	// Replaying the first task changes nothing either.
	n, err = first.Task().Run(context.Background(), db)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCanonicalFallsBackToFormattedRootID(t *testing.T) {
	db := openTeachers(t)
	_, err := db.Exec(`INSERT INTO users (user_id, username) VALUES (5, 'lgarcia')`)
	require.NoError(t, err)

	p := planFor(t, db, masterTeacher(t), 5)
	assert.Equal(t, "7000-005", p.Canonical)
	assert.Equal(t, "root_id", p.Source)
	require.Len(t, p.Repairs, 1)
	assert.Equal(t, "users", p.Repairs[0].Table)
}

func TestRepairSQL(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	task := Task{Key: "master_teacher:42", Repairs: []Repair{
		{Table: "master_teacher", Column: "teacher_id", Value: "7000-042",
			MatchColumn: "teacher_id", MatchValue: "T-42", LinkColumn: "user_id", LinkValue: int64(42)},
		{Table: "master_teacher", Column: "master_teacher_id", Value: "7000-042",
			MatchColumn: "user_id", MatchValue: int64(42)},
	}}

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE `master_teacher` SET `teacher_id` = ? WHERE `teacher_id` = ? AND `user_id` = ? AND (`teacher_id` IS NULL OR `teacher_id` <> ?)")).
		WithArgs("7000-042", "T-42", int64(42), "7000-042").
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE `master_teacher` SET `master_teacher_id` = ? WHERE `user_id` = ? AND (`master_teacher_id` IS NULL OR `master_teacher_id` <> ?)")).
		WithArgs("7000-042", int64(42), "7000-042").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := task.Run(context.Background(), sqlx.NewDb(raw, "mysql"))
	require.Error(t, err, "first repair failed")
	assert.Contains(t, err.Error(), "master_teacher.teacher_id")
	assert.Equal(t, int64(1), n, "second repair still ran")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInlineDispatcherLogsFailures(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectExec("UPDATE `users`").WillReturnError(errors.New("read-only replica"))

	core, logs := observer.New(zap.InfoLevel)
	d := InlineDispatcher{DB: sqlx.NewDb(raw, "mysql"), Log: zap.New(core)}
	d.Submit(context.Background(), Task{Key: "teacher:1", Repairs: []Repair{
		{Table: "users", Column: "teacher_id", Value: "1000-001", MatchColumn: "user_id", MatchValue: int64(1)},
	}})

	require.Len(t, logs.FilterMessage("identity repair failed").All(), 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAsyncDispatcherRetries(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectExec("UPDATE `users`").WillReturnError(errors.New("deadlock"))
	mock.ExpectExec("UPDATE `users`").WillReturnResult(sqlmock.NewResult(0, 1))

	core, logs := observer.New(zap.InfoLevel)
	d := NewAsyncDispatcher(sqlx.NewDb(raw, "mysql"), zap.New(core), 30*time.Second, 3)

	ctx, cancel := context.WithCancel(context.Background())
	d.Submit(ctx, Task{Key: "teacher:1", Repairs: []Repair{
		{Table: "users", Column: "teacher_id", Value: "1000-001", MatchColumn: "user_id", MatchValue: int64(1)},
	}})
	cancel() // the request finishing must not cancel the repair
	d.Wait()

	assert.Len(t, logs.FilterMessage("identity repair retry").All(), 1)
	assert.Len(t, logs.FilterMessage("identity repaired").All(), 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceRejectsUnlinkedEntity(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	reg, _ := entity.NewRegistry(entity.Builtins())
	svc, err := NewService(sqlx.NewDb(raw, "mysql"), reg, newReconciler(), InlineDispatcher{}, nil, nil, 100)
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), ReconcileRequest{EntityKey: "student", RootIDs: []int64{1}})
	assert.True(t, apperror.IsValidation(err), "err = %v", err)

	_, err = svc.Reconcile(context.Background(), ReconcileRequest{EntityKey: "teacher"})
	assert.True(t, apperror.IsValidation(err), "err = %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceReconcileSubmitsRepairs(t *testing.T) {
	db := openTeachers(t)
	_, err := db.Exec(`INSERT INTO users (user_id, username, master_teacher_id) VALUES (42, 'msantos', '7000-042')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO master_teacher (id, user_id) VALUES (1, 42)`)
	require.NoError(t, err)

	reg, _ := entity.NewRegistry(entity.Builtins())
	var entries []audit.Entry
	sink := audit.Func(func(_ context.Context, action string, actor int64, ip string, details map[string]any) error {
		entries = append(entries, audit.Entry{Action: action, ActorID: actor, IPAddress: ip, Details: details})
		return nil
	})
	svc, err := NewService(db, reg, newReconciler(), InlineDispatcher{DB: db, Log: zap.NewNop()}, sink, nil, 100)
	require.NoError(t, err)

	plans, err := svc.Reconcile(context.Background(), ReconcileRequest{EntityKey: "master_teacher", RootIDs: []int64{42, 42, 404}, ActorID: 3})
	require.NoError(t, err)
	require.Len(t, plans, 1, "404 has no stored copies")
	assert.Len(t, plans[0].Repairs, 2)

	var mtID, tID string
	require.NoError(t, db.QueryRow(`SELECT master_teacher_id, teacher_id FROM master_teacher WHERE user_id = 42`).Scan(&mtID, &tID))
	assert.Equal(t, "7000-042", mtID)
	assert.Equal(t, "7000-042", tID)

	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionIdentityPlan, entries[0].Action)
	assert.Equal(t, int64(3), entries[0].ActorID)
	assert.Equal(t, 2, entries[0].Details["repairs"])
}

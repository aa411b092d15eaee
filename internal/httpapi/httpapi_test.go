// internal/httpapi/httpapi_test.go
//
// Handler tests.  The round trip runs the real engines over a temp-dir
// SQLite portal; error mapping uses stub engines.
//
// Run: go test ./internal/httpapi -v

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/schoolarchive/internal/acl"
	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/database"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/recovery"
)

const studentsDDL = `CREATE TABLE students (
	student_id     INTEGER PRIMARY KEY,
	lrn            TEXT,
	first_name     TEXT,
	last_name      TEXT,
	is_deleted     INTEGER NOT NULL DEFAULT 0,
	deleted_reason TEXT,
	deleted_at     TEXT,
	deleted_by     INTEGER
)`

const archiveDDL = `CREATE TABLE archived_users (
	archived_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           INTEGER NOT NULL,
	entity_key        TEXT,
	entity_identifier TEXT,
	name              TEXT,
	email             TEXT,
	reason            TEXT,
	archived_by       INTEGER,
	archived_at       TEXT,
	snapshot_json     TEXT
)`

var allowAll = acl.Grants{"registrar": {"*:*"}}

func openPortal(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE users (user_id INTEGER PRIMARY KEY, username TEXT, name TEXT, email TEXT)`,
		studentsDDL,
		archiveDDL,
		`INSERT INTO students (student_id, lrn, first_name, last_name)
			VALUES (7, '136512090007', 'Ana', 'Cruz'), (8, '136512090008', 'Ben', 'Lim')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func realDeps(t *testing.T, db *sqlx.DB) Deps {
	t.Helper()
	reg, err := entity.NewRegistry(entity.Builtins())
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	arc, err := archive.NewEngine(db, reg, nil, log, archive.DefaultOptions())
	require.NoError(t, err)
	rec, err := recovery.NewEngine(db, reg, nil, log, recovery.Options{})
	require.NoError(t, err)
	svc, err := identity.NewService(db, reg, identity.NewReconciler([]string{"users"}, []string{"user_id"}, log),
		identity.InlineDispatcher{DB: db, Log: log}, nil, log, 100)
	require.NoError(t, err)

	return Deps{
		Archive: arc, Recovery: rec, Identity: svc, EntityKeys: reg.Keys, ACL: allowAll, DB: db,
		ActorHeader: "X-Actor-Id", RolesHeader: "X-Actor-Roles", Log: log,
	}
}

func call(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Actor-Id", "11")
	req.Header.Set("X-Actor-Roles", "registrar")
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestArchivePreviewRestoreRoundTrip(t *testing.T) {
	db := openPortal(t)
	h := NewRouter(realDeps(t, db))

	rec, out := call(t, h, http.MethodPost, "/api/archive/student", `{"root_ids":["7",7],"reason":"transferred"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["archived_count"])

	rec, out = call(t, h, http.MethodPost, "/api/recovery/student/preview", `{"ids":[7,"8","99"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, out["recoverable"], 1)
	first := out["recoverable"].([]any)[0].(map[string]any)
	assert.Equal(t, "7", first["id"])
	require.Contains(t, first, "snapshot")
	assert.Equal(t, "transferred", first["snapshot"].(map[string]any)["reason"])
	assert.Len(t, out["notRecoverable"], 1)
	assert.Equal(t, []any{"99"}, out["notFound"])

	rec, out = call(t, h, http.MethodPost, "/api/recovery/student/restore",
		`{"ids":[7],"reason":"re-enrolled","approvalNote":"approved by principal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["restoredCount"])
	assert.Equal(t, []any{"7"}, out["restoredIds"])

	var flagged int
	require.NoError(t, db.Get(&flagged, `SELECT is_deleted FROM students WHERE student_id = 7`))
	assert.Zero(t, flagged)
}

func TestRestoreNeedsApprovalNote(t *testing.T) {
	h := NewRouter(realDeps(t, openPortal(t)))

	rec, out := call(t, h, http.MethodPost, "/api/recovery/student/restore", `{"ids":[7],"reason":"oops"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := out["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", e["code"])
	assert.NotEmpty(t, e["fields"])
}

func TestArchiveRejectsNonIntegerRootIDs(t *testing.T) {
	h := NewRouter(realDeps(t, openPortal(t)))
	rec, _ := call(t, h, http.MethodPost, "/api/archive/student", `{"root_ids":["STU-7"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, h, http.MethodPost, "/api/archive/student", `{"root_ids":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownEntityIs404(t *testing.T) {
	h := NewRouter(realDeps(t, openPortal(t)))
	rec, out := call(t, h, http.MethodPost, "/api/recovery/library_card/preview", `{"ids":[1]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_ENTITY", out["error"].(map[string]any)["code"])
}

func TestMissingFlagColumnIs422(t *testing.T) {
	db := openPortal(t)
	_, err := db.Exec(`CREATE TABLE payments (payment_id INTEGER PRIMARY KEY, receipt_no TEXT)`)
	require.NoError(t, err)
	h := NewRouter(realDeps(t, db))

	rec, out := call(t, h, http.MethodPost, "/api/recovery/payment/preview", `{"ids":[1]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["error"].(map[string]any)["message"], "is_voided")
}

func TestEntitiesAndHealth(t *testing.T) {
	h := NewRouter(realDeps(t, openPortal(t)))

	rec, out := call(t, h, http.MethodGet, "/api/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["entities"], "student")

	rec, out = call(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

/*──────────────────────────── stubs ────────────────────────────────────────*/

type stubArchiver struct {
	res archive.Result
	err error
	got archive.Request
}

func (s *stubArchiver) Archive(_ context.Context, req archive.Request) (archive.Result, error) {
	s.got = req
	return s.res, s.err
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("down") }

func TestArchiveAllFailedReturns500WithResult(t *testing.T) {
	stub := &stubArchiver{
		res: archive.Result{OperationID: "op-1", Failures: []archive.Failure{{ID: 42, Error: "lock wait timeout"}}},
		err: &apperror.TransactionError{Op: "archive", ID: "42", Err: errors.New("lock wait timeout")},
	}
	h := NewRouter(Deps{Archive: stub, ACL: allowAll, DB: failingPinger{},
		ActorHeader: "X-Actor-Id", RolesHeader: "X-Actor-Roles", Log: zaptest.NewLogger(t)})

	rec, out := call(t, h, http.MethodPost, "/api/archive/master_teacher", `{"root_ids":[42],"reason":"resigned"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "TRANSACTION_ERROR", out["error"].(map[string]any)["code"])
	assert.Equal(t, "op-1", out["result"].(map[string]any)["operation_id"])

	assert.Equal(t, int64(11), stub.got.ActorID)
	assert.Equal(t, "203.0.113.9", stub.got.IP)
	assert.Equal(t, "master_teacher", stub.got.EntityKey)

	rec, _ = call(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGateAndACL(t *testing.T) {
	h := NewRouter(Deps{Archive: &stubArchiver{}, ACL: acl.Grants{"registrar": {"student:preview"}},
		ActorHeader: "X-Actor-Id", RolesHeader: "X-Actor-Roles", Log: zaptest.NewLogger(t)})

	rec, _ := call(t, h, http.MethodPost, "/api/archive/student", `{"root_ids":[1]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/archive/student", strings.NewReader(`{"root_ids":[1]}`))
	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, req)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}

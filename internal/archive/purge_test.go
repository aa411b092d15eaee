package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/schoolarchive/internal/apperror"
)

func TestArchiveMasterTeacherCascade(t *testing.T) {
	db := openPortal(t)
	seedMasterTeachers(t, db)
	e := newTestEngine(t, db)

	res := archiveIDs(t, e, "master_teacher", 42)

	require.Equal(t, 1, res.ArchivedCount)
	require.Empty(t, res.Failures)
	assert.Equal(t, int64(42), res.Archived[0].ID)
	assert.Equal(t, "Maria Santos", res.Archived[0].Name)
	assert.Equal(t, "maria@school.test", res.Archived[0].Email)
	assert.False(t, res.Archived[0].Reused)

	// Teacher 42 and everything hanging off it is gone.
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM mt_coordinator_handled WHERE master_teacher_id = '7000-042'`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM mt_remedialteacher_handled WHERE master_teacher_id = '7000-042'`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM master_teacher WHERE user_id = 42`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM users WHERE user_id = 42`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM announcements WHERE posted_by = 42`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM announcement_reads WHERE announcement_id = 1`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM account_logs WHERE user_id = 42`))

	// Teacher 43 is untouched.
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM mt_coordinator_handled`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM mt_remedialteacher_handled`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM master_teacher`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM announcement_reads`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM account_logs`))

	// Exactly one snapshot row for user 42.
	var snap struct {
		UserID     int64  `db:"user_id"`
		EntityKey  string `db:"entity_key"`
		Identifier string `db:"entity_identifier"`
		Reason     string `db:"reason"`
		ArchivedBy int64  `db:"archived_by"`
		Data       string `db:"snapshot_json"`
	}
	require.NoError(t, db.Get(&snap, `SELECT user_id, entity_key, entity_identifier, reason, archived_by, snapshot_json
		FROM archived_users`))
	assert.Equal(t, int64(42), snap.UserID)
	assert.Equal(t, "master_teacher", snap.EntityKey)
	assert.Equal(t, "7000-042", snap.Identifier)
	assert.Equal(t, "resigned", snap.Reason)
	assert.Equal(t, int64(1), snap.ArchivedBy)

	var forensic struct {
		Entity string                      `json:"entity"`
		Root   map[string]any              `json:"root"`
		Tables map[string][]map[string]any `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(snap.Data), &forensic))
	assert.Equal(t, "master_teacher", forensic.Entity)
	assert.Equal(t, "msantos", forensic.Root["username"])
	require.Len(t, forensic.Tables["master_teacher"], 1)
}

func TestArchiveIsIdempotent(t *testing.T) {
	db := openPortal(t)
	seedMasterTeachers(t, db)
	e := newTestEngine(t, db)

	first := archiveIDs(t, e, "master_teacher", 42)
	second := archiveIDs(t, e, "master_teacher", 42)

	assert.Equal(t, 1, first.ArchivedCount)
	assert.Equal(t, 1, second.ArchivedCount)
	assert.Empty(t, second.NotFound)
	require.Len(t, second.Archived, 1)
	assert.True(t, second.Archived[0].Reused)
	assert.Equal(t, first.Archived[0].ArchiveID, second.Archived[0].ArchiveID)
	assert.Equal(t, "Maria Santos", second.Archived[0].Name)

	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM archived_users WHERE user_id = 42`))
}

func TestArchiveReportsNotFound(t *testing.T) {
	db := openPortal(t)
	seedMasterTeachers(t, db)
	e := newTestEngine(t, db)

	res := archiveIDs(t, e, "master_teacher", 999, 43, 999)

	assert.Equal(t, 1, res.ArchivedCount)
	assert.Equal(t, []int64{999}, res.NotFound)
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM archived_users WHERE user_id = 999`))
}

func TestArchiveRollsBackWholeCascade(t *testing.T) {
	db := openPortal(t)
	seedMasterTeachers(t, db)
	exec(t, db, `CREATE TRIGGER hold_remedial BEFORE DELETE ON mt_remedialteacher_handled
		BEGIN
			SELECT RAISE(ABORT, 'remedial records are under review');
		END`)
	e := newTestEngine(t, db)

	res, err := e.Archive(context.Background(), Request{EntityKey: "master_teacher", RootIDs: []int64{42}})
	require.Error(t, err)

	var te *apperror.TransactionError
	require.True(t, errors.As(err, &te), "err = %v", err)
	assert.Equal(t, "42", te.ID)
	require.Len(t, res.Failures, 1)
	assert.Zero(t, res.ArchivedCount)

	// Nothing for user 42 moved, including rows deleted before the failure.
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM mt_coordinator_handled WHERE master_teacher_id = '7000-042'`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM mt_remedialteacher_handled WHERE master_teacher_id = '7000-042'`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM master_teacher WHERE user_id = 42`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM users WHERE user_id = 42`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM announcements WHERE posted_by = 42`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM archived_users`))
}

func TestArchiveBatchContinuesPastFailedID(t *testing.T) {
	db := openPortal(t)
	seedMasterTeachers(t, db)
	exec(t, db, `CREATE TRIGGER hold_narra BEFORE DELETE ON mt_remedialteacher_handled
		WHEN OLD.section = 'Narra'
		BEGIN
			SELECT RAISE(ABORT, 'section locked');
		END`)
	e := newTestEngine(t, db)

	res, err := e.Archive(context.Background(), Request{EntityKey: "master_teacher", RootIDs: []int64{42, 43}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ArchivedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(43), res.Failures[0].ID)
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM users WHERE user_id = 43`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM archived_users`))
}

func TestArchiveMatchesCanonicalBeforeRepair(t *testing.T) {
	db := openPortal(t)
	// One connection so the pragma applies to every statement.
	db.SetMaxOpenConns(1)
	exec(t, db, `PRAGMA foreign_keys = OFF`)

	exec(t, db, `INSERT INTO users (user_id, username, name, master_teacher_id) VALUES (42, 'msantos', 'Maria Santos', '7000-042')`)
	exec(t, db, `INSERT INTO master_teacher (id, user_id, master_teacher_id) VALUES (1, 42, NULL)`)
	exec(t, db, `INSERT INTO mt_coordinator_handled (id, master_teacher_id, grade_level) VALUES (1, '7000-042', 'Grade 4')`)
	exec(t, db, `INSERT INTO mt_remedialteacher_handled (id, master_teacher_id, section) VALUES (1, '7000-042', 'Ilang-Ilang')`)

	e := newTestEngine(t, db)
	res := archiveIDs(t, e, "master_teacher", 42)

	require.Equal(t, 1, res.ArchivedCount)
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM mt_coordinator_handled`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM mt_remedialteacher_handled`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM master_teacher`))

	var ident string
	require.NoError(t, db.Get(&ident, `SELECT entity_identifier FROM archived_users WHERE user_id = 42`))
	assert.Equal(t, "7000-042", ident)
}

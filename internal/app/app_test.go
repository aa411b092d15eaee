package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/schoolarchive/internal/config"
	"github.com/yanizio/schoolarchive/internal/database"
	"github.com/yanizio/schoolarchive/internal/entity"
)

func TestArchiveOptionsKeepsDefaults(t *testing.T) {
	off := false
	o := ArchiveOptions(config.Archive{ArchiveTables: []string{"teacher_archive"}, CascadeDepth: 1, ForensicSnapshot: &off})
	assert.Equal(t, []string{"teacher_archive"}, o.ArchiveTables)
	assert.Equal(t, []string{"users", "user"}, o.RootTables)
	assert.Equal(t, 1, o.CascadeDepth)
	assert.Equal(t, 500, o.MaxIDs)
	assert.False(t, o.ForensicSnapshot)
}

func TestDatabaseOptions(t *testing.T) {
	o := DatabaseOptions(config.Database{Driver: "sqlite", DSN: "/var/lib/portal.db"})
	assert.Equal(t, database.SQLiteDSN("/var/lib/portal.db"), o.DSN)

	o = DatabaseOptions(config.Database{Driver: "mysql", DSN: "portal:%s@tcp(db)/portal", Password: "pw", PingRetries: 3})
	assert.Equal(t, "portal:pw@tcp(db)/portal", o.DSN)
	assert.Equal(t, 3, o.PingRetries)
}

func TestBuildServesAPI(t *testing.T) {
	cfg := &config.Config{
		HTTP:     config.HTTP{ListenAddr: ":0", ActorHeader: "X-Actor-Id", RolesHeader: "X-Actor-Roles"},
		Database: config.Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "portal.db")},
		Identity: config.Identity{Async: true, RetryAttempts: 1, MaxIDs: 10},
		Audit:    config.Audit{Enabled: true},
		ACL:      config.ACL{Grants: map[string][]string{"clinic_staff": {"clinic_visit:*"}}},
		Entities: []entity.Entity{{Key: "clinic_visit", Tables: []string{"clinic_visits"}, IDColumns: []string{"visit_id"}}},
	}
	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.DB.Exec(`CREATE TABLE clinic_visits (visit_id INTEGER PRIMARY KEY, is_deleted INTEGER NOT NULL DEFAULT 1)`)
	require.NoError(t, err)
	_, err = a.DB.Exec(`INSERT INTO clinic_visits (visit_id) VALUES (3)`)
	require.NoError(t, err)

	assert.Contains(t, a.Entities.Keys(), "clinic_visit")
	assert.NotNil(t, a.async)

	req := httptest.NewRequest(http.MethodPost, "/api/recovery/clinic_visit/preview", strings.NewReader(`{"ids":[3]}`))
	req.Header.Set("X-Actor-Id", "5")
	req.Header.Set("X-Actor-Roles", "clinic_staff")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"recoverable":[{"id":"3"`)
}

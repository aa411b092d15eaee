// internal/archive/snapshot.go
//
// Archive snapshot store.
//
// Context
// -------
// Every archived root record leaves one row in the archive table
// (`archived_users` on stock deployments).  The table's columns vary
// between deployments just like everything else, so the store resolves each
// logical field against a candidate list once per operation and writes only
// the columns that exist.  Only the table itself and its root-id column are
// required, plus an entity column for flag entities.
//
// At most one snapshot exists per root id (scoped by entity key when the
// table has that column).  Purge entities without that column share one
// snapshot per users id, which is the same person under every account
// role.  save() looks for an existing row first and
// updates it in place instead of inserting a duplicate.
//
// Notes
// -----
// • Every method takes the executor explicitly; inside an archive it is the
//   id's transaction.
// • Oxford commas, two spaces after periods.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/schema"
)

// Snapshot is one archive-table row.
type Snapshot struct {
	ArchiveID  int64
	RootID     int64
	EntityKey  string
	Identifier string
	Name       string
	Email      string
	Contact    string
	Reason     string
	ActorID    int64
	ArchivedAt time.Time
	Data       []byte
}

var (
	snapshotIDColumns         = []string{"archived_id", "archive_id", "id"}
	snapshotUserRootColumns   = []string{"user_id", "original_user_id", "record_id"}
	snapshotRecordRootColumns = []string{"record_id", "original_id", "user_id"}
	snapshotEntityColumns     = []string{"entity_key", "entity_type", "entity"}
	snapshotIdentColumns      = []string{"entity_identifier", "identifier", "employee_id"}
	snapshotNameColumns       = []string{"name", "full_name"}
	snapshotEmailColumns      = []string{"email", "email_address"}
	snapshotContactColumns    = []string{"contact_number", "contact", "phone"}
	snapshotReasonColumns     = []string{"reason", "archive_reason"}
	snapshotByColumns         = []string{"archived_by", "actor_id"}
	snapshotAtColumns         = []string{"archived_at", "date_archived", "created_at"}
	snapshotDataColumns       = []string{"snapshot_json", "snapshot", "data"}
)

type snapshotStore struct {
	table string

	id, root, entity, ident string
	name, email, contact    string
	reason, by, at, data    string
}

// newSnapshotStore resolves the archive table for ent.  Purge entities key
// snapshots by users id, flag entities by their own record id scoped by an
// entity column.
func newSnapshotStore(d *schema.Descriptor, candidates []string, ent entity.Entity) (*snapshotStore, error) {
	table, cols, ok := schema.ResolveTable(d, candidates)
	if !ok {
		return nil, &apperror.SchemaUnavailable{Entity: ent.Key, Table: strings.Join(candidates, "|")}
	}

	rootCandidates := snapshotRecordRootColumns
	if ent.Strategy == entity.StrategyPurge {
		rootCandidates = snapshotUserRootColumns
	}
	root, ok := schema.ResolveExact(cols, rootCandidates)
	if !ok {
		return nil, &apperror.SchemaUnavailable{Entity: ent.Key, Table: table, Column: rootCandidates[0]}
	}

	s := &snapshotStore{table: table, root: root}
	pick := func(c []string) string {
		name, _ := schema.ResolveExact(cols, c)
		if name == root {
			return ""
		}
		return name
	}
	s.id = pick(snapshotIDColumns)
	s.entity = pick(snapshotEntityColumns)
	s.ident = pick(snapshotIdentColumns)
	s.name = pick(snapshotNameColumns)
	s.email = pick(snapshotEmailColumns)
	s.contact = pick(snapshotContactColumns)
	s.reason = pick(snapshotReasonColumns)
	s.by = pick(snapshotByColumns)
	s.at = pick(snapshotAtColumns)
	s.data = pick(snapshotDataColumns)

	// Flag entities key snapshots by their own record id, which collides
	// with users ids in a shared table unless rows carry the entity key.
	if ent.Strategy != entity.StrategyPurge && s.entity == "" {
		return nil, &apperror.SchemaUnavailable{Entity: ent.Key, Table: table, Column: snapshotEntityColumns[0]}
	}
	return s, nil
}

// where returns the clause and args that select the snapshot of rootID.
func (s *snapshotStore) where(entityKey string, rootID int64) (string, []any) {
	clause := schema.Quote(s.root) + " = ?"
	args := []any{rootID}
	if s.entity != "" {
		clause += " AND " + schema.Quote(s.entity) + " = ?"
		args = append(args, entityKey)
	}
	return clause, args
}

// find returns the existing snapshot for rootID.
func (s *snapshotStore) find(ctx context.Context, q sqlx.QueryerContext, entityKey string, rootID int64) (Snapshot, bool, error) {
	sel := []string{s.root}
	for _, c := range []string{s.id, s.name, s.email} {
		if c != "" {
			sel = append(sel, c)
		}
	}
	clause, args := s.where(entityKey, rootID)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1",
		quoteList(sel), schema.Quote(s.table), clause)

	row := make(map[string]any)
	err := q.QueryRowxContext(ctx, query, args...).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("find snapshot: %w", err)
	}

	snap := Snapshot{RootID: rootID, EntityKey: entityKey}
	if s.id != "" {
		snap.ArchiveID = toInt64(row[s.id])
	}
	snap.Name, _ = schema.Text(row[s.name])
	snap.Email, _ = schema.Text(row[s.email])
	return snap, true, nil
}

// save inserts snap, or updates the existing snapshot for the same root id.
// reused reports the update path.
func (s *snapshotStore) save(ctx context.Context, x sqlx.ExtContext, snap Snapshot) (archiveID int64, reused bool, err error) {
	existing, found, err := s.find(ctx, x, snap.EntityKey, snap.RootID)
	if err != nil {
		return 0, false, err
	}
	if found {
		return existing.ArchiveID, true, s.update(ctx, x, snap)
	}
	id, err := s.insert(ctx, x, snap)
	return id, false, err
}

func (s *snapshotStore) fields(snap Snapshot) ([]string, []any) {
	var (
		cols []string
		args []any
	)
	add := func(col string, v any) {
		if col != "" {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	add(s.ident, nullable(snap.Identifier))
	add(s.name, nullable(snap.Name))
	add(s.email, nullable(snap.Email))
	add(s.contact, nullable(snap.Contact))
	add(s.reason, nullable(snap.Reason))
	add(s.by, snap.ActorID)
	add(s.at, snap.ArchivedAt)
	if len(snap.Data) > 0 {
		add(s.data, string(snap.Data))
	}
	return cols, args
}

func (s *snapshotStore) insert(ctx context.Context, x sqlx.ExecerContext, snap Snapshot) (int64, error) {
	cols, args := s.fields(snap)
	cols = append([]string{s.root}, cols...)
	args = append([]any{snap.RootID}, args...)
	if s.entity != "" {
		cols = append(cols, s.entity)
		args = append(args, snap.EntityKey)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.Quote(s.table), quoteList(cols), schema.Placeholders(len(cols)))
	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	if s.id == "" {
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

func (s *snapshotStore) update(ctx context.Context, x sqlx.ExecerContext, snap Snapshot) error {
	cols, args := s.fields(snap)
	if len(cols) == 0 {
		return nil
	}
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = schema.Quote(c) + " = ?"
	}
	clause, whereArgs := s.where(snap.EntityKey, snap.RootID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		schema.Quote(s.table), strings.Join(set, ", "), clause)
	if _, err := x.ExecContext(ctx, query, append(args, whereArgs...)...); err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	default:
		s, _ := schema.Text(v)
		var n int64
		_, _ = fmt.Sscan(s, &n)
		return n
	}
}

// Stored is the reviewable part of a saved snapshot.
type Stored struct {
	ArchiveID  int64  `json:"archiveId,omitempty"`
	Name       string `json:"name,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ArchivedAt any    `json:"archivedAt,omitempty"`
}

// LookupSnapshots returns the saved snapshot of each id in ids that has
// one, scoped to ent.  tables are the archive-table candidates.  A schema
// without a usable archive table yields *apperror.SchemaUnavailable.
func LookupSnapshots(ctx context.Context, q sqlx.QueryerContext, d *schema.Descriptor, tables []string, ent entity.Entity, ids []int64) (map[int64]Stored, error) {
	out := make(map[int64]Stored, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s, err := newSnapshotStore(d, tables, ent)
	if err != nil {
		return nil, err
	}

	sel := []string{s.root}
	for _, c := range []string{s.id, s.name, s.reason, s.at} {
		if c != "" {
			sel = append(sel, c)
		}
	}
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		quoteList(sel), schema.Quote(s.table), schema.Quote(s.root), schema.Placeholders(len(ids)))
	if s.entity != "" {
		query += " AND " + schema.Quote(s.entity) + " = ?"
		args = append(args, ent.Key)
	}

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	got, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	for _, r := range got {
		id := toInt64(r[s.root])
		if _, dup := out[id]; dup {
			continue
		}
		st := Stored{ArchivedAt: r[s.at]}
		if s.id != "" {
			st.ArchiveID = toInt64(r[s.id])
		}
		st.Name, _ = schema.Text(r[s.name])
		st.Reason, _ = schema.Text(r[s.reason])
		if ts, ok := st.ArchivedAt.(time.Time); ok {
			st.ArchivedAt = ts.UTC().Format(time.RFC3339)
		}
		out[id] = st
	}
	return out, nil
}

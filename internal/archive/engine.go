// internal/archive/engine.go
//
// Archive Engine.
//
// Context
// -------
// Archive(ctx, Request) snapshots records of one LogicalEntity into the
// archive table and then takes them out of live service.  What "out of
// service" means depends on the entity's strategy:
//
//   - purge – the users row, every entity-table row, and everything that
//     references them are deleted (purge.go).
//   - flag  – the record's recovery-mode flag columns are set and the row
//     stays for a later restore (flag.go).
//
// Workflow
// --------
//  1. Validate the request (non-empty, deduplicated, bounded ids).  Nothing
//     touches the database before this passes.
//  2. Load one schema Descriptor for the whole call.
//  3. Walk the ids in fixed-size chunks.  Each chunk pre-reads which ids
//     still exist so `IN (…)` lists stay bounded.
//  4. Run every present id in its own transaction.  One id's work is all
//     or nothing; a failed id is rolled back, reported in Failures, and the
//     rest of the batch carries on.
//  5. Ids without a live row are archived already when a snapshot exists,
//     otherwise not found.
//  6. Write one audit entry for the call.
//
// Notes
// -----
// • Archive returns an error for a batch only when every processed id
//   failed (the joined *apperror.TransactionError values); partial success
//   is reported through Result.Failures.
// • Oxford commas, two spaces after periods.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/audit"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/metrics"
	"github.com/yanizio/schoolarchive/internal/schema"
	"github.com/yanizio/schoolarchive/internal/validate"
)

// Options configures the engine.  Zero fields take DefaultOptions values.
type Options struct {
	RootTables       []string
	RootKeys         []string
	ArchiveTables    []string
	ActivityTables   []string
	AdminTables      []string
	MaxIDs           int
	ChunkSize        int
	CascadeDepth     int
	ForensicSnapshot bool
}

// DefaultOptions matches the stock portal schema.
func DefaultOptions() Options {
	return Options{
		RootTables:       []string{"users", "user"},
		RootKeys:         []string{"user_id", "id"},
		ArchiveTables:    []string{"archived_users", "archive_users", "user_archive"},
		ActivityTables:   []string{"account_logs", "activity_logs", "user_activity"},
		AdminTables:      []string{"audit_logs", "audit_log"},
		MaxIDs:           500,
		ChunkSize:        100,
		CascadeDepth:     3,
		ForensicSnapshot: true,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if len(o.RootTables) == 0 {
		o.RootTables = def.RootTables
	}
	if len(o.RootKeys) == 0 {
		o.RootKeys = def.RootKeys
	}
	if len(o.ArchiveTables) == 0 {
		o.ArchiveTables = def.ArchiveTables
	}
	if o.MaxIDs <= 0 {
		o.MaxIDs = def.MaxIDs
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.CascadeDepth <= 0 {
		o.CascadeDepth = def.CascadeDepth
	}
	return o
}

// Request is one archive call.
type Request struct {
	EntityKey string  `json:"entity"   validate:"required"`
	RootIDs   []int64 `json:"root_ids" validate:"required,min=1,dive,gt=0"`
	Reason    string  `json:"reason"   validate:"max=500"`
	ActorID   int64   `json:"-"`
	IP        string  `json:"-"`

	at time.Time
}

// Archived describes one archived root id.
type Archived struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ArchiveID int64  `json:"archive_id,omitempty"`
	Reused    bool   `json:"reused"`
}

// Failure is one id whose transaction was rolled back.
type Failure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`

	err error
}

// Result summarises an archive call.
type Result struct {
	OperationID   string     `json:"operation_id"`
	ArchivedCount int        `json:"archived_count"`
	Archived      []Archived `json:"archived"`
	NotFound      []int64    `json:"not_found"`
	Failures      []Failure  `json:"failures"`
}

// strategy is the per-entity half of the engine.
type strategy interface {
	present(ctx context.Context, q sqlx.QueryerContext, ids []int64) (map[int64]bool, error)
	// archive runs inside tx.  ok is false when the row no longer exists.
	archive(ctx context.Context, tx *sqlx.Tx, id int64, req Request) (a Archived, ok bool, err error)
}

// Engine archives records.  Safe for concurrent use.
type Engine struct {
	db       *sqlx.DB
	dialect  schema.Dialect
	entities *entity.Registry
	ids      *identity.Reconciler
	sink     audit.Sink
	log      *zap.Logger
	opts     Options
}

// NewEngine wires an Engine.  sink may be nil to skip auditing.
func NewEngine(db *sqlx.DB, entities *entity.Registry, sink audit.Sink, log *zap.Logger, opts Options) (*Engine, error) {
	dialect, err := schema.DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Engine{
		db:       db,
		dialect:  dialect,
		entities: entities,
		ids:      identity.NewReconciler(opts.RootTables, opts.RootKeys, log.Named("identity")),
		sink:     sink,
		log:      log,
		opts:     opts,
	}, nil
}

// Archive runs one archive call.  See the file header for the workflow.
func (e *Engine) Archive(ctx context.Context, req Request) (Result, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	req.RootIDs = validate.DedupInt64(req.RootIDs)
	if err := validate.Join(
		validate.Struct(req),
		validate.MaxItems("root_ids", len(req.RootIDs), e.opts.MaxIDs),
	); err != nil {
		return Result{}, err
	}
	ent, err := e.entities.Lookup(req.EntityKey)
	if err != nil {
		return Result{}, err
	}
	req.at = time.Now().UTC()

	res := Result{
		OperationID: uuid.NewString(),
		Archived:    []Archived{},
		NotFound:    []int64{},
		Failures:    []Failure{},
	}
	log := e.log.With(zap.String("operation_id", res.OperationID), zap.String("entity", ent.Key))

	d, err := schema.Load(ctx, e.db, e.dialect)
	if err != nil {
		return Result{}, fmt.Errorf("archive %s: %w", ent.Key, err)
	}
	strat, store, err := e.strategyFor(d, ent, log)
	if err != nil {
		return Result{}, err
	}

	for _, chunk := range chunkIDs(req.RootIDs, e.opts.ChunkSize) {
		present, err := strat.present(ctx, e.db, chunk)
		if err != nil {
			return res, fmt.Errorf("archive %s: %w", ent.Key, err)
		}
		for _, id := range chunk {
			if present[id] {
				a, ok, err := e.runOne(ctx, strat, id, req)
				if err != nil {
					e.fail(&res, ent, id, err, log)
					continue
				}
				if ok {
					e.archived(&res, ent, a)
					continue
				}
			}
			if err := e.absent(ctx, &res, store, ent, id); err != nil {
				e.fail(&res, ent, id, err, log)
			}
		}
	}

	log.Info("archive finished",
		zap.Int("requested", len(req.RootIDs)),
		zap.Int("archived", res.ArchivedCount),
		zap.Int("not_found", len(res.NotFound)),
		zap.Int("failed", len(res.Failures)))

	audit.Record(ctx, e.sink, log, audit.Entry{
		OperationID: res.OperationID,
		Action:      audit.ActionArchive,
		ActorID:     req.ActorID,
		IPAddress:   req.IP,
		OccurredAt:  req.at,
		Details: map[string]any{
			"entity":         ent.Key,
			"strategy":       string(ent.Strategy),
			"requested_ids":  req.RootIDs,
			"archived_ids":   archivedIDs(res.Archived),
			"archived_count": res.ArchivedCount,
			"not_found":      res.NotFound,
			"failed_ids":     failedIDs(res.Failures),
			"reason":         req.Reason,
		},
	})

	if res.ArchivedCount == 0 && len(res.Failures) > 0 {
		errs := make([]error, len(res.Failures))
		for i, f := range res.Failures {
			errs[i] = f.err
		}
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (e *Engine) strategyFor(d *schema.Descriptor, ent entity.Entity, log *zap.Logger) (strategy, *snapshotStore, error) {
	store, err := newSnapshotStore(d, e.opts.ArchiveTables, ent)
	if err != nil {
		return nil, nil, err
	}
	if ent.Strategy == entity.StrategyPurge {
		p, err := newPurge(e, d, ent, store, log)
		return p, store, err
	}
	f, err := newFlagger(e, d, ent, store, log)
	return f, store, err
}

// runOne archives id inside its own transaction.
func (e *Engine) runOne(ctx context.Context, strat strategy, id int64, req Request) (a Archived, ok bool, err error) {
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return Archived{}, false, &apperror.TransactionError{Op: "archive", ID: fmt.Sprint(id), Err: err}
	}
	defer func() {
		if err != nil || !ok {
			_ = tx.Rollback()
		}
	}()

	a, ok, err = strat.archive(ctx, tx, id, req)
	if err != nil {
		return Archived{}, false, &apperror.TransactionError{Op: "archive", ID: fmt.Sprint(id), Err: err}
	}
	if !ok {
		return Archived{}, false, nil
	}
	if err = tx.Commit(); err != nil {
		return Archived{}, false, &apperror.TransactionError{Op: "archive", ID: fmt.Sprint(id), Err: err}
	}
	return a, true, nil
}

// absent classifies an id with no live row.
func (e *Engine) absent(ctx context.Context, res *Result, store *snapshotStore, ent entity.Entity, id int64) error {
	snap, found, err := store.find(ctx, e.db, ent.Key, id)
	if err != nil {
		return err
	}
	if !found {
		res.NotFound = append(res.NotFound, id)
		metrics.ArchiveOutcomes.WithLabelValues(ent.Key, "not_found").Inc()
		return nil
	}
	e.archived(res, ent, Archived{ID: id, Name: snap.Name, Email: snap.Email, ArchiveID: snap.ArchiveID, Reused: true})
	return nil
}

func (e *Engine) archived(res *Result, ent entity.Entity, a Archived) {
	res.Archived = append(res.Archived, a)
	res.ArchivedCount++
	outcome := "archived"
	if a.Reused {
		outcome = "reused"
	}
	metrics.ArchiveOutcomes.WithLabelValues(ent.Key, outcome).Inc()
}

func (e *Engine) fail(res *Result, ent entity.Entity, id int64, err error, log *zap.Logger) {
	res.Failures = append(res.Failures, Failure{ID: id, Error: err.Error(), err: err})
	metrics.ArchiveOutcomes.WithLabelValues(ent.Key, "failed").Inc()
	log.Error("archive rolled back", zap.Int64("id", id), zap.Error(err))
}

// adminTables lists the tables generic cascading must never touch.
func (e *Engine) adminTables(archiveTable string) []string {
	out := []string{archiveTable}
	out = append(out, e.opts.ArchiveTables...)
	out = append(out, e.opts.ActivityTables...)
	return append(out, e.opts.AdminTables...)
}

func unavailable(ent entity.Entity, table, column string) error {
	return &apperror.SchemaUnavailable{Entity: ent.Key, Table: table, Column: column}
}

func archivedIDs(a []Archived) []int64 {
	out := make([]int64, len(a))
	for i, x := range a {
		out[i] = x.ID
	}
	return out
}

func failedIDs(f []Failure) []int64 {
	out := make([]int64, len(f))
	for i, x := range f {
		out[i] = x.ID
	}
	return out
}

package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/audit"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/schema"
	"github.com/yanizio/schoolarchive/internal/validate"
)

// ReconcileRequest asks for canonical identifiers of some root users ids.
type ReconcileRequest struct {
	EntityKey string  `json:"entity"   validate:"required"`
	RootIDs   []int64 `json:"root_ids" validate:"required,min=1,dive,gt=0"`
	ActorID   int64   `json:"-"`
	IP        string  `json:"-"`
}

// Service runs the reconciler on demand and hands repairs to a Dispatcher.
type Service struct {
	db       *sqlx.DB
	dialect  schema.Dialect
	entities *entity.Registry
	rec      *Reconciler
	dispatch Dispatcher
	sink     audit.Sink
	log      *zap.Logger
	maxIDs   int
}

// NewService wires a Service.  maxIDs caps one request; sink may be nil.
func NewService(db *sqlx.DB, entities *entity.Registry, rec *Reconciler, dispatch Dispatcher, sink audit.Sink, log *zap.Logger, maxIDs int) (*Service, error) {
	dialect, err := schema.DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, dialect: dialect, entities: entities, rec: rec, dispatch: dispatch, sink: sink, log: log, maxIDs: maxIDs}, nil
}

// Reconcile plans every requested root id and submits the repairs.  A plan
// that cannot be read is logged and left out; repair outcomes belong to the
// Dispatcher.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) ([]Plan, error) {
	req.RootIDs = validate.DedupInt64(req.RootIDs)
	if err := validate.Join(
		validate.Struct(req),
		validate.MaxItems("root_ids", len(req.RootIDs), s.maxIDs),
	); err != nil {
		return nil, err
	}
	ent, err := s.entities.Lookup(req.EntityKey)
	if err != nil {
		return nil, err
	}
	if !ent.UserLinked() {
		return nil, apperror.Invalid("entity", fmt.Sprintf("%s has no identifier copies to reconcile", ent.Key))
	}

	d, err := schema.Load(ctx, s.db, s.dialect)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ent.Key, err)
	}

	plans := make([]Plan, 0, len(req.RootIDs))
	for _, id := range req.RootIDs {
		p, err := s.rec.Plan(ctx, s.db, d, ent, id)
		if err != nil {
			s.log.Warn("identity plan failed", zap.String("entity", ent.Key), zap.Int64("root_id", id), zap.Error(err))
			continue
		}
		if len(p.Locations) == 0 {
			continue
		}
		s.dispatch.Submit(ctx, p.Task())
		plans = append(plans, p)
	}

	repairs := 0
	for _, p := range plans {
		repairs += len(p.Repairs)
	}
	audit.Record(ctx, s.sink, s.log, audit.Entry{
		OperationID: uuid.NewString(),
		Action:      audit.ActionIdentityPlan,
		ActorID:     req.ActorID,
		IPAddress:   req.IP,
		Details: map[string]any{
			"entity":        ent.Key,
			"requested_ids": req.RootIDs,
			"planned":       len(plans),
			"repairs":       repairs,
		},
	})
	return plans, nil
}

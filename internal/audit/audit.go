// Package audit defines the sink that receives one structured entry per
// archive or restore outcome.  Storage format is owned by the deployment:
// the engines only call Sink.Write.  ZapSink writes entries to a dedicated
// "audit" logger namespace so a log shipper can route them.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Actions written by the engines.
const (
	ActionArchive      = "archive.records"
	ActionRestore      = "recovery.restore"
	ActionRestoreNoop  = "recovery.noop"
	ActionIdentityPlan = "identity.reconcile"
)

// Entry is one audit record.
type Entry struct {
	OperationID string         `json:"operation_id"`
	Action      string         `json:"action"`
	ActorID     int64          `json:"actor_id"`
	IPAddress   string         `json:"ip_address"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Details     map[string]any `json:"details"`
}

// Sink receives audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Func adapts a plain audit-write function with the portal's legacy
// (action, actorId, ipAddress, details) signature.
type Func func(ctx context.Context, action string, actorID int64, ip string, details map[string]any) error

// Write calls f.
func (f Func) Write(ctx context.Context, e Entry) error {
	return f(ctx, e.Action, e.ActorID, e.IPAddress, e.Details)
}

// Discard drops every entry.
var Discard Sink = Func(func(context.Context, string, int64, string, map[string]any) error { return nil })

// ZapSink logs entries as structured JSON.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink returns a sink writing under the "audit" logger name.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.L()
	}
	return &ZapSink{log: log.Named("audit")}
}

// Write logs e at INFO.
func (s *ZapSink) Write(_ context.Context, e Entry) error {
	s.log.Info(e.Action,
		zap.String("operation_id", e.OperationID),
		zap.Int64("actor_id", e.ActorID),
		zap.String("ip_address", e.IPAddress),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("details", e.Details),
	)
	return nil
}

// Record writes e through s and logs, rather than returns, any failure.
// Audit problems never undo a committed operation.
func Record(ctx context.Context, s Sink, log *zap.Logger, e Entry) {
	if s == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := s.Write(ctx, e); err != nil {
		if log == nil {
			log = zap.L()
		}
		log.Error("audit write failed",
			zap.String("action", e.Action),
			zap.String("operation_id", e.OperationID),
			zap.Error(err))
	}
}

// internal/identity/dispatcher.go
//
// Repair-task dispatchers.
//
// Context
// -------
// Identifier write-backs are an eventual-consistency repair.  They must
// never hold up, fail, or join the primary archive or recovery transaction.
// A Dispatcher accepts a Task and owns its execution and its failures:
//
//   - AsyncDispatcher  – background goroutine on the shared pool, retried
//     with exponential backoff, deduplicated per entity/root id through
//     singleflight.  Used by the HTTP server.
//   - InlineDispatcher – runs the Task before Submit returns.  Used by the
//     CLI and by tests that need deterministic ordering.
//
// Both log failures and swallow them.  Callers never see a repair error.
//
// Notes
// -----
// • AsyncDispatcher detaches from the request context so a finished HTTP
//   request does not cancel its repair.  Its own timeout still applies.
// • Call Wait() during shutdown to drain in-flight repairs.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Dispatcher executes repair tasks on a best-effort basis.
type Dispatcher interface {
	Submit(ctx context.Context, t Task)
}

//
// InlineDispatcher
//

// InlineDispatcher runs each Task synchronously.
type InlineDispatcher struct {
	DB  sqlx.ExecerContext
	Log *zap.Logger
}

// Submit runs t and logs any failure.
func (d InlineDispatcher) Submit(ctx context.Context, t Task) {
	if t.Empty() {
		return
	}
	n, err := t.Run(ctx, d.DB)
	logOutcome(d.Log, t, n, err)
}

//
// AsyncDispatcher
//

// AsyncDispatcher runs tasks in the background.  Zero value is unusable;
// construct with NewAsyncDispatcher.
type AsyncDispatcher struct {
	db       sqlx.ExecerContext
	log      *zap.Logger
	timeout  time.Duration
	attempts uint64

	sfg singleflight.Group
	wg  sync.WaitGroup
}

// NewAsyncDispatcher returns a dispatcher that retries each task up to
// attempts extra times within timeout.
func NewAsyncDispatcher(db sqlx.ExecerContext, log *zap.Logger, timeout time.Duration, attempts int) *AsyncDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts < 0 {
		attempts = 0
	}
	return &AsyncDispatcher{db: db, log: log, timeout: timeout, attempts: uint64(attempts)}
}

// Submit schedules t and returns immediately.
func (d *AsyncDispatcher) Submit(ctx context.Context, t Task) {
	if t.Empty() {
		return
	}
	parent := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Concurrent submissions for the same record share one run.
		_, _, _ = d.sfg.Do(t.Key, func() (any, error) {
			d.run(parent, t)
			return nil, nil
		})
	}()
}

func (d *AsyncDispatcher) run(parent context.Context, t Task) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	var changed int64
	op := func() error {
		n, err := t.Run(ctx, d.db)
		changed += n
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.attempts), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		d.log.Warn("identity repair retry",
			zap.String("task", t.Key), zap.Duration("wait", wait), zap.Error(err))
	})
	logOutcome(d.log, t, changed, err)
}

// Wait blocks until every submitted task has finished.
func (d *AsyncDispatcher) Wait() { d.wg.Wait() }

func logOutcome(log *zap.Logger, t Task, changed int64, err error) {
	if log == nil {
		log = zap.L()
	}
	if err != nil {
		log.Error("identity repair failed",
			zap.String("task", t.Key), zap.Int("repairs", len(t.Repairs)), zap.Error(err))
		return
	}
	log.Info("identity repaired",
		zap.String("task", t.Key), zap.Int("repairs", len(t.Repairs)), zap.Int64("rows", changed))
}

// Package sqladapter implements txmgr.ResourceAdapter over database/sql,
// grounded on the teacher's Cassandra/Redis connection packages (one
// package-level Config, one Connection wrapping the driver handle) but
// wired to a relational backend (lib/pq) since this is the one adapter
// SPEC_FULL asks to exercise real SAVEPOINT/RELEASE SAVEPOINT/ROLLBACK TO
// SAVEPOINT semantics for NESTED propagation.
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	log "log/slog"

	"github.com/google/uuid"

	"github.com/SharedCode/txmgr"
	"github.com/SharedCode/txmgr/internal/backoff"
)

// Adapter is a txmgr.ResourceAdapter backed by a *sql.DB connection pool.
// It supports savepoint-based NESTED propagation and session suspend/resume
// (parking a *sql.Tx in the context binder while an independent
// REQUIRES_NEW transaction runs on the same logical thread).
type Adapter struct {
	db         *sql.DB
	binder     *txmgr.ContextBinder
	maxRetries uint64
}

// txState is the resource object this adapter hands the engine: either
// empty (no transaction bound yet) or wrapping an open *sql.Tx.
type txState struct {
	tx           *sql.Tx
	rollbackOnly bool
}

// New returns an Adapter over db, sharing binder with the
// txmgr.PropagationEngine it will be wired to.
func New(db *sql.DB, binder *txmgr.ContextBinder, maxRetries uint64) *Adapter {
	if maxRetries == 0 {
		maxRetries = 5
	}
	return &Adapter{db: db, binder: binder, maxRetries: maxRetries}
}

// Factory returns this adapter's own identity as the resourceMap key.
func (a *Adapter) Factory() any { return a }

func (a *Adapter) DoGetTransaction(ctx context.Context, thread any) (any, error) {
	if r, ok := a.binder.ResourceFor(thread, a.Factory()); ok {
		return r, nil
	}
	return &txState{}, nil
}

func (a *Adapter) IsExistingTransaction(resource any) bool {
	ts, ok := resource.(*txState)
	return ok && ts.tx != nil
}

func (a *Adapter) UseSavepointForNested() bool { return true }

func (a *Adapter) DoBegin(ctx context.Context, thread any, resource any, definition txmgr.TransactionDefinition) error {
	ts := resource.(*txState)
	opts := &sql.TxOptions{
		ReadOnly:  definition.ReadOnly,
		Isolation: toSQLIsolation(definition.Isolation),
	}
	err := backoff.Retry(ctx, a.maxRetries, func(ctx context.Context) error {
		tx, err := a.db.BeginTx(ctx, opts)
		if err != nil {
			return err
		}
		ts.tx = tx
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("sqladapter: begin failed: %w", err)
	}
	if existing, ok := a.binder.ResourceFor(thread, a.Factory()); ok && existing == resource {
		return nil
	}
	return a.binder.BindResource(thread, a.Factory(), ts)
}

func (a *Adapter) DoSuspend(ctx context.Context, thread any, resource any) (any, error) {
	suspended, _ := a.binder.UnbindResource(thread, a.Factory())
	return suspended, nil
}

func (a *Adapter) DoResume(ctx context.Context, thread any, resource any, suspended any) error {
	ts, ok := suspended.(*txState)
	if !ok {
		return fmt.Errorf("sqladapter: resume given unexpected token %T", suspended)
	}
	return a.binder.BindResource(thread, a.Factory(), ts)
}

func (a *Adapter) DoCommit(ctx context.Context, status *txmgr.TransactionStatus) error {
	ts := status.Resource.(*txState)
	return ts.tx.Commit()
}

func (a *Adapter) DoRollback(ctx context.Context, status *txmgr.TransactionStatus) error {
	ts := status.Resource.(*txState)
	return ts.tx.Rollback()
}

func (a *Adapter) DoSetRollbackOnly(ctx context.Context, status *txmgr.TransactionStatus) error {
	ts, ok := status.Resource.(*txState)
	if !ok {
		return nil
	}
	ts.rollbackOnly = true
	return nil
}

func (a *Adapter) DoCleanupAfterCompletion(ctx context.Context, resource any) error {
	if ts, ok := resource.(*txState); ok {
		ts.tx = nil
	}
	return nil
}

func (a *Adapter) ShouldCommitOnGlobalRollbackOnly() bool { return false }

// IsGlobalRollbackOnly implements txmgr.GlobalRollbackOnlyChecker: a
// participating scope calls DoSetRollbackOnly to flip this, and the
// outermost commit observes it here.
func (a *Adapter) IsGlobalRollbackOnly(resource any) bool {
	ts, ok := resource.(*txState)
	return ok && ts.rollbackOnly
}

// SavepointManager implements txmgr.SavepointCapable.
func (a *Adapter) SavepointManager() txmgr.SavepointManager { return sqlSavepoints{} }

type sqlSavepoints struct{}

func (sqlSavepoints) CreateSavepoint(ctx context.Context, resource any) (any, error) {
	ts := resource.(*txState)
	name := "sp_" + uuid.NewString()[:8]
	if _, err := ts.tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
		return nil, err
	}
	return name, nil
}

func (sqlSavepoints) RollbackToSavepoint(ctx context.Context, resource any, savepoint any) error {
	ts := resource.(*txState)
	name := savepoint.(string)
	_, err := ts.tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name))
	return err
}

func (sqlSavepoints) ReleaseSavepoint(ctx context.Context, resource any, savepoint any) error {
	ts := resource.(*txState)
	name := savepoint.(string)
	_, err := ts.tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", name))
	return err
}

func toSQLIsolation(i txmgr.Isolation) sql.IsolationLevel {
	switch i {
	case txmgr.ReadUncommitted:
		return sql.LevelReadUncommitted
	case txmgr.ReadCommitted:
		return sql.LevelReadCommitted
	case txmgr.RepeatableRead:
		return sql.LevelRepeatableRead
	case txmgr.Serializable:
		return sql.LevelSerializable
	default:
		log.Debug("sqladapter: default isolation requested, deferring to driver default")
		return sql.LevelDefault
	}
}

// Package redisadapter implements txmgr.ResourceAdapter over go-redis,
// modeling a session-style resource: a transactional pipeline
// (Client.TxPipeline) queued for the lifetime of the scope and flushed with
// one Exec at commit time. Grounded on the teacher's redis package
// (connection.go's Options/Connection shape, locker.go's lock-key idiom
// reused here for DoSetRollbackOnly's cross-process visibility).
package redisadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SharedCode/txmgr"
)

// rollbackOnlyMarkerTTL bounds how long a DoSetRollbackOnly marker survives
// in Redis if the owning process never reaches DoCleanupAfterCompletion to
// release it (crash, network partition).
const rollbackOnlyMarkerTTL = 5 * time.Minute

// Adapter is a txmgr.ResourceAdapter backed by a *redis.Client. Redis has
// no savepoint concept, so UseSavepointForNested reports false: NESTED
// propagation falls through to the §4.4.2 JTA-style nested begin, reusing
// the outer pipeline rather than suspending it.
type Adapter struct {
	client *redis.Client
	binder *txmgr.ContextBinder
}

// pipeState is the resource object handed to the engine: either empty (no
// pipeline started yet) or wrapping a queued *redis.Pipeline.
type pipeState struct {
	id             string
	pipe           redis.Pipeliner
	rollbackOnly   bool
	rollbackMarker *LockKey
}

// New returns an Adapter over client, sharing binder with the
// txmgr.PropagationEngine it will be wired to.
func New(client *redis.Client, binder *txmgr.ContextBinder) *Adapter {
	return &Adapter{client: client, binder: binder}
}

// Factory returns this adapter's own identity as the resourceMap key.
func (a *Adapter) Factory() any { return a }

func (a *Adapter) DoGetTransaction(ctx context.Context, thread any) (any, error) {
	if r, ok := a.binder.ResourceFor(thread, a.Factory()); ok {
		return r, nil
	}
	return &pipeState{id: uuid.NewString()}, nil
}

func (a *Adapter) IsExistingTransaction(resource any) bool {
	ps, ok := resource.(*pipeState)
	return ok && ps.pipe != nil
}

func (a *Adapter) UseSavepointForNested() bool { return false }

func (a *Adapter) DoBegin(ctx context.Context, thread any, resource any, definition txmgr.TransactionDefinition) error {
	ps := resource.(*pipeState)
	if ps.pipe == nil {
		ps.pipe = a.client.TxPipeline()
	}
	if existing, ok := a.binder.ResourceFor(thread, a.Factory()); ok && existing == resource {
		// JTA-style nested begin: already bound under this factory,
		// continue queuing onto the same pipeline.
		return nil
	}
	return a.binder.BindResource(thread, a.Factory(), ps)
}

// Command runs fn against the pipeline bound to status so fn can queue
// commands on it, for callers accumulating Redis operations inside a
// transactional scope.
func (a *Adapter) Command(status *txmgr.TransactionStatus, fn func(redis.Pipeliner) error) error {
	ps := status.Resource.(*pipeState)
	return fn(ps.pipe)
}

func (a *Adapter) DoSuspend(ctx context.Context, thread any, resource any) (any, error) {
	suspended, _ := a.binder.UnbindResource(thread, a.Factory())
	return suspended, nil
}

func (a *Adapter) DoResume(ctx context.Context, thread any, resource any, suspended any) error {
	ps, ok := suspended.(*pipeState)
	if !ok {
		return fmt.Errorf("redisadapter: resume given unexpected token %T", suspended)
	}
	return a.binder.BindResource(thread, a.Factory(), ps)
}

func (a *Adapter) DoCommit(ctx context.Context, status *txmgr.TransactionStatus) error {
	ps := status.Resource.(*pipeState)
	commitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := ps.pipe.Exec(commitCtx)
	return err
}

func (a *Adapter) DoRollback(ctx context.Context, status *txmgr.TransactionStatus) error {
	ps := status.Resource.(*pipeState)
	return ps.pipe.Discard()
}

// DoSetRollbackOnly marks ps rollback-only both in-process and in Redis
// itself, using the same SET-NX-then-confirm lock idiom locker.go uses for
// distributed lock ownership: any other process sharing this pipeline's
// resource can observe the mark by attempting the same lock key.
func (a *Adapter) DoSetRollbackOnly(ctx context.Context, status *txmgr.TransactionStatus) error {
	ps, ok := status.Resource.(*pipeState)
	if !ok {
		return nil
	}
	ps.rollbackOnly = true
	if ps.rollbackMarker == nil {
		lk := NewLockKeys(fmt.Sprintf("rollbackonly:%s", ps.id))[0]
		if _, err := a.Lock(ctx, rollbackOnlyMarkerTTL, lk); err != nil {
			return fmt.Errorf("redisadapter: marking rollback-only visible cross-process: %w", err)
		}
		ps.rollbackMarker = lk
	}
	return nil
}

func (a *Adapter) DoCleanupAfterCompletion(ctx context.Context, resource any) error {
	if ps, ok := resource.(*pipeState); ok {
		if ps.rollbackMarker != nil {
			if err := a.Unlock(ctx, ps.rollbackMarker); err != nil {
				return fmt.Errorf("redisadapter: releasing rollback-only marker: %w", err)
			}
		}
		ps.pipe = nil
	}
	return nil
}

func (a *Adapter) ShouldCommitOnGlobalRollbackOnly() bool { return false }

// IsGlobalRollbackOnly implements txmgr.GlobalRollbackOnlyChecker.
func (a *Adapter) IsGlobalRollbackOnly(resource any) bool {
	ps, ok := resource.(*pipeState)
	return ok && ps.rollbackOnly
}

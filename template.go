package txmgr

import (
	"context"
	"fmt"
)

// TransactionTemplate is a thin convenience wrapper over
// PropagationEngine.Begin/Commit/Rollback, grounded on the teacher's
// singlePhaseTransaction wrapper: Execute begins a scope, runs fn, and
// commits on success or rolls back on a returned error or panic -
// callers that don't need Begin/Commit/Rollback as three separate calls
// use this instead.
type TransactionTemplate struct {
	Engine     *PropagationEngine
	Definition TransactionDefinition
}

// NewTransactionTemplate returns a TransactionTemplate driving engine with
// definition applied to every Execute call.
func NewTransactionTemplate(engine *PropagationEngine, definition TransactionDefinition) *TransactionTemplate {
	return &TransactionTemplate{Engine: engine, Definition: definition}
}

// Execute begins a transactional scope for thread per t.Definition, runs fn,
// and commits if fn returns nil, or rolls back (preserving fn's error) if fn
// returns an error or panics. A panic inside fn is converted into a rollback
// and re-panics after cleanup, mirroring the teacher's Commit-tries-then-
// Rollback-on-error pattern in in_red_ck's singlePhaseTransaction. If that
// rollback itself fails, Execute does not re-panic; it returns an error
// describing both the panic and the rollback failure.
func (t *TransactionTemplate) Execute(ctx context.Context, thread any, fn func(ctx context.Context, status *TransactionStatus) error) (err error) {
	status, err := t.Engine.Begin(ctx, thread, &t.Definition)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := t.Engine.Rollback(ctx, thread, status); rbErr != nil {
				err = fmt.Errorf("panic in transaction body: %v (rollback also failed: %w)", r, rbErr)
				return
			}
			panic(r)
		}
	}()

	if fnErr := fn(ctx, status); fnErr != nil {
		if rbErr := t.Engine.Rollback(ctx, thread, status); rbErr != nil {
			return fmt.Errorf("transaction body failed: %w (rollback also failed: %v)", fnErr, rbErr)
		}
		return fnErr
	}

	return t.Engine.Commit(ctx, thread, status)
}

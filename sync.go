package txmgr

import log "log/slog"

// Synchronization is a callback registered against the logical thread's
// ambient context, tied to scope boundaries. Implementations may embed
// SynchronizationAdapter to pick up no-op defaults for the phases they
// don't care about - the engine treats any unimplemented phase as a no-op,
// the same way the teacher treats unimplemented btreeBackend hooks as
// optional function pointers.
type Synchronization interface {
	// Suspend is invoked, in registration order, when the owning scope is
	// suspended to make room for an independent transaction.
	Suspend()
	// Resume is invoked, in registration order, when the owning scope's
	// ambient context is restored.
	Resume()
	// BeforeCommit runs before the backend commit is issued. readOnly
	// reflects the status's ReadOnly flag. An error here aborts the commit
	// and triggers rollback.
	BeforeCommit(readOnly bool) error
	// BeforeCompletion runs before either commit or rollback finalizes,
	// regardless of outcome. An error here also aborts an in-flight commit.
	BeforeCompletion() error
	// AfterCommit runs once the backend commit has succeeded. An error here
	// is logged and surfaced to the caller only after AfterCompletion runs.
	AfterCommit() error
	// AfterCompletion runs exactly once per scope with the final outcome.
	// Errors are caught and logged; they never mask the real outcome.
	AfterCompletion(status CompletionStatus)
}

// SynchronizationAdapter gives every phase a no-op default so callers can
// embed it and override only the phases they need.
type SynchronizationAdapter struct{}

func (SynchronizationAdapter) Suspend()                                {}
func (SynchronizationAdapter) Resume()                                 {}
func (SynchronizationAdapter) BeforeCommit(readOnly bool) error        { return nil }
func (SynchronizationAdapter) BeforeCompletion() error                 { return nil }
func (SynchronizationAdapter) AfterCommit() error                      { return nil }
func (SynchronizationAdapter) AfterCompletion(status CompletionStatus) {}

// triggerBeforeCommit runs BeforeCommit on every registered callback, in
// order, stopping and returning the first error.
func triggerBeforeCommit(ctx *AmbientContext, readOnly bool) error {
	if ctx == nil || ctx.synchronizations == nil {
		return nil
	}
	for _, s := range ctx.synchronizations {
		if err := s.BeforeCommit(readOnly); err != nil {
			return err
		}
	}
	return nil
}

// triggerBeforeCompletion runs BeforeCompletion on every registered
// callback, in order, stopping and returning the first error.
func triggerBeforeCompletion(ctx *AmbientContext) error {
	if ctx == nil || ctx.synchronizations == nil {
		return nil
	}
	for _, s := range ctx.synchronizations {
		if err := s.BeforeCompletion(); err != nil {
			return err
		}
	}
	return nil
}

// triggerAfterCommit runs AfterCommit on every registered callback. A
// non-nil error is logged immediately but dispatch continues to the
// remaining callbacks and the first error is returned to the caller after
// triggerAfterCompletion has run.
func triggerAfterCommit(ctx *AmbientContext) error {
	if ctx == nil || ctx.synchronizations == nil {
		return nil
	}
	var first error
	for _, s := range ctx.synchronizations {
		if err := s.AfterCommit(); err != nil {
			log.Warn("afterCommit callback failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// triggerAfterCompletion runs AfterCompletion on every registered callback.
// Panics/errors are not possible by signature (AfterCompletion has no
// return), but we guard with recover anyway since callers may still panic,
// mirroring the "caught and logged, never masks the outcome" rule.
func triggerAfterCompletion(ctx *AmbientContext, status CompletionStatus) {
	if ctx == nil || ctx.synchronizations == nil {
		return
	}
	for _, s := range ctx.synchronizations {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("afterCompletion callback panicked", "recovered", r)
				}
			}()
			s.AfterCompletion(status)
		}()
	}
}

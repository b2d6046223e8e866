package txmgr

import (
	"context"
	"fmt"
	log "log/slog"
)

// SynchronizationPolicy controls whether an "empty" status (one carrying no
// real backend resource) still activates the synchronization list.
type SynchronizationPolicy int

const (
	// SyncAlways activates synchronization for every status, empty or not.
	SyncAlways SynchronizationPolicy = iota
	// SyncOnActualTransaction activates synchronization only when a real
	// transaction is active.
	SyncOnActualTransaction
	// SyncNever disables synchronization entirely.
	SyncNever
)

// PropagationEngine implements the propagation decision table, the
// commit/rollback finite-state logic, and suspend/resume of outer scopes,
// for a single ResourceAdapter. It is single-threaded per logical scope
// (§5): callers must not drive two concurrent operations for the same
// thread identity at once, though independent logical threads may each run
// their own transaction concurrently.
type PropagationEngine struct {
	binder  *ContextBinder
	adapter ResourceAdapter

	// NestedTransactionAllowed gates Nested propagation. Default false.
	NestedTransactionAllowed bool
	// ValidateExistingTransaction enforces isolation/read-only compatibility
	// when participating in an existing transaction. Default false.
	ValidateExistingTransaction bool
	// GlobalRollbackOnParticipationFailure marks the outer resource
	// rollback-only when a participating (non-new) scope rolls back.
	// Default true.
	GlobalRollbackOnParticipationFailure bool
	// FailEarlyOnGlobalRollbackOnly surfaces UnexpectedRollback at the
	// inner scope's boundary instead of only at the outermost commit.
	// Default false.
	FailEarlyOnGlobalRollbackOnly bool
	// RollbackOnCommitFailure issues a rollback when the adapter's commit
	// call itself fails. Default false.
	RollbackOnCommitFailure bool
	// TransactionSynchronization controls whether empty statuses also
	// activate synchronization. Default SyncAlways.
	TransactionSynchronization SynchronizationPolicy
}

// NewPropagationEngine returns a PropagationEngine for adapter, sharing
// binder with it (the adapter is expected to have been constructed against
// the same binder so both consult one ambient context per logical thread).
func NewPropagationEngine(binder *ContextBinder, adapter ResourceAdapter) *PropagationEngine {
	return &PropagationEngine{
		binder:  binder,
		adapter: adapter,
		GlobalRollbackOnParticipationFailure: true,
		TransactionSynchronization:           SyncAlways,
	}
}

// Begin starts or joins a transactional scope for thread, per definition. A
// nil definition substitutes DefaultDefinition().
func (e *PropagationEngine) Begin(ctx context.Context, thread any, definition *TransactionDefinition) (*TransactionStatus, error) {
	d := DefaultDefinition()
	if definition != nil {
		d = *definition
	}

	resource, err := e.adapter.DoGetTransaction(ctx, thread)
	if err != nil {
		return nil, wrapError(TransactionException, err, nil)
	}

	if e.adapter.IsExistingTransaction(resource) {
		return e.participateInExisting(ctx, thread, d, resource)
	}

	if d.TimeoutSeconds < DefaultTimeout {
		return nil, newError(InvalidTimeout, "invalid transaction timeout", d.TimeoutSeconds)
	}

	switch d.Propagation {
	case Mandatory:
		return nil, newError(IllegalTransactionState, "no existing transaction found for propagation 'mandatory'", nil)

	case Required, RequiresNew, Nested:
		suspended, err := e.suspend(ctx, thread, nil)
		if err != nil {
			return nil, err
		}
		status := &TransactionStatus{
			Resource:           resource,
			NewTransaction:     true,
			ReadOnly:           d.ReadOnly,
			Definition:         d,
			suspendedResources: suspended,
			adapter:            e.adapter,
		}
		e.activateSynchronization(thread, status, d, true)
		if err := e.adapter.DoBegin(ctx, thread, resource, d); err != nil {
			if status.NewSynchronization {
				e.binder.ClearSynchronization(thread)
			}
			if rerr := e.resume(ctx, thread, nil, suspended); rerr != nil {
				log.Error("failed to resume suspended outer scope after begin failure", "error", rerr)
			}
			return nil, wrapError(TransactionException, err, nil)
		}
		log.Debug("began new transaction", "propagation", d.Propagation.String())
		return status, nil

	case Supports, NotSupported, Never:
		if d.Isolation != DefaultIsolation {
			log.Warn("custom isolation has no effect without a real transaction", "propagation", d.Propagation.String(), "isolation", d.Isolation.String())
		}
		status := &TransactionStatus{
			NewTransaction: true,
			ReadOnly:       d.ReadOnly,
			Definition:     d,
			adapter:        e.adapter,
		}
		e.activateSynchronization(thread, status, d, false)
		return status, nil

	default:
		return nil, newError(IllegalTransactionState, "unknown propagation behavior", d.Propagation)
	}
}

// participateInExisting implements §4.4.2: the incoming propagation is
// resolved against an already-bound resource.
func (e *PropagationEngine) participateInExisting(ctx context.Context, thread any, d TransactionDefinition, resource any) (*TransactionStatus, error) {
	switch d.Propagation {
	case Never:
		return nil, newError(IllegalTransactionState, "existing transaction found for propagation 'never'", nil)

	case NotSupported:
		suspended, err := e.suspend(ctx, thread, resource)
		if err != nil {
			return nil, err
		}
		status := &TransactionStatus{
			NewTransaction:     false,
			ReadOnly:           d.ReadOnly,
			Definition:         d,
			suspendedResources: suspended,
			adapter:            e.adapter,
		}
		e.activateSynchronization(thread, status, d, false)
		return status, nil

	case RequiresNew:
		suspended, err := e.suspend(ctx, thread, resource)
		if err != nil {
			return nil, err
		}
		freshResource, err := e.adapter.DoGetTransaction(ctx, thread)
		if err != nil {
			if rerr := e.resume(ctx, thread, nil, suspended); rerr != nil {
				log.Error("failed to resume suspended outer scope after begin failure", "error", rerr)
			}
			return nil, wrapError(TransactionException, err, nil)
		}
		status := &TransactionStatus{
			Resource:           freshResource,
			NewTransaction:     true,
			ReadOnly:           d.ReadOnly,
			Definition:         d,
			suspendedResources: suspended,
			adapter:            e.adapter,
		}
		e.activateSynchronization(thread, status, d, true)
		if err := e.adapter.DoBegin(ctx, thread, freshResource, d); err != nil {
			if status.NewSynchronization {
				e.binder.ClearSynchronization(thread)
			}
			if rerr := e.resume(ctx, thread, nil, suspended); rerr != nil {
				log.Error("failed to resume suspended outer scope after begin failure", "error", rerr)
			}
			return nil, wrapError(TransactionException, err, nil)
		}
		return status, nil

	case Nested:
		if !e.NestedTransactionAllowed {
			return nil, newError(NestedTransactionNotSupported, "nested transactions are disabled by policy", nil)
		}
		if e.adapter.UseSavepointForNested() {
			sc, ok := e.adapter.(SavepointCapable)
			if !ok {
				return nil, newError(NestedTransactionNotSupported, "adapter does not expose a savepoint manager", nil)
			}
			status := &TransactionStatus{
				Resource:           resource,
				NewTransaction:     false,
				NewSynchronization: false,
				ReadOnly:           d.ReadOnly,
				Definition:         d,
				adapter:            e.adapter,
			}
			sp, err := sc.SavepointManager().CreateSavepoint(ctx, resource)
			if err != nil {
				return nil, wrapError(TransactionException, err, nil)
			}
			status.savepoint = sp
			return status, nil
		}
		// JTA-style nested begin: doBegin without suspending the outer.
		status := &TransactionStatus{
			Resource:       resource,
			NewTransaction: true,
			ReadOnly:       d.ReadOnly,
			Definition:     d,
			adapter:        e.adapter,
		}
		e.activateSynchronization(thread, status, d, true)
		if err := e.adapter.DoBegin(ctx, thread, resource, d); err != nil {
			if status.NewSynchronization {
				e.binder.ClearSynchronization(thread)
			}
			return nil, wrapError(TransactionException, err, nil)
		}
		return status, nil

	case Required, Supports, Mandatory:
		if e.ValidateExistingTransaction {
			// Deliberately asymmetric: only checked when the incoming
			// definition asks for read-write against a read-only outer.
			if !d.ReadOnly && e.binder.ReadOnly(thread) {
				return nil, newError(IllegalTransactionState, "existing transaction is read-only but participation requested read-write", nil)
			}
			if d.Isolation != DefaultIsolation && d.Isolation != e.binder.IsolationLevel(thread) {
				return nil, newError(IllegalTransactionState, "existing transaction's isolation level is incompatible with the requested isolation", nil)
			}
		}
		return &TransactionStatus{
			Resource:       resource,
			NewTransaction: false,
			ReadOnly:       d.ReadOnly,
			Definition:     d,
			adapter:        e.adapter,
		}, nil

	default:
		return nil, newError(IllegalTransactionState, "unknown propagation behavior", d.Propagation)
	}
}

func (e *PropagationEngine) activateSynchronization(thread any, status *TransactionStatus, d TransactionDefinition, actualTransactionActive bool) {
	switch e.TransactionSynchronization {
	case SyncNever:
		return
	case SyncOnActualTransaction:
		if !actualTransactionActive {
			return
		}
	}
	if !e.binder.IsSynchronizationActive(thread) {
		e.binder.InitSynchronization(thread)
		status.NewSynchronization = true
	}
	e.binder.SetName(thread, d.Name)
	e.binder.SetReadOnly(thread, d.ReadOnly)
	e.binder.SetIsolationLevel(thread, d.Isolation)
	e.binder.SetActualTransactionActive(thread, actualTransactionActive)
}

// suspend implements §4.4.3.
func (e *PropagationEngine) suspend(ctx context.Context, thread any, resource any) (*SuspendedResourcesHolder, error) {
	hadSync := e.binder.IsSynchronizationActive(thread)
	var syncs []Synchronization
	if hadSync {
		syncs = e.binder.Synchronizations(thread)
		if syncs == nil {
			// An active but empty list is still recorded, so resume
			// reactivates synchronization and restores the scalars.
			syncs = []Synchronization{}
		}
		for _, s := range syncs {
			s.Suspend()
		}
		e.binder.ClearSynchronization(thread)
	}

	var suspendedResource any
	if resource != nil {
		sr, err := e.adapter.DoSuspend(ctx, thread, resource)
		if err != nil {
			if hadSync {
				e.binder.InitSynchronization(thread)
				for _, s := range syncs {
					e.binder.RegisterSynchronization(thread, s)
				}
			}
			return nil, wrapError(TransactionSuspensionNotSupported, err, nil)
		}
		suspendedResource = sr
	}

	name, readOnly, isolation, active := e.binder.clearScalars(thread)
	if hadSync {
		return newFullHolder(suspendedResource, syncs, name, readOnly, isolation, active), nil
	}
	return newShortHolder(suspendedResource), nil
}

// resume implements §4.4.4.
func (e *PropagationEngine) resume(ctx context.Context, thread any, resource any, holder *SuspendedResourcesHolder) error {
	if holder == nil {
		return nil
	}
	if holder.suspendedResource != nil {
		if err := e.adapter.DoResume(ctx, thread, resource, holder.suspendedResource); err != nil {
			return wrapError(TransactionSuspensionNotSupported, err, nil)
		}
	}
	if holder.suspendedSynchronizations != nil {
		e.binder.restoreScalars(thread, holder.name, holder.readOnly, holder.isolation, holder.actualTransactionActive)
		e.binder.InitSynchronization(thread)
		for _, s := range holder.suspendedSynchronizations {
			s.Resume()
			e.binder.RegisterSynchronization(thread, s)
		}
	}
	return nil
}

// Commit implements §4.4.5.
func (e *PropagationEngine) Commit(ctx context.Context, thread any, status *TransactionStatus) error {
	if status.completed {
		return newError(IllegalTransactionState, "transaction is already completed", nil)
	}
	if status.localRollbackOnly {
		log.Debug("transaction marked rollback-only locally; rolling back instead of committing")
		return e.processRollback(ctx, thread, status, false)
	}
	if !e.adapter.ShouldCommitOnGlobalRollbackOnly() && status.isGlobalRollbackOnly() {
		log.Debug("transaction's resource is globally rollback-only; rolling back instead of committing")
		return e.processRollback(ctx, thread, status, true)
	}
	return e.processCommit(ctx, thread, status)
}

func (e *PropagationEngine) processCommit(ctx context.Context, thread any, status *TransactionStatus) (err error) {
	beforeCompletionInvoked := false

	rollbackAndFail := func(cause error) error {
		if !beforeCompletionInvoked {
			if bcErr := triggerBeforeCompletion(e.binder.contextFor(thread)); bcErr != nil {
				log.Warn("beforeCompletion failed while aborting commit", "error", bcErr)
			}
			beforeCompletionInvoked = true
		}
		finalErr := e.doRollbackOnCommitException(ctx, thread, status, cause)
		e.cleanupAfterCompletion(ctx, thread, status)
		return wrapError(TransactionException, finalErr, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			err = rollbackAndFail(fmt.Errorf("panic during commit: %v", r))
		}
	}()

	if bcErr := triggerBeforeCommit(e.binder.contextFor(thread), status.ReadOnly); bcErr != nil {
		return rollbackAndFail(bcErr)
	}
	if bcErr := triggerBeforeCompletion(e.binder.contextFor(thread)); bcErr != nil {
		beforeCompletionInvoked = true
		return rollbackAndFail(bcErr)
	}
	beforeCompletionInvoked = true

	var unexpected bool
	var commitErr error
	switch {
	case status.HasSavepoint():
		unexpected = status.isGlobalRollbackOnly()
		sc := e.adapter.(SavepointCapable)
		commitErr = sc.SavepointManager().ReleaseSavepoint(ctx, status.Resource, status.savepoint)
	case status.NewTransaction && status.HasResource():
		unexpected = status.isGlobalRollbackOnly()
		commitErr = e.adapter.DoCommit(ctx, status)
	case e.FailEarlyOnGlobalRollbackOnly:
		unexpected = status.isGlobalRollbackOnly()
	}

	if commitErr != nil {
		if e.RollbackOnCommitFailure {
			return rollbackAndFail(commitErr)
		}
		triggerAfterCompletion(e.binder.contextFor(thread), StatusUnknown)
		e.cleanupAfterCompletion(ctx, thread, status)
		return wrapError(TransactionException, commitErr, nil)
	}

	if unexpected {
		triggerAfterCompletion(e.binder.contextFor(thread), StatusRolledBack)
		e.cleanupAfterCompletion(ctx, thread, status)
		return newError(UnexpectedRollback, "transaction was rolled back because it was marked rollback-only", nil)
	}

	afterCommitErr := triggerAfterCommit(e.binder.contextFor(thread))
	triggerAfterCompletion(e.binder.contextFor(thread), StatusCommitted)
	e.cleanupAfterCompletion(ctx, thread, status)
	if afterCommitErr != nil {
		return wrapError(TransactionException, afterCommitErr, nil)
	}
	return nil
}

// doRollbackOnCommitException runs the appropriate rollback given status's
// shape and returns the error the caller should see: the rollback's own
// error if it failed, otherwise the original commit-time cause (§7).
func (e *PropagationEngine) doRollbackOnCommitException(ctx context.Context, thread any, status *TransactionStatus, cause error) error {
	var rbErr error
	switch {
	case status.HasSavepoint():
		sc := e.adapter.(SavepointCapable)
		rbErr = sc.SavepointManager().RollbackToSavepoint(ctx, status.Resource, status.savepoint)
	case status.NewTransaction && status.HasResource():
		rbErr = e.adapter.DoRollback(ctx, status)
	case status.HasResource():
		rbErr = e.adapter.DoSetRollbackOnly(ctx, status)
	}
	triggerAfterCompletion(e.binder.contextFor(thread), StatusRolledBack)
	if rbErr != nil {
		log.Error("rollback after commit failure also failed", "originalError", cause, "rollbackError", rbErr)
		return rbErr
	}
	return cause
}

// Rollback implements §4.4.6.
func (e *PropagationEngine) Rollback(ctx context.Context, thread any, status *TransactionStatus) error {
	if status.completed {
		return newError(IllegalTransactionState, "transaction is already completed", nil)
	}
	return e.processRollback(ctx, thread, status, false)
}

func (e *PropagationEngine) processRollback(ctx context.Context, thread any, status *TransactionStatus, unexpected bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			triggerAfterCompletion(e.binder.contextFor(thread), StatusUnknown)
			e.cleanupAfterCompletion(ctx, thread, status)
			err = wrapError(TransactionException, fmt.Errorf("panic during rollback: %v", r), nil)
		}
	}()

	if bcErr := triggerBeforeCompletion(e.binder.contextFor(thread)); bcErr != nil {
		log.Warn("beforeCompletion callback failed during rollback", "error", bcErr)
	}

	var rbErr error
	switch {
	case status.HasSavepoint():
		sc := e.adapter.(SavepointCapable)
		rbErr = sc.SavepointManager().RollbackToSavepoint(ctx, status.Resource, status.savepoint)
	case status.NewTransaction && status.HasResource():
		rbErr = e.adapter.DoRollback(ctx, status)
	case status.HasResource():
		if status.localRollbackOnly || e.GlobalRollbackOnParticipationFailure {
			rbErr = e.adapter.DoSetRollbackOnly(ctx, status)
		} else {
			log.Debug("participating transaction rolled back; outer transaction will decide the final outcome")
		}
		if !e.FailEarlyOnGlobalRollbackOnly {
			unexpected = false
		}
	}

	if rbErr != nil {
		triggerAfterCompletion(e.binder.contextFor(thread), StatusUnknown)
		e.cleanupAfterCompletion(ctx, thread, status)
		return wrapError(TransactionException, rbErr, nil)
	}

	triggerAfterCompletion(e.binder.contextFor(thread), StatusRolledBack)
	e.cleanupAfterCompletion(ctx, thread, status)
	if unexpected {
		return newError(UnexpectedRollback, "transaction was rolled back", nil)
	}
	return nil
}

// cleanupAfterCompletion implements the "Always, finally" block shared by
// processCommit and processRollback.
func (e *PropagationEngine) cleanupAfterCompletion(ctx context.Context, thread any, status *TransactionStatus) {
	status.completed = true
	if status.NewSynchronization {
		e.binder.ClearSynchronization(thread)
	}
	// A status only owns its resource - and may clean it up and free its
	// resourceMap slot - when it actually suspended the prior ambient state
	// to make room for it (begin()'s top branch, or REQUIRES_NEW). The
	// JTA-style NESTED begin also sets NewTransaction=true but shares the
	// outer's resource object without suspending anything
	// (suspendedResources stays nil): cleaning it up here would tear down
	// the resource out from under the still-open outer scope.
	if status.NewTransaction && status.HasResource() && status.suspendedResources != nil {
		if err := e.adapter.DoCleanupAfterCompletion(ctx, status.Resource); err != nil {
			log.Error("cleanup after completion failed", "error", err)
		}
		e.binder.UnbindResource(thread, e.adapter.Factory())
	}
	if status.suspendedResources != nil {
		if err := e.resume(ctx, thread, status.Resource, status.suspendedResources); err != nil {
			log.Error("failed to resume suspended outer scope after completion", "error", err)
		}
	}
}

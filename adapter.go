package txmgr

import "context"

// ResourceAdapter is the sole boundary between the propagation engine and a
// concrete backend (relational connection, message session, distributed
// coordinator). The engine never touches the backend directly; every
// backend effect flows through these methods (§4.3).
//
// factory is an opaque key identifying which resource family this adapter
// manages in the ContextBinder's resourceMap (§4.1, I4); an engine wired to
// multiple adapters uses each adapter's own identity as its factory key.
type ResourceAdapter interface {
	// Factory returns the opaque key this adapter uses to bind its resource
	// in the ambient context. Typically the adapter instance itself.
	Factory() any

	// DoGetTransaction returns an object describing the current ambient
	// resource, which may represent "no resource bound yet".
	DoGetTransaction(ctx context.Context, thread any) (any, error)

	// IsExistingTransaction reports whether resource represents an already
	// active transaction. Adapters that never observe a pre-existing
	// transaction may always return false.
	IsExistingTransaction(resource any) bool

	// UseSavepointForNested reports whether NESTED should be implemented via
	// a backend savepoint (true, the common case) or via a JTA-style nested
	// begin without suspending the outer transaction (false).
	UseSavepointForNested() bool

	// DoBegin opens/acquires the resource, applies isolation and read-only,
	// disables autocommit, and binds the resource into the ambient context.
	DoBegin(ctx context.Context, thread any, resource any, definition TransactionDefinition) error

	// DoSuspend detaches resource from the ambient context and returns an
	// opaque token resume can use to reattach it. Adapters that cannot
	// suspend should return TransactionSuspensionNotSupported.
	DoSuspend(ctx context.Context, thread any, resource any) (any, error)

	// DoResume re-binds a previously suspended resource using the token
	// DoSuspend returned.
	DoResume(ctx context.Context, thread any, resource any, suspended any) error

	// DoCommit issues the final backend commit.
	DoCommit(ctx context.Context, status *TransactionStatus) error

	// DoRollback issues the final backend rollback.
	DoRollback(ctx context.Context, status *TransactionStatus) error

	// DoSetRollbackOnly marks the bound resource as rollback-only, used
	// when a participating (non-new) scope wants the eventual outer commit
	// to fail.
	DoSetRollbackOnly(ctx context.Context, status *TransactionStatus) error

	// DoCleanupAfterCompletion releases/returns resource to its pool. Called
	// exactly once, after the synchronization callbacks have run.
	DoCleanupAfterCompletion(ctx context.Context, resource any) error

	// ShouldCommitOnGlobalRollbackOnly reports whether commit should proceed
	// to the backend even when the resource is globally rollback-only.
	// Defaults to false in every shipped adapter.
	ShouldCommitOnGlobalRollbackOnly() bool
}

// SavepointManager is an optional capability a ResourceAdapter exposes via
// SavepointCapable.SavepointManager when UseSavepointForNested is true. Keeping it as a
// distinct sub-capability (rather than fat-interface methods on
// ResourceAdapter itself) means adapters that can't savepoint don't need to
// implement stub methods (§9 design notes).
type SavepointManager interface {
	CreateSavepoint(ctx context.Context, resource any) (any, error)
	RollbackToSavepoint(ctx context.Context, resource any, savepoint any) error
	ReleaseSavepoint(ctx context.Context, resource any, savepoint any) error
}

// SavepointCapable is implemented by adapters that support nested
// transactions via SavepointManager.
type SavepointCapable interface {
	SavepointManager() SavepointManager
}

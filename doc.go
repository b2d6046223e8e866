// Package txmgr implements the control layer of a generic platform
// transaction manager: the propagation state machine that decides how a
// newly requested transactional scope composes with an already active one,
// the commit/rollback lifecycle with savepoint-based nesting, and the
// dispatch of synchronization callbacks tied to scope boundaries.
//
// The package never touches a concrete backend. All backend effects -
// opening a connection, issuing COMMIT/ROLLBACK/SAVEPOINT, suspending or
// resuming a session - flow through the ResourceAdapter interface (see
// adapter.go). Concrete adapters live under the sibling adapters/ directory.
//
// See `adapters/sqladapter` for a concrete implementation of a relational,
// savepoint-capable backend.
package txmgr

// Timeout model
//
// A TransactionDefinition's TimeoutSeconds is advisory: the engine validates
// it (must be >= DefaultTimeout) and passes it to ResourceAdapter.DoBegin,
// but the engine itself never enforces a wall-clock cancellation. Callers
// that need a hard deadline should derive ctx with context.WithTimeout
// before calling Begin; the adapter is expected to honor ctx cancellation
// during DoBegin/DoCommit/DoRollback.

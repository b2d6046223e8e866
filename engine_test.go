package txmgr

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

var ctx = context.Background()

func traceEquals(t *testing.T, got, want []string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("adapter trace = %v, want %v", got, want)
	}
}

// Scenario 1: REQUIRED, no outer.
func Test_Required_NoOuter_Commits(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	status, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !status.IsNewTransaction() {
		t.Fatalf("expected NewTransaction=true")
	}
	if err := engine.Commit(ctx, thread, status); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	traceEquals(t, adapter.trace, []string{"doGetTransaction", "doBegin", "doCommit", "doCleanupAfterCompletion"})
}

// Scenario 2: REQUIRED joining REQUIRED.
func Test_Required_JoinsRequired_SingleAdapterBegin(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	inner, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("inner begin failed: %v", err)
	}
	if inner.IsNewTransaction() {
		t.Fatalf("expected inner NewTransaction=false")
	}
	if err := engine.Commit(ctx, thread, inner); err != nil {
		t.Fatalf("inner commit failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}

	begins, commits := 0, 0
	for _, c := range adapter.trace {
		if c == "doBegin" {
			begins++
		}
		if c == "doCommit" {
			commits++
		}
	}
	if begins != 1 || commits != 1 {
		t.Fatalf("expected exactly one doBegin and one doCommit, trace=%v", adapter.trace)
	}
}

// Scenario 3: REQUIRES_NEW within REQUIRED.
func Test_RequiresNew_WithinRequired_SuspendsAndResumes(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	inner, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: RequiresNew})
	if err != nil {
		t.Fatalf("inner begin failed: %v", err)
	}
	if !inner.IsNewTransaction() {
		t.Fatalf("expected inner NewTransaction=true")
	}
	if err := engine.Commit(ctx, thread, inner); err != nil {
		t.Fatalf("inner commit failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}

	suspendIdx, innerBeginIdx, innerCommitIdx, resumeIdx, outerCommitIdx := -1, -1, -1, -1, -1
	beginCount := 0
	for i, c := range adapter.trace {
		switch c {
		case "doSuspend":
			if suspendIdx == -1 {
				suspendIdx = i
			}
		case "doBegin":
			beginCount++
			if beginCount == 2 {
				innerBeginIdx = i
			}
		case "doCommit":
			if innerCommitIdx == -1 {
				innerCommitIdx = i
			} else {
				outerCommitIdx = i
			}
		case "doResume":
			resumeIdx = i
		}
	}
	if !(suspendIdx < innerBeginIdx && innerBeginIdx < innerCommitIdx && innerCommitIdx < resumeIdx && resumeIdx < outerCommitIdx) {
		t.Fatalf("expected suspend < inner doBegin < inner doCommit < resume < outer doCommit, trace=%v", adapter.trace)
	}
	if _, bound := binder.ResourceFor(thread, adapter.Factory()); bound {
		t.Fatalf("expected resourceMap empty after outer commit")
	}
}

// Scenario 4: NESTED rollback preserves outer.
func Test_Nested_RollbackPreservesOuter(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	engine.NestedTransactionAllowed = true
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	nested, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Nested})
	if err != nil {
		t.Fatalf("nested begin failed: %v", err)
	}
	if !nested.HasSavepoint() {
		t.Fatalf("expected nested status to carry a savepoint")
	}
	if err := engine.Rollback(ctx, thread, nested); err != nil {
		t.Fatalf("nested rollback failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}

	var sawRollbackToSavepoint, sawDoRollback, sawDoCommit bool
	for _, c := range adapter.trace {
		switch c {
		case "rollbackToSavepoint":
			sawRollbackToSavepoint = true
		case "doRollback":
			sawDoRollback = true
		case "doCommit":
			sawDoCommit = true
		}
	}
	if !sawRollbackToSavepoint {
		t.Fatalf("expected rollbackToSavepoint in trace, got %v", adapter.trace)
	}
	if sawDoRollback {
		t.Fatalf("did not expect doRollback on outer, trace=%v", adapter.trace)
	}
	if !sawDoCommit {
		t.Fatalf("expected outer doCommit, trace=%v", adapter.trace)
	}
}

// Scenario 5: participating failure with default flags surfaces
// UnexpectedRollback at the outer boundary.
func Test_ParticipatingRollback_MarksOuterRollbackOnly(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	inner, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("inner begin failed: %v", err)
	}
	if err := engine.Rollback(ctx, thread, inner); err != nil {
		t.Fatalf("inner rollback should not itself fail: %v", err)
	}

	err = engine.Commit(ctx, thread, outer)
	if err == nil {
		t.Fatalf("expected UnexpectedRollback from outer commit")
	}
	if _, ok := IsUnexpectedRollback(err); !ok {
		t.Fatalf("expected UnexpectedRollback, got %v", err)
	}

	var sawDoSetRollbackOnly, sawDoCommit, sawDoRollback bool
	for _, c := range adapter.trace {
		switch c {
		case "doSetRollbackOnly":
			sawDoSetRollbackOnly = true
		case "doCommit":
			sawDoCommit = true
		case "doRollback":
			sawDoRollback = true
		}
	}
	if !sawDoSetRollbackOnly {
		t.Fatalf("expected doSetRollbackOnly, trace=%v", adapter.trace)
	}
	if sawDoCommit {
		t.Fatalf("did not expect doCommit, trace=%v", adapter.trace)
	}
	if !sawDoRollback {
		t.Fatalf("expected doRollback on outer, trace=%v", adapter.trace)
	}
}

// Scenario 6: MANDATORY with no outer.
func Test_Mandatory_NoOuter_Fails(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	_, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Mandatory})
	if err == nil {
		t.Fatalf("expected IllegalTransactionState")
	}
	if _, ok := IsIllegalTransactionState(err); !ok {
		t.Fatalf("expected IllegalTransactionState, got %v", err)
	}
	traceEquals(t, adapter.trace, []string{"doGetTransaction"})
}

// P1: double-terminate fails IllegalTransactionState.
func Test_DoubleCommit_Fails(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	status, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, status); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	err = engine.Commit(ctx, thread, status)
	if _, ok := IsIllegalTransactionState(err); !ok {
		t.Fatalf("expected IllegalTransactionState on second commit, got %v", err)
	}
}

// NEVER with an existing outer transaction fails.
func Test_Never_WithOuter_Fails(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	_, err = engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Never})
	if _, ok := IsIllegalTransactionState(err); !ok {
		t.Fatalf("expected IllegalTransactionState, got %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}
}

// NOT_SUPPORTED suspends the outer transaction and runs without one.
func Test_NotSupported_SuspendsOuter(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	inner, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: NotSupported})
	if err != nil {
		t.Fatalf("inner begin failed: %v", err)
	}
	if inner.HasResource() {
		t.Fatalf("expected NotSupported status to carry no resource")
	}
	if _, bound := binder.ResourceFor(thread, adapter.Factory()); bound {
		t.Fatalf("expected outer resource to be suspended (unbound)")
	}
	if err := engine.Commit(ctx, thread, inner); err != nil {
		t.Fatalf("inner commit failed: %v", err)
	}
	if _, bound := binder.ResourceFor(thread, adapter.Factory()); !bound {
		t.Fatalf("expected outer resource rebound after inner completes")
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}
}

// NESTED against an adapter that reports UseSavepointForNested()=true but
// does not implement SavepointCapable fails with
// NestedTransactionNotSupported.
func Test_Nested_AdapterCannotSavepoint_Fails(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapterNoSavepoint(binder)
	engine := NewPropagationEngine(binder, adapter)
	engine.NestedTransactionAllowed = true
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	_, err = engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Nested})
	if err == nil {
		t.Fatalf("expected NestedTransactionNotSupported")
	}
	var te *Error
	if !errors.As(err, &te) || te.Code != NestedTransactionNotSupported {
		t.Fatalf("expected NestedTransactionNotSupported, got %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}
}

// NESTED disallowed by policy fails when an outer transaction exists, before
// the adapter's savepoint capability is even consulted.
func Test_Nested_DisallowedByPolicy_Fails(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	_, err = engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Nested})
	if err == nil {
		t.Fatalf("expected NestedTransactionNotSupported")
	}
	var te *Error
	if !errors.As(err, &te) || te.Code != NestedTransactionNotSupported {
		t.Fatalf("expected NestedTransactionNotSupported, got %v", err)
	}
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}
}

// SetRollbackOnly on an empty (SUPPORTS, no outer) status is honored at
// commit time even though no real transaction was ever opened.
func Test_SetRollbackOnly_OnEmptyStatus_RollsBack(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	status, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Supports})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if status.HasResource() {
		t.Fatalf("expected empty status with no outer transaction")
	}
	status.SetRollbackOnly()
	if err := engine.Commit(ctx, thread, status); err != nil {
		t.Fatalf("commit of empty status with SetRollbackOnly should not error: %v", err)
	}
}

// Committing a plain empty status (NOT_SUPPORTED, no outer, not marked
// rollback-only) must never reach the adapter's commit/rollback methods:
// an empty status has NewTransaction=true but no resource (§4.4.1), and the
// new-transaction branches in processCommit/processRollback must be gated
// on HasResource() as well as NewTransaction, or they try to operate on a
// nil resource.
func Test_EmptyStatus_Commit_NeverCallsAdapterCommitOrRollback(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	status, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: NotSupported})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if status.HasResource() {
		t.Fatalf("expected empty status with no outer transaction")
	}
	if err := engine.Commit(ctx, thread, status); err != nil {
		t.Fatalf("commit of empty status failed: %v", err)
	}
	for _, call := range adapter.trace {
		if call == "doCommit" || call == "doRollback" {
			t.Fatalf("adapter trace = %v, expected no doCommit/doRollback for an empty status", adapter.trace)
		}
	}
}

// A JTA-style NESTED scope (adapter reports UseSavepointForNested()==false)
// shares the outer's resource object instead of suspending it. Completing
// the nested scope must not tear down that shared resource out from under
// the still-open outer scope: the outer's own commit must still succeed,
// and the adapter's cleanup hook must fire exactly once, at the outer's
// completion, not the nested one's.
func Test_Nested_JTAStyle_DoesNotTearDownSharedResource(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapterJTANested(binder)
	engine := NewPropagationEngine(binder, adapter)
	engine.NestedTransactionAllowed = true
	thread := "t1"

	outer, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("outer begin failed: %v", err)
	}
	nested, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Nested})
	if err != nil {
		t.Fatalf("nested begin failed: %v", err)
	}
	if !nested.IsNewTransaction() {
		t.Fatalf("expected JTA-style nested status to report NewTransaction=true")
	}
	if nested.Resource != outer.Resource {
		t.Fatalf("expected JTA-style nested status to share the outer's resource")
	}

	if err := engine.Commit(ctx, thread, nested); err != nil {
		t.Fatalf("nested commit failed: %v", err)
	}
	if _, bound := binder.ResourceFor(thread, adapter.Factory()); !bound {
		t.Fatalf("nested completion must leave the outer's resource bound")
	}

	// The outer scope must still be able to commit its shared resource -
	// if the nested completion had already cleaned it up, this would
	// operate on a torn-down resource.
	if err := engine.Commit(ctx, thread, outer); err != nil {
		t.Fatalf("outer commit failed: %v", err)
	}

	cleanups := 0
	for _, call := range adapter.trace {
		if call == "doCleanupAfterCompletion" {
			cleanups++
		}
	}
	if cleanups != 1 {
		t.Fatalf("expected exactly 1 doCleanupAfterCompletion call, got %d (trace=%v)", cleanups, adapter.trace)
	}
}

// InvalidTimeout is rejected before any adapter interaction beyond the
// initial doGetTransaction/isExisting check.
func Test_InvalidTimeout_Rejected(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	_, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required, TimeoutSeconds: -5})
	var te *Error
	if !errors.As(err, &te) || te.Code != InvalidTimeout {
		t.Fatalf("expected InvalidTimeout, got %v", err)
	}
}

// Resource bindings round-trip cleanly across a full begin/commit cycle: a
// second begin/commit on the same logical thread must not fail with
// DuplicateResourceBinding, which would happen if cleanup left the first
// transaction's resourceMap slot occupied.
func Test_ResourceMap_UnboundAfterCleanup_AllowsReuse(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	first, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("first begin failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, first); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, bound := binder.ResourceFor(thread, adapter.Factory()); bound {
		t.Fatalf("expected resourceMap slot freed after cleanup")
	}

	second, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("second begin failed: %v", err)
	}
	if err := engine.Commit(ctx, thread, second); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
}

// Synchronization callbacks fire exactly once per completed scope, in
// registration order, regardless of whether the scope committed.
func Test_Synchronization_FiresOnceInOrder(t *testing.T) {
	binder := NewContextBinder()
	adapter := newMockAdapter(binder)
	engine := NewPropagationEngine(binder, adapter)
	thread := "t1"

	var calls []string
	sync := &recordingSync{calls: &calls}

	status, err := engine.Begin(ctx, thread, &TransactionDefinition{Propagation: Required})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	binder.RegisterSynchronization(thread, sync)
	if err := engine.Commit(ctx, thread, status); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	want := []string{"beforeCommit", "beforeCompletion", "afterCommit", "afterCompletion"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("synchronization calls = %v, want %v", calls, want)
	}
}

type recordingSync struct {
	SynchronizationAdapter
	calls *[]string
}

func (s *recordingSync) BeforeCommit(readOnly bool) error {
	*s.calls = append(*s.calls, "beforeCommit")
	return nil
}

func (s *recordingSync) BeforeCompletion() error {
	*s.calls = append(*s.calls, "beforeCompletion")
	return nil
}

func (s *recordingSync) AfterCommit() error {
	*s.calls = append(*s.calls, "afterCommit")
	return nil
}

func (s *recordingSync) AfterCompletion(status CompletionStatus) {
	*s.calls = append(*s.calls, "afterCompletion")
}

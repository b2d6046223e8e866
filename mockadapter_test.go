package txmgr

import (
	"context"
	"fmt"
)

// mockResource is the resource object mockCore hands the engine: either
// empty (no transaction bound) or representing an open mock transaction.
type mockResource struct {
	open         bool
	rollbackOnly bool
	savepoints   int
}

// mockCore carries the ResourceAdapter logic shared by mockAdapter (which
// additionally implements SavepointCapable) and mockAdapterNoSavepoint
// (which deliberately does not, exercising the §4.4.2 branch where
// UseSavepointForNested is true but the adapter type itself can't
// savepoint). It records every call it receives, in order, so scenario
// tests can assert the exact adapter trace spec.md §8 describes.
type mockCore struct {
	binder *ContextBinder
	trace  []string

	failBegin    bool
	failCommit   bool
	failSuspend  bool
	useSavepoint bool
}

func (m *mockCore) Factory() any { return m }

func (m *mockCore) DoGetTransaction(ctx context.Context, thread any) (any, error) {
	m.trace = append(m.trace, "doGetTransaction")
	if r, ok := m.binder.ResourceFor(thread, m.Factory()); ok {
		return r, nil
	}
	return &mockResource{}, nil
}

func (m *mockCore) IsExistingTransaction(resource any) bool {
	r, ok := resource.(*mockResource)
	return ok && r.open
}

func (m *mockCore) UseSavepointForNested() bool { return m.useSavepoint }

func (m *mockCore) DoBegin(ctx context.Context, thread any, resource any, definition TransactionDefinition) error {
	m.trace = append(m.trace, "doBegin")
	if m.failBegin {
		return fmt.Errorf("mock begin failure")
	}
	r := resource.(*mockResource)
	r.open = true
	if existing, ok := m.binder.ResourceFor(thread, m.Factory()); ok && existing == resource {
		return nil
	}
	return m.binder.BindResource(thread, m.Factory(), r)
}

func (m *mockCore) DoSuspend(ctx context.Context, thread any, resource any) (any, error) {
	m.trace = append(m.trace, "doSuspend")
	if m.failSuspend {
		return nil, fmt.Errorf("mock suspend failure")
	}
	suspended, _ := m.binder.UnbindResource(thread, m.Factory())
	return suspended, nil
}

func (m *mockCore) DoResume(ctx context.Context, thread any, resource any, suspended any) error {
	m.trace = append(m.trace, "doResume")
	r, ok := suspended.(*mockResource)
	if !ok {
		return fmt.Errorf("mock resume given unexpected token %T", suspended)
	}
	return m.binder.BindResource(thread, m.Factory(), r)
}

func (m *mockCore) DoCommit(ctx context.Context, status *TransactionStatus) error {
	m.trace = append(m.trace, "doCommit")
	if m.failCommit {
		return fmt.Errorf("mock commit failure")
	}
	return nil
}

func (m *mockCore) DoRollback(ctx context.Context, status *TransactionStatus) error {
	m.trace = append(m.trace, "doRollback")
	return nil
}

func (m *mockCore) DoSetRollbackOnly(ctx context.Context, status *TransactionStatus) error {
	m.trace = append(m.trace, "doSetRollbackOnly")
	r, ok := status.Resource.(*mockResource)
	if !ok {
		return nil
	}
	r.rollbackOnly = true
	return nil
}

func (m *mockCore) DoCleanupAfterCompletion(ctx context.Context, resource any) error {
	m.trace = append(m.trace, "doCleanupAfterCompletion")
	if r, ok := resource.(*mockResource); ok {
		r.open = false
	}
	return nil
}

func (m *mockCore) ShouldCommitOnGlobalRollbackOnly() bool { return false }

func (m *mockCore) IsGlobalRollbackOnly(resource any) bool {
	r, ok := resource.(*mockResource)
	return ok && r.rollbackOnly
}

// mockAdapter is a full ResourceAdapter, SavepointCapable included - NESTED
// propagation against it takes the real savepoint path.
type mockAdapter struct {
	*mockCore
}

func newMockAdapter(binder *ContextBinder) *mockAdapter {
	return &mockAdapter{&mockCore{binder: binder, useSavepoint: true}}
}

func (m *mockAdapter) SavepointManager() SavepointManager { return mockSavepoints{m.mockCore} }

// mockAdapterNoSavepoint reports UseSavepointForNested()=true but does NOT
// implement SavepointCapable, mirroring cassandraadapter: NESTED fails with
// NestedTransactionNotSupported even though nesting is policy-allowed.
type mockAdapterNoSavepoint struct {
	*mockCore
}

func newMockAdapterNoSavepoint(binder *ContextBinder) *mockAdapterNoSavepoint {
	return &mockAdapterNoSavepoint{&mockCore{binder: binder, useSavepoint: true}}
}

// mockAdapterJTANested reports UseSavepointForNested()=false, mirroring
// redisadapter: NESTED propagation against it takes the JTA-style nested
// begin path (§4.4.2's other branch) - DoBegin finds the resource already
// bound and shares it rather than suspending.
type mockAdapterJTANested struct {
	*mockCore
}

func newMockAdapterJTANested(binder *ContextBinder) *mockAdapterJTANested {
	return &mockAdapterJTANested{&mockCore{binder: binder, useSavepoint: false}}
}

type mockSavepoints struct{ m *mockCore }

func (s mockSavepoints) CreateSavepoint(ctx context.Context, resource any) (any, error) {
	s.m.trace = append(s.m.trace, "createSavepoint")
	r := resource.(*mockResource)
	r.savepoints++
	return r.savepoints, nil
}

func (s mockSavepoints) RollbackToSavepoint(ctx context.Context, resource any, savepoint any) error {
	s.m.trace = append(s.m.trace, "rollbackToSavepoint")
	return nil
}

func (s mockSavepoints) ReleaseSavepoint(ctx context.Context, resource any, savepoint any) error {
	s.m.trace = append(s.m.trace, "releaseSavepoint")
	return nil
}

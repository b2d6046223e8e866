package txmgr

import "sync"

// AmbientContext holds the per-logical-thread ambient state: active
// resource handles keyed by resource factory identity, current
// isolation/read-only/name, the synchronization list, and whether a real
// transaction is active. Only the owning thread's binder calls mutate it,
// sequenced by the engine (§5) - there is no locking inside AmbientContext
// itself.
type AmbientContext struct {
	resourceMap             map[any]any
	synchronizations        []Synchronization
	synchronizationActive   bool
	currentName             string
	currentReadOnly         bool
	currentIsolation        Isolation
	actualTransactionActive bool
}

func newAmbientContext() *AmbientContext {
	return &AmbientContext{resourceMap: make(map[any]any)}
}

// ContextBinder is a process-wide registry of per-logical-thread
// AmbientContext instances. Every operation scoped to a caller reads and
// writes only its own context; ambient state is never shared across
// threads (§4.1).
type ContextBinder struct {
	mu       sync.Mutex
	contexts map[any]*AmbientContext
}

// NewContextBinder returns an empty binder.
func NewContextBinder() *ContextBinder {
	return &ContextBinder{contexts: make(map[any]*AmbientContext)}
}

// contextFor returns the AmbientContext for thread, creating it on first
// use.
func (b *ContextBinder) contextFor(thread any) *AmbientContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contexts[thread]
	if !ok {
		c = newAmbientContext()
		b.contexts[thread] = c
	}
	return c
}

// BindResource binds a resource holder under factory for thread. It fails
// with DuplicateResourceBinding if factory is already bound (I4: at most
// one resource holder per factory key per thread).
func (b *ContextBinder) BindResource(thread, factory, resource any) error {
	ctx := b.contextFor(thread)
	if _, exists := ctx.resourceMap[factory]; exists {
		return newError(DuplicateResourceBinding, "resource already bound for this factory on this logical thread", factory)
	}
	ctx.resourceMap[factory] = resource
	return nil
}

// UnbindResource removes and returns the resource bound under factory, if
// any.
func (b *ContextBinder) UnbindResource(thread, factory any) (any, bool) {
	ctx := b.contextFor(thread)
	r, ok := ctx.resourceMap[factory]
	if ok {
		delete(ctx.resourceMap, factory)
	}
	return r, ok
}

// ResourceFor returns the resource bound under factory, if any.
func (b *ContextBinder) ResourceFor(thread, factory any) (any, bool) {
	ctx := b.contextFor(thread)
	r, ok := ctx.resourceMap[factory]
	return r, ok
}

// IsSynchronizationActive reports whether thread currently has an
// initialized synchronization list.
func (b *ContextBinder) IsSynchronizationActive(thread any) bool {
	return b.contextFor(thread).synchronizationActive
}

// InitSynchronization activates an empty synchronization list for thread.
func (b *ContextBinder) InitSynchronization(thread any) {
	ctx := b.contextFor(thread)
	ctx.synchronizations = nil
	ctx.synchronizationActive = true
}

// ClearSynchronization deactivates thread's synchronization list.
func (b *ContextBinder) ClearSynchronization(thread any) {
	ctx := b.contextFor(thread)
	ctx.synchronizations = nil
	ctx.synchronizationActive = false
}

// RegisterSynchronization appends s to thread's synchronization list, in
// registration order (I3).
func (b *ContextBinder) RegisterSynchronization(thread any, s Synchronization) {
	ctx := b.contextFor(thread)
	ctx.synchronizations = append(ctx.synchronizations, s)
}

// Synchronizations returns thread's synchronization list in registration
// order, or nil if synchronization is inactive.
func (b *ContextBinder) Synchronizations(thread any) []Synchronization {
	ctx := b.contextFor(thread)
	if !ctx.synchronizationActive {
		return nil
	}
	return ctx.synchronizations
}

// Name returns thread's current ambient name.
func (b *ContextBinder) Name(thread any) string { return b.contextFor(thread).currentName }

// SetName sets thread's current ambient name.
func (b *ContextBinder) SetName(thread any, name string) { b.contextFor(thread).currentName = name }

// ReadOnly returns thread's current ambient read-only flag.
func (b *ContextBinder) ReadOnly(thread any) bool { return b.contextFor(thread).currentReadOnly }

// SetReadOnly sets thread's current ambient read-only flag.
func (b *ContextBinder) SetReadOnly(thread any, ro bool) { b.contextFor(thread).currentReadOnly = ro }

// IsolationLevel returns thread's current ambient isolation level.
func (b *ContextBinder) IsolationLevel(thread any) Isolation {
	return b.contextFor(thread).currentIsolation
}

// SetIsolationLevel sets thread's current ambient isolation level.
func (b *ContextBinder) SetIsolationLevel(thread any, iso Isolation) {
	b.contextFor(thread).currentIsolation = iso
}

// ActualTransactionActive reports whether thread currently has a real
// (non-empty) transaction bound.
func (b *ContextBinder) ActualTransactionActive(thread any) bool {
	return b.contextFor(thread).actualTransactionActive
}

// SetActualTransactionActive sets thread's actual-transaction-active flag.
func (b *ContextBinder) SetActualTransactionActive(thread any, active bool) {
	b.contextFor(thread).actualTransactionActive = active
}

// clearScalars resets the four ambient scalars to their zero values and
// returns their prior values, for use by suspend.
func (b *ContextBinder) clearScalars(thread any) (name string, readOnly bool, isolation Isolation, active bool) {
	ctx := b.contextFor(thread)
	name, readOnly, isolation, active = ctx.currentName, ctx.currentReadOnly, ctx.currentIsolation, ctx.actualTransactionActive
	ctx.currentName = ""
	ctx.currentReadOnly = false
	ctx.currentIsolation = DefaultIsolation
	ctx.actualTransactionActive = false
	return
}

// restoreScalars sets the four ambient scalars from a prior snapshot, for
// use by resume.
func (b *ContextBinder) restoreScalars(thread any, name string, readOnly bool, isolation Isolation, active bool) {
	ctx := b.contextFor(thread)
	ctx.currentName = name
	ctx.currentReadOnly = readOnly
	ctx.currentIsolation = isolation
	ctx.actualTransactionActive = active
}

package pgaio

// Method is the capability set an I/O method provides, dispatched once at
// initialization time (spec §9 "Polymorphism": a tagged variant or vtable
// selected by configuration, no per-operation dispatch cost). The present
// tree ships only syncMethod; internal/iouringmethod contributes a second
// implementation behind a build tag, realizing the "architecture
// anticipates pluggable methods" note without making kernel-completion-port
// multiplexing part of the default, in-scope build (spec §1 Non-goals).
type Method interface {
	// Name identifies the method for logging/config purposes.
	Name() string

	// NeedsSync reports whether PrepReadv/PrepWritev must execute the
	// operation synchronously and drive completion immediately, rather
	// than staging it for a later Submit call.
	NeedsSync() bool

	// Submit is called from SubmitStaged with the staged batch handed off
	// for execution. SubmitStaged has already moved each handle to
	// IN_FLIGHT (with a write barrier) before calling it; Submit may
	// block, poll, or queue to a kernel interface. The only observable
	// contract is that every staged handle eventually reaches
	// COMPLETED_SHARED.
	Submit(staged []*Handle) error

	// WaitOne lets RefWait target a specific in-flight handle before it
	// falls back to the condition variable. RefWait calls it on every
	// wait and ignores its result; a method with no targeted waiter
	// returns false without doing anything (spec §9 "Suspension").
	WaitOne(h *Handle) bool
}

// syncMethod is the only method implemented in the present tree: every
// PrepReadv/PrepWritev executes preadv/pwritev immediately and drives
// completion inline (spec §1 Non-goals: "only synchronous execution is
// implemented").
type syncMethod struct{}

func (syncMethod) Name() string    { return "sync" }
func (syncMethod) NeedsSync() bool { return true }

func (syncMethod) Submit(staged []*Handle) error {
	// Nothing to do: syncMethod never stages anything (NeedsSync is
	// true, so dispatch.go drives completion inline at prepare time).
	return nil
}

func (syncMethod) WaitOne(h *Handle) bool { return false }

// NewSyncMethod returns the synchronous I/O method.
func NewSyncMethod() Method { return syncMethod{} }

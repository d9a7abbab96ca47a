package pgaio

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/pgaio/internal/constants"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

// SubjectKind names the kind of object an I/O targets (spec §4.4).
type SubjectKind int32

const SubjectInvalid SubjectKind = 0

// Severity is the level a subject's error-reporting callback chooses when
// formatting a diagnostic for a failed I/O (spec §7 "a subject-specific
// error callback that formats a diagnostic at a chosen severity";
// supplemented from original_source/aio_subject.c, see DESIGN.md).
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityPanic
)

// Subject describes a kind of I/O target: an optional reopen hook used
// when completion runs in a process that does not have the original fd
// open, and an optional error-reporting hook that turns a DistilledResult
// into a human-readable diagnostic.
type Subject struct {
	Name string

	// Reopen is invoked by the sync method before replaying a syscall in
	// a reaping process that differs from the issuer. Optional: subjects
	// whose fd is always valid everywhere (e.g. in-memory backends) may
	// leave it nil.
	Reopen func(h *Handle) (fd int, err error)

	// ReportError formats a failed DistilledResult for the subject. May
	// be nil, in which case callers fall back to a generic message.
	ReportError func(result DistilledResult) (Severity, string)
}

var (
	subjectMu    sync.RWMutex
	subjectNext  SubjectKind = 1
	subjectTable             = map[SubjectKind]*Subject{}
)

// RegisterSubject registers a new subject kind and returns its id. Meant
// to be called during process startup, not on the hot path.
func RegisterSubject(s *Subject) SubjectKind {
	subjectMu.Lock()
	defer subjectMu.Unlock()
	id := subjectNext
	subjectNext++
	subjectTable[id] = s
	return id
}

func lookupSubject(kind SubjectKind) *Subject {
	subjectMu.RLock()
	defer subjectMu.RUnlock()
	return subjectTable[kind]
}

// SetSubject attaches kind and its opaque scb_data payload to h. Must be
// called while h is HANDED_OUT, before any prep-* call (spec §2 control
// flow: "sets its subject and attaches callbacks" happens between acquire
// and operation-prepare).
func SetSubject(h *Handle, kind SubjectKind, scbData uint64) {
	trap.Assert(h.State() == StateHandedOut, "handle %d: SetSubject after prepare", h.index)
	h.subject = kind
	h.scbData = scbData
}

// Subject returns h's currently attached subject kind.
func (h *Handle) Subject() SubjectKind { return h.subject }

// SCBData returns h's opaque per-subject payload, mutable by shared
// callbacks' Prepare hook (spec §4.4).
func (h *Handle) SCBData() uint64 { return h.scbData }

// SetIssuerCallback attaches the reclaim-time callback that may mutate
// issuer-local state (spec §4.4 "a separate issuer callback runs inside
// reclaim on the owning backend"; spec §9 AFIXME OQ1, resolved
// conservatively as exactly one per handle). Must be called while h is
// HANDED_OUT or DEFINED, before the handle reaches PREPARED.
func SetIssuerCallback(h *Handle, cb func(h *Handle, result DistilledResult)) {
	st := h.State()
	trap.Assert(st == StateHandedOut || st == StateDefined,
		"handle %d: SetIssuerCallback after prepare", h.index)
	h.issuerCallback = cb
}

// CallbackID names a registered SharedCallback.
type CallbackID int32

// SharedCallback runs in the reaping process, which may not be the
// issuer, so it must only touch shared state: Prepare may mutate
// scb_data; Complete receives the running result and returns an updated
// one (spec §4.4).
type SharedCallback struct {
	Name     string
	Prepare  func(h *Handle)
	Complete func(h *Handle, result DistilledResult) DistilledResult
}

var (
	callbackMu    sync.RWMutex
	callbackNext  CallbackID = 1
	callbackTable            = map[CallbackID]*SharedCallback{}
)

// RegisterSharedCallback registers cb and returns its id.
func RegisterSharedCallback(cb *SharedCallback) CallbackID {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	id := callbackNext
	callbackNext++
	callbackTable[id] = cb
	return id
}

func lookupCallback(id CallbackID) *SharedCallback {
	callbackMu.RLock()
	defer callbackMu.RUnlock()
	return callbackTable[id]
}

// AddSharedCallback appends id to h's bounded callback chain. Must be
// called before the handle is prepared (spec §4.4: "registered ... before
// preparation").
func AddSharedCallback(h *Handle, id CallbackID) {
	trap.Assert(h.State() == StateHandedOut || h.State() == StateDefined,
		"handle %d: AddSharedCallback after prepare", h.index)
	trap.Assert(h.numSharedCallbacks < constants.AIOMaxSharedCallbacks,
		"handle %d: too many shared callbacks (max %d)", h.index, constants.AIOMaxSharedCallbacks)
	h.sharedCallbacks[h.numSharedCallbacks] = id
	h.numSharedCallbacks++
}

// runPrepareCallbacks runs registered callbacks in reverse registration
// order, so the latest-added callback is first to prepare (spec §4.3).
func runPrepareCallbacks(h *Handle) {
	for i := h.numSharedCallbacks - 1; i >= 0; i-- {
		cb := lookupCallback(h.sharedCallbacks[i])
		if cb != nil && cb.Prepare != nil {
			cb.Prepare(h)
		}
	}
}

// runCompletionCallbacks runs registered callbacks in reverse registration
// order, each receiving the running result and returning an updated one.
// The final value becomes distilledResult (spec §4.3/§4.4).
func runCompletionCallbacks(h *Handle, raw int64) DistilledResult {
	result := DistilledResult{Result: raw}
	if raw < 0 {
		result.Status = StatusError
		result.ErrorData = errorFromRaw(h.op, h.index, raw)
	} else {
		result.Status = StatusOK
	}
	for i := h.numSharedCallbacks - 1; i >= 0; i-- {
		cb := lookupCallback(h.sharedCallbacks[i])
		if cb != nil && cb.Complete != nil {
			result = cb.Complete(h, result)
		}
	}
	return result
}

// ReportError asks h's subject to format its distilled result for
// diagnostics, falling back to a generic message if the subject has no
// ReportError hook (supplemented from original_source/aio_subject.c).
func ReportError(h *Handle) (Severity, string) {
	dr := h.DistilledResult()
	if dr.Status != StatusError {
		return SeverityWarning, ""
	}
	if s := lookupSubject(h.subject); s != nil && s.ReportError != nil {
		return s.ReportError(dr)
	}
	return SeverityError, fmt.Sprintf("I/O error on handle %d: %v", h.index, dr.ErrorData)
}

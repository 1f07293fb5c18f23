// Package event implements the pending-event stack of spec §3/§4.2.5 as
// a closed set of Go types implementing a marker interface, per
// SPEC_FULL.md §9's "Event stack of tagged unions" design note: the
// source's polymorphic Event class becomes one struct per variant and
// predicates become exhaustive type switches.
package event

import "fmt"

// Event is the marker interface implemented by every pending-event
// variant. It is intentionally unexported-method-free (not sealed via an
// unexported method) so internal/task's own package can also construct
// events without an import-cycle workaround; callers outside this
// module are expected to only read events, not manufacture arbitrary
// ones, which this package can't enforce without sealing — matching the
// teacher's general preference for simplicity over interface sealing
// in google-gvisor's own tagged-union-like construct (arch.SignalInfo,
// sentry/kernel's pending-signal set).
type Event interface {
	// Kind returns a stable tag for logging and switch statements that
	// want a comparable value instead of a type switch.
	Kind() Kind
	fmt.Stringer
}

// Kind tags an Event's concrete type.
type Kind int

const (
	KindSentinel Kind = iota
	KindSyscall
	KindSignalDelivery
	KindSignalHandler
	KindDesched
	KindSyscallbufFlush
	KindSyscallInterruption
	KindNoop
)

func (k Kind) String() string {
	switch k {
	case KindSentinel:
		return "Sentinel"
	case KindSyscall:
		return "Syscall"
	case KindSignalDelivery:
		return "SignalDelivery"
	case KindSignalHandler:
		return "SignalHandler"
	case KindDesched:
		return "Desched"
	case KindSyscallbufFlush:
		return "SyscallbufFlush"
	case KindSyscallInterruption:
		return "SyscallInterruption"
	case KindNoop:
		return "Noop"
	default:
		return "Unknown"
	}
}

// SyscallState is the sub-state of a Syscall event (spec §3 "syscall
// (with sub-state: entering / processing / exiting / interruption-
// record)").
type SyscallState int

const (
	SyscallEntering SyscallState = iota
	SyscallProcessing
	SyscallExiting
	SyscallInterruptionRecord
)

func (s SyscallState) String() string {
	switch s {
	case SyscallEntering:
		return "entering"
	case SyscallProcessing:
		return "processing"
	case SyscallExiting:
		return "exiting"
	case SyscallInterruptionRecord:
		return "interruption-record"
	default:
		return "unknown"
	}
}

// Regs is the minimal register snapshot events need to carry: the
// syscall number and its six argument registers, in the tracee's native
// calling-convention order. internal/task holds the full register file
// separately; events only need enough to drive the predicates in
// spec §4.2.5.
type Regs struct {
	Sysno uint64
	Args  [6]uint64
}

// Sentinel is the bottom-of-stack event every Task's event stack starts
// with and never pops (spec §3 invariant).
type Sentinel struct{}

func (Sentinel) Kind() Kind     { return KindSentinel }
func (Sentinel) String() string { return "Sentinel" }

// Syscall is a syscall-stop event.
type Syscall struct {
	State      SyscallState
	Regs       Regs
	DeschedRec *uint64 // non-nil if this syscall is buffered and has an associated desched record sequence number.
}

func (s Syscall) Kind() Kind { return KindSyscall }
func (s Syscall) String() string {
	return fmt.Sprintf("Syscall{no=%d state=%v}", s.Regs.Sysno, s.State)
}

// SignalDelivery is a signal about to be (or being) delivered to the
// tracee.
type SignalDelivery struct {
	No        int
	Delivered bool
}

func (s SignalDelivery) Kind() Kind { return KindSignalDelivery }
func (s SignalDelivery) String() string {
	return fmt.Sprintf("SignalDelivery{no=%d delivered=%v}", s.No, s.Delivered)
}

// SignalHandler is pushed while a signal handler set up by the tracee is
// executing, so the supervisor can tell a syscall made from within a
// handler apart from one made in the tracee's normal control flow.
type SignalHandler struct {
	No int
}

func (s SignalHandler) Kind() Kind     { return KindSignalHandler }
func (s SignalHandler) String() string { return fmt.Sprintf("SignalHandler{no=%d}", s.No) }

// Desched records that the tracee's syscallbuf helper raised the desched
// signal for a buffered syscall that would otherwise have blocked
// (GLOSSARY "Desched signal").
type Desched struct {
	Rec uint64 // desched record sequence number.
}

func (d Desched) Kind() Kind     { return KindDesched }
func (d Desched) String() string { return fmt.Sprintf("Desched{rec=%d}", d.Rec) }

// SyscallbufFlush marks that the tracee's syscallbuf helper is flushing
// its buffered-syscall log back to real syscalls.
type SyscallbufFlush struct{}

func (SyscallbufFlush) Kind() Kind     { return KindSyscallbufFlush }
func (SyscallbufFlush) String() string { return "SyscallbufFlush" }

// SyscallInterruption records that a syscall was interrupted by a signal
// before completing and may be restarted (spec §4.2.5
// at_may_restart_syscall).
type SyscallInterruption struct {
	Regs Regs
}

func (s SyscallInterruption) Kind() Kind { return KindSyscallInterruption }
func (s SyscallInterruption) String() string {
	return fmt.Sprintf("SyscallInterruption{no=%d}", s.Regs.Sysno)
}

// Noop is pushed when the supervisor needs a stack entry purely to carry
// a pending action (e.g. a stashed synthesized stop) with no syscall or
// signal semantics of its own.
type Noop struct{}

func (Noop) Kind() Kind     { return KindNoop }
func (Noop) String() string { return "Noop" }

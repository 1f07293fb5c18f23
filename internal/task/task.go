// Package task implements the Task Supervisor Core of spec §4.2: the
// per-thread state machine that drives one tracee via the debug-
// attachment (ptrace) protocol, mediates memory access, tracks the
// pending-event stack, and performs remote syscall injection.
//
// Grounded throughout on google-gvisor's pkg/sentry/platform/ptrace
// (subprocess_linux.go, subprocess_amd64.go, ptrace_unsafe.go): this
// package keeps that teacher's "thread" abstraction's register-cache and
// raw-ptrace-syscall idiom, generalized from gvisor's use (driving a
// pool of stub subprocesses that execute syscalls on the sentry's
// behalf) to this spec's use (driving a recorded tracee's own
// execution, one ptrace-stop at a time, with a deterministic logical
// clock).
package task

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/config"
	"github.com/cgjones/rr/internal/counters"
	"github.com/cgjones/rr/internal/event"
	"github.com/cgjones/rr/internal/glue"
	"github.com/cgjones/rr/internal/sighandler"
	"github.com/cgjones/rr/internal/taskgroup"
	"github.com/cgjones/rr/internal/vm"
)

// ResumeMode selects how resume_execution continues the tracee (spec
// §4.2.1).
type ResumeMode int

const (
	ResumeContinue ResumeMode = iota
	ResumeSingleStep
	ResumeSyscall            // PTRACE_SYSCALL: stop at every syscall entry/exit.
	ResumeSyscallEmulate     // PTRACE_SYSEMU: stop at syscall entry, don't execute it.
	ResumeSyscallEmulateStep // PTRACE_SYSEMU_SINGLESTEP.
)

// StashedSignal is the at-most-one stashed signal spec §3 describes: a
// tuple of siginfo plus the wait status it arrived with.
type StashedSignal struct {
	Info   unix.SignalfdSiginfo
	Status unix.WaitStatus
}

// Session is the external collaborator spec §6 describes: find_task,
// on_destroy, create_vm, create_tg, update_task_priority, and access to
// the selected trace stream. Out of scope beyond this interface.
type Session interface {
	FindTask(realTid int32) (*Task, bool)
	OnDestroy(t *Task)
	CreateVM() vm.AddressSpace
	CreateTaskGroup(recordedTgid, realTgid int32) *taskgroup.TaskGroup
	UpdateTaskPriority(t *Task, priority int)
	TraceStream() TraceStream
}

// TraceStream is the opaque record sink/source spec §6 describes: a
// monotonic logical-time counter plus event/memory-blob writes or reads
// whose frame format is owned by the (out of scope) trace subsystem.
type TraceStream interface {
	Time() uint64
	WriteEventFrame(kind string, payload []byte) error
	WriteMemoryBlob(addr uintptr, data []byte) error
	ReadEventFrame() (kind string, payload []byte, err error)
	ReadMemoryBlob() (addr uintptr, data []byte, err error)
}

// Mode distinguishes recording from replay, since several operations
// (resume_execution's counter-reprogramming rule, spawn's exit-kill
// option) differ between the two (spec §4.2.1, §4.2.4).
type Mode int

const (
	ModeRecord Mode = iota
	ModeReplay
)

// Task is the Task Supervisor Core of spec §3.
type Task struct {
	log logrus.FieldLogger
	cfg config.Tunables
	mode Mode

	realTid     int32
	recordedTid int32

	group *taskgroup.TaskGroup
	as    vm.AddressSpace
	sig   *sighandler.Table

	events *event.Stack

	waitStatus unix.WaitStatus

	regs        unix.PtraceRegs
	regsKnown   bool
	extraRegs   []byte
	extraKnown  bool

	blockedSignals uint64
	stashed        *StashedSignal

	counters *counters.Context

	scratchAddr uintptr
	scratchLen  uintptr

	syscallbuf struct {
		localAddr  uintptr // in the tracer's own address space, 0 if unmapped.
		childAddr  uintptr
		size       uintptr
		deschedFds [2]int
	}

	tracedSyscallIP   uintptr
	untracedSyscallIP uintptr

	name     string
	priority int

	rbcCount uint64

	robustListHead uintptr
	robustListLen  uintptr
	clearTidAddr   uintptr
	topOfStack     uintptr

	// tls is the raw struct user_desc bytes passed to set_thread_area,
	// nil if this Task never had one installed.
	tls []byte

	unstable     atomic.Bool
	switchable   bool

	session Session
}

// RealTid returns the tracee's real (host kernel) tid.
func (t *Task) RealTid() int32 { return t.realTid }

// RecordedTid returns the tid recorded in the trace (equal to RealTid
// during recording).
func (t *Task) RecordedTid() int32 { return t.recordedTid }

// Group returns the Task Group this Task belongs to.
func (t *Task) Group() *taskgroup.TaskGroup { return t.group }

// AddressSpace returns the shared Address Space handle.
func (t *Task) AddressSpace() vm.AddressSpace { return t.as }

// Name returns the task-name string (spec §3), derived from the
// basename of the last exec'd path, capped to 15 characters.
func (t *Task) Name() string { return t.name }

// Priority returns the scheduling priority (lower = higher priority).
func (t *Task) Priority() int { return t.priority }

// RBCCount returns the accumulated RBC count last read from the Counter
// Context.
func (t *Task) RBCCount() uint64 { return t.rbcCount }

// Unstable reports whether the Task has been marked unstable by a
// TaskGroup.Destabilize call (spec §3).
func (t *Task) Unstable() bool { return t.unstable.Load() }

// MarkUnstable implements taskgroup.Member; Kill also calls it directly,
// unconditionally, before sending SIGKILL (spec §4.2.4 kill).
func (t *Task) MarkUnstable() { t.unstable.Store(true) }

// Switchable reports whether the outer scheduler (out of scope) may
// switch away from this task at its current stop.
func (t *Task) Switchable() bool { return t.switchable }

// SetSwitchable is used by resume/wait bookkeeping to record whether the
// tracee is at a point where the scheduler may switch tasks.
func (t *Task) SetSwitchable(v bool) { t.switchable = v }

// EventStack returns the Task's pending-event stack (spec §3, §4.2.5).
func (t *Task) EventStack() *event.Stack { return t.events }

// WaitStatus returns the last wait(2) status observed for this Task.
func (t *Task) WaitStatus() unix.WaitStatus { return t.waitStatus }

// StashSignal stores sig as the (at most one) stashed signal, per spec
// §3. It overwrites any previous stash: callers are responsible for the
// "at most one" invariant via ConsumeStashedSignal first.
func (t *Task) StashSignal(sig StashedSignal) {
	s := sig
	t.stashed = &s
}

// HasStashedSignal reports whether a signal is currently stashed.
func (t *Task) HasStashedSignal() bool { return t.stashed != nil }

// ConsumeStashedSignal returns and clears the stashed signal, or
// glue.ErrNoStashedSignal if none is stashed.
func (t *Task) ConsumeStashedSignal() (StashedSignal, error) {
	if t.stashed == nil {
		return StashedSignal{}, glue.ErrNoStashedSignal
	}
	s := *t.stashed
	t.stashed = nil
	return s, nil
}

// BiasTowardStarvation implements the scheduling-counter bias spec
// §4.2.1's runaway-watchdog synthesizes after a forced interrupt: it
// nudges this Task's priority toward the back of the queue so the outer
// scheduler (out of scope) prefers other tasks next, without starving
// it outright.
func (t *Task) BiasTowardStarvation() {
	t.priority++
	if t.session != nil {
		t.session.UpdateTaskPriority(t, t.priority)
	}
}

func (t *Task) logger() logrus.FieldLogger {
	return t.log.WithField("tid", t.realTid)
}

func (t *Task) String() string {
	return fmt.Sprintf("Task{tid=%d rtid=%d name=%q}", t.realTid, t.recordedTid, t.name)
}

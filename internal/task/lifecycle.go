package task

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/config"
	"github.com/cgjones/rr/internal/counters"
	"github.com/cgjones/rr/internal/event"
	"github.com/cgjones/rr/internal/sighandler"
	"github.com/cgjones/rr/internal/taskgroup"
	"github.com/cgjones/rr/internal/vm"
)

// CloneFlags mirrors the subset of Linux's clone(2) flags that affect
// what a cloned Task shares with its parent (spec §4.2.4 clone): whether
// the Address Space, Signal-Handler Table, and Task Group are shared
// rather than copied.
type CloneFlags uint32

const (
	CloneVM      CloneFlags = 1 << 0 // share the Address Space.
	CloneSighand CloneFlags = 1 << 1 // share the Signal-Handler Table.
	CloneThread  CloneFlags = 1 << 2 // join the parent's Task Group.
)

// ptraceOptsBase is set on every tracee immediately after its initial
// stop, matching google-gvisor's subprocess_linux.go attach sequence:
// TRACESYSGOOD disambiguates syscall-stops from signal-stops in the wait
// status, and TRACECLONE/TRACEEXEC/TRACEEXIT deliver the events
// copy_state/pre_exec/post_exec/kill need to observe.
const ptraceOptsBase = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT

// newTask builds a Task in its initial, freshly-attached state. Callers
// (Spawn, Clone) are responsible for the wait(2) that confirms the
// tracee actually reached that state before handing back the Task.
func newTask(session Session, cfg config.Tunables, log logrus.FieldLogger, mode Mode, realTid, recordedTid int32, group *taskgroup.TaskGroup, as vm.AddressSpace, sig *sighandler.Table) *Task {
	t := &Task{
		log:         log,
		cfg:         cfg,
		mode:        mode,
		realTid:     realTid,
		recordedTid: recordedTid,
		group:       group,
		as:          as,
		sig:         sig,
		events:      event.NewStack(),
		counters:    counters.Init(log),
		switchable:  true,
		session:     session,
	}
	as.InsertTask(t)
	group.Insert(t)
	return t
}

// Spawn implements spec §4.2.4 spawn: fork+exec a brand-new tracee under
// the debug attachment and return the Task for its single initial
// thread. Because no tracee yet exists to inject a PTRACE_TRACEME into,
// this uses os/exec's SysProcAttr.Ptrace rather than remote syscall
// injection — the same approach the pack's debugger front-ends
// (go-delve/delve's native/proc_linux.go, via its own exec.Cmd launch
// path) use to attach to a process they themselves start.
func Spawn(session Session, cfg config.Tunables, log logrus.FieldLogger, mode Mode, path string, argv, envp []string) (*Task, error) {
	cmd := exec.Command(path, argv...)
	cmd.Env = envp
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn: start: %w", err)
	}
	realTid := int32(cmd.Process.Pid)

	var status unix.WaitStatus
	if _, err := unix.Wait4(int(realTid), &status, 0, nil); err != nil {
		return nil, fmt.Errorf("spawn: initial wait: %w", err)
	}
	if !status.Stopped() {
		return nil, fmt.Errorf("spawn: tracee did not stop at exec, status=%v", status)
	}

	opts := ptraceOptsBase
	if mode == ModeRecord {
		opts |= unix.PTRACE_O_EXITKILL
	}
	if err := unix.PtraceSetOptions(int(realTid), opts); err != nil {
		return nil, fmt.Errorf("spawn: PTRACE_SETOPTIONS: %w", err)
	}

	group := session.CreateTaskGroup(realTid, realTid)
	as := session.CreateVM()
	t := newTask(session, cfg, log, mode, realTid, realTid, group, as, sighandler.New())
	t.name = baseName(path)
	t.waitStatus = status
	return t, nil
}

// Clone implements spec §4.2.4 clone: a new Task for a tracee that
// already exists (the kernel just delivered a PTRACE_EVENT_CLONE stop to
// the parent naming childRealTid), sharing or copying the Address Space,
// Signal-Handler Table, and Task Group according to flags.
func (t *Task) Clone(flags CloneFlags, childRealTid, childRecordedTid int32) (*Task, error) {
	var status unix.WaitStatus
	if _, err := unix.Wait4(int(childRealTid), &status, 0, nil); err != nil {
		return nil, fmt.Errorf("clone: wait for child stop: %w", err)
	}

	var as vm.AddressSpace
	if flags&CloneVM != 0 {
		t.as.IncRef()
		as = t.as
	} else {
		as = t.session.CreateVM()
	}

	var sig *sighandler.Table
	if flags&CloneSighand != 0 {
		sig = t.sig.Share()
	} else {
		sig = t.sig.Fork()
	}

	group := t.group
	if flags&CloneThread == 0 {
		group = t.session.CreateTaskGroup(childRecordedTid, childRealTid)
	}

	child := newTask(t.session, t.cfg, t.log, t.mode, childRealTid, childRecordedTid, group, as, sig)
	child.name = t.name
	child.priority = t.priority
	child.waitStatus = status

	if err := unix.PtraceSetOptions(int(childRealTid), ptraceOptsBase); err != nil {
		return nil, fmt.Errorf("clone: PTRACE_SETOPTIONS on child: %w", err)
	}
	return child, nil
}

// snapshot is the subset of Task state spec §4.2.4 copy_state transfers
// between a Task and a checkpoint image: everything that isn't owned by
// an external collaborator (the Address Space's own contents, the trace
// stream) and isn't re-derived on demand (the register caches, which
// copy_state restores via SetRegs/SetExtraRegs rather than poking the
// known-flags directly).
type snapshot struct {
	regs           unix.PtraceRegs
	extraRegs      []byte
	blockedSignals uint64
	scratchAddr    uintptr
	scratchLen     uintptr
	robustListHead uintptr
	robustListLen  uintptr
	clearTidAddr   uintptr
	topOfStack     uintptr
	tls            []byte
	name           string
	priority       int
	rbcCount       uint64

	// syscallbuf* capture the shared mapping so RestoreState can recreate
	// it in the target Task rather than alias the source's (spec §4.2.4
	// copy_state: "unmap it, create a copy, and then re-map the copy").
	syscallbufChildAddr  uintptr
	syscallbufSize       uintptr
	syscallbufDeschedFds [2]int
	syscallbufPayload    []byte
	tracedSyscallIP      uintptr
	untracedSyscallIP    uintptr
}

// CopyState implements spec §4.2.4 copy_state's save direction: captures
// the Task's checkpoint-relevant fields into an opaque snapshot that a
// later RestoreState call can apply, to this Task or to a different one
// reconstructed during replay.
func (t *Task) CopyState() (*snapshot, error) {
	regs, err := t.Regs()
	if err != nil {
		return nil, fmt.Errorf("copy_state: regs: %w", err)
	}
	extra, err := t.ExtraRegs()
	if err != nil {
		return nil, fmt.Errorf("copy_state: extra regs: %w", err)
	}
	extraCopy := make([]byte, len(extra))
	copy(extraCopy, extra)

	var tlsCopy []byte
	if t.tls != nil {
		tlsCopy = append([]byte{}, t.tls...)
	}

	snap := &snapshot{
		regs:           *regs,
		extraRegs:      extraCopy,
		blockedSignals: t.blockedSignals,
		scratchAddr:    t.scratchAddr,
		scratchLen:     t.scratchLen,
		robustListHead: t.robustListHead,
		robustListLen:  t.robustListLen,
		clearTidAddr:   t.clearTidAddr,
		topOfStack:     t.topOfStack,
		tls:            tlsCopy,
		name:           t.name,
		priority:       t.priority,
		rbcCount:       t.rbcCount,
	}

	// The syscallbuf is a mapping shared between the tracer and the
	// tracee (spec §4.2.4 copy_state), so the new Task can't simply
	// alias these fields: its payload is captured here and re-mapped by
	// RestoreState.
	if t.syscallbuf.childAddr != 0 {
		payload, err := t.ReadMemory(t.syscallbuf.childAddr, int(t.syscallbuf.size))
		if err != nil {
			return nil, fmt.Errorf("copy_state: read syscallbuf: %w", err)
		}
		snap.syscallbufChildAddr = t.syscallbuf.childAddr
		snap.syscallbufSize = t.syscallbuf.size
		snap.syscallbufDeschedFds = t.syscallbuf.deschedFds
		snap.syscallbufPayload = payload
		snap.tracedSyscallIP = t.tracedSyscallIP
		snap.untracedSyscallIP = t.untracedSyscallIP
	}

	return snap, nil
}

// RestoreState implements spec §4.2.4 copy_state's restore direction:
// writes a previously captured snapshot back through to this Task's
// debug attachment and bookkeeping fields, injecting the same sequence
// of remote syscalls the original copy_state does: prctl(PR_SET_NAME),
// set_robust_list, set_thread_area, set_tid_address, then unmapping and
// re-mapping the syscallbuf, all bracketed in a single
// AutoRemoteSyscalls session, per task.cc's Task::copy_state.
func (t *Task) RestoreState(snap *snapshot) error {
	if err := t.SetRegs(&snap.regs); err != nil {
		return fmt.Errorf("restore_state: regs: %w", err)
	}
	if err := t.SetExtraRegs(snap.extraRegs); err != nil {
		return fmt.Errorf("restore_state: extra regs: %w", err)
	}

	var stepErr error
	rsErr := t.WithRemoteSyscalls(func(rs *AutoRemoteSyscalls) {
		if stepErr = rs.setName(snap.name); stepErr != nil {
			return
		}
		if snap.robustListHead != 0 {
			if _, stepErr = rs.Syscall(unix.SYS_SET_ROBUST_LIST, snap.robustListHead, snap.robustListLen); stepErr != nil {
				return
			}
		}
		if snap.tls != nil {
			if stepErr = rs.setThreadArea(snap.tls); stepErr != nil {
				return
			}
		}
		if snap.clearTidAddr != 0 {
			if _, stepErr = rs.Syscall(unix.SYS_SET_TID_ADDRESS, snap.clearTidAddr); stepErr != nil {
				return
			}
		}
		if snap.syscallbufChildAddr != 0 {
			stepErr = rs.remapSyscallbuf(snap)
		}
	})
	if rsErr != nil {
		return fmt.Errorf("restore_state: %w", rsErr)
	}
	if stepErr != nil {
		return fmt.Errorf("restore_state: %w", stepErr)
	}

	t.blockedSignals = snap.blockedSignals
	t.scratchAddr = snap.scratchAddr
	t.scratchLen = snap.scratchLen
	t.robustListHead = snap.robustListHead
	t.robustListLen = snap.robustListLen
	t.clearTidAddr = snap.clearTidAddr
	t.topOfStack = snap.topOfStack
	t.tls = snap.tls
	t.name = snap.name
	t.priority = snap.priority
	t.rbcCount = snap.rbcCount
	return nil
}

// PreExec implements spec §4.2.4 pre_exec: called once the Task
// Supervisor has decided to let an exec proceed (immediately before
// resuming the tracee through the traced execve), it tears down the
// syscallbuf mapping bookkeeping, since the new image has no buffer
// until the replacement C runtime maps a fresh one.
func (t *Task) PreExec() {
	t.syscallbuf.localAddr = 0
	t.syscallbuf.childAddr = 0
	t.syscallbuf.size = 0
	t.syscallbuf.deschedFds = [2]int{-1, -1}
}

// PostExec implements spec §4.2.4 post_exec: called on the
// PTRACE_EVENT_EXEC stop. The Address Space is now a fresh image (the
// kernel replaced it in place, but any fd-based mem handle refers to the
// old one), the Signal-Handler Table reverts user handlers to SIG_DFL
// and keeps SIG_IGN/SIG_DFL entries per POSIX exec semantics, the event
// stack restarts at its Sentinel, the
// cached register state is stale, and the task name is re-derived from
// the new image's path.
func (t *Task) PostExec(newPath string) error {
	t.as.SetMemFd(-1)
	if t.sig.RefCount() > 1 {
		t.sig.Release()
		t.sig = t.sig.Fork()
	}
	t.sig.ResetOnExec()
	t.events = event.NewStack()
	t.InvalidateRegs()
	t.name = baseName(newPath)
	return nil
}

// Kill implements spec §4.2.4 kill: send SIGKILL to the tracee, mark it
// unstable so a concurrent detach_and_reap doesn't block waiting on it,
// and reap its final wait status. Kill is idempotent with respect to a
// tracee that is already gone: ESRCH from the kill(2) is not an error
// here.
func (t *Task) Kill() error {
	t.MarkUnstable()
	if err := unix.Kill(int(t.realTid), unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("kill: %w", err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(int(t.realTid), &status, 0, nil); err != nil && err != unix.ECHILD {
		return fmt.Errorf("kill: reap: %w", err)
	}
	t.waitStatus = status
	t.destroy()
	return nil
}

// DetachAndReap implements spec §4.2.4 detach_and_reap: used when the
// supervisor is giving up tracing a Task without killing it (e.g. the
// tracer itself is exiting). If the Task's group is not destabilized, a
// non-blocking (WNOHANG) wait4 collects any status already pending before
// PTRACE_DETACH; a destabilized group's members get no wait at all. No
// path blocks, and nothing waits for the tracee's exit after the detach.
func (t *Task) DetachAndReap() error {
	if !t.group.Destabilized() {
		var status unix.WaitStatus
		if _, err := unix.Wait4(int(t.realTid), &status, unix.WNOHANG, nil); err == nil {
			t.waitStatus = status
		}
	}
	if err := unix.PtraceDetach(int(t.realTid)); err != nil && err != unix.ESRCH {
		return fmt.Errorf("detach_and_reap: PTRACE_DETACH: %w", err)
	}
	t.destroy()
	return nil
}

// destroy releases this Task's shared handles and notifies the Session,
// mirroring the on_destroy collaborator hook spec §6 describes.
func (t *Task) destroy() {
	t.counters.Destroy()
	t.sig.Release()
	t.as.EraseTask(t)
	t.as.DecRef()
	if remaining := t.group.Erase(t); remaining == 0 && t.group.Destabilized() {
		t.logger().Debug("task group fully reaped after destabilization")
	}
	if t.session != nil {
		t.session.OnDestroy(t)
	}
}

// baseName implements spec §3's "task-name string... basename of the
// last exec'd path, capped to 15 characters" (the kernel's own
// TASK_COMM_LEN limit for /proc/<tid>/comm).
func baseName(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	const maxLen = 15
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	return base
}

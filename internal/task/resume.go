package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/glue"
)

// currentWaiter is the single-entry watchdog slot of spec §5/§9: the
// only Task that may be interrupted by the runaway alarm. A real SIGALRM
// handler can't safely reenter Go's runtime, so this is realized as a
// time.AfterFunc timer (armed in resumeAndWait) that wakes the dedicated
// watchdogLoop goroutine, rather than a true signal handler — the
// idiomatic Go substitute the spec's own §9 design notes anticipate.
var currentWaiter atomic.Pointer[Task]

// watchdogFired is set by the watchdog goroutine and consulted by
// resumeAndWait after every wait returns (spec §4.2.1: "The core checks
// this boolean after each wait returns").
var watchdogFired atomic.Bool

func init() {
	startWatchdog()
}

func startWatchdog() {
	ch := make(chan struct{})
	go watchdogLoop(ch)
	armWatchdogCh = ch
}

var armWatchdogCh chan struct{}

// watchdogLoop is the single goroutine standing in for the alarm
// handler of spec §5: "The handler must not reenter the tracer's core
// logic; it only sets a shared boolean." It is deliberately the only
// code that calls PTRACE_INTERRUPT on a Task it doesn't own the call
// stack of.
func watchdogLoop(armed <-chan struct{}) {
	for range armed {
		w := currentWaiter.Load()
		if w == nil {
			continue // alarm fired with no current waiter: no-op per spec §5.
		}
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_INTERRUPT, uintptr(w.realTid), 0, 0, 0, 0)
		if errno != 0 {
			w.logger().WithError(errno).Warn("runaway watchdog: PTRACE_INTERRUPT failed")
		}
		watchdogFired.Store(true)
	}
}

// ResumeExecution implements spec §4.2.1: flush the accumulated RBC,
// reprogram the counter on replay, issue the resume, invalidate register
// caches, and optionally wait. sig is the signal to inject (0 for
// none); rbcPeriod is only meaningful in replay mode and must be 0 in
// recording mode.
func (t *Task) ResumeExecution(mode ResumeMode, wait bool, sig int, rbcPeriod uint64) error {
	t.rbcCount += t.counters.ReadRBC()

	switch t.mode {
	case ModeReplay:
		t.counters.Reset(t, rbcPeriod, t.cfg.TimeSliceSignal, t.cfg.TrackAuxCounters)
	case ModeRecord:
		if rbcPeriod != 0 {
			return fmt.Errorf("resume: rbcPeriod must be 0 while recording, got %d", rbcPeriod)
		}
	}

	if err := t.issueResume(mode, sig); err != nil {
		return err
	}
	t.InvalidateRegs()

	if !wait {
		return nil
	}
	return t.resumeAndWait()
}

func (t *Task) issueResume(mode ResumeMode, sig int) error {
	tid := int(t.realTid)
	var errno error
	switch mode {
	case ResumeContinue:
		errno = unix.PtraceCont(tid, sig)
	case ResumeSingleStep:
		if _, _, e := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(tid), 0, uintptr(sig), 0, 0); e != 0 {
			errno = e
		}
	case ResumeSyscall:
		errno = unix.PtraceSyscall(tid, sig)
	case ResumeSyscallEmulate:
		errno = ptraceSysemu(tid, sig)
	case ResumeSyscallEmulateStep:
		errno = ptraceSysemuSinglestep(tid, sig)
	default:
		return fmt.Errorf("resume: unknown mode %v", mode)
	}
	if errno != nil {
		return fmt.Errorf("resume: %w", errno)
	}
	return nil
}

// ptraceSysemu/ptraceSysemuSinglestep: golang.org/x/sys/unix does not
// wrap PTRACE_SYSEMU/PTRACE_SYSEMU_SINGLESTEP (Linux-specific syscall-
// emulation requests used by syscall-buffering record/replay tracers);
// issue them as raw ptrace requests, matching the raw-PTRACE_* idiom
// google-gvisor's ptrace_unsafe.go uses throughout for requests the
// wrapped API doesn't cover.
const (
	ptraceSysemuReq            = 31
	ptraceSysemuSinglestepReq  = 32
)

func ptraceSysemu(tid int, sig int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceSysemuReq, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceSysemuSinglestep(tid int, sig int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceSysemuSinglestepReq, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// resumeAndWait blocks in wait(2), arming the recording-only runaway
// watchdog first (spec §4.2.1). On return it checks watchdogFired and,
// if the wait status looks like a debug-interrupt stop rather than an
// organic event, synthesizes the time-slice-signal stop spec §4.2.1
// describes; otherwise the organic event wins and watchdogFired is
// simply cleared (spec §5: "the organic event wins; alarm-induced
// effects are rolled back").
func (t *Task) resumeAndWait() error {
	if t.mode == ModeRecord {
		currentWaiter.Store(t)
		timer := time.AfterFunc(t.cfg.RunawayWatchdog, func() {
			select {
			case armWatchdogCh <- struct{}{}:
			default:
			}
		})
		defer func() {
			timer.Stop()
			currentWaiter.Store(nil)
		}()
	}

	status, err := t.wait()
	if err != nil {
		return err
	}
	t.waitStatus = status

	if t.mode == ModeRecord && watchdogFired.Swap(false) {
		t.maybeSynthesizeTimeSliceStop(status)
	}
	return nil
}

// Wait blocks until this Task's tracee changes state and records the
// resulting status, without the watchdog/resume bookkeeping
// ResumeExecution(wait=true) performs around it. Used by a caller that
// issued a non-blocking resume itself (e.g. cmd/rrsup's non-stop Target
// adapter, which must not block the RSP dispatch goroutine inside
// ResumeExecution) and now needs to learn when it stopped.
func (t *Task) Wait() error {
	status, err := t.wait()
	if err != nil {
		return err
	}
	t.waitStatus = status
	return nil
}

// wait blocks until this Task's tracee changes state, per spec §5
// suspension point (a).
func (t *Task) wait() (unix.WaitStatus, error) {
	var status unix.WaitStatus
	_, err := unix.Wait4(int(t.realTid), &status, 0, nil)
	if err != nil {
		glue.Fatal("task.wait", err)
	}
	return status, nil
}

// maybeSynthesizeTimeSliceStop implements spec §4.2.1's runaway-tracee
// watchdog race resolution: if the wait status reflects a debug-
// interrupt stop with signal {TRAP, STOP, 0}, rewrite it into a
// synthesized time-slice-signal stop, stash a matching siginfo, and bias
// scheduling toward starvation. Any other status means the organic
// event won the race and the alarm's effects are simply discarded.
func (t *Task) maybeSynthesizeTimeSliceStop(status unix.WaitStatus) {
	if !status.Stopped() {
		return
	}
	switch status.StopSignal() {
	case unix.SIGTRAP, unix.SIGSTOP, 0:
	default:
		return
	}

	t.logger().Warn("runaway watchdog interrupted the tracee; synthesizing time-slice signal")

	sig := t.cfg.TimeSliceSignal
	t.waitStatus = unix.WaitStatus(uint32(sig)<<8 | 0x7f)

	si := unix.SignalfdSiginfo{
		Signo: uint32(sig),
		Code:  pollIn,
		Fd:    int32(t.counters.FD()),
	}
	t.StashSignal(StashedSignal{Info: si, Status: t.waitStatus})
	t.BiasTowardStarvation()
}

// pollIn is SI_CODE POLL_IN, the si_code the kernel attaches to an
// asynchronous fd-ready signal (spec §4.2.1: "constructs a siginfo with
// that signal and si_code = POLL_IN").
const pollIn = 1

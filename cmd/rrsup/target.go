package main

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/rsp"
	"github.com/cgjones/rr/internal/task"
)

// taskTarget adapts a single *task.Task to rsp.Target, for the "record"
// subcommand's one-tracee-one-thread scope. A multi-threaded or
// multi-process target would instead adapt the outer scheduler spec §6
// places beyond this module's boundary.
type taskTarget struct {
	t       *task.Task
	events  chan rsp.StopEvent
	watches map[uintptr][]byte // software-breakpoint original bytes by address.
}

func newTaskTarget(t *task.Task) *taskTarget {
	return &taskTarget{t: t, events: make(chan rsp.StopEvent, 8), watches: make(map[uintptr][]byte)}
}

func (a *taskTarget) Threads() []rsp.ThreadID { return []rsp.ThreadID{a.t.RealTid()} }

func (a *taskTarget) CurrentThread() rsp.ThreadID { return a.t.RealTid() }

func (a *taskTarget) Regs(tid rsp.ThreadID) (*unix.PtraceRegs, error) {
	if tid != a.t.RealTid() {
		return nil, fmt.Errorf("target: unknown thread %d", tid)
	}
	return a.t.Regs()
}

func (a *taskTarget) SetRegs(tid rsp.ThreadID, r *unix.PtraceRegs) error {
	if tid != a.t.RealTid() {
		return fmt.Errorf("target: unknown thread %d", tid)
	}
	return a.t.SetRegs(r)
}

func (a *taskTarget) ReadMemory(tid rsp.ThreadID, addr uintptr, n int) ([]byte, error) {
	return a.t.ReadMemory(addr, n)
}

func (a *taskTarget) WriteMemory(tid rsp.ThreadID, addr uintptr, data []byte) error {
	return a.t.WriteMemory(addr, data)
}

// Resume implements vCont's per-thread actions by issuing the resume and
// then, in a background goroutine, waiting for the resulting stop and
// forwarding it as a non-stop Stop notification (spec §4.3).
func (a *taskTarget) Resume(tid rsp.ThreadID, step bool, sig int) error {
	if tid != a.t.RealTid() {
		return fmt.Errorf("target: unknown thread %d", tid)
	}
	mode := task.ResumeContinue
	if step {
		mode = task.ResumeSingleStep
	}
	if err := a.t.ResumeExecution(mode, false, sig, 0); err != nil {
		return err
	}
	go a.waitAndNotify()
	return nil
}

// waitAndNotify blocks in wait(2) for the stop Resume's non-blocking
// issueResume already set in motion, then turns it into a StopEvent.
// Resume itself only issues the resume (wait=false) so the RSP dispatch
// loop never blocks the connection; the actual blocking wait happens
// here, off the connection goroutine.
func (a *taskTarget) waitAndNotify() {
	if err := a.t.Wait(); err != nil {
		return
	}
	ws := a.t.WaitStatus()
	ev := rsp.StopEvent{Tid: a.t.RealTid()}
	switch {
	case ws.Exited():
		ev.Exited = true
		ev.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		ev.Terminated = true
		ev.Sig = int(ws.Signal())
	case ws.Stopped():
		ev.Sig = int(ws.StopSignal())
	}
	a.events <- ev
}

func (a *taskTarget) InsertBreakpoint(tid rsp.ThreadID, typ rsp.BreakType, addr uintptr, size int) error {
	switch typ {
	case 0: // software breakpoint.
		orig, err := a.t.SetSoftwareBreakpoint(addr)
		if err != nil {
			return err
		}
		a.watches[addr] = orig
		return nil
	default: // hardware execute/write/read watchpoints.
		kind := task.WatchExecute
		switch typ {
		case 2:
			kind = task.WatchWrite
		case 3, 4:
			kind = task.WatchReadWrite
		}
		ok, err := a.t.SetDebugRegs([]task.Watchpoint{{Addr: addr, Width: size, Kind: kind}})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("target: watchpoint programming failed")
		}
		return nil
	}
}

func (a *taskTarget) RemoveBreakpoint(tid rsp.ThreadID, typ rsp.BreakType, addr uintptr, size int) error {
	switch typ {
	case 0:
		orig, ok := a.watches[addr]
		if !ok {
			return fmt.Errorf("target: no breakpoint at %#x", addr)
		}
		delete(a.watches, addr)
		return a.t.RemoveSoftwareBreakpoint(addr, orig)
	default:
		return a.t.ClearDebugRegs()
	}
}

func (a *taskTarget) Detach(tid rsp.ThreadID) error {
	return a.t.DetachAndReap()
}

func (a *taskTarget) Kill() error {
	return a.t.Kill()
}

func (a *taskTarget) ThreadAlive(tid rsp.ThreadID) bool {
	return tid == a.t.RealTid()
}

func (a *taskTarget) Events() <-chan rsp.StopEvent { return a.events }

package task

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/event"
)

// restartSyscallNo is the platform's generic "restart syscall" number
// (restart_syscall(2) on x86-64), used by event.Stack.IsSyscallRestart.
const restartSyscallNo = 219

// CurrentSyscallRegs reads the registers relevant to the syscall-restart
// predicates in spec §4.2.5, from the current cached register file.
func (t *Task) CurrentSyscallRegs() (event.Regs, error) {
	r, err := t.Regs()
	if err != nil {
		return event.Regs{}, err
	}
	return event.Regs{
		Sysno: r.Orig_rax,
		Args:  [6]uint64{r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9},
	}, nil
}

// IsSyscallRestart implements spec §4.2.5 is_syscall_restart() for this
// Task's current registers and event stack.
func (t *Task) IsSyscallRestart() (bool, error) {
	cur, err := t.CurrentSyscallRegs()
	if err != nil {
		return false, err
	}
	return t.events.IsSyscallRestart(cur, restartSyscallNo), nil
}

// AtMayRestartSyscall implements spec §4.2.5 at_may_restart_syscall().
func (t *Task) AtMayRestartSyscall() bool {
	return t.events.AtMayRestartSyscall()
}

// FinishEmulatedSyscall implements spec §4.2.5 finish_emulated_syscall():
// single-step past an emulated syscall instruction. Because the
// instruction at the tracee's IP must not be re-executed if not
// idempotent, a software breakpoint is inserted at the current IP, a
// single step is issued, then the breakpoint is removed and the
// original registers restored — skipped entirely when the stop
// originated in the syscallbuf helper's known-idempotent post-syscall
// instruction.
//
// Idempotence is confirmed by decoding the instruction at the untraced
// syscall IP with golang.org/x/arch/x86/x86asm (grounded on the pack's
// go-delve/delve gdbserver.go, which imports the same package for its
// own instruction-level stepping) rather than hard-coding a byte
// pattern, so this path is unit-testable without a live tracee.
func (t *Task) FinishEmulatedSyscall() error {
	regs, err := t.Regs()
	if err != nil {
		return err
	}
	if t.stoppedAtIdempotentSyscallbufInsn(uintptr(regs.Rip)) {
		return nil
	}

	saved := *regs
	ip := uintptr(regs.Rip)
	orig, err := t.SetSoftwareBreakpoint(ip)
	if err != nil {
		return fmt.Errorf("finish_emulated_syscall: set breakpoint: %w", err)
	}
	defer func() {
		_ = t.RemoveSoftwareBreakpoint(ip, orig)
		_ = t.SetRegs(&saved)
	}()

	if err := unix.PtraceSingleStep(int(t.realTid)); err != nil {
		return fmt.Errorf("finish_emulated_syscall: single-step: %w", err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(int(t.realTid), &status, 0, nil); err != nil {
		return fmt.Errorf("finish_emulated_syscall: wait4: %w", err)
	}
	t.InvalidateRegs()
	return nil
}

// stoppedAtIdempotentSyscallbufInsn reports whether ip is the tracee's
// own syscallbuf helper's post-syscall instruction, which spec §4.2.5
// says is "known idempotent" and so never needs the breakpoint dance.
func (t *Task) stoppedAtIdempotentSyscallbufInsn(ip uintptr) bool {
	if t.untracedSyscallIP == 0 || ip != t.untracedSyscallIP {
		return false
	}
	code, err := t.ReadMemory(ip, 15) // max x86-64 instruction length.
	if err != nil {
		return false
	}
	insn, err := x86asm.Decode(code, 64)
	if err != nil {
		return false
	}
	// The syscallbuf helper's post-syscall slot is always the
	// syscall instruction itself immediately followed by a no-op
	// landing pad; decoding confirms it's the expected two-byte
	// SYSCALL opcode rather than something the replay stream
	// rewrote into a non-idempotent sequence.
	return insn.Op == x86asm.SYSCALL
}

package task

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/glue"
)

// GETREGSET/SETREGSET register set types (include/uapi/linux/elf.h),
// matching the constants google-gvisor's ptrace_unsafe.go defines for
// the same purpose.
const (
	ntPRFPREG   = 0x2   // x86 floating-point state without xsave.
	ntX86XSTATE = 0x202 // x86 extended state using xsave.
)

// Regs refreshes and returns the cached general-purpose registers,
// reading through to the debug attachment only if the cache is stale
// (spec §4.2.2, §8 Testable Property 2: "A Task with registers_known
// returns from regs() without issuing a read to the debug attachment").
func (t *Task) Regs() (*unix.PtraceRegs, error) {
	if t.regsKnown {
		return &t.regs, nil
	}
	if err := unix.PtraceGetRegs(int(t.realTid), &t.regs); err != nil {
		return nil, fmt.Errorf("PTRACE_GETREGS: %w", err)
	}
	t.regsKnown = true
	return &t.regs, nil
}

// SetRegs writes r through to the debug attachment and marks the cache
// known (spec §4.2.2 "set_regs(r) writes through and re-marks known").
func (t *Task) SetRegs(r *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(int(t.realTid), r); err != nil {
		return fmt.Errorf("PTRACE_SETREGS: %w", err)
	}
	t.regs = *r
	t.regsKnown = true
	return nil
}

// InvalidateRegs clears both register caches. Called after every resume
// (spec §4.2.1 step 4, §8 Testable Property 2: "immediately after any
// resume, registers_known is false").
func (t *Task) InvalidateRegs() {
	t.regsKnown = false
	t.extraKnown = false
}

// RegsKnown reports whether the general-purpose register cache is
// currently valid, for tests asserting §8 Testable Property 2.
func (t *Task) RegsKnown() bool { return t.regsKnown }

// extraRegsSize is sized once per process from the CPUID XSAVE leaf
// (spec §4.2.2 "Extra registers use the widest available save area,
// sized once per process via the CPU-ID XSAVE leaf"), mirroring
// google-gvisor's own once-per-process xsave-area sizing
// (pkg/sentry/arch's use of the same CPUID leaf) rather than a
// per-Task computation.
var extraRegsSize = computeExtraRegsSize()

func computeExtraRegsSize() int {
	// CPUID leaf 0xd, sub-leaf 0: ecx returns the maximum size (bytes)
	// of the XSAVE/XRSTOR save area for all features the host supports.
	_, _, ecx, _ := glue.CPUID(0xd, 0)
	if ecx == 0 {
		// XSAVE not supported or CPUID leaf unavailable (e.g.
		// non-amd64 build): fall back to the legacy FXSAVE area.
		return 512
	}
	return int(ecx)
}

// ExtraRegs returns the cached extended (FPU/vector) register state,
// refreshing via PTRACE_GETREGSET with the XSAVE note type if the host
// supports it, else the legacy FPREGS note type.
func (t *Task) ExtraRegs() ([]byte, error) {
	if t.extraKnown {
		return t.extraRegs, nil
	}
	if t.extraRegs == nil {
		t.extraRegs = make([]byte, extraRegsSize)
	}
	useXsave := extraRegsSize > 512
	if err := t.getRegSet(regSetType(useXsave), t.extraRegs); err != nil {
		return nil, err
	}
	t.extraKnown = true
	return t.extraRegs, nil
}

// SetExtraRegs writes through the cached extended register state.
func (t *Task) SetExtraRegs(buf []byte) error {
	useXsave := extraRegsSize > 512
	if err := t.setRegSet(regSetType(useXsave), buf); err != nil {
		return err
	}
	t.extraRegs = buf
	t.extraKnown = true
	return nil
}

func regSetType(useXsave bool) uintptr {
	if useXsave {
		return ntX86XSTATE
	}
	return ntPRFPREG
}

// getRegSet/setRegSet wrap PTRACE_GETREGSET/SETREGSET, which
// golang.org/x/sys/unix does not expose directly for arbitrary note
// types; grounded on google-gvisor's ptrace_unsafe.go getFPRegs/
// setFPRegs, which make the same raw syscall with an iovec.
func (t *Task) getRegSet(setType uintptr, buf []byte) error {
	iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(t.realTid), setType, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return fmt.Errorf("PTRACE_GETREGSET: %w", errno)
	}
	return nil
}

func (t *Task) setRegSet(setType uintptr, buf []byte) error {
	iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGSET,
		uintptr(t.realTid), setType, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return fmt.Errorf("PTRACE_SETREGSET: %w", errno)
	}
	return nil
}

// SignalInfo retrieves the siginfo for the signal that caused the
// current stop, via PTRACE_GETSIGINFO (spec §4.1 "Signal-delivery
// contract": the tracer inspects si_fd to recognize the time-slice
// signal).
func (t *Task) SignalInfo() (unix.SignalfdSiginfo, error) {
	var si unix.SignalfdSiginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO,
		uintptr(t.realTid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if errno != 0 {
		return si, fmt.Errorf("PTRACE_GETSIGINFO: %w", errno)
	}
	return si, nil
}

// siFD extracts the si_fd field the kernel places in siginfo for
// POLL_IN-class signals raised by a watched file descriptor (here, the
// RBC perf_event descriptor). unix.SignalfdSiginfo lays the fd/band
// union out as Fd; see spec §4.1.
func siFD(si unix.SignalfdSiginfo) int32 {
	return si.Fd
}

// isTimeSliceSignal reports whether the given stop is the RBC counter's
// time-slice signal rather than an application signal of the same
// number, by checking si_fd against the Counter Context's RBC
// descriptor (spec §4.1).
func (t *Task) isTimeSliceSignal(si unix.SignalfdSiginfo, wantSig int) bool {
	return int(si.Signo) == wantSig && t.counters != nil && siFD(si) == int32(t.counters.FD())
}

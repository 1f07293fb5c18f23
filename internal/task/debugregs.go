package task

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// WatchKind selects the trigger condition for a hardware watchpoint
// (spec §4.2.6).
type WatchKind int

const (
	WatchExecute WatchKind = iota
	WatchWrite
	WatchReadWrite
)

// Watchpoint describes one of the up to four hardware watchpoints the
// x86 debug-register layout supports.
type Watchpoint struct {
	Addr  uintptr
	Width int // one of {1, 2, 4, 8} bytes.
	Kind  WatchKind
}

// debugRegOffsets are the PTRACE_PEEKUSER/POKEUSER offsets of the x86
// debug registers within struct user, following the standard
// <sys/user.h> layout: DR0..DR3 at indices 0..3 of the debugreg array,
// DR6 (status) at index 6, DR7 (control) at index 7.
const (
	drOffsetBase    = 848 // offsetof(struct user, u_debugreg) on x86-64.
	drRegSize       = 8
	dr6Index        = 6
	dr7Index        = 7
)

func debugRegOffset(index int) uintptr {
	return uintptr(drOffsetBase + index*drRegSize)
}

// peekUser/pokeUser wrap PTRACE_PEEKUSER/POKEUSER, used for debug-
// register access (spec §6 "peek/poke of the debug-register area");
// golang.org/x/sys/unix does not wrap PEEKUSER/POKEUSER since most
// callers use GETREGS instead, so this follows google-gvisor's
// ptrace_unsafe.go raw-syscall idiom.
func (t *Task) peekUser(offset uintptr) (uint64, error) {
	var val uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR, uintptr(t.realTid), offset, uintptr(unsafe.Pointer(&val)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return val, nil
}

func (t *Task) pokeUser(offset uintptr, val uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSR, uintptr(t.realTid), offset, uintptr(val), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// controlBits encodes one watchpoint's DR7 local-enable, R/W, and LEN
// fields for the given slot.
func controlBits(slot int, wp Watchpoint) (uint64, error) {
	var rw uint64
	switch wp.Kind {
	case WatchExecute:
		rw = 0b00
	case WatchWrite:
		rw = 0b01
	case WatchReadWrite:
		rw = 0b11
	default:
		return 0, fmt.Errorf("debugregs: unknown watch kind %v", wp.Kind)
	}
	var length uint64
	switch wp.Width {
	case 1:
		length = 0b00
	case 2:
		length = 0b01
	case 8:
		length = 0b10
	case 4:
		length = 0b11
	default:
		return 0, fmt.Errorf("debugregs: unsupported watch width %d", wp.Width)
	}
	localEnable := uint64(1) << uint(slot*2)
	rwBits := rw << uint(16+slot*4)
	lenBits := length << uint(18+slot*4)
	return localEnable | rwBits | lenBits, nil
}

// SetDebugRegs programs up to four hardware watchpoints atomically from
// the caller's point of view (spec §4.2.6): DR7 is cleared before any
// change, and if any slot fails the function returns false having left
// the enable mask at zero (spec §8 Testable Property 8).
func (t *Task) SetDebugRegs(wps []Watchpoint) (bool, error) {
	if len(wps) > 4 {
		return false, fmt.Errorf("debugregs: at most 4 watchpoints, got %d", len(wps))
	}
	if err := t.pokeUser(debugRegOffset(dr7Index), 0); err != nil {
		return false, fmt.Errorf("debugregs: clear DR7: %w", err)
	}

	var dr7 uint64
	for i, wp := range wps {
		if err := t.pokeUser(debugRegOffset(i), uint64(wp.Addr)); err != nil {
			_ = t.pokeUser(debugRegOffset(dr7Index), 0)
			return false, fmt.Errorf("debugregs: set DR%d: %w", i, err)
		}
		bits, err := controlBits(i, wp)
		if err != nil {
			_ = t.pokeUser(debugRegOffset(dr7Index), 0)
			return false, err
		}
		dr7 |= bits
	}

	if err := t.pokeUser(debugRegOffset(dr7Index), dr7); err != nil {
		_ = t.pokeUser(debugRegOffset(dr7Index), 0)
		return false, fmt.Errorf("debugregs: set DR7: %w", err)
	}
	return true, nil
}

// ClearDebugRegs disables all watchpoints.
func (t *Task) ClearDebugRegs() error {
	return t.pokeUser(debugRegOffset(dr7Index), 0)
}

// SetSoftwareBreakpoint inserts a software breakpoint at addr by delegating to
// the Address Space (spec §3 set_breakpoint), returning the original
// bytes so the caller can restore them.
func (t *Task) SetSoftwareBreakpoint(addr uintptr) ([]byte, error) {
	return t.as.SetBreakpoint(addr)
}

// RemoveSoftwareBreakpoint restores orig at addr.
func (t *Task) RemoveSoftwareBreakpoint(addr uintptr, orig []byte) error {
	return t.as.RemoveBreakpoint(addr, orig)
}

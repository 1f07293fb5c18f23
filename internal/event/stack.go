package event

// Stack is a Task's pending-event stack: bottom is always a Sentinel and
// is never popped (spec §3 invariant 1).
type Stack struct {
	entries []Event
}

// NewStack returns a Stack containing only the bottom Sentinel.
func NewStack() *Stack {
	return &Stack{entries: []Event{Sentinel{}}}
}

// Push adds ev to the top of the stack.
func (s *Stack) Push(ev Event) {
	s.entries = append(s.entries, ev)
}

// Pop removes and returns the top event. It panics if called when only
// the Sentinel remains, since spec §3 invariant 1 says the stack is
// never empty and the Sentinel is never popped — a caller that tries to
// pop it has a logic bug, not a recoverable error.
func (s *Stack) Pop() Event {
	if len(s.entries) <= 1 {
		panic("event: pop would remove the bottom Sentinel")
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top
}

// Top returns the event at the top of the stack.
func (s *Stack) Top() Event {
	return s.entries[len(s.entries)-1]
}

// Depth returns the number of entries, including the Sentinel (so Depth
// is always >= 1, per spec §8 Testable Property 1).
func (s *Stack) Depth() int {
	return len(s.entries)
}

// Below returns the event immediately below the top, or (nil, false) if
// the top is the Sentinel.
func (s *Stack) Below() (Event, bool) {
	if len(s.entries) < 2 {
		return nil, false
	}
	return s.entries[len(s.entries)-2], true
}

// sysnoMatches reports whether a candidate syscall number matches the
// recorded one directly, or via the platform's "restart syscall" alias
// (restart_syscall(2), which replays whatever syscall it interrupted).
func sysnoMatches(candidate, recorded, restartSyscallNo uint64) bool {
	return candidate == recorded || candidate == restartSyscallNo
}

// IsSyscallRestart implements spec §4.2.5 is_syscall_restart(): the
// current execution looks like a resumption of the interrupted syscall
// at the top of the stack — same syscall number (or the generic restart
// syscall with matching recorded number) and identical argument
// registers.
func (s *Stack) IsSyscallRestart(current Regs, restartSyscallNo uint64) bool {
	top := s.Top()
	si, ok := top.(SyscallInterruption)
	if !ok {
		return false
	}
	if !sysnoMatches(current.Sysno, si.Regs.Sysno, restartSyscallNo) {
		return false
	}
	return current.Args == si.Regs.Args
}

// AtMayRestartSyscall implements spec §4.2.5 at_may_restart_syscall():
// the top is a syscall-interruption, or it is a signal-delivery on top
// of a syscall-interruption.
func (s *Stack) AtMayRestartSyscall() bool {
	top := s.Top()
	if top.Kind() == KindSyscallInterruption {
		return true
	}
	if top.Kind() != KindSignalDelivery {
		return false
	}
	below, ok := s.Below()
	return ok && below.Kind() == KindSyscallInterruption
}

package event

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewStackStartsAtSentinel(t *testing.T) {
	s := NewStack()
	if got := s.Depth(); got != 1 {
		t.Fatalf("Depth() = %d, want 1", got)
	}
	if _, ok := s.Top().(Sentinel); !ok {
		t.Fatalf("Top() = %v, want Sentinel", s.Top())
	}
}

func TestPopPanicsOnSentinel(t *testing.T) {
	s := NewStack()
	defer func() {
		if recover() == nil {
			t.Fatal("Pop() on a bare Sentinel stack did not panic")
		}
	}()
	s.Pop()
}

func TestPushPopRoundTrip(t *testing.T) {
	s := NewStack()
	want := Syscall{Regs: Regs{Sysno: 1}}
	s.Push(want)

	if got := s.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}
	got := s.Pop()
	if diff := cmp.Diff(Event(want), got); diff != "" {
		t.Fatalf("Pop() diff (-want +got):\n%s", diff)
	}
	if got := s.Depth(); got != 1 {
		t.Fatalf("Depth() after Pop() = %d, want 1 (Sentinel never removed)", got)
	}
}

func TestBelowOnBareSentinel(t *testing.T) {
	s := NewStack()
	if _, ok := s.Below(); ok {
		t.Fatal("Below() on a bare Sentinel stack reported ok=true")
	}
}

func TestBelowAfterPush(t *testing.T) {
	s := NewStack()
	s.Push(Desched{Rec: 7})
	below, ok := s.Below()
	if !ok {
		t.Fatal("Below() after one push reported ok=false")
	}
	if _, isSentinel := below.(Sentinel); !isSentinel {
		t.Fatalf("Below() = %v, want Sentinel", below)
	}
}

func TestIsSyscallRestart(t *testing.T) {
	const restartSyscallNo = 219

	interrupted := SyscallInterruption{Regs: Regs{Sysno: 3, Args: [6]uint64{1, 2, 3}}}

	cases := []struct {
		name    string
		top     Event
		current Regs
		want    bool
	}{
		{
			name:    "exact syscall number and args match",
			top:     interrupted,
			current: Regs{Sysno: 3, Args: [6]uint64{1, 2, 3}},
			want:    true,
		},
		{
			name:    "via restart_syscall alias with matching args",
			top:     interrupted,
			current: Regs{Sysno: restartSyscallNo, Args: [6]uint64{1, 2, 3}},
			want:    true,
		},
		{
			name:    "args differ",
			top:     interrupted,
			current: Regs{Sysno: 3, Args: [6]uint64{9, 9, 9}},
			want:    false,
		},
		{
			name:    "syscall number differs and is not the restart alias",
			top:     interrupted,
			current: Regs{Sysno: 4, Args: [6]uint64{1, 2, 3}},
			want:    false,
		},
		{
			name:    "top is not a SyscallInterruption",
			top:     Sentinel{},
			current: Regs{Sysno: 3, Args: [6]uint64{1, 2, 3}},
			want:    false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := NewStack()
			if _, isSentinel := c.top.(Sentinel); !isSentinel {
				s.Push(c.top)
			}
			if got := s.IsSyscallRestart(c.current, restartSyscallNo); got != c.want {
				t.Errorf("IsSyscallRestart() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestAtMayRestartSyscall(t *testing.T) {
	t.Run("bare sentinel", func(t *testing.T) {
		s := NewStack()
		if s.AtMayRestartSyscall() {
			t.Error("AtMayRestartSyscall() = true on a bare Sentinel stack")
		}
	})

	t.Run("syscall interruption on top", func(t *testing.T) {
		s := NewStack()
		s.Push(SyscallInterruption{Regs: Regs{Sysno: 3}})
		if !s.AtMayRestartSyscall() {
			t.Error("AtMayRestartSyscall() = false with SyscallInterruption on top")
		}
	})

	t.Run("signal delivery over syscall interruption", func(t *testing.T) {
		s := NewStack()
		s.Push(SyscallInterruption{Regs: Regs{Sysno: 3}})
		s.Push(SignalDelivery{No: 2})
		if !s.AtMayRestartSyscall() {
			t.Error("AtMayRestartSyscall() = false with SignalDelivery over SyscallInterruption")
		}
	})

	t.Run("signal delivery over unrelated event", func(t *testing.T) {
		s := NewStack()
		s.Push(Desched{Rec: 1})
		s.Push(SignalDelivery{No: 2})
		if s.AtMayRestartSyscall() {
			t.Error("AtMayRestartSyscall() = true with SignalDelivery over a non-interruption event")
		}
	})

	t.Run("unrelated event on top", func(t *testing.T) {
		s := NewStack()
		s.Push(SyscallbufFlush{})
		if s.AtMayRestartSyscall() {
			t.Error("AtMayRestartSyscall() = true with an unrelated event on top")
		}
	})
}

package task

import (
	"testing"

	"github.com/cgjones/rr/internal/event"
)

func TestStoppedAtIdempotentSyscallbufInsnNoKnownIP(t *testing.T) {
	tk := &Task{}
	if tk.stoppedAtIdempotentSyscallbufInsn(0x4000) {
		t.Fatal("stoppedAtIdempotentSyscallbufInsn() = true with no untracedSyscallIP recorded")
	}
}

func TestStoppedAtIdempotentSyscallbufInsnMismatchedIP(t *testing.T) {
	tk := &Task{untracedSyscallIP: 0x4000}
	if tk.stoppedAtIdempotentSyscallbufInsn(0x5000) {
		t.Fatal("stoppedAtIdempotentSyscallbufInsn() = true at an unrelated IP")
	}
}

func TestIsSyscallRestartDelegatesToEventStack(t *testing.T) {
	tk := &Task{regsKnown: true}
	tk.events = event.NewStack()
	// A fresh event stack (bare Sentinel) never looks like a syscall
	// restart, regardless of the Task's own register state.
	ok, err := tk.IsSyscallRestart()
	if err != nil {
		t.Fatalf("IsSyscallRestart() error: %v", err)
	}
	if ok {
		t.Fatal("IsSyscallRestart() = true on a bare Sentinel stack")
	}
}

package sighandler

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewTableStartsAtDefaultWithOneRef(t *testing.T) {
	tb := New()
	if got := tb.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
	if got := tb.Get(unix.SIGSEGV); got != (Disposition{}) {
		t.Fatalf("Get(SIGSEGV) on a fresh table = %+v, want the zero Disposition", got)
	}
}

func TestSetReturnsOldDisposition(t *testing.T) {
	tb := New()
	old := tb.Set(unix.SIGSEGV, Disposition{Handler: 0x401000})
	if old != (Disposition{}) {
		t.Fatalf("Set() returned old = %+v, want the zero Disposition", old)
	}
	got := tb.Get(unix.SIGSEGV)
	if got.Handler != 0x401000 {
		t.Fatalf("Get(SIGSEGV) after Set() = %+v, want Handler=0x401000", got)
	}
}

func TestShareIncrementsRefAndAliasesState(t *testing.T) {
	tb := New()
	shared := tb.Share()
	if tb.RefCount() != 2 {
		t.Fatalf("RefCount() after Share() = %d, want 2", tb.RefCount())
	}
	tb.Set(unix.SIGUSR1, Disposition{Handler: 1})
	if got := shared.Get(unix.SIGUSR1).Handler; got != 1 {
		t.Fatalf("shared table did not see the write through the original handle")
	}
}

func TestForkDeepCopiesAndResetsRefCount(t *testing.T) {
	tb := New()
	tb.Set(unix.SIGUSR1, Disposition{Handler: 0x500000})
	child := tb.Fork()

	if got := child.RefCount(); got != 1 {
		t.Fatalf("Fork() child RefCount() = %d, want 1", got)
	}
	if got := child.Get(unix.SIGUSR1).Handler; got != 0x500000 {
		t.Fatalf("Fork() did not copy existing dispositions")
	}

	// Mutating the child must not affect the parent (deep copy, not alias).
	child.Set(unix.SIGUSR1, Disposition{Handler: 0})
	if got := tb.Get(unix.SIGUSR1).Handler; got != 0x500000 {
		t.Fatalf("Fork() child mutation leaked back into the parent table")
	}
}

func TestReleaseDecrementsRefCount(t *testing.T) {
	tb := New()
	tb.Share()
	if got := tb.Release(); got != 1 {
		t.Fatalf("Release() = %d, want 1", got)
	}
	if got := tb.Release(); got != 0 {
		t.Fatalf("Release() = %d, want 0", got)
	}
}

func TestResetOnExecRevertsHandledPreservesIgnoredAndDefault(t *testing.T) {
	tb := New()
	tb.Set(unix.SIGUSR1, Disposition{Handler: 0x401000}) // a real handler.
	tb.Set(unix.SIGUSR2, Disposition{Handler: 1})         // SIG_IGN.
	// SIGTERM stays at its zero-value default.

	tb.ResetOnExec()

	if got := tb.Get(unix.SIGUSR1); got != (Disposition{}) {
		t.Fatalf("ResetOnExec() left a user handler in place: %+v", got)
	}
	if got := tb.Get(unix.SIGUSR2).Handler; got != 1 {
		t.Fatalf("ResetOnExec() did not preserve SIG_IGN: %+v", tb.Get(unix.SIGUSR2))
	}
	if got := tb.Get(unix.SIGTERM); got != (Disposition{}) {
		t.Fatalf("ResetOnExec() perturbed an already-default disposition: %+v", got)
	}
}

package glue

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsRestartableCloneSuccess(t *testing.T) {
	if !IsRestartableClone(0, nil) {
		t.Fatal("IsRestartableClone(0, nil) = false, want true")
	}
}

func TestIsRestartableCloneKnownErrnos(t *testing.T) {
	for _, errno := range []unix.Errno{unix.ENOSYS, unix.EAGAIN, eRESTARTSYS, eRESTARTNOINTR, eRESTARTNOHAND} {
		if !IsRestartableClone(0, errno) {
			t.Errorf("IsRestartableClone(0, %v) = false, want true", errno)
		}
	}
}

func TestIsRestartableCloneOtherErrorIsFatal(t *testing.T) {
	if IsRestartableClone(0, unix.EFAULT) {
		t.Fatal("IsRestartableClone(0, EFAULT) = true, want false")
	}
	if IsRestartableClone(0, fmt.Errorf("some unrelated error")) {
		t.Fatal("IsRestartableClone() with a non-errno error = true, want false")
	}
}

func TestFatalErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	fe := &FatalError{Op: "task.wait", Err: inner}
	if got := fe.Unwrap(); got != inner {
		t.Fatalf("Unwrap() = %v, want %v", got, inner)
	}
	if got := fe.Error(); got == "" {
		t.Fatal("Error() returned an empty string")
	}
}

package glue

import "golang.org/x/sys/unix"

var (
	errENOSYS = unix.ENOSYS
	errEAGAIN = unix.EAGAIN
)

// Linux kernel errnos that "should never be seen by user programs" but
// surface to a ptrace syscall-exit tracer when a syscall is restarted.
// Grounded on google-gvisor's subprocess_amd64.go, which lists the same
// three restart errnos for the same reason (clone(2) syscall-exit
// tracing can observe them before the kernel converts them back to
// -EINTR or a transparent restart).
const (
	eRESTARTSYS    = unix.Errno(512)
	eRESTARTNOINTR = unix.Errno(513)
	eRESTARTNOHAND = unix.Errno(514)
)

func isRestartErrno(err error) bool {
	switch errnoOf(err) {
	case eRESTARTSYS, eRESTARTNOINTR, eRESTARTNOHAND:
		return true
	}
	return false
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return 0
}

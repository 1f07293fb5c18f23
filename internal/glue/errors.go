// Package glue holds the small cross-cutting pieces that don't belong to
// any single subsystem: error taxonomy and CPU identification.
package glue

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for the "unsupported" and "invalid target" classes of
// spec §7. Fatal host errors do not get a sentinel: they go through
// Fatal below and never return to a caller.
var (
	// ErrUnsupportedRequest names the class of debugger requests outside
	// the supported subset. internal/rsp does not return it: its
	// dispatcher answers such requests with an empty reply directly.
	ErrUnsupportedRequest = errors.New("rr: unsupported debugger request")

	// ErrInvalidTarget names the class of requests whose thread or
	// address doesn't resolve. internal/rsp does not inspect it: its
	// dispatcher answers any Target error with an "E00" reply.
	ErrInvalidTarget = errors.New("rr: invalid target for request")

	// ErrNoStashedSignal is returned by Task.ConsumeStashedSignal when
	// nothing is stashed.
	ErrNoStashedSignal = errors.New("rr: no stashed signal")
)

// Log is the package-wide structured logger. Callers in cmd/rrsup replace
// it wholesale (e.g. to add an output file); library code never
// constructs its own logrus.Logger.
var Log logrus.FieldLogger = logrus.StandardLogger()

// FatalError wraps a host error that the supervisor cannot recover from:
// a misconfigured host, a failed mandatory syscall, or a protocol
// invariant the tracee violated. It is never expected to be handled by a
// caller other than the process's top level.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("rr: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal logs err at fatal level and terminates the process. It is the
// single choke point for the "fatal host error" class in spec §7: counter
// programming failure, attach failure, wait(2) failure, unrecognized CPU
// model, or a mandatory tracer-side syscall (mmap, socket) failing.
//
// Fatal never returns. It is a function, not a panic, so call sites read
// as a statement rather than a control-flow surprise.
func Fatal(op string, err error) {
	fe := &FatalError{Op: op, Err: err}
	Log.WithField("op", op).WithError(err).Fatal("unrecoverable host error")
	panic(fe) // unreachable once logrus.Fatal calls os.Exit; kept for tests that swap the exit hook.
}

// IsRestartableClone reports whether rv/err from an injected clone(2)
// syscall is one of the outcomes spec §7 treats as acceptable tracee
// behavior during clone: success, -ENOSYS, -EAGAIN, or a restartable
// errno. Anything else is fatal.
func IsRestartableClone(rv uintptr, err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, errENOSYS) || errors.Is(err, errEAGAIN) || isRestartErrno(err)
}

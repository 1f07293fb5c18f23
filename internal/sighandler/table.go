// Package sighandler implements the per-task signal-disposition table
// spec §3 describes: a sharable table of signal dispositions with
// reset-on-handler semantics, cloned or shared according to a Task's
// clone flags (mirroring CLONE_SIGHAND) and reset to defaults across
// exec (mirroring POSIX's "exec resets handled signals, preserves
// ignored ones").
//
// Grounded on google-gvisor's sharing model for kernel.SignalHandlers
// (ref-counted, copy-on-clone-without-CLONE_SIGHAND, reset-on-exec) but
// expressed as a plain Go struct with an explicit reference count
// instead of the teacher's refs.AtomicRefCount, since this module's
// scheduler is single-threaded (spec §5) and the handle type can
// advertise that invariant instead of paying for atomics.
package sighandler

import "golang.org/x/sys/unix"

// NumSignals is the number of signal numbers this table tracks,
// indexed 1..NumSignals-1 (signal 0 is not a real signal).
const NumSignals = 65

// Disposition is one signal's handling configuration, laid out after
// struct sigaction: handler address, flags, mask, and restorer.
type Disposition struct {
	// Handler is the raw sa_handler/sa_sigaction value: SIG_DFL (0),
	// SIG_IGN (1), or a user handler address.
	Handler uintptr
	Flags   uint64
	Mask    uint64
	// ResetHand records whether SA_RESETHAND was set: after the
	// handler fires once, disposition reverts to SIG_DFL. The table
	// itself does not implement the revert (the tracee's libc/kernel
	// does); this field exists so copy_state-style checkpoint restore
	// can faithfully reproduce it (spec §4.2.4 copy_state).
	ResetHand bool
}

func (d Disposition) isDefault() bool { return d.Handler == 0 }
func (d Disposition) isIgnore() bool  { return d.Handler == 1 }

// Table is the Signal Handler Table of spec §3/§4.2.4. The zero value is
// not usable; construct with New.
type Table struct {
	dispositions [NumSignals]Disposition
	refs         int
}

// New returns a Table with every signal at its default disposition and
// a single reference, as for a freshly spawned Task.
func New() *Table {
	return &Table{refs: 1}
}

// Get returns the disposition for signal sig.
func (t *Table) Get(sig unix.Signal) Disposition {
	if int(sig) <= 0 || int(sig) >= NumSignals {
		return Disposition{}
	}
	return t.dispositions[sig]
}

// Set installs d as the disposition for sig and returns the previous
// disposition, mirroring rt_sigaction(2)'s oldact output.
func (t *Table) Set(sig unix.Signal, d Disposition) Disposition {
	old := t.Get(sig)
	if int(sig) > 0 && int(sig) < NumSignals {
		t.dispositions[sig] = d
	}
	return old
}

// Fork returns a new Table for a Task that does not share this one
// (CLONE_SIGHAND absent): a deep copy of the current dispositions with
// its own single reference, per spec §3 "A Task exists in exactly one
// ... Signal-Handler Table (each possibly shared)".
func (t *Table) Fork() *Table {
	n := &Table{refs: 1}
	n.dispositions = t.dispositions
	return n
}

// Share increments the reference count and returns t, for a clone with
// CLONE_SIGHAND set.
func (t *Table) Share() *Table {
	t.refs++
	return t
}

// Release decrements the reference count and returns the remaining
// count.
func (t *Table) Release() int {
	t.refs--
	return t.refs
}

// RefCount reports the current reference count. It exists for tests and
// invariant assertions, not for production control flow.
func (t *Table) RefCount() int { return t.refs }

// ResetOnExec implements spec §4.2.4 post_exec's handler reset: every
// signal whose disposition is a user handler reverts to SIG_DFL; SIG_IGN
// and SIG_DFL entries are preserved verbatim, per POSIX exec semantics.
// It does not touch refs: post_exec is expected to have already called
// Fork to give the execing task its own table before calling this.
func (t *Table) ResetOnExec() {
	for i := range t.dispositions {
		d := &t.dispositions[i]
		if !d.isDefault() && !d.isIgnore() {
			*d = Disposition{}
		}
	}
}

// Package vm declares the Address Space contract the Task Supervisor
// consumes. Per spec §1 the mapping table's internals (page tables, VMA
// bookkeeping, the checksum/memory-dump diagnostics built on top of it)
// are an external collaborator and out of scope here; this package is
// the interface boundary only, shaped after the subset of
// google-gvisor's AddressSpace usage (pkg/sentry/platform.AddressSpace
// and pkg/sentry/mm.MemoryManager) that the ptrace-based platform
// actually calls.
package vm

import (
	"fmt"
)

// Prot is a bitmask of memory protection bits, matching the PROT_* values
// from mmap(2).
type Prot uint32

const (
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2
)

// Mapping describes one contiguous region of a tracee's address space.
type Mapping struct {
	Addr  uintptr
	Len   uintptr
	Prot  Prot
	Fixed bool
	// Name is a human-readable label (e.g. "[stack]", a file path);
	// purely diagnostic.
	Name string
}

func (m Mapping) String() string {
	return fmt.Sprintf("%#x-%#x prot=%v %s", m.Addr, m.Addr+m.Len, m.Prot, m.Name)
}

// TaskMember is the subset of *task.Task an AddressSpace needs in order
// to track which tasks share it, without importing internal/task (which
// imports this package). google-gvisor breaks the same cycle between
// platform.AddressSpace and kernel.Task with an opaque handle type.
type TaskMember interface {
	RealTid() int32
}

// AddressSpace is the externally-owned per-process virtual memory table.
// Implementations are ref-counted across the Tasks that share them (spec
// §3 "Address Space (externally owned)"); internal/task never constructs
// one, only consumes the interface. internal/addrspace.New provides the
// implementation cmd/rrsup constructs.
type AddressSpace interface {
	// MappingOf returns the Mapping containing [addr, addr+len), or
	// false if no single mapping covers the whole range.
	MappingOf(addr, length uintptr) (Mapping, bool)

	// Map installs a new mapping. If m.Fixed, it replaces any existing
	// mappings in the range (MAP_FIXED semantics).
	Map(m Mapping) error

	// Unmap removes any mappings overlapping [addr, addr+len).
	Unmap(addr, length uintptr) error

	// Protect changes the protection of the mapping(s) covering
	// [addr, addr+len).
	Protect(addr, length uintptr, prot Prot) error

	// Remap relocates the mapping at oldAddr to newAddr, optionally
	// resizing it (mremap(2) semantics).
	Remap(oldAddr uintptr, oldLen uintptr, newAddr uintptr, newLen uintptr) error

	// Brk grows or shrinks the process heap and returns the resulting
	// break address.
	Brk(addr uintptr) (uintptr, error)

	// SetBreakpoint and RemoveBreakpoint install/remove a software
	// breakpoint (an INT3-class trap instruction) at addr, returning
	// the original bytes so the caller can restore them later.
	SetBreakpoint(addr uintptr) (orig []byte, err error)
	RemoveBreakpoint(addr uintptr, orig []byte) error

	// InsertTask and EraseTask track which tasks share this address
	// space; EraseTask returns the number of tasks remaining.
	InsertTask(t TaskMember)
	EraseTask(t TaskMember) (remaining int)

	// MemFd returns an open file descriptor that reads/writes the
	// tracee's memory bypassing ptrace (a "/proc/<tid>/mem"-style fd),
	// or -1 if none is available, in which case the Task Supervisor
	// falls back to word-granularity ptrace peek/poke (spec §4.2.2).
	MemFd() int

	// SetMemFd installs a newly (re)opened memory fd, replacing
	// whatever MemFd previously returned. Used when a Task
	// transparently reopens its memory fd after an exec (spec
	// §4.2.2).
	SetMemFd(fd int)

	// IncRef/DecRef implement the ref-counting spec §3 requires for
	// sharing across cloned Tasks. DecRef returns the number of
	// remaining references.
	IncRef()
	DecRef() (remaining int)
}

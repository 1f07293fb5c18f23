// Package addrspace provides a minimal concrete implementation of
// vm.AddressSpace suitable for driving a single recorded process from
// cmd/rrsup: real software-breakpoint and memory-fd handling (what
// internal/task actually exercises), with the VMA/page-table bookkeeping
// spec.md's Non-goals exclude left as an inert placeholder rather than
// faked up.
//
// Grounded on google-gvisor's own layering: platform.AddressSpace is a
// thin mapping-table façade the platform backend (ptrace, KVM) owns;
// here the "backend" is simpler still, a single controlling tracee tid
// used for raw PTRACE_PEEKDATA/POKEDATA breakpoint patches.
package addrspace

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/vm"
)

const int3 = 0xCC

// Impl is a concrete vm.AddressSpace.
type Impl struct {
	mu    sync.Mutex
	tasks []vm.TaskMember
	refs  int
	memFd int
}

// New returns an Impl with no tasks yet and a single reference, as for
// an Address Space created for a task's first Task (spec §3).
func New() *Impl {
	return &Impl{refs: 1, memFd: -1}
}

// MappingOf, Map, Unmap, Protect, Remap, and Brk are the VMA-tracking
// half of the AddressSpace contract; spec.md's Non-goals explicitly
// exclude the mapping table's internals ("an external VMA/page-table
// tracker is assumed"), so this Impl only satisfies the interface shape
// without maintaining that table — a real deployment wires the external
// tracker's own AddressSpace implementation in its place.
func (a *Impl) MappingOf(addr, length uintptr) (vm.Mapping, bool) { return vm.Mapping{}, false }
func (a *Impl) Map(m vm.Mapping) error                             { return nil }
func (a *Impl) Unmap(addr, length uintptr) error                   { return nil }
func (a *Impl) Protect(addr, length uintptr, prot vm.Prot) error   { return nil }
func (a *Impl) Remap(oldAddr, oldLen, newAddr, newLen uintptr) error {
	return nil
}
func (a *Impl) Brk(addr uintptr) (uintptr, error) { return addr, nil }

// SetBreakpoint installs a one-byte INT3 at addr in the controlling
// task's memory via raw ptrace peek/poke, returning the byte it
// replaced.
func (a *Impl) SetBreakpoint(addr uintptr) ([]byte, error) {
	tid, err := a.controllingTid()
	if err != nil {
		return nil, err
	}
	orig := make([]byte, 1)
	if _, err := unix.PtracePeekData(tid, addr, orig); err != nil {
		return nil, fmt.Errorf("addrspace: peek at %#x: %w", addr, err)
	}
	if _, err := unix.PtracePokeData(tid, addr, []byte{int3}); err != nil {
		return nil, fmt.Errorf("addrspace: poke breakpoint at %#x: %w", addr, err)
	}
	return orig, nil
}

// RemoveBreakpoint restores the byte SetBreakpoint saved.
func (a *Impl) RemoveBreakpoint(addr uintptr, orig []byte) error {
	tid, err := a.controllingTid()
	if err != nil {
		return err
	}
	if _, err := unix.PtracePokeData(tid, addr, orig); err != nil {
		return fmt.Errorf("addrspace: restore at %#x: %w", addr, err)
	}
	return nil
}

// InsertTask/EraseTask track the tasks sharing this Address Space; the
// first inserted task becomes the "controlling" tid SetBreakpoint uses,
// since the raw peek/poke path is tid-addressed but every thread in the
// address space sees the same patch.
func (a *Impl) InsertTask(t vm.TaskMember) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.tasks {
		if existing == t {
			return
		}
	}
	a.tasks = append(a.tasks, t)
}

func (a *Impl) EraseTask(t vm.TaskMember) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.tasks {
		if existing == t {
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			break
		}
	}
	return len(a.tasks)
}

func (a *Impl) controllingTid() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.tasks) == 0 {
		return 0, fmt.Errorf("addrspace: no task attached")
	}
	return int(a.tasks[0].RealTid()), nil
}

// MemFd/SetMemFd manage the "/proc/<tid>/mem"-style descriptor
// internal/task's memory.go prefers over ptrace peek/poke when present.
func (a *Impl) MemFd() int { return a.memFd }

func (a *Impl) SetMemFd(fd int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.memFd >= 0 && a.memFd != fd {
		_ = unix.Close(a.memFd)
	}
	a.memFd = fd
}

// IncRef/DecRef implement the ref-counting spec §3 requires for cloned
// Tasks sharing this Address Space.
func (a *Impl) IncRef() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

func (a *Impl) DecRef() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs--
	return a.refs
}

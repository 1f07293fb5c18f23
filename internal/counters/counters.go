// Package counters implements the Counter Context of spec §4.1: per-task
// hardware performance counters, with the RBC (retired conditional
// branch) counter as group leader, programmed to raise the time-slice
// signal when its sample period elapses.
//
// Grounded on the pack's perf_event_open(2) usage
// (parca-dev/parca-agent's pkg/profiler/cpu/cpu.go and the capsule8
// monitor files), adapted from a sampling CPU profiler's use (software
// CPU-clock events, SIGIO-style wakeups) to this spec's determinism use
// (raw hardware retired-branch events, group-leader signal delivery via
// F_SETOWN/F_SETSIG rather than sampling).
package counters

import (
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/glue"
)

// perfAttrSize is the ABI size field every perf_event_open(2) call must
// set, per the pack's own usage (parca-dev/parca-agent's pkg/profiler/cpu
// and pkg/btf/btf_test.go both set Size the same way).
var perfAttrSize = unsafe.Sizeof(unix.PerfEventAttr{})

// AuxKind enumerates the optional, non-deterministic counters SPEC_FULL.md
// §4.1 keeps (gated by config.Tunables.TrackAuxCounters) for parity with
// the source's compile-flag-guarded extras.
type AuxKind int

const (
	AuxRetiredInstructions AuxKind = iota
	AuxHardwareInterrupts
	AuxPageFaults
	AuxContextSwitches
	numAuxKinds
)

// rawEvents is the per-microarchitecture raw PERF_TYPE_RAW encoding for
// (RBC, retired-instructions, hw-interrupts), folded from the CPUID
// family/model tables in internal/glue. Page-faults and context-switches
// are PERF_TYPE_SOFTWARE everywhere and need no per-model encoding.
type rawEvents struct {
	rbc         uint64
	instr       uint64
	hwInterrupt uint64
}

// eventTable holds the raw encodings spec §4.1 calls out: "Each selects
// raw event encodings for (conditional retired branches, retired
// instructions, hardware interrupts)." These are the standard
// BR_INST_RETIRED.CONDITIONAL / INSTRUCTIONS_RETIRED / HW_INTERRUPTS.RCVD
// event selectors for each family, matching the public Intel
// architectural/non-architectural perfmon tables for these
// microarchitectures.
var eventTable = map[glue.Microarch]rawEvents{
	glue.MicroarchNehalemWestmere: {rbc: 0x1089, instr: 0x00c0, hwInterrupt: 0x01cb},
	glue.MicroarchSandyBridge:     {rbc: 0x0089, instr: 0x00c0, hwInterrupt: 0x01cb},
	glue.MicroarchIvyBridge:       {rbc: 0x0089, instr: 0x00c0, hwInterrupt: 0x01cb},
	glue.MicroarchHaswell:         {rbc: 0x0089, instr: 0x00c0, hwInterrupt: 0x01cb},
}

// TaskHandle is the subset of *task.Task the Counter Context needs:
// just the tid the time-slice signal is delivered to. Kept minimal to
// avoid an import cycle with internal/task, which embeds a *Context.
type TaskHandle interface {
	RealTid() int32
}

// descriptor pairs an open perf_event fd with what it counts, so Close
// can log/clean up uniformly.
type descriptor struct {
	fd   int
	name string
}

// Context is the Counter Context of spec §4.1/§3.
type Context struct {
	arch glue.Microarch

	rbcFd   int
	auxFds  [numAuxKinds]int
	started bool
	period  uint64

	log logrus.FieldLogger
}

// Init encodes the CPU-model-specific event strings and marks the
// context not-started, per spec §4.1 Init. It is fatal (via glue.Fatal)
// if the host CPU isn't one of the supported microarchitectures, "a
// design decision, not a runtime policy."
func Init(log logrus.FieldLogger) *Context {
	arch := glue.DetectMicroarch()
	if _, ok := eventTable[arch]; !ok {
		glue.Fatal("counters.Init", fmt.Errorf("unsupported CPU microarchitecture: %v", arch))
	}
	c := &Context{arch: arch, rbcFd: -1, log: log}
	for i := range c.auxFds {
		c.auxFds[i] = -1
	}
	return c
}

// Started reports whether the counters are currently programmed and
// enabled.
func (c *Context) Started() bool { return c.started }

// Reset implements spec §4.1 Reset: if started, stop and close all
// descriptors; reprogram the RBC sample period; reopen all counters with
// the RBC counter as group leader, wired to deliver the time-slice
// signal in asynchronous (F_SETOWN/F_SETSIG with O_ASYNC) mode; enable all.
func (c *Context) Reset(t TaskHandle, period uint64, timeSliceSignal int, trackAux bool) {
	if c.started {
		c.stopLocked()
		c.closeLocked()
	}
	c.period = period

	events := eventTable[c.arch]
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_RAW,
		Config: events.rbc,
		Size:   uint32(perfAttrSize),
		Bits:   unix.PerfBitDisabled,
	}
	if period > 0 {
		// sample_period: overflow (and, once wired below, signal
		// delivery) every `period` occurrences of the raw RBC event.
		// Unlike the pack's CPU-clock profilers (which set
		// PerfBitFreq to sample at a wall-clock rate), determinism
		// requires counting actual branch retirements, not time.
		attr.Sample = period
	}
	attr.Wakeup = 1
	attr.Bits |= unix.PerfBitWatermark

	fd, err := unix.PerfEventOpen(attr, int(t.RealTid()), -1 /* any cpu */, -1 /* group leader */, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		glue.Fatal("counters.Reset: open RBC", err)
	}
	c.rbcFd = fd

	if period > 0 {
		if err := wireTimeSliceSignal(fd, t.RealTid(), timeSliceSignal); err != nil {
			glue.Fatal("counters.Reset: wire time-slice signal", err)
		}
	}

	if trackAux {
		c.openAux(t, events)
	}

	c.enableLocked()
	c.started = true
}

// wireTimeSliceSignal arranges for descriptor fd to deliver sig to tid
// asynchronously when its sample period elapses (spec §4.1 "Signal-
// delivery contract"): F_SETOWN makes the descriptor's owner the tracee
// thread, F_SETSIG picks the real-time signal number, and O_ASYNC (via
// F_SETFL) turns on asynchronous delivery.
func wireTimeSliceSignal(fd int, tid int32, sig int) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, int(tid)); err != nil {
		return fmt.Errorf("F_SETOWN: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETSIG, sig); err != nil {
		return fmt.Errorf("F_SETSIG: %w", err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("F_GETFL: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_ASYNC); err != nil {
		return fmt.Errorf("F_SETFL O_ASYNC: %w", err)
	}
	return nil
}

func (c *Context) openAux(t TaskHandle, events rawEvents) {
	open := func(kind AuxKind, typ uint32, config uint64) {
		attr := &unix.PerfEventAttr{
			Type:   typ,
			Config: config,
			Size:   uint32(perfAttrSize),
			Bits:   unix.PerfBitDisabled,
		}
		fd, err := unix.PerfEventOpen(attr, int(t.RealTid()), -1, c.rbcFd, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			// Auxiliary counters never affect determinism (spec §9
			// Open Question); a failure here is logged, not fatal.
			c.log.WithError(err).WithField("aux", kind).Warn("opening auxiliary counter failed")
			return
		}
		c.auxFds[kind] = fd
	}
	open(AuxRetiredInstructions, unix.PERF_TYPE_RAW, events.instr)
	open(AuxHardwareInterrupts, unix.PERF_TYPE_RAW, events.hwInterrupt)
	open(AuxPageFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS)
	open(AuxContextSwitches, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES)
}

// Stop implements spec §4.1 Stop: disable all counters, leave descriptors
// open. started only becomes false on Destroy/cleanup.
func (c *Context) Stop() {
	c.stopLocked()
}

func (c *Context) stopLocked() {
	if c.rbcFd >= 0 {
		_ = unix.IoctlSetInt(c.rbcFd, unix.PERF_EVENT_IOC_DISABLE, 0)
	}
	for _, fd := range c.auxFds {
		if fd >= 0 {
			_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
		}
	}
}

func (c *Context) enableLocked() {
	if c.rbcFd >= 0 {
		if err := unix.IoctlSetInt(c.rbcFd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			glue.Fatal("counters.enable: RBC", err)
		}
	}
	for _, fd := range c.auxFds {
		if fd >= 0 {
			_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0)
		}
	}
}

func (c *Context) closeLocked() {
	if c.rbcFd >= 0 {
		unix.Close(c.rbcFd)
		c.rbcFd = -1
	}
	for i, fd := range c.auxFds {
		if fd >= 0 {
			unix.Close(fd)
			c.auxFds[i] = -1
		}
	}
	c.started = false
}

// ReadRBC returns the 64-bit RBC count, or 0 if not started (spec §4.1
// read_rbc).
func (c *Context) ReadRBC() uint64 {
	return c.read(c.rbcFd)
}

// ReadAux returns the named auxiliary counter, or 0 if not started or
// not opened.
func (c *Context) ReadAux(kind AuxKind) uint64 {
	if kind < 0 || kind >= numAuxKinds {
		return 0
	}
	return c.read(c.auxFds[kind])
}

func (c *Context) read(fd int) uint64 {
	if !c.started || fd < 0 {
		return 0
	}
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 8 {
		glue.Fatal("counters.read", fmt.Errorf("short/failed perf_event read: n=%d err=%v", n, err))
	}
	return le64(buf[:])
}

// Destroy implements spec §4.1 destroy: stop, close descriptors, free.
// After Destroy the Context must not be used again.
func (c *Context) Destroy() {
	c.stopLocked()
	c.closeLocked()
}

// FD returns the RBC group-leader file descriptor, used by the Task
// Supervisor to recognize the time-slice signal's accompanying siginfo
// si_fd field (spec §4.1 "Signal-delivery contract").
func (c *Context) FD() int { return c.rbcFd }

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Package config holds the tunables spec.md leaves as fixed constants, so
// cmd/rrsup can expose them as flags without the core packages depending
// on flag parsing. Grounded on the teacher's own layering: google-gvisor
// keeps host-visible knobs (runsc/boot, runsc/config) separate from the
// subsystems that consume them.
package config

import "time"

// Tunables collects the values spec.md specifies as constants. The zero
// value is not usable as-is; Defaults() returns the specified values.
type Tunables struct {
	// RBCSamplePeriod is the default number of retired conditional
	// branches between time-slice signals (spec §4.1).
	RBCSamplePeriod uint64

	// TimeSliceSignal is the fixed real-time signal number the RBC
	// counter delivers when its sample period elapses (spec §4.1,
	// §4.2.1). Must not collide with the desched signal or any signal
	// an application is expected to use; both are chosen from the
	// kernel's real-time signal range.
	TimeSliceSignal int

	// DeschedSignal is the real-time signal the syscallbuf helper
	// raises inside the tracee when a buffered syscall would block
	// (GLOSSARY: "Desched signal").
	DeschedSignal int

	// RunawayWatchdog is the recording-only timeout after which the
	// supervisor forcibly interrupts a blocked wait (spec §4.2.1,
	// §5). The spec fixes this at 3s "as a last-ditch recovery, not
	// primary scheduling"; it is exposed here only so tests can shrink
	// it.
	RunawayWatchdog time.Duration

	// DebuggerAddr is the address the Debugger Server binds by
	// default (spec §4.3).
	DebuggerAddr string

	// DebuggerProbePorts bounds how many times the server increments
	// the port and retries when probe mode is requested and the port
	// is in use or forbidden.
	DebuggerProbePorts int

	// TrackAuxCounters enables the optional hw-interrupts / retired
	// instructions / page-faults / context-switches counters (spec §9
	// Open Question; SPEC_FULL.md resolves it to "keep, but default
	// off" since they never affect determinism).
	TrackAuxCounters bool
}

// Defaults returns the tunables spec.md specifies.
func Defaults() Tunables {
	return Tunables{
		RBCSamplePeriod:    0,
		TimeSliceSignal:    41, // SIGRTMIN+7, chosen clear of common application real-time signal use.
		DeschedSignal:      40, // SIGRTMIN+6.
		RunawayWatchdog:    3 * time.Second,
		DebuggerAddr:       "127.0.0.1:9001",
		DebuggerProbePorts: 16,
		TrackAuxCounters:   false,
	}
}

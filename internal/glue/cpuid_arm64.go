//go:build arm64

package glue

// rawCPUID has no equivalent on arm64: there is no CPUID instruction, and
// the RBC event tables in internal/counters are x86-only per spec §4.1's
// CPU-model mapping. DetectMicroarch always reports MicroarchUnknown on
// this architecture, which callers must treat as fatal at counter init —
// consistent with the spec's stated non-goal of emulating a different
// instruction-set architecture than the host.
func rawCPUID(uint32, uint32) (eax, ebx, ecx, edx uint32) { return 0, 0, 0, 0 }

//go:build amd64

package glue

// rawCPUID executes the CPUID instruction for (eax, ecx) and returns the
// resulting (eax, ebx, ecx, edx). Implemented in cpuid_amd64.s, the same
// split google-gvisor's pkg/cpuid uses (a Go declaration with an
// assembly-backed body named "native").
func rawCPUID(eaxIn, ecxIn uint32) (eax, ebx, ecx, edx uint32)

package glue

// Microarch identifies one of the Intel microarchitecture families the
// Counter Context knows raw perf-event encodings for. Unlike
// google-gvisor's CPU struct (runsc/mitigate/mock/mock.go), which only
// records family/model for display and mitigation bookkeeping, Microarch
// folds family/model down to the handful of buckets that matter for
// picking RBC/retired-instructions/hw-interrupt raw event codes.
type Microarch int

const (
	// MicroarchUnknown means the host CPU isn't one this package has
	// raw event encodings for. Callers must treat this as fatal per
	// spec §4.1: "Unsupported families fail with a fatal init error."
	MicroarchUnknown Microarch = iota
	MicroarchNehalemWestmere
	MicroarchSandyBridge
	MicroarchIvyBridge
	MicroarchHaswell
)

func (m Microarch) String() string {
	switch m {
	case MicroarchNehalemWestmere:
		return "Nehalem/Westmere"
	case MicroarchSandyBridge:
		return "SandyBridge"
	case MicroarchIvyBridge:
		return "IvyBridge"
	case MicroarchHaswell:
		return "Haswell"
	default:
		return "unknown"
	}
}

// intelFamily6Models maps the CPUID family-6 model number to a
// Microarch bucket. Model numbers are from Intel's published
// family/model tables; only the models the RBC event tables in
// internal/counters know encodings for are listed.
var intelFamily6Models = map[int]Microarch{
	// Nehalem
	0x1E: MicroarchNehalemWestmere,
	0x1A: MicroarchNehalemWestmere,
	0x2E: MicroarchNehalemWestmere,
	// Westmere
	0x25: MicroarchNehalemWestmere,
	0x2C: MicroarchNehalemWestmere,
	0x2F: MicroarchNehalemWestmere,
	// Sandy Bridge
	0x2A: MicroarchSandyBridge,
	0x2D: MicroarchSandyBridge,
	// Ivy Bridge
	0x3A: MicroarchIvyBridge,
	0x3E: MicroarchIvyBridge,
	// Haswell
	0x3C: MicroarchHaswell,
	0x3F: MicroarchHaswell,
	0x45: MicroarchHaswell,
	0x46: MicroarchHaswell,
}

// CPUID executes the CPUID instruction for (eaxIn, ecxIn) and returns
// (eax, ebx, ecx, edx). On non-amd64 builds it returns all zeros (see
// cpuid_arm64.go).
func CPUID(eaxIn, ecxIn uint32) (eax, ebx, ecx, edx uint32) {
	return rawCPUID(eaxIn, ecxIn)
}

// DetectMicroarch folds the host's CPUID family/model into a Microarch
// bucket. It is called once, at process start, by
// internal/counters.Context.Init.
func DetectMicroarch() Microarch {
	vendor, family, model := cpuidFamilyModel()
	if vendor != "GenuineIntel" || family != 6 {
		return MicroarchUnknown
	}
	if m, ok := intelFamily6Models[model]; ok {
		return m
	}
	return MicroarchUnknown
}

// cpuidFamilyModel executes CPUID leaf 0 (vendor string) and leaf 1
// (family/model/stepping) via the asm-backed rawCPUID below and folds the
// extended family/model fields per the CPUID ABI, mirroring the bit
// layout google-gvisor's pkg/cpuid uses for the same fold (see
// native_amd64.go in the teacher tree).
func cpuidFamilyModel() (vendor string, family, model int) {
	_, ebx, ecx, edx := CPUID(0, 0)
	vendor = vendorString(ebx, edx, ecx)

	eax, _, _, _ := CPUID(1, 0)
	baseFamily := int((eax >> 8) & 0xf)
	baseModel := int((eax >> 4) & 0xf)
	extFamily := int((eax >> 20) & 0xff)
	extModel := int((eax >> 16) & 0xf)

	family = baseFamily
	if baseFamily == 0xf {
		family += extFamily
	}
	model = baseModel
	if baseFamily == 0x6 || baseFamily == 0xf {
		model |= extModel << 4
	}
	return vendor, family, model
}

func vendorString(ebx, edx, ecx uint32) string {
	b := make([]byte, 12)
	put := func(off int, v uint32) {
		b[off] = byte(v)
		b[off+1] = byte(v >> 8)
		b[off+2] = byte(v >> 16)
		b[off+3] = byte(v >> 24)
	}
	put(0, ebx)
	put(4, edx)
	put(8, ecx)
	return string(b)
}

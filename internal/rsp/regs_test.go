package rsp

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestEncodeDecodeRegsRoundTrip(t *testing.T) {
	want := unix.PtraceRegs{
		Rax: 1, Rbx: 2, Rcx: 3, Rdx: 4,
		Rsi: 5, Rdi: 6, Rbp: 7, Rsp: 8,
		R8: 9, R9: 10, R10: 11, R11: 12,
		R12: 13, R13: 14, R14: 15, R15: 16,
		Rip: 0x4000_1122_3344_5566,
		Eflags: 0x246, Cs: 0x33, Ss: 0x2b, Ds: 0, Es: 0, Fs: 0, Gs: 0,
	}

	wire := EncodeRegs(&want)
	raw, err := hexDecode(wire)
	if err != nil {
		t.Fatalf("hexDecode(EncodeRegs()) error: %v", err)
	}

	var got unix.PtraceRegs
	DecodeRegs(&got, raw)

	if got != want {
		t.Fatalf("DecodeRegs(EncodeRegs(r)) = %+v, want %+v", got, want)
	}
}

func TestEncodeRegsLength(t *testing.T) {
	var r unix.PtraceRegs
	wire := EncodeRegs(&r)
	// 17 eight-byte registers + 7 four-byte registers, two hex chars per byte.
	want := (17*8 + 7*4) * 2
	if len(wire) != want {
		t.Fatalf("len(EncodeRegs()) = %d, want %d", len(wire), want)
	}
}

func TestRegOffsetFirstAndLast(t *testing.T) {
	off, size, ok := RegOffset(0)
	if !ok || off != 0 || size != 8 {
		t.Fatalf("RegOffset(0) = (%d, %d, %v), want (0, 8, true)", off, size, ok)
	}

	// rip is index 16 in amd64RegOrder: 16 eight-byte GPRs precede it.
	off, size, ok = RegOffset(16)
	if !ok || off != 16*8 || size != 8 {
		t.Fatalf("RegOffset(16) = (%d, %d, %v), want (%d, 8, true)", off, size, ok, 16*8)
	}
}

func TestRegOffsetOutOfRange(t *testing.T) {
	if _, _, ok := RegOffset(-1); ok {
		t.Fatal("RegOffset(-1) reported ok=true")
	}
	if _, _, ok := RegOffset(999); ok {
		t.Fatal("RegOffset(999) reported ok=true")
	}
}

package rsp

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// amd64RegOrder is the register order gdb's built-in amd64 target
// description (org.gnu.gdb.i386.64bit / i386:x86-64) expects in a 'g'
// reply: the sixteen 64-bit GPRs and rip, followed by eflags and six
// 32-bit segment registers. This fixed order is the one piece of the
// protocol every gdb build hard-codes rather than negotiating, so the
// server must match it exactly.
var amd64RegOrder = []struct {
	name string
	size int
}{
	{"rax", 8}, {"rbx", 8}, {"rcx", 8}, {"rdx", 8},
	{"rsi", 8}, {"rdi", 8}, {"rbp", 8}, {"rsp", 8},
	{"r8", 8}, {"r9", 8}, {"r10", 8}, {"r11", 8},
	{"r12", 8}, {"r13", 8}, {"r14", 8}, {"r15", 8},
	{"rip", 8},
	{"eflags", 4}, {"cs", 4}, {"ss", 4}, {"ds", 4}, {"es", 4}, {"fs", 4}, {"gs", 4},
}

func regField(r *unix.PtraceRegs, i int) uint64 {
	switch amd64RegOrder[i].name {
	case "rax":
		return r.Rax
	case "rbx":
		return r.Rbx
	case "rcx":
		return r.Rcx
	case "rdx":
		return r.Rdx
	case "rsi":
		return r.Rsi
	case "rdi":
		return r.Rdi
	case "rbp":
		return r.Rbp
	case "rsp":
		return r.Rsp
	case "r8":
		return r.R8
	case "r9":
		return r.R9
	case "r10":
		return r.R10
	case "r11":
		return r.R11
	case "r12":
		return r.R12
	case "r13":
		return r.R13
	case "r14":
		return r.R14
	case "r15":
		return r.R15
	case "rip":
		return r.Rip
	case "eflags":
		return r.Eflags
	case "cs":
		return r.Cs
	case "ss":
		return r.Ss
	case "ds":
		return r.Ds
	case "es":
		return r.Es
	case "fs":
		return r.Fs
	case "gs":
		return r.Gs
	}
	return 0
}

func setRegField(r *unix.PtraceRegs, i int, v uint64) {
	switch amd64RegOrder[i].name {
	case "rax":
		r.Rax = v
	case "rbx":
		r.Rbx = v
	case "rcx":
		r.Rcx = v
	case "rdx":
		r.Rdx = v
	case "rsi":
		r.Rsi = v
	case "rdi":
		r.Rdi = v
	case "rbp":
		r.Rbp = v
	case "rsp":
		r.Rsp = v
	case "r8":
		r.R8 = v
	case "r9":
		r.R9 = v
	case "r10":
		r.R10 = v
	case "r11":
		r.R11 = v
	case "r12":
		r.R12 = v
	case "r13":
		r.R13 = v
	case "r14":
		r.R14 = v
	case "r15":
		r.R15 = v
	case "rip":
		r.Rip = v
	case "eflags":
		r.Eflags = v
	case "cs":
		r.Cs = v
	case "ss":
		r.Ss = v
	case "ds":
		r.Ds = v
	case "es":
		r.Es = v
	case "fs":
		r.Fs = v
	case "gs":
		r.Gs = v
	}
}

// EncodeRegs renders r in the fixed amd64 'g'-reply order as wire hex.
func EncodeRegs(r *unix.PtraceRegs) []byte {
	var scratch [8]byte
	var out []byte
	for i, f := range amd64RegOrder {
		binary.LittleEndian.PutUint64(scratch[:], regField(r, i))
		out = append(out, hexEncode(scratch[:f.size])...)
	}
	return out
}

// DecodeRegs parses a 'G'-request payload (already hex-decoded) into r,
// in place, following the same fixed order EncodeRegs writes.
func DecodeRegs(r *unix.PtraceRegs, data []byte) {
	off := 0
	for i, f := range amd64RegOrder {
		if off+f.size > len(data) {
			return
		}
		var v uint64
		for b := f.size - 1; b >= 0; b-- {
			v = v<<8 | uint64(data[off+b])
		}
		setRegField(r, i, v)
		off += f.size
	}
}

// RegOffset returns the byte offset and size of register index reg
// within the EncodeRegs layout, for single-register 'p'/'P' requests.
func RegOffset(reg int) (offset, size int, ok bool) {
	if reg < 0 || reg >= len(amd64RegOrder) {
		return 0, 0, false
	}
	for i := 0; i < reg; i++ {
		offset += amd64RegOrder[i].size
	}
	return offset, amd64RegOrder[reg].size, true
}

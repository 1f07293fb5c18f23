package task

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

const wordSize = 8

// ReadMemory implements spec §4.2.2: prefer the Address Space's memory
// fd (a "/proc/<tid>/mem"-style descriptor) when present; otherwise fall
// back to word-granularity ptrace peeks, always reading aligned words so
// that the last byte before an unmapped page stays accessible (spec §8
// S2).
func (t *Task) ReadMemory(addr uintptr, n int) ([]byte, error) {
	if fd := t.as.MemFd(); fd >= 0 {
		buf := make([]byte, n)
		read, err := unix.Pread(fd, buf, int64(addr))
		if err != nil {
			return nil, fmt.Errorf("pread mem fd: %w", err)
		}
		if read == 0 {
			// Observed right after exec: the fd refers to the
			// pre-exec address space. Reopen transparently (spec
			// §4.2.2) and retry once.
			if err := t.reopenMemFd(); err != nil {
				return nil, err
			}
			if read, err = unix.Pread(t.as.MemFd(), buf, int64(addr)); err != nil {
				return nil, fmt.Errorf("pread mem fd: %w", err)
			}
		}
		if read < n {
			buf = buf[:read]
		}
		return buf, nil
	}
	return t.readMemoryPtrace(addr, n)
}

// WriteMemory mirrors ReadMemory's fd-then-ptrace fallback.
func (t *Task) WriteMemory(addr uintptr, data []byte) error {
	if fd := t.as.MemFd(); fd >= 0 {
		written, err := unix.Pwrite(fd, data, int64(addr))
		if err != nil {
			return fmt.Errorf("pwrite mem fd: %w", err)
		}
		if written != len(data) {
			return fmt.Errorf("short pwrite: wrote %d of %d bytes", written, len(data))
		}
		return nil
	}
	return t.writeMemoryPtrace(addr, data)
}

// reopenMemFd re-derives the Address Space's memory fd via remote
// syscall injection (spec §4.2.2: "the Task must transparently reopen
// the memory fd — via remote syscall injection if necessary — and
// retry").
func (t *Task) reopenMemFd() error {
	path := fmt.Sprintf("/proc/%d/mem", t.realTid)
	var fd uintptr
	var err error
	rsErr := t.WithRemoteSyscalls(func(rs *AutoRemoteSyscalls) {
		fd, err = rs.openPathForSelf(path, unix.O_RDWR)
	})
	if rsErr != nil {
		return rsErr
	}
	if err != nil {
		return fmt.Errorf("reopen mem fd: %w", err)
	}
	t.as.SetMemFd(int(fd))
	return nil
}

// alignedWordRange returns the range of whole word-aligned addresses
// covering [addr, addr+n).
func alignedWordRange(addr uintptr, n int) (start uintptr, words int) {
	start = addr &^ (wordSize - 1)
	end := addr + uintptr(n)
	endAligned := (end + wordSize - 1) &^ (wordSize - 1)
	words = int((endAligned - start) / wordSize)
	return
}

// readMemoryPtrace implements the ptrace peek fallback: always read
// whole aligned words so a range ending mid-word, one word short of an
// unmapped page, doesn't trigger a peek into the unmapped page (spec §8
// S2).
func (t *Task) readMemoryPtrace(addr uintptr, n int) ([]byte, error) {
	start, words := alignedWordRange(addr, n)
	out := make([]byte, words*wordSize)
	for i := 0; i < words; i++ {
		wordAddr := start + uintptr(i*wordSize)
		var word [wordSize]byte
		if _, err := unix.PtracePeekData(int(t.realTid), wordAddr, word[:]); err != nil {
			return nil, fmt.Errorf("PTRACE_PEEKDATA at %#x: %w", wordAddr, err)
		}
		copy(out[i*wordSize:], word[:])
	}
	off := int(addr - start)
	return out[off : off+n], nil
}

// writeMemoryPtrace performs a read-modify-write on each aligned word
// touched by [addr, addr+len(data)), so partial-word writes don't
// clobber neighboring bytes, and the last word is never written past a
// mapped boundary that a whole-word blind write might cross.
func (t *Task) writeMemoryPtrace(addr uintptr, data []byte) error {
	start, words := alignedWordRange(addr, len(data))
	buf := make([]byte, words*wordSize)
	for i := 0; i < words; i++ {
		wordAddr := start + uintptr(i*wordSize)
		var word [wordSize]byte
		if _, err := unix.PtracePeekData(int(t.realTid), wordAddr, word[:]); err != nil {
			return fmt.Errorf("PTRACE_PEEKDATA at %#x: %w", wordAddr, err)
		}
		copy(buf[i*wordSize:], word[:])
	}
	off := int(addr - start)
	copy(buf[off:], data)
	for i := 0; i < words; i++ {
		wordAddr := start + uintptr(i*wordSize)
		if _, err := unix.PtracePokeData(int(t.realTid), wordAddr, buf[i*wordSize:(i+1)*wordSize]); err != nil {
			return fmt.Errorf("PTRACE_POKEDATA at %#x: %w", wordAddr, err)
		}
	}
	return nil
}

// pageSize is assumed 4KiB; the (out-of-scope) Address Space is the
// authority on the host's actual page size, but C-string reads only need
// a safe upper bound on how far to scan before the next boundary check.
const pageSize = 4096

// ReadCString implements spec §4.2.2: read from the addressed byte up to
// the next page boundary, scan for NUL, and continue to the next page if
// none was found.
func (t *Task) ReadCString(addr uintptr, maxLen int) (string, error) {
	var out []byte
	for len(out) < maxLen {
		toBoundary := int(pageSize - addr%pageSize)
		chunkLen := toBoundary
		if remaining := maxLen - len(out); chunkLen > remaining {
			chunkLen = remaining
		}
		chunk, err := t.ReadMemory(addr, chunkLen)
		if err != nil {
			return "", err
		}
		if idx := bytes.IndexByte(chunk, 0); idx >= 0 {
			out = append(out, chunk[:idx]...)
			return string(out), nil
		}
		out = append(out, chunk...)
		addr += uintptr(chunkLen)
	}
	return string(out), nil
}

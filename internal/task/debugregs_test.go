package task

import "testing"

func TestControlBitsExecuteByteWatch(t *testing.T) {
	bits, err := controlBits(0, Watchpoint{Kind: WatchExecute, Width: 1})
	if err != nil {
		t.Fatalf("controlBits() error: %v", err)
	}
	// slot 0: local-enable bit 0, R/W bits at 16-17 (00 for execute),
	// LEN bits at 18-19 (00 for one byte).
	want := uint64(1)
	if bits != want {
		t.Fatalf("controlBits(execute, 1 byte) = %#x, want %#x", bits, want)
	}
}

func TestControlBitsWriteFourByteWatchSlot1(t *testing.T) {
	bits, err := controlBits(1, Watchpoint{Kind: WatchWrite, Width: 4})
	if err != nil {
		t.Fatalf("controlBits() error: %v", err)
	}
	localEnable := uint64(1) << 2
	rwBits := uint64(0b01) << 20
	lenBits := uint64(0b11) << 22
	want := localEnable | rwBits | lenBits
	if bits != want {
		t.Fatalf("controlBits(write, 4 bytes, slot 1) = %#x, want %#x", bits, want)
	}
}

func TestControlBitsUnsupportedWidth(t *testing.T) {
	if _, err := controlBits(0, Watchpoint{Kind: WatchExecute, Width: 3}); err == nil {
		t.Fatal("controlBits() with an unsupported width returned no error")
	}
}

func TestControlBitsUnknownKind(t *testing.T) {
	if _, err := controlBits(0, Watchpoint{Kind: WatchKind(99), Width: 1}); err == nil {
		t.Fatal("controlBits() with an unknown watch kind returned no error")
	}
}

func TestDebugRegOffsetsAreDistinctAndOrdered(t *testing.T) {
	for i := 0; i < 3; i++ {
		if debugRegOffset(i) >= debugRegOffset(i+1) {
			t.Fatalf("debugRegOffset(%d) >= debugRegOffset(%d)", i, i+1)
		}
	}
	if debugRegOffset(dr7Index) <= debugRegOffset(dr6Index) {
		t.Fatal("debugRegOffset(dr7Index) <= debugRegOffset(dr6Index)")
	}
}

package vm

import "testing"

func TestMappingString(t *testing.T) {
	m := Mapping{Addr: 0x1000, Len: 0x1000, Prot: ProtRead | ProtWrite, Name: "[heap]"}
	got := m.String()
	want := "0x1000-0x2000 prot=3 [heap]"
	if got != want {
		t.Fatalf("Mapping.String() = %q, want %q", got, want)
	}
}

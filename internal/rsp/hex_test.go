package rsp

import (
	"bytes"
	"testing"
)

func TestHexEncodeDecodeRoundTrip(t *testing.T) {
	want := []byte{0x00, 0x01, 0x7f, 0x80, 0xff}
	enc := hexEncode(want)
	if string(enc) != "00017f80ff" {
		t.Fatalf("hexEncode() = %q, want %q", enc, "00017f80ff")
	}
	got, err := hexDecode(enc)
	if err != nil {
		t.Fatalf("hexDecode() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("hexDecode(hexEncode(x)) = %v, want %v", got, want)
	}
}

func TestHexDecodeOddLength(t *testing.T) {
	if _, err := hexDecode([]byte("abc")); err == nil {
		t.Fatal("hexDecode() on an odd-length string returned no error")
	}
}

func TestHexDecodeBadDigit(t *testing.T) {
	if _, err := hexDecode([]byte("zz")); err == nil {
		t.Fatal("hexDecode() on a non-hex digit returned no error")
	}
}

func TestUndefinedReg(t *testing.T) {
	got := undefinedReg(4)
	if string(got) != "xxxxxxxx" {
		t.Fatalf("undefinedReg(4) = %q, want %q", got, "xxxxxxxx")
	}
}

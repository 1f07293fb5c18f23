package rsp

import "fmt"

// hexDecode decodes an RSP wire hex string into raw bytes.
func hexDecode(s []byte) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("rsp: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(string(s[i*2:i*2+2]), "%02x", &b); err != nil {
			return nil, fmt.Errorf("rsp: bad hex digit at %d: %w", i*2, err)
		}
		out[i] = b
	}
	return out, nil
}

// hexEncode renders raw bytes in RSP wire hex, little-endian byte order
// preserved (callers pass already-little-endian register bytes, as gdb
// expects for x86-64 targets).
func hexEncode(b []byte) []byte {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return out
}

// undefinedReg renders n bytes of the "register value not available"
// placeholder RSP defines: repeated "xx" pairs, per spec §4.3/§6 "a
// register gdb asked for that this target doesn't track is rendered as
// xx..xx, not an error".
func undefinedReg(n int) []byte {
	out := make([]byte, n*2)
	for i := range out {
		out[i] = 'x'
	}
	return out
}

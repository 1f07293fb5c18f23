// Package rsp implements the Debugger Protocol Front-End of spec §4.3: a
// GDB Remote Serial Protocol server, in non-stop mode, that external
// debuggers (gdb, or the pack's own go-delve/delve client in
// gdbserver.go) connect to.
//
// Packet framing and the request/reply shapes are grounded on the wire
// conventions go-delve/delve's gdbserver.go client exercises against an
// rr-style stub ("$qGDBServerVersion", "vCont;c", "qRRCmd") — this
// package is the server side of that same conversation.
package rsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// checksum is the GDB RSP packet checksum: the sum of all payload bytes
// mod 256 (framePacket renders it as two lowercase hex digits).
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// framePacket wraps payload in the "$<payload>#<checksum>" envelope every
// RSP packet uses.
func framePacket(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, '$')
	out = append(out, payload...)
	out = append(out, '#')
	out = append(out, fmt.Sprintf("%02x", checksum(payload))...)
	return out
}

// Conn is one accepted debugger connection's packet-level transport: ack
// handling, packet assembly, and the notification-vs-reply distinction
// non-stop mode requires (spec §4.3 "Non-stop notifications are sent on
// the same connection outside the normal request/reply rhythm").
type Conn struct {
	rw     io.ReadWriter
	r      *bufio.Reader
	noAck  bool // true once QStartNoAckMode has been acknowledged.
}

// NewConn wraps an accepted connection.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, r: bufio.NewReader(rw)}
}

// ReadPacket blocks until a full "$...#cc" packet arrives, acking it
// (unless ack mode has been turned off) and returning the payload with
// the framing stripped. A leading '+'/'-' (the peer acking a packet we
// sent) is consumed and skipped; a ctrl-C byte (0x03) is returned as a
// single-byte payload of {0x03} so the server loop can treat it as an
// out-of-band interrupt request (spec §4.3's mapping of a bare ctrl-C to
// a stop request, matching gdbserver.go's sendCtrlC on the client side).
func (c *Conn) ReadPacket() ([]byte, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '+', '-':
			continue // peer acking our last packet; nothing to act on.
		case 0x03:
			return []byte{0x03}, nil
		case '$':
			payload, err := c.r.ReadBytes('#')
			if err != nil {
				return nil, err
			}
			payload = payload[:len(payload)-1] // drop trailing '#'.
			var sumHex [2]byte
			if _, err := io.ReadFull(c.r, sumHex[:]); err != nil {
				return nil, err
			}
			var want byte
			if _, err := fmt.Sscanf(string(sumHex[:]), "%02x", &want); err != nil {
				return nil, fmt.Errorf("rsp: malformed checksum: %w", err)
			}
			if !c.noAck {
				if checksum(payload) == want {
					if _, err := c.rw.Write([]byte{'+'}); err != nil {
						return nil, err
					}
				} else {
					if _, err := c.rw.Write([]byte{'-'}); err != nil {
						return nil, err
					}
					continue // peer will retransmit.
				}
			}
			return payload, nil
		default:
			continue // stray byte between packets; ignore.
		}
	}
}

// WritePacket sends payload framed as a normal reply packet.
func (c *Conn) WritePacket(payload []byte) error {
	_, err := c.rw.Write(framePacket(payload))
	return err
}

// WriteNotification sends payload as an RSP "%"-notification rather than
// a reply: used for the non-stop Stop/Exit notifications spec §4.3
// describes, which arrive without a matching request.
func (c *Conn) WriteNotification(payload []byte) error {
	framed := bytes.Replace(framePacket(payload), []byte{'$'}, []byte{'%'}, 1)
	_, err := c.rw.Write(framed)
	return err
}

// SetNoAck disables the +/- ack handshake, implementing QStartNoAckMode.
func (c *Conn) SetNoAck() { c.noAck = true }

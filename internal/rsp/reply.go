package rsp

import "fmt"

// replyOK is the bare acknowledgement reply for requests with no result
// payload (D, most Z/z, some Q).
func replyOK() []byte { return []byte("OK") }

// replyEmpty signals "unsupported request" (spec §7): the RSP
// convention for a stub declining a request outright, distinct from an
// error reply.
func replyEmpty() []byte { return nil }

// replyError renders errno as gdb's two-hex-digit "Enn" error reply.
func replyError(errno int) []byte {
	return []byte(fmt.Sprintf("E%02x", errno&0xff))
}

// errInvalidTargetErrno is the errno replyError uses for
// glue.ErrInvalidTarget (spec §7: "invalid target for request... reply
// E00" — chosen to be a fixed, recognizable value rather than mapping to
// a real errno, since there is no single POSIX error that means "no such
// gdb thread id").
const errInvalidTargetErrno = 0

// replyThreadStop builds a non-stop-mode "T05thread:<tid>;..." stop
// reply, the format both the synchronous '?' reply and asynchronous Stop
// notifications share.
func replyThreadStop(sig int, tid int32, reason string) []byte {
	out := fmt.Sprintf("T%02xthread:%x;", gdbSignal(sig)&0xff, uint32(tid))
	if reason != "" {
		out += reason + ";"
	}
	return []byte(out)
}

// replyExited builds a "W<code>" process-exit reply.
func replyExited(code int) []byte {
	return []byte(fmt.Sprintf("W%02x", code&0xff))
}

// replyTerminated builds an "X<sig>" process-killed-by-signal reply.
func replyTerminated(sig int) []byte {
	return []byte(fmt.Sprintf("X%02x", gdbSignal(sig)&0xff))
}

// replyThreadIDs renders a "m<tid>,<tid>,..." qfThreadInfo/qsThreadInfo
// reply, or "l" (lowercase L) for "no more".
func replyThreadIDs(tids []int32) []byte {
	if len(tids) == 0 {
		return []byte("l")
	}
	out := "m"
	for i, tid := range tids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%x", uint32(tid))
	}
	return []byte(out)
}

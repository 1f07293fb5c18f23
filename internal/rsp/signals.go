package rsp

import "golang.org/x/sys/unix"

// sigRtMin and sigRtMax bound Linux's real-time signal range at the
// kernel ABI level (signals 32-33 are reserved by glibc for its own use,
// so the usable range applications and this target's fixed time-slice
// and desched signals draw from is 34-64).
const (
	sigRtMin = 34
	sigRtMax = 64
)

// gdbSignal maps a native Linux signal number to the number gdb's remote
// protocol expects in an "Sxx"/"T05thread:..." stop reply (spec §4.3
// "Signal-number mapping"), matching the original's to_gdb_signum: real-
// time signals shift by +12 (gdb's GDB_SIGNAL_REALTIME_34 starts at 46),
// and the fixed set below has gdb assigning it a number unrelated to its
// Linux value.
func gdbSignal(linuxSig int) int {
	if linuxSig >= sigRtMin && linuxSig <= sigRtMax {
		return linuxSig + 12
	}
	switch linuxSig {
	case 0:
		return 0
	case int(unix.SIGHUP):
		return 1
	case int(unix.SIGINT):
		return 2
	case int(unix.SIGQUIT):
		return 3
	case int(unix.SIGILL):
		return 4
	case int(unix.SIGTRAP):
		return 5
	case int(unix.SIGABRT):
		return 6
	case int(unix.SIGBUS):
		return 10
	case int(unix.SIGFPE):
		return 8
	case int(unix.SIGKILL):
		return 9
	case int(unix.SIGUSR1):
		return 30
	case int(unix.SIGSEGV):
		return 11
	case int(unix.SIGUSR2):
		return 31
	case int(unix.SIGPIPE):
		return 13
	case int(unix.SIGALRM):
		return 14
	case int(unix.SIGTERM):
		return 15
	case int(unix.SIGSTKFLT):
		// gdb has no SIGSTKFLT of its own; the original maps it onto
		// GDB_SIGNAL_DANGER for lack of anything better.
		return 38
	case int(unix.SIGCHLD):
		return 20
	case int(unix.SIGCONT):
		return 19
	case int(unix.SIGSTOP):
		return 17
	case int(unix.SIGTSTP):
		return 18
	case int(unix.SIGTTIN):
		return 21
	case int(unix.SIGTTOU):
		return 22
	case int(unix.SIGURG):
		return 16
	case int(unix.SIGXCPU):
		return 24
	case int(unix.SIGXFSZ):
		return 25
	case int(unix.SIGVTALRM):
		return 26
	case int(unix.SIGPROF):
		return 27
	case int(unix.SIGWINCH):
		return 28
	case int(unix.SIGIO):
		return 23
	case int(unix.SIGPWR):
		return 32
	case int(unix.SIGSYS):
		return 12
	default:
		return linuxSig
	}
}

// gdbToLinuxSignal is gdbSignal's inverse table, built once from the
// forward cases that have a genuine Linux counterpart (the real-time
// range inverts by formula instead).
var gdbToLinuxSignal = func() map[int]int {
	m := make(map[int]int)
	for _, sig := range []int{
		0, int(unix.SIGHUP), int(unix.SIGINT), int(unix.SIGQUIT), int(unix.SIGILL),
		int(unix.SIGTRAP), int(unix.SIGABRT), int(unix.SIGBUS), int(unix.SIGFPE),
		int(unix.SIGKILL), int(unix.SIGUSR1), int(unix.SIGSEGV), int(unix.SIGUSR2),
		int(unix.SIGPIPE), int(unix.SIGALRM), int(unix.SIGTERM), int(unix.SIGSTKFLT),
		int(unix.SIGCHLD), int(unix.SIGCONT), int(unix.SIGSTOP), int(unix.SIGTSTP),
		int(unix.SIGTTIN), int(unix.SIGTTOU), int(unix.SIGURG), int(unix.SIGXCPU),
		int(unix.SIGXFSZ), int(unix.SIGVTALRM), int(unix.SIGPROF), int(unix.SIGWINCH),
		int(unix.SIGIO), int(unix.SIGPWR), int(unix.SIGSYS),
	} {
		m[gdbSignal(sig)] = sig
	}
	return m
}()

// linuxSignal is gdbSignal's inverse, used when a debugger request
// ("vCont;C<sig>") names a signal to inject.
func linuxSignal(gdbSig int) int {
	if n, ok := gdbToLinuxSignal[gdbSig]; ok {
		return n
	}
	if gdbSig >= sigRtMin+12 && gdbSig <= sigRtMax+12 {
		return gdbSig - 12
	}
	return gdbSig
}

// knownSignalNames is used only for the human-readable reason string
// qXfer:siginfo and stop-reply annotations carry; unrecognized numbers
// fall back to a bare numeric label.
var knownSignalNames = map[int]string{
	int(unix.SIGHUP):  "SIGHUP",
	int(unix.SIGINT):  "SIGINT",
	int(unix.SIGQUIT): "SIGQUIT",
	int(unix.SIGILL):  "SIGILL",
	int(unix.SIGTRAP): "SIGTRAP",
	int(unix.SIGABRT): "SIGABRT",
	int(unix.SIGBUS):  "SIGBUS",
	int(unix.SIGFPE):  "SIGFPE",
	int(unix.SIGKILL): "SIGKILL",
	int(unix.SIGUSR1): "SIGUSR1",
	int(unix.SIGSEGV): "SIGSEGV",
	int(unix.SIGUSR2): "SIGUSR2",
	int(unix.SIGPIPE): "SIGPIPE",
	int(unix.SIGALRM): "SIGALRM",
	int(unix.SIGTERM): "SIGTERM",
	int(unix.SIGCHLD): "SIGCHLD",
	int(unix.SIGCONT): "SIGCONT",
	int(unix.SIGSTOP): "SIGSTOP",
}

func signalName(linuxSig int) string {
	if n, ok := knownSignalNames[linuxSig]; ok {
		return n
	}
	return "UNKNOWN"
}

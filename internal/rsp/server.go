package rsp

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/config"
	"github.com/cgjones/rr/internal/glue"
)

// ThreadID is a gdb-visible thread identifier. During recording this is
// the tracee's real tid; during replay the Session may hand out
// recorded tids instead (spec §4.2's real/recorded tid distinction), but
// this package treats it as an opaque handle either way.
type ThreadID = int32

// StopEvent is one asynchronous stop the Target reports, either as the
// synchronous '?' reply or (in non-stop mode) as a queued Stop
// notification (spec §4.3 "Non-stop notifications").
type StopEvent struct {
	Tid        ThreadID
	Sig        int
	Reason     string // e.g. "watch:<addr>" for a hit watchpoint; "" otherwise.
	Exited     bool
	ExitCode   int
	Terminated bool // process killed by Sig rather than stopped.
}

// Target is the Task Supervisor's face to the Debugger Protocol
// Front-End (spec §6): everything the RSP dispatcher needs, expressed
// without importing internal/task directly, so this package can be unit
// tested against a fake and stays the thin protocol-translation layer
// spec §4.3 describes rather than growing supervisor logic of its own.
type Target interface {
	Threads() []ThreadID
	CurrentThread() ThreadID
	Regs(tid ThreadID) (*unix.PtraceRegs, error)
	SetRegs(tid ThreadID, r *unix.PtraceRegs) error
	ReadMemory(tid ThreadID, addr uintptr, n int) ([]byte, error)
	WriteMemory(tid ThreadID, addr uintptr, data []byte) error
	Resume(tid ThreadID, step bool, sig int) error
	InsertBreakpoint(tid ThreadID, typ BreakType, addr uintptr, size int) error
	RemoveBreakpoint(tid ThreadID, typ BreakType, addr uintptr, size int) error
	Detach(tid ThreadID) error
	Kill() error
	ThreadAlive(tid ThreadID) bool
	// Events delivers a StopEvent whenever a thread's state changes
	// asynchronously with respect to the debugger connection (a resumed
	// thread hitting a breakpoint, the process exiting).
	Events() <-chan StopEvent
}

// Context is the Debugger Server of spec §4.3: one listener, serving one
// debugger connection at a time in non-stop mode (spec's chosen mode,
// SPEC_FULL.md's resolved Open Question), following google-gvisor's
// tools/tracereplay serve-subcommand shape of "bind, then hand the
// accepted connection to a dedicated per-connection loop" rather than a
// generic net/rpc server, since the wire format here is bespoke.
type Context struct {
	target Target
	cfg    config.Tunables
	log    logrus.FieldLogger

	mu         sync.Mutex
	nonStop    bool
	curThreadG ThreadID
	curThreadC ThreadID
	pending    []StopEvent
}

// NewContext constructs a Debugger Server bound to target.
func NewContext(target Target, cfg config.Tunables, log logrus.FieldLogger) *Context {
	return &Context{target: target, cfg: cfg, log: log}
}

// Listen binds the configured address, probing up to
// cfg.DebuggerProbePorts higher ports if the first is unavailable (spec
// §4.3 "probe mode"), and returns the bound listener without serving it.
func (c *Context) Listen() (net.Listener, error) {
	host, port, err := net.SplitHostPort(c.cfg.DebuggerAddr)
	if err != nil {
		return nil, fmt.Errorf("rsp: bad debugger address %q: %w", c.cfg.DebuggerAddr, err)
	}
	basePort := 0
	if _, err := fmt.Sscanf(port, "%d", &basePort); err != nil {
		return nil, fmt.Errorf("rsp: bad debugger port %q: %w", port, err)
	}
	var lastErr error
	for i := 0; i <= c.cfg.DebuggerProbePorts; i++ {
		addr := fmt.Sprintf("%s:%d", host, basePort+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			c.log.WithField("addr", addr).Info("debugger server listening")
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rsp: no free port in range [%d, %d]: %w", basePort, basePort+c.cfg.DebuggerProbePorts, lastErr)
}

// Serve accepts debugger connections on ln until it is closed. Only one
// connection is handled at a time, matching a single tracer's single
// debugger front-end (spec §4.3 has no notion of concurrent debuggers).
func (c *Context) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if err := c.handleConn(conn); err != nil {
			c.log.WithError(err).Warn("debugger connection closed")
		}
	}
}

func (c *Context) handleConn(nc net.Conn) error {
	defer nc.Close()
	conn := NewConn(nc)

	notifyDone := make(chan struct{})
	go c.notifyLoop(conn, notifyDone)
	defer close(notifyDone)

	for {
		payload, err := conn.ReadPacket()
		if err != nil {
			return err
		}
		if len(payload) == 1 && payload[0] == 0x03 {
			c.handleInterrupt()
			continue
		}
		req, err := Parse(payload)
		if err != nil {
			c.log.WithError(err).Warn("malformed debugger request")
			if err := conn.WritePacket(replyEmpty()); err != nil {
				return err
			}
			continue
		}
		reply, closeConn := c.dispatch(req)
		if err := conn.WritePacket(reply); err != nil {
			return err
		}
		if _, ok := req.(ReqStartNoAck); ok {
			conn.SetNoAck()
		}
		if closeConn {
			return nil
		}
	}
}

// notifyLoop forwards Target.Events() into the connection: every event
// is appended to pending and written as a '%' notification. It does not
// consult the nonStop flag, so notifications are sent whether or not
// QNonStop:1 has been received. '?' reports pending[0] without removing
// it; each vStopped removes and reports one pending event, replying OK
// once the queue is empty.
func (c *Context) notifyLoop(conn *Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-c.target.Events():
			if !ok {
				return
			}
			c.mu.Lock()
			c.pending = append(c.pending, ev)
			c.mu.Unlock()
			if err := conn.WriteNotification(eventReply(ev)); err != nil {
				return
			}
		}
	}
}

func eventReply(ev StopEvent) []byte {
	switch {
	case ev.Exited:
		return replyExited(ev.ExitCode)
	case ev.Terminated:
		return replyTerminated(ev.Sig)
	default:
		return replyThreadStop(ev.Sig, ev.Tid, ev.Reason)
	}
}

// handleInterrupt implements the ctrl-C-to-stop-request mapping spec
// §4.3 describes: interrupt every currently running thread.
func (c *Context) handleInterrupt() {
	for _, tid := range c.target.Threads() {
		_ = c.target.Resume(tid, false, int(unix.SIGSTOP))
	}
}

// dispatch handles one decoded Request and returns its reply payload
// and whether the connection should close afterward (true only for D
// and k, per spec §4.3).
func (c *Context) dispatch(req Request) (reply []byte, closeConn bool) {
	switch r := req.(type) {
	case ReqSupported:
		return []byte("QStartNoAckMode+;QNonStop+;multiprocess-;vContSupported+"), false
	case ReqNonStopSet:
		c.mu.Lock()
		c.nonStop = r.Enable
		c.mu.Unlock()
		return replyOK(), false
	case ReqStartNoAck:
		// handleConn flips Conn.noAck after this OK goes out.
		return replyOK(), false
	case ReqSetThread:
		c.mu.Lock()
		if r.Op == 'c' {
			c.curThreadC = r.Tid
		} else {
			c.curThreadG = r.Tid
		}
		c.mu.Unlock()
		return replyOK(), false
	case ReqReadRegs:
		reqTid := r.Tid
		if reqTid == 0 {
			reqTid = c.curThreadG
		}
		tid := c.resolveThread(reqTid)
		regs, err := c.target.Regs(tid)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		return EncodeRegs(regs), false
	case ReqWriteRegs:
		tid := c.resolveThread(c.curThreadG)
		regs, err := c.target.Regs(tid)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		DecodeRegs(regs, r.Data)
		if err := c.target.SetRegs(tid, regs); err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		return replyOK(), false
	case ReqReadOneReg:
		tid := c.resolveThread(c.curThreadG)
		regs, err := c.target.Regs(tid)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		off, size, ok := RegOffset(r.Reg)
		if !ok {
			return undefinedReg(8), false
		}
		full := EncodeRegs(regs)
		return full[off*2 : off*2+size*2], false
	case ReqWriteOneReg:
		tid := c.resolveThread(c.curThreadG)
		regs, err := c.target.Regs(tid)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		full := EncodeRegs(regs)
		off, size, ok := RegOffset(r.Reg)
		if !ok {
			return replyEmpty(), false
		}
		copy(full[off*2:off*2+size*2], hexEncode(r.Data))
		decoded, err := hexDecode(full)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		DecodeRegs(regs, decoded)
		if err := c.target.SetRegs(tid, regs); err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		return replyOK(), false
	case ReqReadMem:
		tid := c.resolveThread(c.curThreadG)
		data, err := c.target.ReadMemory(tid, r.Addr, r.Len)
		if err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		return hexEncode(data), false
	case ReqWriteMem:
		tid := c.resolveThread(c.curThreadG)
		if err := c.target.WriteMemory(tid, r.Addr, r.Data); err != nil {
			return replyError(errInvalidTargetErrno), false
		}
		return replyOK(), false
	case ReqInsertBreak:
		tid := c.resolveThread(c.curThreadC)
		if err := c.target.InsertBreakpoint(tid, r.Type, r.Addr, r.Size); err != nil {
			return replyEmpty(), false
		}
		return replyOK(), false
	case ReqRemoveBreak:
		tid := c.resolveThread(c.curThreadC)
		if err := c.target.RemoveBreakpoint(tid, r.Type, r.Addr, r.Size); err != nil {
			return replyEmpty(), false
		}
		return replyOK(), false
	case ReqVCont:
		return c.dispatchVCont(r), false
	case ReqVContQuery:
		return []byte("vCont;c;C;s;S;t;"), false
	case ReqStopReason:
		return c.replyCurrentStop(), false
	case ReqDetach:
		for _, tid := range c.target.Threads() {
			_ = c.target.Detach(tid)
		}
		return replyOK(), true
	case ReqKill:
		_ = c.target.Kill()
		return replyOK(), true
	case ReqCurrentThread:
		return []byte(fmt.Sprintf("QC%x", uint32(c.target.CurrentThread()))), false
	case ReqThreadListFirst:
		return replyThreadIDs(c.target.Threads()), false
	case ReqThreadListCont:
		return []byte("l"), false
	case ReqThreadAlive:
		if c.target.ThreadAlive(r.Tid) {
			return replyOK(), false
		}
		return replyError(errInvalidTargetErrno), false
	case ReqStopped:
		return c.dequeuePending(), false
	case ReqUnsupported:
		if len(r.Raw) > 0 {
			glue.Log.WithField("packet", string(r.Raw)).Debug("unsupported debugger request")
		}
		return replyEmpty(), false
	default:
		return replyEmpty(), false
	}
}

func (c *Context) dispatchVCont(r ReqVCont) []byte {
	all := c.target.Threads()
	for _, a := range r.Actions {
		targets := []ThreadID{a.Tid}
		if a.AllTid {
			targets = all
		}
		for _, tid := range targets {
			if a.Stop {
				if err := c.target.Resume(tid, false, int(unix.SIGSTOP)); err != nil {
					c.log.WithError(err).WithField("tid", tid).Warn("vCont stop failed")
				}
				continue
			}
			if err := c.target.Resume(tid, a.Step, linuxSignal(a.Sig)); err != nil {
				c.log.WithError(err).WithField("tid", tid).Warn("vCont resume failed")
			}
		}
	}
	// Non-stop mode replies OK immediately; the actual stop is reported
	// later via a Stop notification (spec §4.3).
	return replyOK()
}

func (c *Context) replyCurrentStop() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		ev := c.pending[0]
		return eventReply(ev)
	}
	return replyThreadStop(int(unix.SIGTRAP), c.target.CurrentThread(), "")
}

func (c *Context) dequeuePending() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return []byte("OK")
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return eventReply(ev)
}

// resolveThread maps a possibly-sentinel gdb thread id (0 "any process",
// -1 "any thread") onto a concrete Target thread.
func (c *Context) resolveThread(tid ThreadID) ThreadID {
	if tid > 0 {
		return tid
	}
	return c.target.CurrentThread()
}

package rsp

import (
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cgjones/rr/internal/config"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeTarget is a minimal Target double driven directly by dispatch(),
// without a real net.Conn or tracee in the loop.
type fakeTarget struct {
	threads    []ThreadID
	cur        ThreadID
	regs       map[ThreadID]*unix.PtraceRegs
	mem        map[uintptr][]byte
	resumed    []resumeCall
	inserted   []breakCall
	removed    []breakCall
	detached   []ThreadID
	killed     bool
	alive      map[ThreadID]bool
	regsErrTid ThreadID
	events     chan StopEvent
}

type resumeCall struct {
	tid  ThreadID
	step bool
	sig  int
}

type breakCall struct {
	typ  BreakType
	addr uintptr
	size int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		threads: []ThreadID{1, 2},
		cur:     1,
		regs:    map[ThreadID]*unix.PtraceRegs{1: {Rip: 0x1000}, 2: {Rip: 0x2000}},
		mem:     map[uintptr][]byte{},
		alive:   map[ThreadID]bool{1: true, 2: true},
		events:  make(chan StopEvent),
	}
}

func (f *fakeTarget) Threads() []ThreadID      { return f.threads }
func (f *fakeTarget) CurrentThread() ThreadID  { return f.cur }
func (f *fakeTarget) Events() <-chan StopEvent { return f.events }

func (f *fakeTarget) Regs(tid ThreadID) (*unix.PtraceRegs, error) {
	if tid == f.regsErrTid {
		return nil, errors.New("no such thread")
	}
	r, ok := f.regs[tid]
	if !ok {
		return nil, errors.New("no such thread")
	}
	return r, nil
}

func (f *fakeTarget) SetRegs(tid ThreadID, r *unix.PtraceRegs) error {
	if tid == f.regsErrTid {
		return errors.New("no such thread")
	}
	f.regs[tid] = r
	return nil
}

func (f *fakeTarget) ReadMemory(tid ThreadID, addr uintptr, n int) ([]byte, error) {
	data, ok := f.mem[addr]
	if !ok {
		return nil, errors.New("unmapped")
	}
	if n > len(data) {
		n = len(data)
	}
	return data[:n], nil
}

func (f *fakeTarget) WriteMemory(tid ThreadID, addr uintptr, data []byte) error {
	f.mem[addr] = append([]byte{}, data...)
	return nil
}

func (f *fakeTarget) Resume(tid ThreadID, step bool, sig int) error {
	f.resumed = append(f.resumed, resumeCall{tid, step, sig})
	return nil
}

func (f *fakeTarget) InsertBreakpoint(tid ThreadID, typ BreakType, addr uintptr, size int) error {
	f.inserted = append(f.inserted, breakCall{typ, addr, size})
	return nil
}

func (f *fakeTarget) RemoveBreakpoint(tid ThreadID, typ BreakType, addr uintptr, size int) error {
	f.removed = append(f.removed, breakCall{typ, addr, size})
	return nil
}

func (f *fakeTarget) Detach(tid ThreadID) error {
	f.detached = append(f.detached, tid)
	return nil
}

func (f *fakeTarget) Kill() error {
	f.killed = true
	return nil
}

func (f *fakeTarget) ThreadAlive(tid ThreadID) bool { return f.alive[tid] }

func newTestContext(target Target) *Context {
	return NewContext(target, config.Defaults(), discardLogger())
}

func TestDispatchReadRegsUsesResolvedThread(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	reply, closeConn := c.dispatch(ReqReadRegs{Tid: 2})
	if closeConn {
		t.Fatal("dispatch(ReqReadRegs) closed the connection")
	}
	want := EncodeRegs(tgt.regs[2])
	if diff := cmp.Diff(want, reply); diff != "" {
		t.Errorf("dispatch(ReqReadRegs) reply mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchReadRegsUnknownThreadIsError(t *testing.T) {
	tgt := newFakeTarget()
	tgt.regsErrTid = 99
	c := newTestContext(tgt)
	reply, _ := c.dispatch(ReqReadRegs{Tid: 99})
	if diff := cmp.Diff(replyError(errInvalidTargetErrno), reply); diff != "" {
		t.Errorf("dispatch(ReqReadRegs) on unknown thread mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchSetThreadThenWriteRegsUsesCurThreadG(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	if reply, _ := c.dispatch(ReqSetThread{Op: 'g', Tid: 2}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqSetThread) = %q, want OK", reply)
	}
	decoded, err := hex.DecodeString(string(EncodeRegs(&unix.PtraceRegs{Rip: 0x9999})))
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}
	reply, _ := c.dispatch(ReqWriteRegs{Data: decoded})
	if string(reply) != "OK" {
		t.Fatalf("dispatch(ReqWriteRegs) = %q, want OK", reply)
	}
	if tgt.regs[2].Rip != 0x9999 {
		t.Fatalf("regs[2].Rip = %#x, want 0x9999 (H g 2 should steer G to tid 2)", tgt.regs[2].Rip)
	}
}

func TestDispatchReadWriteMemory(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	if reply, _ := c.dispatch(ReqWriteMem{Addr: 0x2000, Data: []byte{0xde, 0xad}}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqWriteMem) = %q, want OK", reply)
	}
	reply, _ := c.dispatch(ReqReadMem{Addr: 0x2000, Len: 2})
	if got := string(reply); got != "dead" {
		t.Fatalf("dispatch(ReqReadMem) = %q, want %q", got, "dead")
	}
}

func TestDispatchInsertRemoveBreak(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	if reply, _ := c.dispatch(ReqInsertBreak{Type: 1, Addr: 0x1000, Size: 1}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqInsertBreak) = %q, want OK", reply)
	}
	if reply, _ := c.dispatch(ReqRemoveBreak{Type: 1, Addr: 0x1000, Size: 1}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqRemoveBreak) = %q, want OK", reply)
	}
	if diff := cmp.Diff([]breakCall{{1, 0x1000, 1}}, tgt.inserted, cmpopts.EquateComparable(breakCall{})); diff != "" {
		t.Errorf("inserted breakpoints mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]breakCall{{1, 0x1000, 1}}, tgt.removed, cmpopts.EquateComparable(breakCall{})); diff != "" {
		t.Errorf("removed breakpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchVContResumesEachAction(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	req := ReqVCont{Actions: []VContAction{
		{Step: false, Tid: 1},
		{Step: true, AllTid: true},
	}}
	reply, closeConn := c.dispatch(req)
	if closeConn || string(reply) != "OK" {
		t.Fatalf("dispatch(ReqVCont) = (%q, %v), want (OK, false)", reply, closeConn)
	}
	want := []resumeCall{
		{1, false, 0},
		{1, true, 0},
		{2, true, 0},
	}
	if diff := cmp.Diff(want, tgt.resumed, cmpopts.EquateComparable(resumeCall{})); diff != "" {
		t.Errorf("resumed calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchDetachClosesConnAndDetachesAllThreads(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	reply, closeConn := c.dispatch(ReqDetach{})
	if !closeConn {
		t.Fatal("dispatch(ReqDetach) did not request connection close")
	}
	if string(reply) != "OK" {
		t.Fatalf("dispatch(ReqDetach) reply = %q, want OK", reply)
	}
	if diff := cmp.Diff(tgt.threads, tgt.detached); diff != "" {
		t.Errorf("detached threads mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchKillClosesConnAndKillsTarget(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	_, closeConn := c.dispatch(ReqKill{})
	if !closeConn {
		t.Fatal("dispatch(ReqKill) did not request connection close")
	}
	if !tgt.killed {
		t.Fatal("dispatch(ReqKill) did not call Target.Kill")
	}
}

func TestDispatchThreadAliveReflectsTarget(t *testing.T) {
	tgt := newFakeTarget()
	tgt.alive[2] = false
	c := newTestContext(tgt)
	if reply, _ := c.dispatch(ReqThreadAlive{Tid: 1}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqThreadAlive{1}) = %q, want OK", reply)
	}
	if reply, _ := c.dispatch(ReqThreadAlive{Tid: 2}); string(reply) != "E00" {
		t.Fatalf("dispatch(ReqThreadAlive{2}) = %q, want E00", reply)
	}
}

func TestDispatchThreadListFirstAndCont(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	reply, _ := c.dispatch(ReqThreadListFirst{})
	if got := string(reply); got != "m1,2" {
		t.Fatalf("dispatch(ReqThreadListFirst) = %q, want %q", got, "m1,2")
	}
	reply, _ = c.dispatch(ReqThreadListCont{})
	if got := string(reply); got != "l" {
		t.Fatalf("dispatch(ReqThreadListCont) = %q, want %q", got, "l")
	}
}

func TestDispatchStoppedDrainsPendingQueue(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	c.pending = []StopEvent{{Tid: 1, Sig: int(unix.SIGTRAP)}}
	reply, _ := c.dispatch(ReqStopped{})
	want := replyThreadStop(int(unix.SIGTRAP), 1, "")
	if diff := cmp.Diff(want, reply); diff != "" {
		t.Errorf("dispatch(ReqStopped) mismatch (-want +got):\n%s", diff)
	}
	if len(c.pending) != 0 {
		t.Fatalf("pending queue after vStopped = %d entries, want 0", len(c.pending))
	}
	if reply, _ := c.dispatch(ReqStopped{}); string(reply) != "OK" {
		t.Fatalf("dispatch(ReqStopped) on empty queue = %q, want OK", reply)
	}
}

func TestDispatchUnsupportedYieldsEmptyReply(t *testing.T) {
	tgt := newFakeTarget()
	c := newTestContext(tgt)
	reply, closeConn := c.dispatch(ReqUnsupported{Raw: []byte("qFancyFeature")})
	if closeConn {
		t.Fatal("dispatch(ReqUnsupported) closed the connection")
	}
	if reply != nil {
		t.Fatalf("dispatch(ReqUnsupported) = %q, want empty reply", reply)
	}
}

func TestResolveThreadFallsBackToCurrentThread(t *testing.T) {
	tgt := newFakeTarget()
	tgt.cur = 2
	c := newTestContext(tgt)
	if got := c.resolveThread(-1); got != 2 {
		t.Fatalf("resolveThread(-1) = %d, want 2", got)
	}
	if got := c.resolveThread(0); got != 2 {
		t.Fatalf("resolveThread(0) = %d, want 2", got)
	}
	if got := c.resolveThread(5); got != 5 {
		t.Fatalf("resolveThread(5) = %d, want 5", got)
	}
}

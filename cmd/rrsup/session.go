package main

import (
	"sync"

	"github.com/cgjones/rr/internal/task"
	"github.com/cgjones/rr/internal/taskgroup"
	"github.com/cgjones/rr/internal/vm"

	"github.com/cgjones/rr/internal/addrspace"
)

// localSession is the minimal task.Session this command provides: it
// drives one tracee tree with no outer scheduler (spec §6 treats the
// scheduler as an external collaborator; this command never needs more
// than one runnable task at a time, since it has no multi-process
// replay timeline to arbitrate).
type localSession struct {
	mu     sync.Mutex
	tasks  map[int32]*task.Task
	stream *nullTraceStream
}

func newLocalSession() *localSession {
	return &localSession{tasks: make(map[int32]*task.Task), stream: &nullTraceStream{}}
}

func (s *localSession) track(t *task.Task) {
	s.mu.Lock()
	s.tasks[t.RealTid()] = t
	s.mu.Unlock()
}

func (s *localSession) FindTask(realTid int32) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[realTid]
	return t, ok
}

func (s *localSession) OnDestroy(t *task.Task) {
	s.mu.Lock()
	delete(s.tasks, t.RealTid())
	s.mu.Unlock()
}

func (s *localSession) CreateVM() vm.AddressSpace {
	return addrspace.New()
}

func (s *localSession) CreateTaskGroup(recordedTgid, realTgid int32) *taskgroup.TaskGroup {
	return taskgroup.New(recordedTgid, realTgid)
}

// UpdateTaskPriority is a no-op here: spec §4.2.1's scheduling bias only
// matters to an outer scheduler arbitrating multiple runnable tasks,
// which this single-tracee command doesn't have.
func (s *localSession) UpdateTaskPriority(t *task.Task, priority int) {}

func (s *localSession) TraceStream() task.TraceStream { return s.stream }

// nullTraceStream stands in for the (out of scope) trace subsystem:
// spec §1 explicitly treats the on-disk trace format as an external
// collaborator, so this command, which only drives a live tracee rather
// than producing or consuming a recording, never has real frames to
// read or write.
type nullTraceStream struct {
	mu   sync.Mutex
	time uint64
}

func (n *nullTraceStream) Time() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.time++
	return n.time
}

func (n *nullTraceStream) WriteEventFrame(kind string, payload []byte) error { return nil }
func (n *nullTraceStream) WriteMemoryBlob(addr uintptr, data []byte) error   { return nil }
func (n *nullTraceStream) ReadEventFrame() (string, []byte, error)           { return "", nil, nil }
func (n *nullTraceStream) ReadMemoryBlob() (uintptr, []byte, error)          { return 0, nil, nil }

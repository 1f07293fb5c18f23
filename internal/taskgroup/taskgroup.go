// Package taskgroup implements the Task Group of spec §3/§4: Tasks are
// grouped by their original (recorded) thread-group id, and a group can
// be "destabilized" during a mass-exit so the supervisor knows not to
// block waiting on its remaining members.
//
// Named and shaped after google-gvisor's ThreadGroup (pkg/sentry/kernel),
// simplified to the fields this spec needs: the recorded and real tgids,
// the exit code, the member set, and the destabilization bit. It has no
// reference count and no locking, because spec §5 guarantees a single
// driving thread.
package taskgroup

// Member is the subset of *task.Task a TaskGroup needs, avoiding an
// import cycle with internal/task (which holds a *TaskGroup).
type Member interface {
	RealTid() int32
	MarkUnstable()
}

// TaskGroup is the Task Group of spec §3.
type TaskGroup struct {
	// RecordedTgid is the thread-group id as it appears in the trace;
	// equal to RealTgid during recording.
	RecordedTgid int32
	// RealTgid is the host kernel's thread-group id.
	RealTgid int32

	// ExitCode is set once the group leader has exited.
	ExitCode    int32
	hasExitCode bool

	members []Member

	// destabilized is set by Destabilize; once true it is never
	// cleared (a group doesn't "restabilize").
	destabilized bool
}

// New creates a TaskGroup containing no members yet; the caller adds the
// initial Task with Insert.
func New(recordedTgid, realTgid int32) *TaskGroup {
	return &TaskGroup{RecordedTgid: recordedTgid, RealTgid: realTgid}
}

// Insert adds m to the group. It is idempotent.
func (g *TaskGroup) Insert(m Member) {
	for _, existing := range g.members {
		if existing == m {
			return
		}
	}
	g.members = append(g.members, m)
}

// Erase removes m from the group and returns the number of members
// remaining.
func (g *TaskGroup) Erase(m Member) int {
	for i, existing := range g.members {
		if existing == m {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	return len(g.members)
}

// Members returns a snapshot of the current member set. Callers must not
// retain it across a call that mutates the group.
func (g *TaskGroup) Members() []Member {
	out := make([]Member, len(g.members))
	copy(out, g.members)
	return out
}

// SetExitCode records the group's exit code once its leader has exited.
func (g *TaskGroup) SetExitCode(code int32) {
	g.ExitCode = code
	g.hasExitCode = true
}

// ExitCodeIsSet reports whether SetExitCode has been called.
func (g *TaskGroup) ExitCodeIsSet() bool { return g.hasExitCode }

// Destabilize marks every current member unstable (spec §3 "Destabilization
// marks every member's unstable bit"), so detach_and_reap (§4.2.4) skips
// blocking waits on them during a mass-exit. It is one-directional: a
// group that has been destabilized stays that way.
func (g *TaskGroup) Destabilize() {
	g.destabilized = true
	for _, m := range g.members {
		m.MarkUnstable()
	}
}

// Destabilized reports whether Destabilize has ever been called on this
// group.
func (g *TaskGroup) Destabilized() bool { return g.destabilized }

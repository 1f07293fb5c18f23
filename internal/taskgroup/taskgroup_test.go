package taskgroup

import "testing"

type fakeMember struct {
	tid      int32
	unstable bool
}

func (m *fakeMember) RealTid() int32 { return m.tid }
func (m *fakeMember) MarkUnstable()  { m.unstable = true }

func TestInsertIsIdempotent(t *testing.T) {
	g := New(1, 1)
	m := &fakeMember{tid: 1}
	g.Insert(m)
	g.Insert(m)
	if got := len(g.Members()); got != 1 {
		t.Fatalf("len(Members()) after double Insert = %d, want 1", got)
	}
}

func TestEraseRemovesMember(t *testing.T) {
	g := New(1, 1)
	a := &fakeMember{tid: 1}
	b := &fakeMember{tid: 2}
	g.Insert(a)
	g.Insert(b)

	remaining := g.Erase(a)
	if remaining != 1 {
		t.Fatalf("Erase() returned %d, want 1", remaining)
	}
	members := g.Members()
	if len(members) != 1 || members[0] != Member(b) {
		t.Fatalf("Members() after Erase(a) = %v, want [b]", members)
	}
}

func TestSetExitCode(t *testing.T) {
	g := New(1, 1)
	if g.ExitCodeIsSet() {
		t.Fatal("ExitCodeIsSet() = true on a fresh group")
	}
	g.SetExitCode(7)
	if !g.ExitCodeIsSet() {
		t.Fatal("ExitCodeIsSet() = false after SetExitCode()")
	}
	if g.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", g.ExitCode)
	}
}

func TestDestabilizeMarksMembersAndSticks(t *testing.T) {
	g := New(1, 1)
	a := &fakeMember{tid: 1}
	b := &fakeMember{tid: 2}
	g.Insert(a)
	g.Insert(b)

	if g.Destabilized() {
		t.Fatal("Destabilized() = true before Destabilize()")
	}
	g.Destabilize()
	if !g.Destabilized() {
		t.Fatal("Destabilized() = false after Destabilize()")
	}
	if !a.unstable || !b.unstable {
		t.Fatalf("Destabilize() did not mark all members unstable: a=%v b=%v", a.unstable, b.unstable)
	}

	// One-directional: adding a fresh member afterward doesn't flip it back,
	// and the group itself stays destabilized.
	c := &fakeMember{tid: 3}
	g.Insert(c)
	if !g.Destabilized() {
		t.Fatal("Destabilized() flipped back to false after inserting a new member")
	}
}

package task

import (
	"testing"

	"github.com/cgjones/rr/internal/glue"
)

func TestInvalidateRegsClearsBothCaches(t *testing.T) {
	tk := &Task{regsKnown: true, extraKnown: true}
	tk.InvalidateRegs()
	if tk.RegsKnown() {
		t.Fatal("RegsKnown() = true after InvalidateRegs()")
	}
	if tk.extraKnown {
		t.Fatal("extraKnown = true after InvalidateRegs()")
	}
}

func TestStashSignalRoundTrip(t *testing.T) {
	tk := &Task{}
	if tk.HasStashedSignal() {
		t.Fatal("HasStashedSignal() = true on a fresh Task")
	}
	if _, err := tk.ConsumeStashedSignal(); err != glue.ErrNoStashedSignal {
		t.Fatalf("ConsumeStashedSignal() error = %v, want glue.ErrNoStashedSignal", err)
	}

	want := StashedSignal{}
	want.Info.Signo = 10
	tk.StashSignal(want)
	if !tk.HasStashedSignal() {
		t.Fatal("HasStashedSignal() = false after StashSignal()")
	}

	got, err := tk.ConsumeStashedSignal()
	if err != nil {
		t.Fatalf("ConsumeStashedSignal() error: %v", err)
	}
	if got.Info.Signo != 10 {
		t.Fatalf("ConsumeStashedSignal() = %+v, want Signo=10", got)
	}
	if tk.HasStashedSignal() {
		t.Fatal("HasStashedSignal() = true after Consume")
	}
}

func TestMarkUnstable(t *testing.T) {
	tk := &Task{}
	if tk.Unstable() {
		t.Fatal("Unstable() = true on a fresh Task")
	}
	tk.MarkUnstable()
	if !tk.Unstable() {
		t.Fatal("Unstable() = false after MarkUnstable()")
	}
}

func TestBiasTowardStarvationWithNoSession(t *testing.T) {
	tk := &Task{priority: 5}
	tk.BiasTowardStarvation()
	if tk.Priority() != 6 {
		t.Fatalf("Priority() after BiasTowardStarvation() = %d, want 6", tk.Priority())
	}
}

type prioritySpy struct {
	Session
	lastTask     *Task
	lastPriority int
}

func (p *prioritySpy) UpdateTaskPriority(t *Task, priority int) {
	p.lastTask = t
	p.lastPriority = priority
}

func TestBiasTowardStarvationNotifiesSession(t *testing.T) {
	spy := &prioritySpy{}
	tk := &Task{priority: 1, session: spy}
	tk.BiasTowardStarvation()
	if spy.lastTask != tk || spy.lastPriority != 2 {
		t.Fatalf("session was notified with (%v, %d), want (%v, 2)", spy.lastTask, spy.lastPriority, tk)
	}
}

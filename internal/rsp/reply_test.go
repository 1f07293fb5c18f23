package rsp

import "testing"

func TestReplyOKAndEmpty(t *testing.T) {
	if got := string(replyOK()); got != "OK" {
		t.Fatalf("replyOK() = %q, want %q", got, "OK")
	}
	if got := replyEmpty(); got != nil {
		t.Fatalf("replyEmpty() = %v, want nil", got)
	}
}

func TestReplyError(t *testing.T) {
	if got := string(replyError(2)); got != "E02" {
		t.Fatalf("replyError(2) = %q, want %q", got, "E02")
	}
}

func TestReplyThreadStop(t *testing.T) {
	got := string(replyThreadStop(5, 0x2a, ""))
	want := "T05thread:2a;"
	if got != want {
		t.Fatalf("replyThreadStop() = %q, want %q", got, want)
	}

	got = string(replyThreadStop(5, 0x2a, "swbreak:"))
	want = "T05thread:2a;swbreak:;"
	if got != want {
		t.Fatalf("replyThreadStop() with reason = %q, want %q", got, want)
	}
}

func TestReplyExitedAndTerminated(t *testing.T) {
	if got := string(replyExited(0)); got != "W00" {
		t.Fatalf("replyExited(0) = %q, want %q", got, "W00")
	}
	if got := string(replyTerminated(9)); got != "X09" {
		t.Fatalf("replyTerminated(9) = %q, want %q", got, "X09")
	}
}

func TestReplyThreadIDs(t *testing.T) {
	if got := string(replyThreadIDs(nil)); got != "l" {
		t.Fatalf("replyThreadIDs(nil) = %q, want %q", got, "l")
	}
	got := string(replyThreadIDs([]int32{1, 0x2a}))
	want := "m1,2a"
	if got != want {
		t.Fatalf("replyThreadIDs([1,42]) = %q, want %q", got, want)
	}
}

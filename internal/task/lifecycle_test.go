package task

import "testing"

func TestBaseNameStripsDirectory(t *testing.T) {
	if got := baseName("/usr/bin/true"); got != "true" {
		t.Fatalf("baseName(%q) = %q, want %q", "/usr/bin/true", got, "true")
	}
}

func TestBaseNameNoDirectory(t *testing.T) {
	if got := baseName("true"); got != "true" {
		t.Fatalf("baseName(%q) = %q, want %q", "true", got, "true")
	}
}

func TestBaseNameCapsAtTaskCommLen(t *testing.T) {
	got := baseName("/usr/bin/a-name-longer-than-fifteen-characters")
	if len(got) != 15 {
		t.Fatalf("baseName() = %q (len %d), want length 15", got, len(got))
	}
	if got != "a-name-longer-t" {
		t.Fatalf("baseName() = %q, want %q", got, "a-name-longer-t")
	}
}

func TestBaseNameTrailingSlash(t *testing.T) {
	if got := baseName("/usr/bin/"); got != "" {
		t.Fatalf("baseName(%q) = %q, want empty string", "/usr/bin/", got)
	}
}

package testing

import "testing"

func TestSectionTree(t *testing.T) {
	root := newSection("case", nil)
	a := root.child("a")
	if root.child("a") != a {
		t.Fatal("child() created a duplicate section")
	}
	a1 := a.child("a1")
	b := root.child("b")

	if got := a1.path(); got != "a/a1" {
		t.Errorf("path() = %q, want %q", got, "a/a1")
	}
	if got := root.path(); got != "" {
		t.Errorf("root path() = %q, want empty", got)
	}

	root.ran, a.ran, a1.ran = true, true, true
	if root.complete() {
		t.Error("complete() = true with an unrun child")
	}
	b.ran = true
	if !root.complete() {
		t.Error("complete() = false after every section ran")
	}

	leaves := root.leaves(nil)
	if len(leaves) != 2 || leaves[0] != "a/a1" || leaves[1] != "b" {
		t.Errorf("leaves() = %v", leaves)
	}
}

func TestContinuationStateString(t *testing.T) {
	tests := []struct {
		state ContinuationState
		want  string
	}{
		{NoContinuation, "none"},
		{ContinuationScheduled, "scheduled"},
		{Resumed, "resumed"},
		{ContinuationState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

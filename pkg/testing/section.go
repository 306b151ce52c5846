package testing

import "strings"

// PathSeparator joins section names in a Failure or Result path.
const PathSeparator = "/"

// ContinuationState tracks a section's continuation within one run.
type ContinuationState int

const (
	// NoContinuation means the section has not scheduled a continuation in
	// the current run.
	NoContinuation ContinuationState = iota
	// ContinuationScheduled means a continuation is pending and will run
	// once the section body and the test case body have returned.
	ContinuationScheduled
	// Resumed means the scheduled continuation has started running.
	Resumed
)

func (s ContinuationState) String() string {
	switch s {
	case NoContinuation:
		return "none"
	case ContinuationScheduled:
		return "scheduled"
	case Resumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// section is a node in the tree of sections discovered by a test case. The
// root node is the test case itself.
type section struct {
	name     string
	parent   *section
	children []*section
	byName   map[string]*section

	// ran is set once the section body has been executed, whether it
	// returned normally or failed.
	ran bool

	// entered is the run number in which one of the children was entered.
	entered int

	state ContinuationState
}

func newSection(name string, parent *section) *section {
	return &section{name: name, parent: parent}
}

// child returns the named child, creating it on first discovery.
func (n *section) child(name string) *section {
	if c, ok := n.byName[name]; ok {
		return c
	}
	if n.byName == nil {
		n.byName = make(map[string]*section)
	}
	c := newSection(name, n)
	n.byName[name] = c
	n.children = append(n.children, c)
	return c
}

// complete reports whether the section and every discovered descendant ran.
func (n *section) complete() bool {
	if !n.ran {
		return false
	}
	for _, c := range n.children {
		if !c.complete() {
			return false
		}
	}
	return true
}

// path returns the section names from below the root down to n.
func (n *section) path() string {
	var names []string
	for p := n; p != nil && p.parent != nil; p = p.parent {
		names = append(names, p.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, PathSeparator)
}

// leaves appends the paths of all leaf sections in discovery order.
func (n *section) leaves(out []string) []string {
	if len(n.children) == 0 {
		if n.parent != nil {
			out = append(out, n.path())
		}
		return out
	}
	for _, c := range n.children {
		out = c.leaves(out)
	}
	return out
}

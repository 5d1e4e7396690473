// Package hierarchy provides pure validation helpers for parent-pointer
// forests. Both the permission tree and the menu tree run their structural
// checks through it before committing a mutation.
package hierarchy

// maxWalk bounds ancestor walks so a corrupted chain in storage can never
// spin a request forever. Any well-formed tree in this system is far
// shallower.
const maxWalk = 64

// NoParent marks a root node in a parent map.
const NoParent int64 = 0

// Parents maps node id to parent id. Roots carry NoParent.
type Parents map[int64]int64

// WouldCycle reports whether attaching nodeID under candidateParentID would
// make nodeID its own ancestor. It walks candidateParentID's ancestor chain;
// encountering nodeID, or failing to terminate within maxWalk hops, counts
// as a cycle.
func WouldCycle(parents Parents, nodeID, candidateParentID int64) bool {
	if candidateParentID == NoParent {
		return false
	}
	if candidateParentID == nodeID {
		return true
	}
	current := candidateParentID
	for i := 0; i < maxWalk; i++ {
		parent, ok := parents[current]
		if !ok || parent == NoParent {
			return false
		}
		if parent == nodeID {
			return true
		}
		current = parent
	}
	return true
}

// Depth returns the length of the ancestor chain from nodeID to its root;
// a root has depth 0. The walk is bounded by maxWalk, so a cyclic chain
// reports maxWalk rather than spinning.
func Depth(parents Parents, nodeID int64) int {
	depth := 0
	current := nodeID
	for i := 0; i < maxWalk; i++ {
		parent, ok := parents[current]
		if !ok || parent == NoParent {
			return depth
		}
		depth++
		current = parent
	}
	return depth
}

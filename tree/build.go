package tree

import (
	"fmt"
	"sort"
)

// Reconstruct links each root to its descendants in memory. flat must hold
// the strict descendants of every root in path order, as returned by one
// prefix-range read, and must not contain the roots themselves. Every item
// is consumed exactly once; leftovers mean the stored paths are corrupt.
func Reconstruct(roots []*Node, flat []*Node) error {
	sorted := append([]*Node(nil), roots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	i := 0
	for _, r := range sorted {
		i = r.consume(flat, i)
	}
	if i != len(flat) {
		return fmt.Errorf("%w: %d nodes unreachable, first at %s", ErrCorruptTree, len(flat)-i, flat[i].Path)
	}
	return nil
}

// consume attaches the run of flat[i:] that belongs to n and returns the
// index of the first item that does not. A child recursively consumes its
// own subtree before n looks at the next item.
func (n *Node) consume(flat []*Node, i int) int {
	n.children = n.children[:0]
	n.loaded = true
	for i < len(flat) {
		next := flat[i]
		if next.Depth != n.Depth+1 || !IsDescendantPath(next.Path, n.Path) {
			break
		}
		next.parent = n
		n.children = append(n.children, next)
		i = next.consume(flat, i+1)
	}
	return i
}

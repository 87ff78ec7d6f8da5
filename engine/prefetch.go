package engine

import (
	"errors"
	"fmt"
	"sort"

	"bough/tree"
)

// ErrOverlappingRoots is returned by Prefetch when one root lies inside
// another.
var ErrOverlappingRoots = errors.New("prefetch roots overlap")

// Prefetch loads the full subtrees of roots and links them in memory with a
// fixed number of reads: one for every node row under the roots, then one
// per distinct content kind. Roots must not overlap.
func (tx *Tx) Prefetch(roots ...*tree.Node) error {
	if len(roots) == 0 {
		return nil
	}
	if err := checkDisjoint(roots); err != nil {
		return err
	}
	flat, err := tx.st.NodesUnder(roots)
	if err != nil {
		return err
	}

	pending := append([]*tree.Node(nil), flat...)
	for _, r := range roots {
		if r.Content == nil {
			pending = append(pending, r)
		}
	}
	if err := tx.attachContents(pending); err != nil {
		return err
	}
	return tree.Reconstruct(roots, flat)
}

// checkDisjoint rejects root sets where one path repeats or contains
// another. After sorting, a root's descendants follow it directly.
func checkDisjoint(roots []*tree.Node) error {
	paths := make([]string, len(roots))
	for i, r := range roots {
		paths[i] = r.Path
	}
	sort.Strings(paths)
	for i := 1; i < len(paths); i++ {
		if paths[i] == paths[i-1] || tree.IsDescendantPath(paths[i], paths[i-1]) {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingRoots, paths[i-1], paths[i])
		}
	}
	return nil
}

// attachContents loads content for nodes grouped by kind.
func (tx *Tx) attachContents(nodes []*tree.Node) error {
	byKind := make(map[string][]string)
	index := make(map[string]*tree.Node, len(nodes))
	for _, n := range nodes {
		byKind[n.ContentKind] = append(byKind[n.ContentKind], n.ID)
		index[n.ID] = n
	}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		contents, err := tx.st.ContentsByKind(kind, byKind[kind])
		if err != nil {
			return err
		}
		for _, id := range byKind[kind] {
			c, ok := contents[id]
			if !ok {
				return fmt.Errorf("%w: node %s has no %s content", tree.ErrCorruptTree, id, kind)
			}
			index[id].Content = c
		}
	}
	return nil
}

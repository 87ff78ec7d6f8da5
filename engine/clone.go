package engine

import (
	"fmt"

	"go.uber.org/zap"

	"bough/tree"
)

// CloneTree copies the subtree of root into a brand-new root tree with fresh
// identities for every node and content. Shape, order, child counts and
// attribute values match the source; every new node is frozen iff freeze.
// Post-create hooks do not run on clones.
func (tx *Tx) CloneTree(root *tree.Node, freeze bool) (*tree.Node, error) {
	src, err := tx.st.Node(root.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Prefetch(src); err != nil {
		return nil, err
	}
	c, err := tx.materialize(src, freeze)
	if err != nil {
		return nil, err
	}
	tx.e.log.Debug("cloned tree",
		zap.String("source", root.ID),
		zap.String("clone", c.ID),
		zap.Bool("frozen", freeze))
	return c, nil
}

// Import materializes a detached in-memory tree, such as one read from an
// archive, as a new root tree.
func (tx *Tx) Import(snapshot *tree.Node, freeze bool) (*tree.Node, error) {
	c, err := tx.materialize(snapshot, freeze)
	if err != nil {
		return nil, err
	}
	tx.e.log.Debug("imported tree", zap.String("root", c.ID), zap.Int("nodes", c.Count()))
	return c, nil
}

// materialize writes a copy of the loaded tree src after the last root,
// assigning sequential child paths, with batched inserts.
func (tx *Tx) materialize(src *tree.Node, freeze bool) (*tree.Node, error) {
	last, err := tx.st.LastRootPath()
	if err != nil {
		return nil, err
	}
	rootPath := tree.FirstChildPath("")
	if last != "" {
		if rootPath, err = tree.NextPath(last); err != nil {
			return nil, err
		}
	}

	var out []*tree.Node
	var copyNode func(s *tree.Node, path string) (*tree.Node, error)
	copyNode = func(s *tree.Node, path string) (*tree.Node, error) {
		k := s.Kind()
		if k.IsUnknown() {
			if reg, ok := tx.e.kinds.Lookup(s.ContentKind); ok {
				k = reg
			}
		}
		attrs, err := k.CloneAttrs(s.Attrs())
		if err != nil {
			return nil, fmt.Errorf("cloning content of %s: %w", s.ID, err)
		}
		n := newNode(k, path, attrs)
		n.ContentKind = s.ContentKind
		n.Frozen = freeze
		n.NumChild = len(s.Children())
		out = append(out, n)

		children := make([]*tree.Node, 0, len(s.Children()))
		for i, sc := range s.Children() {
			cp, err := tree.ChildPath(path, i+1)
			if err != nil {
				return nil, err
			}
			c, err := copyNode(sc, cp)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		n.SetChildren(children)
		return n, nil
	}

	root, err := copyNode(src, rootPath)
	if err != nil {
		return nil, err
	}
	if err := tx.st.InsertNodes(out); err != nil {
		return nil, err
	}
	return root, nil
}

package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bough/store"
	"bough/tree"
)

// Get loads a node and its content.
func (tx *Tx) Get(id string) (*tree.Node, error) {
	return tx.st.Node(id)
}

// Children loads the children of n and links them in memory.
func (tx *Tx) Children(n *tree.Node) ([]*tree.Node, error) {
	if err := tx.refresh(n); err != nil {
		return nil, err
	}
	children, err := tx.st.Children(n)
	if err != nil {
		return nil, err
	}
	n.SetChildren(children)
	return children, nil
}

// Parent returns the parent of n, loading the ancestor chain if needed.
func (tx *Tx) Parent(n *tree.Node) (*tree.Node, error) {
	if err := tx.refresh(n); err != nil {
		return nil, err
	}
	if err := tx.linkAncestors(n); err != nil {
		return nil, err
	}
	return n.Parent(), nil
}

// NextSibling returns the sibling right of n, or nil.
func (tx *Tx) NextSibling(n *tree.Node) (*tree.Node, error) {
	if err := tx.refresh(n); err != nil {
		return nil, err
	}
	return tx.st.NextSibling(n)
}

// Descendants returns the strict descendants of n in depth-first order.
func (tx *Tx) Descendants(n *tree.Node) ([]*tree.Node, error) {
	if err := tx.refresh(n); err != nil {
		return nil, err
	}
	return tx.st.Descendants(n)
}

// DepthFirst returns n and its descendants in depth-first order.
func (tx *Tx) DepthFirst(n *tree.Node) ([]*tree.Node, error) {
	if err := tx.refresh(n); err != nil {
		return nil, err
	}
	return tx.st.DepthFirst(n)
}

// linkAncestors links n to its full ancestor chain with one read, unless
// the chain is already linked up to a root.
func (tx *Tx) linkAncestors(n *tree.Node) error {
	if n.IsRoot() {
		return nil
	}
	top := n
	for top.Parent() != nil {
		top = top.Parent()
	}
	if top.IsRoot() {
		return nil
	}

	chain, err := tx.st.Ancestors(top)
	if err != nil {
		return err
	}
	if len(chain) != top.Depth-1 {
		return fmt.Errorf("%w: node %s has %d of %d ancestors", tree.ErrCorruptTree, top.ID, len(chain), top.Depth-1)
	}
	for i := 1; i < len(chain); i++ {
		chain[i].SetParent(chain[i-1])
	}
	top.SetParent(chain[len(chain)-1])
	return nil
}

// refresh copies the stored Path, Depth, NumChild and Frozen of each node
// into its handle, which may have gone stale across other edits. A linked
// ancestor chain that no longer matches the stored path is dropped so
// linkAncestors reloads it.
func (tx *Tx) refresh(nodes ...*tree.Node) error {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		row, err := tx.st.Node(n.ID)
		if err != nil {
			return err
		}
		if row.Path != n.Path {
			n.Rebase(n.Path, row.Path)
		}
		n.Depth = row.Depth
		n.NumChild = row.NumChild
		n.Frozen = row.Frozen
		if !chainMatches(n) {
			n.SetParent(nil)
		}
	}
	return nil
}

// chainMatches reports whether every linked ancestor of n sits at the
// matching prefix of n's path.
func chainMatches(n *tree.Node) bool {
	path := n.Path
	for p := n.Parent(); p != nil; p = p.Parent() {
		path = tree.ParentPath(path)
		if p.Path != path {
			return false
		}
	}
	return true
}

func (tx *Tx) resolve(kind string) (*tree.Kind, error) {
	k, ok := tx.e.kinds.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tree.ErrUnknownKind, kind)
	}
	return k, nil
}

func newNode(k *tree.Kind, path string, attrs tree.Attrs) *tree.Node {
	if attrs == nil {
		attrs = tree.Attrs{}
	}
	n := &tree.Node{
		ID:          uuid.NewString(),
		Path:        path,
		Depth:       tree.PathDepth(path),
		ContentID:   uuid.NewString(),
		ContentKind: k.Name,
	}
	n.Content = &tree.Content{ID: n.ContentID, Kind: k, NodeID: n.ID, Attrs: attrs}
	n.SetChildren(nil)
	return n
}

// ----- Creation -----

// AddRoot creates a new root tree of kind and runs its post-create policy.
func (tx *Tx) AddRoot(kind string, attrs tree.Attrs) (*tree.Node, error) {
	k, err := tx.resolve(kind)
	if err != nil {
		return nil, err
	}
	if err := k.ValidateAttrs(attrs); err != nil {
		return nil, err
	}

	last, err := tx.st.LastRootPath()
	if err != nil {
		return nil, err
	}
	path := tree.FirstChildPath("")
	if last != "" {
		if path, err = tree.NextPath(last); err != nil {
			return nil, err
		}
	}

	sp, err := tx.st.Savepoint()
	if err != nil {
		return nil, err
	}
	n := newNode(k, path, attrs)
	if err := tx.st.InsertNode(n); err != nil {
		sp.Rollback()
		return nil, err
	}
	if err := tx.postCreate(n); err != nil {
		sp.Rollback()
		return nil, err
	}
	if err := sp.Release(); err != nil {
		return nil, err
	}

	tx.e.log.Debug("added root", zap.String("node", n.ID), zap.String("kind", kind))
	return n, nil
}

// AddChild creates content of kind as the last child of parent. The row is
// inserted first and validated in place; a rejection rolls the insert back
// and is returned unchanged.
func (tx *Tx) AddChild(parent *tree.Node, kind string, attrs tree.Attrs) (*tree.Node, error) {
	if err := tree.CheckFrozen("add child", parent); err != nil {
		return nil, err
	}
	if err := tx.refresh(parent); err != nil {
		return nil, err
	}
	if err := tree.CheckFrozen("add child", parent); err != nil {
		return nil, err
	}
	k, err := tx.resolve(kind)
	if err != nil {
		return nil, err
	}
	if err := k.ValidateAttrs(attrs); err != nil {
		return nil, err
	}
	if err := tx.linkAncestors(parent); err != nil {
		return nil, err
	}

	last, err := tx.st.LastChildPath(parent)
	if err != nil {
		return nil, err
	}
	path := tree.FirstChildPath(parent.Path)
	if last != "" {
		if path, err = tree.NextPath(last); err != nil {
			return nil, err
		}
	}

	n := newNode(k, path, attrs)
	err = tx.insertValidated(parent, n, func() error { return nil })
	if err != nil {
		return nil, err
	}
	parent.Attach(n)

	tx.e.log.Debug("added child",
		zap.String("parent", parent.ID),
		zap.String("node", n.ID),
		zap.String("kind", kind))
	return n, nil
}

// AddSibling creates content of kind immediately left of anchor. Roots
// cannot have siblings.
func (tx *Tx) AddSibling(anchor *tree.Node, kind string, attrs tree.Attrs) (*tree.Node, error) {
	if err := tree.CheckFrozen("add sibling", anchor); err != nil {
		return nil, err
	}
	if err := tx.refresh(anchor); err != nil {
		return nil, err
	}
	if err := tree.CheckFrozen("add sibling", anchor); err != nil {
		return nil, err
	}
	if anchor.IsRoot() {
		return nil, &tree.RootDisplacementError{NodeID: anchor.ID}
	}
	k, err := tx.resolve(kind)
	if err != nil {
		return nil, err
	}
	if err := k.ValidateAttrs(attrs); err != nil {
		return nil, err
	}
	if err := tx.linkAncestors(anchor); err != nil {
		return nil, err
	}
	parent := anchor.Parent()
	if err := tx.refresh(parent); err != nil {
		return nil, err
	}
	if err := tree.CheckFrozen("add sibling", parent); err != nil {
		return nil, err
	}

	oldPath := anchor.Path
	shifted, err := tree.NextPath(oldPath)
	if err != nil {
		return nil, err
	}

	n := newNode(k, oldPath, attrs)
	err = tx.insertValidated(parent, n, func() error { return tx.st.ShiftRight(anchor) })
	if err != nil {
		return nil, err
	}
	anchor.Rebase(oldPath, shifted)
	n.SetParent(parent)

	tx.e.log.Debug("added sibling",
		zap.String("anchor", anchor.ID),
		zap.String("node", n.ID),
		zap.String("kind", kind))
	return n, nil
}

// insertValidated makes room, inserts n below parent, asks the site about
// the new edge and runs post-create, all under one savepoint.
func (tx *Tx) insertValidated(parent, n *tree.Node, makeRoom func() error) error {
	sp, err := tx.st.Savepoint()
	if err != nil {
		return err
	}
	fail := func(err error) error {
		if rbErr := sp.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err := makeRoom(); err != nil {
		return fail(err)
	}
	if err := tx.st.InsertNode(n); err != nil {
		return fail(err)
	}
	if err := tx.st.AdjustNumChild(parent.ID, 1); err != nil {
		return fail(err)
	}

	n.SetParent(parent)
	if err := tx.e.site.ValidateRelationship(parent, n.Kind(), n); err != nil {
		n.SetParent(nil)
		tx.e.log.Debug("rejected new content",
			zap.String("parent", parent.ID),
			zap.String("kind", n.ContentKind),
			zap.Error(err))
		return fail(err)
	}
	if err := tx.postCreate(n); err != nil {
		n.SetParent(nil)
		return fail(err)
	}
	if err := sp.Release(); err != nil {
		return err
	}
	parent.NumChild++
	return nil
}

// postCreate applies the kind's default-children policy, then its hook.
func (tx *Tx) postCreate(n *tree.Node) error {
	k := n.Kind()
	for _, spec := range k.DefaultChildren {
		attrs := spec.Attrs
		if attrs != nil {
			childKind, err := tx.resolve(spec.Kind)
			if err != nil {
				return err
			}
			if attrs, err = childKind.CloneAttrs(attrs); err != nil {
				return err
			}
		}
		if _, err := tx.AddChild(n, spec.Kind, attrs); err != nil {
			return fmt.Errorf("creating default %s child of %s: %w", spec.Kind, k.Name, err)
		}
	}
	if k.PostCreate != nil {
		if err := k.PostCreate(tx, n); err != nil {
			return fmt.Errorf("post-create of %s: %w", k.Name, err)
		}
	}
	return nil
}

// ----- Edits -----

// Save replaces the attributes of n.
func (tx *Tx) Save(n *tree.Node, attrs tree.Attrs) error {
	if err := tree.CheckFrozen("save", n); err != nil {
		return err
	}
	if n.Content == nil {
		return fmt.Errorf("saving node %s: content not loaded", n.ID)
	}
	k := n.Kind()
	if err := k.ValidateAttrs(attrs); err != nil {
		return err
	}
	if attrs == nil {
		attrs = tree.Attrs{}
	}

	prev := n.Content.Attrs
	n.Content.Attrs = attrs
	if err := tx.st.SaveContent(n.Content); err != nil {
		n.Content.Attrs = prev
		return err
	}
	tx.e.log.Debug("saved content", zap.String("node", n.ID))
	return nil
}

// Delete removes n and its subtree. Kinds that are not deletable anywhere
// in the subtree, and trees still held by a tracker or commit, are protected.
func (tx *Tx) Delete(n *tree.Node) error {
	if err := tree.CheckFrozen("delete", n); err != nil {
		return err
	}
	if err := tx.refresh(n); err != nil {
		return err
	}

	subtree, err := tx.st.DepthFirst(n)
	if err != nil {
		return err
	}
	for _, x := range subtree {
		if x.Frozen {
			return &tree.FrozenError{NodeID: x.ID, Op: "delete"}
		}
		if !x.Kind().Deletable {
			return fmt.Errorf("%w: %s %s", tree.ErrProtected, x.Kind().DisplayName(), x.ID)
		}
	}
	return tx.removeSubtree(n)
}

// Purge removes the tree rooted at n regardless of frozen state or
// deletability. Version bookkeeping uses it to discard snapshots.
func (tx *Tx) Purge(n *tree.Node) error {
	if err := tx.refresh(n); err != nil {
		return err
	}
	sp, err := tx.st.Savepoint()
	if err != nil {
		return err
	}
	if err := tx.st.SetFrozen(n, false); err != nil {
		sp.Rollback()
		return err
	}
	if err := tx.removeSubtree(n); err != nil {
		sp.Rollback()
		return err
	}
	return sp.Release()
}

func (tx *Tx) removeSubtree(n *tree.Node) error {
	var parent *tree.Node
	if !n.IsRoot() {
		if err := tx.linkAncestors(n); err != nil {
			return err
		}
		parent = n.Parent()
	}

	sp, err := tx.st.Savepoint()
	if err != nil {
		return err
	}
	removed, err := tx.st.DeleteSubtree(n)
	if err != nil {
		sp.Rollback()
		if errors.Is(err, store.ErrReferenced) {
			return fmt.Errorf("%w: %w", tree.ErrProtected, err)
		}
		return err
	}
	if parent != nil {
		if err := tx.st.AdjustNumChild(parent.ID, -1); err != nil {
			sp.Rollback()
			return err
		}
		parent.NumChild--
	}
	if err := sp.Release(); err != nil {
		return err
	}

	tx.e.log.Debug("deleted subtree", zap.String("node", n.ID), zap.Int64("nodes", removed))
	return nil
}

// SetFrozen sets the frozen flag on n's stored subtree and on its loaded
// in-memory descendants.
func (tx *Tx) SetFrozen(n *tree.Node, frozen bool) error {
	if err := tx.refresh(n); err != nil {
		return err
	}
	if err := tx.st.SetFrozen(n, frozen); err != nil {
		return err
	}
	n.SetFrozen(frozen)
	return nil
}

// AllowedKinds lists registered kinds the site would accept under parent,
// using class-only queries.
func (tx *Tx) AllowedKinds(parent *tree.Node) ([]*tree.Kind, error) {
	if err := tx.refresh(parent); err != nil {
		return nil, err
	}
	if err := tx.linkAncestors(parent); err != nil {
		return nil, err
	}
	var out []*tree.Kind
	for _, k := range tx.e.kinds.Kinds() {
		if tx.e.site.ValidateRelationship(parent, k, nil) == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

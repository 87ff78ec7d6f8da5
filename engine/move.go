package engine

import (
	"fmt"

	"go.uber.org/zap"

	"bough/tree"
)

// Reposition moves n immediately left of right, or to the end of parent's
// children. Exactly one of right and parent must be given.
//
// Every handle is reloaded from storage first. The new edge is validated
// before anything moves. After the move the whole relocated subtree is
// reloaded and every edge inside it is rechecked against its new ancestry;
// a failure anywhere rolls the move back so every stored path is exactly as
// before, and the rejection is returned.
func (tx *Tx) Reposition(n, right, parent *tree.Node) error {
	if (right == nil) == (parent == nil) {
		return &tree.MovementError{Message: "reposition needs exactly one of right or parent"}
	}
	if err := tree.CheckFrozen("reposition", n, right, parent); err != nil {
		return err
	}
	if err := tx.refresh(n, right, parent); err != nil {
		return err
	}
	if err := tree.CheckFrozen("reposition", n, right, parent); err != nil {
		return err
	}
	if n.IsRoot() {
		return &tree.MovementError{Message: fmt.Sprintf("node %s is a root and cannot be moved", n.ID)}
	}
	if right != nil && right.IsRoot() {
		return &tree.RootDisplacementError{NodeID: right.ID}
	}
	if !n.Kind().Draggable {
		return &tree.MovementError{Message: fmt.Sprintf("%s is not draggable", n.Kind().DisplayName())}
	}
	if right != nil && right.ID == n.ID {
		return nil
	}

	if err := tx.linkAncestors(n); err != nil {
		return err
	}
	oldParent := n.Parent()

	target := parent
	if right != nil {
		if err := tx.linkAncestors(right); err != nil {
			return err
		}
		target = right.Parent()
		if err := tx.refresh(target); err != nil {
			return err
		}
	} else if err := tx.linkAncestors(target); err != nil {
		return err
	}
	if err := tree.CheckFrozen("reposition", target); err != nil {
		return err
	}
	if target.ID == n.ID || tree.IsDescendantPath(target.Path, n.Path) {
		return &tree.MovementError{Message: fmt.Sprintf("node %s cannot be moved into its own subtree", n.ID)}
	}

	if err := tx.e.site.ValidateRelationship(target, n.Kind(), n); err != nil {
		return err
	}

	sp, err := tx.st.Savepoint()
	if err != nil {
		return err
	}
	newPath, moved, err := tx.move(n, right, target, oldParent)
	if err == nil {
		err = tx.recheck(moved, target)
	}
	if err != nil {
		if rbErr := sp.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		tx.e.log.Debug("reposition rolled back", zap.String("node", n.ID), zap.Error(err))
		return err
	}
	if err := sp.Release(); err != nil {
		return err
	}

	n.Rebase(n.Path, newPath)
	n.SetParent(target)
	if oldParent.ID != target.ID {
		oldParent.NumChild--
		target.NumChild++
	}
	if err := tx.refresh(right); err != nil {
		return err
	}

	tx.e.log.Debug("repositioned",
		zap.String("node", n.ID),
		zap.String("parent", target.ID),
		zap.String("path", newPath))
	return nil
}

// move rewrites the stored paths of n's subtree into its new slot and
// fixes child counts. It returns the new path and the reloaded node.
func (tx *Tx) move(n, right, target, oldParent *tree.Node) (string, *tree.Node, error) {
	var newPath string
	if right != nil {
		// Freed slot is right's current path. If n sat to the right of
		// right under the same parent it shifted too.
		newPath = right.Path
		if err := tx.st.ShiftRight(right); err != nil {
			return "", nil, err
		}
	} else {
		last, err := tx.st.LastChildPath(target)
		if err != nil {
			return "", nil, err
		}
		newPath = tree.FirstChildPath(target.Path)
		if last != "" {
			if newPath, err = tree.NextPath(last); err != nil {
				return "", nil, err
			}
		}
	}

	current, err := tx.st.Node(n.ID)
	if err != nil {
		return "", nil, err
	}
	if _, err := tx.st.RewritePrefix(current.Path, newPath); err != nil {
		return "", nil, err
	}
	if oldParent.ID != target.ID {
		if err := tx.st.AdjustNumChild(oldParent.ID, -1); err != nil {
			return "", nil, err
		}
		if err := tx.st.AdjustNumChild(target.ID, 1); err != nil {
			return "", nil, err
		}
	}

	moved, err := tx.st.Node(n.ID)
	if err != nil {
		return "", nil, err
	}
	return newPath, moved, nil
}

// recheck prefetches the moved subtree and asks the site about every edge
// below its root, now that the subtree hangs under target.
func (tx *Tx) recheck(moved, target *tree.Node) error {
	if err := tx.Prefetch(moved); err != nil {
		return err
	}
	moved.SetParent(target)
	return moved.Walk(func(x *tree.Node) error {
		for _, c := range x.Children() {
			if err := tx.e.site.ValidateRelationship(x, c.Kind(), c); err != nil {
				return err
			}
		}
		return nil
	})
}

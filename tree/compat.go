package tree

// ChildConsents asks the child's kind whether it accepts parent.
func (k *Kind) ChildConsents(parent, inst *Node) bool {
	if k.ValidChildOf == nil {
		return true
	}
	return k.ValidChildOf(parent, inst)
}

// ParentConsents asks this (parent) kind whether the concrete parent adopts
// a child of kind child. Kinds that accept no children never consent.
func (k *Kind) ParentConsents(parent *Node, child *Kind, inst *Node) bool {
	if !k.AcceptingChildren {
		return false
	}
	if k.ValidParentOf == nil {
		return true
	}
	return k.ValidParentOf(parent, child, inst)
}

// ValidateRelationship negotiates both sides of a (parent, child) edge. inst
// is the existing child node, or nil for "could this kind go here" queries.
// It has no side effects.
func ValidateRelationship(parent *Node, child *Kind, inst *Node) error {
	pk := parent.Kind()
	childOK := child.ChildConsents(parent, inst)
	parentOK := pk.ParentConsents(parent, child, inst)

	switch {
	case !childOK && !parentOK:
		return &MutualRejection{Parent: pk.DisplayName(), Child: child.DisplayName()}
	case !childOK:
		return &ParentWasRejected{Parent: pk.DisplayName(), Child: child.DisplayName()}
	case !parentOK:
		return &ChildWasRejected{Parent: pk.DisplayName(), Child: child.DisplayName()}
	}
	return nil
}

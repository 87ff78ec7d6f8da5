// Package tree holds the structural model of content trees: nodes, their
// polymorphic content, the kind registry, materialized-path arithmetic and
// the pure algorithms (compatibility, reconstruction, equality) over them.
package tree

// Content is the polymorphic payload attached to exactly one Node.
type Content struct {
	ID        string
	Kind      *Kind
	NodeID    string
	Attrs     Attrs
	CreatedAt int64
	UpdatedAt int64
}

// Node is the structural tree element. Parent and child links are only
// populated for nodes that were prefetched or explicitly linked.
type Node struct {
	ID          string
	Path        string
	Depth       int
	NumChild    int
	ContentID   string
	ContentKind string
	Frozen      bool
	Content     *Content

	parent   *Node
	children []*Node
	loaded   bool
}

// IsRoot reports whether n is a tree root.
func (n *Node) IsRoot() bool {
	return n.Depth == 1
}

// Kind returns the content kind, falling back to Unknown when the content
// has not been loaded.
func (n *Node) Kind() *Kind {
	if n.Content != nil && n.Content.Kind != nil {
		return n.Content.Kind
	}
	return Unknown(n.ContentKind)
}

// Attrs returns the content attributes, or nil when content is not loaded.
func (n *Node) Attrs() Attrs {
	if n.Content == nil {
		return nil
	}
	return n.Content.Attrs
}

// Parent returns the in-memory parent, if linked.
func (n *Node) Parent() *Node {
	return n.parent
}

// SetParent links n below p in memory without touching p's children.
func (n *Node) SetParent(p *Node) {
	n.parent = p
}

// Children returns the in-memory children in order.
func (n *Node) Children() []*Node {
	return n.children
}

// ChildrenLoaded reports whether Children reflects storage.
func (n *Node) ChildrenLoaded() bool {
	return n.loaded
}

// SetChildren replaces the in-memory children and links them to n.
func (n *Node) SetChildren(children []*Node) {
	n.children = children
	n.loaded = true
	for _, c := range children {
		c.parent = n
	}
}

// Attach appends c as the last in-memory child when n's children are loaded,
// and links c to n either way.
func (n *Node) Attach(c *Node) {
	c.parent = n
	if n.loaded {
		n.children = append(n.children, c)
	}
}

// Ancestors returns linked ancestors from the root down to the parent.
func (n *Node) Ancestors() []*Node {
	var chain []*Node
	for p := n.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// HasAncestorKind reports whether any linked ancestor has the named kind.
func (n *Node) HasAncestorKind(name string) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p.Kind().Name == name {
			return true
		}
	}
	return false
}

// DepthFirst returns n followed by its loaded descendants in pre-order.
func (n *Node) DepthFirst() []*Node {
	var out []*Node
	n.Walk(func(x *Node) error {
		out = append(out, x)
		return nil
	})
	return out
}

// Walk visits n and its loaded descendants in pre-order, stopping at the
// first error.
func (n *Node) Walk(fn func(*Node) error) error {
	stack := []*Node{n}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(x); err != nil {
			return err
		}
		for i := len(x.children) - 1; i >= 0; i-- {
			stack = append(stack, x.children[i])
		}
	}
	return nil
}

// RightSibling returns the next in-memory sibling, if the parent's children
// are loaded.
func (n *Node) RightSibling() *Node {
	if n.parent == nil {
		return nil
	}
	sibs := n.parent.children
	for i, s := range sibs {
		if s == n && i+1 < len(sibs) {
			return sibs[i+1]
		}
	}
	return nil
}

// Rebase rewrites the paths and depths of n and its loaded descendants
// after n moved from oldPrefix to newPrefix.
func (n *Node) Rebase(oldPrefix, newPrefix string) {
	n.Walk(func(x *Node) error {
		x.Path = RebasePath(x.Path, oldPrefix, newPrefix)
		x.Depth = PathDepth(x.Path)
		return nil
	})
}

// SetFrozen sets the frozen flag on n and its loaded descendants.
func (n *Node) SetFrozen(frozen bool) {
	n.Walk(func(x *Node) error {
		x.Frozen = frozen
		return nil
	})
}

// Count returns the number of loaded nodes in the subtree, n included.
func (n *Node) Count() int {
	c := 0
	n.Walk(func(*Node) error {
		c++
		return nil
	})
	return c
}

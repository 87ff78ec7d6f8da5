package engine

import "bough/tree"

// NodeView is the boundary shape of a node handed to API layers: identity,
// a content summary, parent and right-sibling references and ordered
// children.
type NodeView struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Attrs     map[string]interface{} `json:"attrs"`
	Frozen    bool                   `json:"frozen"`
	Draggable bool                   `json:"draggable"`
	Deletable bool                   `json:"deletable"`
	Invisible bool                   `json:"invisible,omitempty"`
	Parent    string                 `json:"parent,omitempty"`
	Right     string                 `json:"right,omitempty"`
	Children  []*NodeView            `json:"children"`
}

// View renders a loaded tree as NodeViews.
func View(n *tree.Node) *NodeView {
	k := n.Kind()
	v := &NodeView{
		ID:        n.ID,
		Kind:      k.Name,
		Title:     k.DisplayName(),
		Attrs:     n.Attrs(),
		Frozen:    n.Frozen,
		Draggable: k.Draggable,
		Deletable: k.Deletable,
		Invisible: k.InvisibleInHierarchy,
		Children:  make([]*NodeView, 0, len(n.Children())),
	}
	if p := n.Parent(); p != nil {
		v.Parent = p.ID
	}
	if r := n.RightSibling(); r != nil {
		v.Right = r.ID
	}
	for _, c := range n.Children() {
		v.Children = append(v.Children, View(c))
	}
	return v
}

package tree

import "fmt"

// mk builds a detached node with loaded content of kind k.
func mk(k *Kind, path string, attrs Attrs) *Node {
	id := fmt.Sprintf("n-%s", path)
	return &Node{
		ID:          id,
		Path:        path,
		Depth:       PathDepth(path),
		ContentKind: k.Name,
		Content:     &Content{ID: "c-" + path, Kind: k, NodeID: id, Attrs: attrs},
	}
}

// build wires nodes into a tree from a parent map keyed by path.
func build(nodes ...*Node) *Node {
	byPath := make(map[string]*Node)
	for _, n := range nodes {
		byPath[n.Path] = n
		n.loaded = true
	}
	var root *Node
	for _, n := range nodes {
		p, ok := byPath[ParentPath(n.Path)]
		if !ok {
			root = n
			continue
		}
		p.children = append(p.children, n)
		p.NumChild++
		n.parent = p
	}
	return root
}

var (
	container = &Kind{Name: "container", Title: "Container", AcceptingChildren: true, Draggable: true, Deletable: true}
	leaf      = &Kind{Name: "leaf", Title: "Leaf", Draggable: true, Deletable: true}
)

package tree

// Namespace builds the template namespace of n: a few base entries, then
// every contributor of its kind in declaration order. Later contributors
// may overwrite earlier entries.
func Namespace(n *Node) map[string]interface{} {
	k := n.Kind()
	ns := map[string]interface{}{
		"node_id": n.ID,
		"kind":    k.Name,
		"title":   k.DisplayName(),
		"attrs":   n.Attrs(),
		"tabbed":  k.Tabbed,
	}
	for _, contribute := range k.Contributors {
		contribute(n, ns)
	}
	return ns
}

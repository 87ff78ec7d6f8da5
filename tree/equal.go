package tree

import (
	"encoding/hex"
	"fmt"

	"bough/cas"
)

// TreesEqual reports structural and content equality of two loaded trees:
// same kinds, same depth relative to each compared root, same child counts,
// equal attribute sets and recursively equal children in order.
func TreesEqual(a, b *Node) bool {
	return subtreeEqual(a, b, a.Depth, b.Depth)
}

func subtreeEqual(a, b *Node, baseA, baseB int) bool {
	if a.Kind().Name != b.Kind().Name {
		return false
	}
	if a.Depth-baseA != b.Depth-baseB {
		return false
	}
	if a.NumChild != b.NumChild || len(a.children) != len(b.children) {
		return false
	}
	if !ContentEqual(a, b) {
		return false
	}
	for i := range a.children {
		if !subtreeEqual(a.children[i], b.children[i], baseA, baseB) {
			return false
		}
	}
	return true
}

// ContentEqual compares the attribute sets of two nodes of the same kind.
func ContentEqual(a, b *Node) bool {
	if a.Kind().Name != b.Kind().Name {
		return false
	}
	return a.Kind().EqualAttrs(a.Attrs(), b.Attrs())
}

// Fingerprint returns a BLAKE3 Merkle digest of a loaded tree: each node
// hashes its kind, canonical attributes and its children's digests in order.
// Identities and paths do not contribute, so clones share fingerprints.
func Fingerprint(root *Node) (string, error) {
	d, err := fingerprint(root)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

func fingerprint(n *Node) ([]byte, error) {
	k := n.Kind()
	attrs, err := k.EncodeAttrs(n.Attrs())
	if err != nil {
		return nil, fmt.Errorf("encoding attrs of %s: %w", n.ID, err)
	}

	h := cas.NewHasher()
	h.Write([]byte(k.Name))
	h.Write([]byte{'\n'})
	h.Write(attrs)
	h.Write([]byte{'\n'})
	for _, c := range n.children {
		cd, err := fingerprint(c)
		if err != nil {
			return nil, err
		}
		h.Write(cd)
	}
	return h.Sum(nil), nil
}

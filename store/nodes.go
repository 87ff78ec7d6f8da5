package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"bough/cas"
	"bough/tree"
)

const (
	nodeCols    = `n.id, n.path, n.depth, n.numchild, n.content_id, n.content_kind, n.frozen`
	contentCols = `c.attrs, c.created_at, c.updated_at`
	nodeSelect  = `SELECT ` + nodeCols + `, ` + contentCols + ` FROM nodes n JOIN contents c ON c.id = n.content_id`

	// batchSize bounds the number of bound variables per statement.
	batchSize = 500
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanNode reads a node row joined with its content.
func (t *Tx) scanNode(s scanner) (*tree.Node, error) {
	var (
		n      tree.Node
		frozen int
		raw    string
		c      tree.Content
	)
	if err := s.Scan(&n.ID, &n.Path, &n.Depth, &n.NumChild, &n.ContentID, &n.ContentKind, &frozen,
		&raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	n.Frozen = frozen != 0

	k := t.db.kinds.Resolve(n.ContentKind)
	attrs, err := k.DecodeAttrs([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding content %s: %w", n.ContentID, err)
	}
	c.ID = n.ContentID
	c.Kind = k
	c.NodeID = n.ID
	c.Attrs = attrs
	n.Content = &c
	return &n, nil
}

func (t *Tx) queryNodes(query string, args ...interface{}) ([]*tree.Node, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*tree.Node
	for rows.Next() {
		n, err := t.scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ----- Reads -----

// Node loads a node and its content by id.
func (t *Tx) Node(id string) (*tree.Node, error) {
	n, err := t.scanNode(t.queryRow(nodeSelect+` WHERE n.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}
	return n, nil
}

// NodeByPath loads the node at path.
func (t *Tx) NodeByPath(path string) (*tree.Node, error) {
	n, err := t.scanNode(t.queryRow(nodeSelect+` WHERE n.path = ?`, path))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: path %s", ErrNodeNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}
	return n, nil
}

// Roots lists every root node in path order.
func (t *Tx) Roots() ([]*tree.Node, error) {
	return t.queryNodes(nodeSelect + ` WHERE n.depth = 1 ORDER BY n.path`)
}

// Children lists the immediate children of n in order.
func (t *Tx) Children(n *tree.Node) ([]*tree.Node, error) {
	return t.queryNodes(nodeSelect+` WHERE n.path > ? AND n.path < ? AND n.depth = ? ORDER BY n.path`,
		n.Path, upper(n.Path), n.Depth+1)
}

// Parent returns the parent of n, or nil for a root.
func (t *Tx) Parent(n *tree.Node) (*tree.Node, error) {
	if n.IsRoot() {
		return nil, nil
	}
	return t.NodeByPath(tree.ParentPath(n.Path))
}

// NextSibling returns the sibling immediately right of n, or nil.
func (t *Tx) NextSibling(n *tree.Node) (*tree.Node, error) {
	nodes, err := t.queryNodes(nodeSelect+` WHERE n.path > ? AND n.path < ? AND n.depth = ? ORDER BY n.path LIMIT 1`,
		n.Path, upper(tree.ParentPath(n.Path)), n.Depth)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// Descendants lists every strict descendant of n in depth-first order with
// one range read.
func (t *Tx) Descendants(n *tree.Node) ([]*tree.Node, error) {
	return t.queryNodes(nodeSelect+` WHERE n.path > ? AND n.path < ? ORDER BY n.path`,
		n.Path, upper(n.Path))
}

// DepthFirst returns n followed by its descendants in pre-order.
func (t *Tx) DepthFirst(n *tree.Node) ([]*tree.Node, error) {
	return t.queryNodes(nodeSelect+` WHERE n.path >= ? AND n.path < ? ORDER BY n.path`,
		n.Path, upper(n.Path))
}

// Ancestors returns the strict ancestors of n from the root down.
func (t *Tx) Ancestors(n *tree.Node) ([]*tree.Node, error) {
	paths := tree.AncestorPaths(n.Path)
	if len(paths) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	return t.queryNodes(nodeSelect+` WHERE n.path IN (`+placeholders(len(paths))+`) ORDER BY n.path`, args...)
}

// NodesUnder returns the strict descendants of every root in path order,
// without content, using one read. Content is attached by the caller per kind.
func (t *Tx) NodesUnder(roots []*tree.Node) ([]*tree.Node, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	ranges := make([]string, len(roots))
	args := make([]interface{}, 0, 2*len(roots))
	for i, r := range roots {
		ranges[i] = "(path > ? AND path < ?)"
		args = append(args, r.Path, upper(r.Path))
	}

	rows, err := t.query(`SELECT id, path, depth, numchild, content_id, content_kind, frozen FROM nodes WHERE `+strings.Join(ranges, " OR ")+` ORDER BY path`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying descendants: %w", err)
	}
	defer rows.Close()

	var nodes []*tree.Node
	for rows.Next() {
		var (
			n      tree.Node
			frozen int
		)
		if err := rows.Scan(&n.ID, &n.Path, &n.Depth, &n.NumChild, &n.ContentID, &n.ContentKind, &frozen); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		n.Frozen = frozen != 0
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// ContentsByKind loads the contents of one kind for the given node ids,
// keyed by node id.
func (t *Tx) ContentsByKind(kind string, nodeIDs []string) (map[string]*tree.Content, error) {
	k := t.db.kinds.Resolve(kind)
	out := make(map[string]*tree.Content, len(nodeIDs))

	for i := 0; i < len(nodeIDs); i += batchSize {
		end := i + batchSize
		if end > len(nodeIDs) {
			end = len(nodeIDs)
		}
		batch := nodeIDs[i:end]

		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, kind)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := t.query(`SELECT id, node_id, attrs, created_at, updated_at FROM contents
			WHERE kind = ? AND node_id IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("querying contents: %w", err)
		}
		for rows.Next() {
			var (
				c   tree.Content
				raw string
			)
			if err := rows.Scan(&c.ID, &c.NodeID, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning content: %w", err)
			}
			attrs, err := k.DecodeAttrs([]byte(raw))
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("decoding content %s: %w", c.ID, err)
			}
			c.Kind = k
			c.Attrs = attrs
			out[c.NodeID] = &c
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating contents: %w", err)
		}
	}
	return out, nil
}

// LastRootPath returns the greatest root path, or "" when there are none.
func (t *Tx) LastRootPath() (string, error) {
	var p sql.NullString
	if err := t.queryRow(`SELECT MAX(path) FROM nodes WHERE depth = 1`).Scan(&p); err != nil {
		return "", fmt.Errorf("querying last root: %w", err)
	}
	return p.String, nil
}

// LastChildPath returns the greatest child path of parent, or "".
func (t *Tx) LastChildPath(parent *tree.Node) (string, error) {
	var p sql.NullString
	err := t.queryRow(`SELECT MAX(path) FROM nodes WHERE path > ? AND path < ? AND depth = ?`,
		parent.Path, upper(parent.Path), parent.Depth+1).Scan(&p)
	if err != nil {
		return "", fmt.Errorf("querying last child: %w", err)
	}
	return p.String, nil
}

// CountNodes returns the number of stored nodes.
func (t *Tx) CountNodes() (int, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	return n, nil
}

// ----- Writes -----

// InsertNode stores n and its content. Ids, path and depth must be set.
func (t *Tx) InsertNode(n *tree.Node) error {
	return t.InsertNodes([]*tree.Node{n})
}

// InsertNodes stores nodes and their contents with multi-row inserts.
func (t *Tx) InsertNodes(nodes []*tree.Node) error {
	for i := 0; i < len(nodes); i += batchSize / 7 {
		end := i + batchSize/7
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := t.insertBatch(nodes[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) insertBatch(nodes []*tree.Node) error {
	ts := cas.NowMs()
	nodeArgs := make([]interface{}, 0, 7*len(nodes))
	contentArgs := make([]interface{}, 0, 6*len(nodes))
	nodeRows := make([]string, len(nodes))
	contentRows := make([]string, len(nodes))

	for i, n := range nodes {
		if n.Content == nil {
			return fmt.Errorf("inserting node %s: no content", n.ID)
		}
		raw, err := n.Kind().EncodeAttrs(n.Content.Attrs)
		if err != nil {
			return fmt.Errorf("encoding content %s: %w", n.ContentID, err)
		}
		if n.Content.CreatedAt == 0 {
			n.Content.CreatedAt = ts
		}
		if n.Content.UpdatedAt == 0 {
			n.Content.UpdatedAt = ts
		}
		n.Content.ID = n.ContentID
		n.Content.NodeID = n.ID

		nodeRows[i] = "(?, ?, ?, ?, ?, ?, ?)"
		nodeArgs = append(nodeArgs, n.ID, n.Path, n.Depth, n.NumChild, n.ContentID, n.ContentKind, boolInt(n.Frozen))
		contentRows[i] = "(?, ?, ?, ?, ?, ?)"
		contentArgs = append(contentArgs, n.ContentID, n.ContentKind, n.ID, string(raw), n.Content.CreatedAt, n.Content.UpdatedAt)
	}

	if _, err := t.exec(`INSERT INTO nodes (id, path, depth, numchild, content_id, content_kind, frozen) VALUES `+
		strings.Join(nodeRows, ", "), nodeArgs...); err != nil {
		return fmt.Errorf("inserting nodes: %w", err)
	}
	if _, err := t.exec(`INSERT INTO contents (id, kind, node_id, attrs, created_at, updated_at) VALUES `+
		strings.Join(contentRows, ", "), contentArgs...); err != nil {
		return fmt.Errorf("inserting contents: %w", err)
	}
	return nil
}

// SaveContent replaces the attributes of c.
func (t *Tx) SaveContent(c *tree.Content) error {
	raw, err := c.Kind.EncodeAttrs(c.Attrs)
	if err != nil {
		return fmt.Errorf("encoding content %s: %w", c.ID, err)
	}
	c.UpdatedAt = cas.NowMs()
	res, err := t.exec(`UPDATE contents SET attrs = ?, updated_at = ? WHERE id = ?`, string(raw), c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("updating content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: content %s", ErrNodeNotFound, c.ID)
	}
	return nil
}

// RewritePrefix moves the subtree rooted at oldPrefix to newPrefix with one
// statement, shifting depths by the difference in segment count. newPrefix
// and its descendant range must be free.
func (t *Tx) RewritePrefix(oldPrefix, newPrefix string) (int64, error) {
	delta := tree.PathDepth(newPrefix) - tree.PathDepth(oldPrefix)
	res, err := t.exec(`UPDATE nodes SET path = ? || substr(path, ?), depth = depth + ?
		WHERE path >= ? AND path < ?`,
		newPrefix, len(oldPrefix)+1, delta, oldPrefix, upper(oldPrefix))
	if err != nil {
		return 0, fmt.Errorf("rewriting paths %s -> %s: %w", oldPrefix, newPrefix, err)
	}
	return res.RowsAffected()
}

// ShiftRight frees anchor's path by moving anchor and the contiguous run of
// siblings to its right one step right. Subtrees move right to left, one
// prefix rewrite each; a gap in the run ends the shift early.
func (t *Tx) ShiftRight(anchor *tree.Node) error {
	rows, err := t.query(`SELECT path FROM nodes WHERE path >= ? AND path < ? AND depth = ? ORDER BY path`,
		anchor.Path, upper(tree.ParentPath(anchor.Path)), anchor.Depth)
	if err != nil {
		return fmt.Errorf("querying siblings: %w", err)
	}
	var run []string
	expect := anchor.Path
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("scanning sibling: %w", err)
		}
		if p != expect {
			break
		}
		run = append(run, p)
		if expect, err = tree.NextPath(p); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating siblings: %w", err)
	}

	for i := len(run) - 1; i >= 0; i-- {
		next, err := tree.NextPath(run[i])
		if err != nil {
			return err
		}
		if _, err := t.RewritePrefix(run[i], next); err != nil {
			return err
		}
	}
	return nil
}

// AdjustNumChild adds delta to the child count of node id.
func (t *Tx) AdjustNumChild(id string, delta int) error {
	if _, err := t.exec(`UPDATE nodes SET numchild = numchild + ? WHERE id = ?`, delta, id); err != nil {
		return fmt.Errorf("updating child count: %w", err)
	}
	return nil
}

// SetFrozen sets the frozen flag on root and every descendant with one
// range update.
func (t *Tx) SetFrozen(root *tree.Node, frozen bool) error {
	if _, err := t.exec(`UPDATE nodes SET frozen = ? WHERE path >= ? AND path < ?`,
		boolInt(frozen), root.Path, upper(root.Path)); err != nil {
		return fmt.Errorf("updating frozen flag: %w", err)
	}
	return nil
}

// DeleteSubtree removes root and all its descendants with one range delete;
// contents follow through the cascading foreign key. It returns the number
// of nodes removed.
func (t *Tx) DeleteSubtree(root *tree.Node) (int64, error) {
	res, err := t.exec(`DELETE FROM nodes WHERE path >= ? AND path < ?`, root.Path, upper(root.Path))
	if err != nil {
		return 0, fmt.Errorf("deleting subtree %s: %w", root.ID, err)
	}
	return res.RowsAffected()
}

// ----- Tracker references held by content -----

// ContentRefCount counts contents of kind whose attr equals value.
func (t *Tx) ContentRefCount(kind, attr, value string) (int, error) {
	var n int
	err := t.queryRow(`SELECT COUNT(*) FROM contents WHERE kind = ? AND json_extract(attrs, ?) = ?`,
		kind, jsonPath(attr), value).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting references: %w", err)
	}
	return n, nil
}

// ContentRefs returns the distinct string values held in attr across
// contents of kind.
func (t *Tx) ContentRefs(kind, attr string) (map[string]bool, error) {
	rows, err := t.query(`SELECT DISTINCT json_extract(attrs, ?) FROM contents
		WHERE kind = ? AND json_extract(attrs, ?) IS NOT NULL`, jsonPath(attr), kind, jsonPath(attr))
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		if v.Valid {
			out[v.String] = true
		}
	}
	return out, rows.Err()
}

func jsonPath(attr string) string {
	return "$." + strconv.Quote(attr)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

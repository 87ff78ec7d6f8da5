package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bough/kinds"
	"bough/tree"
)

// snapshot renders every stored node under root as id@path/depth#numchild.
func snapshot(t *testing.T, e *Engine, root *tree.Node) []string {
	t.Helper()
	var out []string
	require.NoError(t, e.View(context.Background(), func(tx *Tx) error {
		nodes, err := tx.DepthFirst(root)
		for _, n := range nodes {
			out = append(out, fmt.Sprintf("%s@%s/%d#%d", n.ID, n.Path, n.Depth, n.NumChild))
		}
		return err
	}))
	return out
}

func TestReposition_ToParent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, main, sidebar := layoutWithBuckets(t, e)

	sub, err := e.AddChild(ctx, main, kinds.Bucket, nil)
	require.NoError(t, err)
	leaf, err := e.AddChild(ctx, sub, kinds.Text, tree.Attrs{"body": "deep"})
	require.NoError(t, err)
	other, err := e.AddChild(ctx, sidebar, kinds.Text, nil)
	require.NoError(t, err)

	require.NoError(t, e.Reposition(ctx, sub, nil, sidebar))

	assert.Equal(t, []string{other.ID, sub.ID}, ids(children(t, e, sidebar)))
	assert.Empty(t, children(t, e, main))

	moved, err := e.Get(ctx, leaf.ID)
	require.NoError(t, err)
	assert.True(t, tree.IsDescendantPath(moved.Path, sidebar.Path))
	assert.Equal(t, 4, moved.Depth)

	freshMain, err := e.Get(ctx, main.ID)
	require.NoError(t, err)
	freshSidebar, err := e.Get(ctx, sidebar.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, freshMain.NumChild)
	assert.Equal(t, 2, freshSidebar.NumChild)

	fresh, err := e.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.Path, sub.Path)
	assert.Same(t, sidebar, sub.Parent())
}

func TestReposition_LeftOfRight(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, main, _ := layoutWithBuckets(t, e)

	var nodes []*tree.Node
	for _, body := range []string{"a", "b", "c"} {
		n, err := e.AddChild(ctx, main, kinds.Text, tree.Attrs{"body": body})
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	a, b, c := nodes[0], nodes[1], nodes[2]

	require.NoError(t, e.Reposition(ctx, c, a, nil))
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(children(t, e, main)))

	kids := children(t, e, main)
	require.NoError(t, e.Reposition(ctx, kids[0], kids[2], nil))
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(children(t, e, main)))

	// Moving a node left of itself changes nothing.
	before := snapshot(t, e, main)
	kids = children(t, e, main)
	require.NoError(t, e.Reposition(ctx, kids[1], kids[1], nil))
	assert.Equal(t, before, snapshot(t, e, main))
}

func TestReposition_InvalidMovements(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	root, main, sidebar := layoutWithBuckets(t, e)
	sub, err := e.AddChild(ctx, main, kinds.Bucket, nil)
	require.NoError(t, err)
	inner, err := e.AddChild(ctx, sub, kinds.Bucket, nil)
	require.NoError(t, err)
	fixed, err := e.AddChild(ctx, main, pinned.Name, nil)
	require.NoError(t, err)

	before := snapshot(t, e, root)

	cases := []struct {
		name           string
		n, right, into *tree.Node
	}{
		{"neither target", sub, nil, nil},
		{"both targets", sub, sidebar, sidebar},
		{"move a root", root, nil, sidebar},
		{"into own subtree", sub, nil, inner},
		{"onto itself", sub, nil, sub},
		{"not draggable", fixed, nil, sidebar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Reposition(ctx, tc.n, tc.right, tc.into)
			assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)
		})
	}

	other, err := e.AddRoot(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	err = e.Reposition(ctx, sub, other, nil)
	var displaced *tree.RootDisplacementError
	require.True(t, errors.As(err, &displaced))
	assert.Equal(t, other.ID, displaced.NodeID)

	assert.Equal(t, before, snapshot(t, e, root))
}

func TestReposition_RejectedEdge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	root, main, _ := layoutWithBuckets(t, e)
	txt, err := e.AddChild(ctx, main, kinds.Text, nil)
	require.NoError(t, err)

	before := snapshot(t, e, root)
	err = e.Reposition(ctx, txt, nil, root)
	var rejected *tree.ChildWasRejected
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.Equal(t, before, snapshot(t, e, root))
}

// A form buried 50 buckets deep must not end up inside another form when
// the top of its chain moves. The failed move is rolled back completely.
func TestReposition_DeepRecheckRollsBack(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	root, main, sidebar := layoutWithBuckets(t, e)

	top, err := e.AddChild(ctx, main, kinds.Bucket, nil)
	require.NoError(t, err)
	right, err := e.AddChild(ctx, main, kinds.Text, tree.Attrs{"body": "right of top"})
	require.NoError(t, err)

	cur := top
	for i := 0; i < 50; i++ {
		cur, err = e.AddChild(ctx, cur, kinds.Bucket, nil)
		require.NoError(t, err)
	}
	deepForm, err := e.AddChild(ctx, cur, kinds.Form, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, deepForm.Depth, 50)

	outer, err := e.AddChild(ctx, sidebar, kinds.Form, nil)
	require.NoError(t, err)

	before := snapshot(t, e, root)
	topPath := top.Path

	err = e.Reposition(ctx, top, nil, outer)
	var rejected *tree.ParentWasRejected
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.ErrorIs(t, err, tree.ErrRejected)

	assert.Equal(t, before, snapshot(t, e, root))
	assert.Equal(t, topPath, top.Path)

	require.NoError(t, e.View(ctx, func(tx *Tx) error {
		fresh, err := tx.Get(top.ID)
		require.NoError(t, err)
		parent, err := tx.Parent(fresh)
		require.NoError(t, err)
		assert.Equal(t, main.ID, parent.ID)
		next, err := tx.NextSibling(fresh)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, right.ID, next.ID)
		return nil
	}))

	// The same move with right= also rolls back.
	inOuter, err := e.AddChild(ctx, outer, kinds.Text, nil)
	require.NoError(t, err)
	before = snapshot(t, e, root)
	err = e.Reposition(ctx, top, inOuter, nil)
	assert.ErrorIs(t, err, tree.ErrRejected)
	assert.Equal(t, before, snapshot(t, e, root))
}

func TestReposition_DeepMoveSucceeds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	root, main, sidebar := layoutWithBuckets(t, e)

	top, err := e.AddChild(ctx, main, kinds.Bucket, nil)
	require.NoError(t, err)
	cur := top
	for i := 0; i < 50; i++ {
		cur, err = e.AddChild(ctx, cur, kinds.Bucket, nil)
		require.NoError(t, err)
	}
	_, err = e.AddChild(ctx, cur, kinds.Text, tree.Attrs{"body": "bottom"})
	require.NoError(t, err)

	beforeCount := len(snapshot(t, e, root))
	require.NoError(t, e.Reposition(ctx, top, nil, sidebar))
	assert.Len(t, snapshot(t, e, root), beforeCount)

	loaded, err := e.Load(ctx, sidebar.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+1+50+1, loaded.Count())
	for _, n := range loaded.DepthFirst() {
		assert.Equal(t, tree.PathDepth(n.Path), n.Depth)
		assert.True(t, n.ID == sidebar.ID || tree.IsDescendantPath(n.Path, sidebar.Path))
	}
}

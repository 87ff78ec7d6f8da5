package kinds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bough/tree"
)

func stub(k *tree.Kind, path string) *tree.Node {
	return &tree.Node{
		ID:          path,
		Path:        path,
		Depth:       tree.PathDepth(path),
		ContentKind: k.Name,
		Content:     &tree.Content{Kind: k},
	}
}

func TestRegistry(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	assert.True(t, reg.Frozen())
	for _, name := range []string{Layout, Bucket, Text, Form, Page, Shortcut} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, name)
	}

	owners := reg.TrackerOwners()
	require.Len(t, owners, 1)
	assert.Equal(t, Page, owners[0].Kind)
	assert.Equal(t, TrackerAttr, owners[0].Attr)

	_, err = Registry(TextKind())
	assert.Error(t, err, "duplicate kind")
}

func TestLayoutAcceptsOnlyBuckets(t *testing.T) {
	layout := stub(LayoutKind(), "0001")
	for _, k := range All() {
		err := tree.ValidateRelationship(layout, k, nil)
		if k.Name == Bucket {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tree.ErrRejected, k.Name)
		}
	}

	bucket := stub(BucketKind(), "00010001")
	err := tree.ValidateRelationship(bucket, LayoutKind(), nil)
	var rejected *tree.ParentWasRejected
	assert.ErrorAs(t, err, &rejected, "layouts are roots only")
}

func TestFormsDoNotNest(t *testing.T) {
	layout := stub(LayoutKind(), "0001")
	bucket := stub(BucketKind(), "00010001")
	form := stub(FormKind(), "000100010001")
	inner := stub(BucketKind(), "0001000100010001")
	require.NoError(t, tree.Reconstruct([]*tree.Node{layout}, []*tree.Node{bucket, form, inner}))

	assert.NoError(t, tree.ValidateRelationship(bucket, FormKind(), nil))
	assert.ErrorIs(t, tree.ValidateRelationship(form, FormKind(), nil), tree.ErrRejected)
	assert.ErrorIs(t, tree.ValidateRelationship(inner, FormKind(), nil), tree.ErrRejected,
		"any form ancestor refuses")
	assert.NoError(t, tree.ValidateRelationship(inner, TextKind(), nil))
}

func TestValidateAttrs(t *testing.T) {
	assert.NoError(t, TextKind().ValidateAttrs(tree.Attrs{"body": "x"}))
	assert.ErrorIs(t, TextKind().ValidateAttrs(tree.Attrs{"body": 3}), ErrInvalidAttrs)
	assert.NoError(t, PageKind().ValidateAttrs(tree.Attrs{TrackerAttr: "t-1"}))
	assert.ErrorIs(t, PageKind().ValidateAttrs(tree.Attrs{TrackerAttr: false}), ErrInvalidAttrs)
	assert.ErrorIs(t, ShortcutKind().ValidateAttrs(tree.Attrs{TrackerAttr: 1}), ErrInvalidAttrs)
}

func TestLayoutDefaults(t *testing.T) {
	k := LayoutKind()
	require.Len(t, k.DefaultChildren, 2)
	assert.Equal(t, "main", k.DefaultChildren[0].Attrs["title"])
	assert.Equal(t, "sidebar", k.DefaultChildren[1].Attrs["title"])
	assert.False(t, LayoutKind().Draggable)
	assert.True(t, BucketKind().InvisibleInHierarchy)
	assert.True(t, FormKind().Tabbed)
}

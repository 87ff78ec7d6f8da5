// Package kinds holds the stock content kinds: layouts with their default
// buckets, text, forms, and pages that own version trackers.
package kinds

import (
	"errors"
	"fmt"

	"bough/tree"
)

const (
	Layout   = "layout"
	Bucket   = "bucket"
	Text     = "text"
	Form     = "form"
	Page     = "page"
	Shortcut = "shortcut"

	// TrackerAttr is the attribute pages and shortcuts store tracker ids in.
	TrackerAttr = "tracker"
)

var ErrInvalidAttrs = errors.New("invalid attributes")

// LayoutKind is a root-only container that accepts nothing but buckets and
// starts life with a main and a sidebar bucket.
func LayoutKind() *tree.Kind {
	return &tree.Kind{
		Name:              Layout,
		Title:             "Layout",
		AcceptingChildren: true,
		Deletable:         true,
		ValidChildOf:      func(parent, inst *tree.Node) bool { return false },
		ValidParentOf: func(parent *tree.Node, child *tree.Kind, inst *tree.Node) bool {
			return child.Name == Bucket
		},
		DefaultChildren: []tree.ChildSpec{
			{Kind: Bucket, Attrs: tree.Attrs{"title": "main"}},
			{Kind: Bucket, Attrs: tree.Attrs{"title": "sidebar"}},
		},
		Contributors: []tree.Contributor{
			func(n *tree.Node, ns map[string]interface{}) {
				ns["regions"] = len(n.Children())
			},
		},
	}
}

// BucketKind is a generic container living in layouts, forms or other buckets.
func BucketKind() *tree.Kind {
	return &tree.Kind{
		Name:                 Bucket,
		Title:                "Bucket",
		AcceptingChildren:    true,
		Draggable:            true,
		Deletable:            true,
		InvisibleInHierarchy: true,
		ValidChildOf: func(parent, inst *tree.Node) bool {
			switch parent.Kind().Name {
			case Layout, Bucket, Form:
				return true
			}
			return false
		},
		Contributors: []tree.Contributor{
			func(n *tree.Node, ns map[string]interface{}) {
				ns["title"] = n.Attrs()["title"]
			},
		},
	}
}

// TextKind is a leaf holding a body string.
func TextKind() *tree.Kind {
	return &tree.Kind{
		Name:      Text,
		Title:     "Text",
		Draggable: true,
		Deletable: true,
		Validate: func(a tree.Attrs) error {
			if v, ok := a["body"]; ok {
				if _, isString := v.(string); !isString {
					return fmt.Errorf("%w: text body must be a string", ErrInvalidAttrs)
				}
			}
			return nil
		},
		Contributors: []tree.Contributor{
			func(n *tree.Node, ns map[string]interface{}) {
				body, _ := n.Attrs()["body"].(string)
				ns["body"] = body
			},
		},
	}
}

// FormKind is a tabbed container that refuses to be nested inside another
// form at any depth.
func FormKind() *tree.Kind {
	return &tree.Kind{
		Name:              Form,
		Title:             "Form",
		AcceptingChildren: true,
		Draggable:         true,
		Deletable:         true,
		Tabbed:            true,
		ValidChildOf: func(parent, inst *tree.Node) bool {
			return parent.Kind().Name != Form && !parent.HasAncestorKind(Form)
		},
	}
}

// PageKind owns a version tracker; pages keep their tracker alive.
func PageKind() *tree.Kind {
	return &tree.Kind{
		Name:        Page,
		Title:       "Page",
		Deletable:   true,
		Validate:    requireTrackerString,
		TrackerRefs: []tree.TrackerRef{{Attr: TrackerAttr, Counted: true}},
	}
}

// ShortcutKind points at a tracker without owning it.
func ShortcutKind() *tree.Kind {
	return &tree.Kind{
		Name:        Shortcut,
		Title:       "Shortcut",
		Deletable:   true,
		Validate:    requireTrackerString,
		TrackerRefs: []tree.TrackerRef{{Attr: TrackerAttr, Counted: false}},
	}
}

func requireTrackerString(a tree.Attrs) error {
	v, ok := a[TrackerAttr]
	if !ok {
		return nil
	}
	if _, isString := v.(string); !isString {
		return fmt.Errorf("%w: %s must be a tracker id", ErrInvalidAttrs, TrackerAttr)
	}
	return nil
}

// All returns fresh instances of every stock kind.
func All() []*tree.Kind {
	return []*tree.Kind{LayoutKind(), BucketKind(), TextKind(), FormKind(), PageKind(), ShortcutKind()}
}

// Registry returns a frozen registry holding the stock kinds plus extra.
func Registry(extra ...*tree.Kind) (*tree.Registry, error) {
	r := tree.NewRegistry()
	if err := r.Register(All()...); err != nil {
		return nil, err
	}
	if err := r.Register(extra...); err != nil {
		return nil, err
	}
	if err := r.Freeze(); err != nil {
		return nil, fmt.Errorf("registering stock kinds: %w", err)
	}
	return r, nil
}

// Package engine applies structural edits to content trees: creation,
// repositioning with deep recheck and backout, deletion, batch prefetch and
// cloning. Every edit is negotiated with the kinds involved and then with
// the site policy before it is kept.
package engine

import (
	"context"

	"go.uber.org/zap"

	"bough/policy"
	"bough/store"
	"bough/tree"
)

// Engine runs tree mutations against a store.
type Engine struct {
	db    *store.DB
	kinds *tree.Registry
	site  tree.Site
	log   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSite sets the site policy consulted on every edit.
func WithSite(site tree.Site) Option {
	return func(e *Engine) {
		if site != nil {
			e.site = site
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New returns an engine over db. The store's kind registry must be frozen.
func New(db *store.DB, opts ...Option) (*Engine, error) {
	kinds := db.Kinds()
	if !kinds.Frozen() {
		return nil, tree.ErrRegistryNotFrozen
	}
	e := &Engine{
		db:    db,
		kinds: kinds,
		site:  policy.Structural{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DB returns the underlying store.
func (e *Engine) DB() *store.DB { return e.db }

// Kinds returns the kind registry.
func (e *Engine) Kinds() *tree.Registry { return e.kinds }

// Site returns the site policy.
func (e *Engine) Site() tree.Site { return e.site }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.log }

// Update runs fn in one read-write transaction.
func (e *Engine) Update(ctx context.Context, fn func(*Tx) error) error {
	return e.db.Update(ctx, func(st *store.Tx) error {
		return fn(e.Wrap(st))
	})
}

// View runs fn in a transaction that is always rolled back.
func (e *Engine) View(ctx context.Context, fn func(*Tx) error) error {
	return e.db.View(ctx, func(st *store.Tx) error {
		return fn(e.Wrap(st))
	})
}

// Wrap binds an open store transaction to the engine.
func (e *Engine) Wrap(st *store.Tx) *Tx {
	return &Tx{e: e, st: st}
}

// Tx is an engine view of one open storage transaction. It implements
// tree.Builder for post-create hooks.
type Tx struct {
	e  *Engine
	st *store.Tx
}

// Store returns the storage transaction.
func (tx *Tx) Store() *store.Tx { return tx.st }

// Site returns the site policy.
func (tx *Tx) Site() tree.Site { return tx.e.site }

// ----- Single-transaction wrappers -----

// AddRoot creates a new root tree of kind.
func (e *Engine) AddRoot(ctx context.Context, kind string, attrs tree.Attrs) (n *tree.Node, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		n, err = tx.AddRoot(kind, attrs)
		return err
	})
	return n, err
}

// AddChild creates content of kind as the last child of parent.
func (e *Engine) AddChild(ctx context.Context, parent *tree.Node, kind string, attrs tree.Attrs) (n *tree.Node, err error) {
	if err := tree.CheckFrozen("add child", parent); err != nil {
		return nil, err
	}
	err = e.Update(ctx, func(tx *Tx) error {
		n, err = tx.AddChild(parent, kind, attrs)
		return err
	})
	return n, err
}

// AddSibling creates content of kind immediately left of anchor.
func (e *Engine) AddSibling(ctx context.Context, anchor *tree.Node, kind string, attrs tree.Attrs) (n *tree.Node, err error) {
	if err := tree.CheckFrozen("add sibling", anchor); err != nil {
		return nil, err
	}
	err = e.Update(ctx, func(tx *Tx) error {
		n, err = tx.AddSibling(anchor, kind, attrs)
		return err
	})
	return n, err
}

// Reposition moves n left of right, or to the end of parent.
func (e *Engine) Reposition(ctx context.Context, n, right, parent *tree.Node) error {
	if err := tree.CheckFrozen("reposition", n, right, parent); err != nil {
		return err
	}
	return e.Update(ctx, func(tx *Tx) error {
		return tx.Reposition(n, right, parent)
	})
}

// Save replaces the attributes of n.
func (e *Engine) Save(ctx context.Context, n *tree.Node, attrs tree.Attrs) error {
	if err := tree.CheckFrozen("save", n); err != nil {
		return err
	}
	return e.Update(ctx, func(tx *Tx) error {
		return tx.Save(n, attrs)
	})
}

// Delete removes n and its subtree.
func (e *Engine) Delete(ctx context.Context, n *tree.Node) error {
	if err := tree.CheckFrozen("delete", n); err != nil {
		return err
	}
	return e.Update(ctx, func(tx *Tx) error {
		return tx.Delete(n)
	})
}

// Get loads a node by id.
func (e *Engine) Get(ctx context.Context, id string) (n *tree.Node, err error) {
	err = e.View(ctx, func(tx *Tx) error {
		n, err = tx.Get(id)
		return err
	})
	return n, err
}

// Load loads a node by id with its whole subtree linked in memory.
func (e *Engine) Load(ctx context.Context, id string) (n *tree.Node, err error) {
	err = e.View(ctx, func(tx *Tx) error {
		if n, err = tx.Get(id); err != nil {
			return err
		}
		return tx.Prefetch(n)
	})
	return n, err
}

// Prefetch links the subtrees of roots in memory.
func (e *Engine) Prefetch(ctx context.Context, roots ...*tree.Node) error {
	return e.View(ctx, func(tx *Tx) error {
		return tx.Prefetch(roots...)
	})
}

// CloneTree copies root's subtree into a new root tree.
func (e *Engine) CloneTree(ctx context.Context, root *tree.Node, freeze bool) (c *tree.Node, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		c, err = tx.CloneTree(root, freeze)
		return err
	})
	return c, err
}

// Import materializes a detached tree as a new root tree.
func (e *Engine) Import(ctx context.Context, snapshot *tree.Node, freeze bool) (c *tree.Node, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		c, err = tx.Import(snapshot, freeze)
		return err
	})
	return c, err
}

// AllowedKinds lists the registered kinds that could be added under parent.
func (e *Engine) AllowedKinds(ctx context.Context, parent *tree.Node) (kinds []*tree.Kind, err error) {
	err = e.View(ctx, func(tx *Tx) error {
		kinds, err = tx.AllowedKinds(parent)
		return err
	})
	return kinds, err
}

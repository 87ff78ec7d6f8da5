// Package version keeps an append-only history of whole trees. A tracker
// owns one mutable working copy and points at its newest commit; commits
// wrap frozen clones of the working copy. Several commits and trackers may
// alias the same frozen tree.
package version

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bough/engine"
	"bough/store"
	"bough/tree"
)

var (
	ErrNoHead          = errors.New("tracker has no commits")
	ErrForeignCommit   = errors.New("commit belongs to another tracker")
	ErrHistoryCycle    = errors.New("commit history contains a cycle")
	ErrNotPublished    = errors.New("no published commit")
	ErrDigestMismatch  = errors.New("snapshot does not match commit digest")
	ErrInvalidOptions  = errors.New("invalid commit options")
	ErrTrackerNotFound = store.ErrTrackerNotFound
	ErrCommitNotFound  = store.ErrCommitNotFound
)

// Manager runs version operations, each in a single transaction.
type Manager struct {
	e        *engine.Engine
	log      *zap.Logger
	validate *validator.Validate
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger. The engine logger is used by default.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager returns a manager over e.
func NewManager(e *engine.Engine, opts ...Option) *Manager {
	m := &Manager{e: e, log: e.Logger(), validate: validator.New()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CommitOptions carries commit metadata. A nil PublishAt leaves the commit
// unpublished.
type CommitOptions struct {
	Author    string `validate:"max=200"`
	Message   string `validate:"max=10000"`
	PublishAt *time.Time
}

func (m *Manager) checkOptions(opts CommitOptions) error {
	err := m.validate.Struct(opts)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}

func (m *Manager) update(ctx context.Context, fn func(*engine.Tx) error) error {
	return m.e.Update(ctx, fn)
}

// ----- Trackers -----

// NewTracker creates a tracker whose working copy is a new root of kind.
func (m *Manager) NewTracker(ctx context.Context, kind string, attrs tree.Attrs) (tr *store.Tracker, err error) {
	err = m.update(ctx, func(tx *engine.Tx) error {
		root, err := tx.AddRoot(kind, attrs)
		if err != nil {
			return err
		}
		tr = &store.Tracker{ID: uuid.NewString(), WorkingRoot: root.ID}
		return tx.Store().InsertTracker(tr)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("created tracker", zap.String("tracker", tr.ID), zap.String("kind", kind))
	return tr, nil
}

// Tracker loads a tracker.
func (m *Manager) Tracker(ctx context.Context, id string) (tr *store.Tracker, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		tr, err = tx.Store().Tracker(id)
		return err
	})
	return tr, err
}

// Trackers lists every tracker.
func (m *Manager) Trackers(ctx context.Context) (trs []*store.Tracker, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		trs, err = tx.Store().Trackers()
		return err
	})
	return trs, err
}

// Working loads the tracker's working copy with its whole tree linked.
func (m *Manager) Working(ctx context.Context, trackerID string) (*tree.Node, error) {
	tr, err := m.Tracker(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	return m.e.Load(ctx, tr.WorkingRoot)
}

// Snapshot loads the frozen tree of a commit.
func (m *Manager) Snapshot(ctx context.Context, commitID string) (root *tree.Node, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		c, err := tx.Store().Commit(commitID)
		if err != nil {
			return err
		}
		if root, err = tx.Get(c.RootID); err != nil {
			return err
		}
		return tx.Prefetch(root)
	})
	return root, err
}

// ----- Transitions -----

// Commit freezes a clone of the working copy into a new head commit. The
// working copy is untouched.
func (m *Manager) Commit(ctx context.Context, trackerID string, opts CommitOptions) (c *store.Commit, err error) {
	if err := m.checkOptions(opts); err != nil {
		return nil, err
	}
	err = m.update(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		working, err := tx.Get(tr.WorkingRoot)
		if err != nil {
			return err
		}
		snap, err := tx.CloneTree(working, true)
		if err != nil {
			return err
		}
		digest, err := tree.Fingerprint(snap)
		if err != nil {
			return err
		}

		c = newCommit(tr, snap.ID, digest, opts)
		if err := tx.Store().InsertCommit(c); err != nil {
			return err
		}
		return tx.Store().SetHead(tr.ID, c.ID)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("committed",
		zap.String("tracker", trackerID),
		zap.String("commit", c.ID),
		zap.String("digest", c.Digest))
	return c, nil
}

func newCommit(tr *store.Tracker, rootID, digest string, opts CommitOptions) *store.Commit {
	c := &store.Commit{
		ID:        uuid.NewString(),
		TrackerID: tr.ID,
		ParentID:  tr.Head,
		RootID:    rootID,
		Author:    opts.Author,
		Message:   opts.Message,
		Digest:    digest,
	}
	if opts.PublishAt != nil {
		ms := opts.PublishAt.UnixMilli()
		c.PublishAt = &ms
	}
	return c
}

// RevertTo makes an unfrozen clone of commit's tree the new working copy and
// records a new head commit that aliases commit's frozen tree.
func (m *Manager) RevertTo(ctx context.Context, trackerID, commitID string, opts CommitOptions) (c *store.Commit, err error) {
	if err := m.checkOptions(opts); err != nil {
		return nil, err
	}
	err = m.update(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		target, err := tx.Store().Commit(commitID)
		if err != nil {
			return err
		}
		if target.TrackerID != tr.ID {
			return fmt.Errorf("%w: %s", ErrForeignCommit, commitID)
		}

		if err := m.replaceWorking(tx, tr, target.RootID); err != nil {
			return err
		}

		if opts.Message == "" {
			opts.Message = "Revert to " + commitID
		}
		c = newCommit(tr, target.RootID, target.Digest, opts)
		if err := tx.Store().InsertCommit(c); err != nil {
			return err
		}
		return tx.Store().SetHead(tr.ID, c.ID)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("reverted",
		zap.String("tracker", trackerID),
		zap.String("to", commitID),
		zap.String("commit", c.ID))
	return c, nil
}

// Reset discards uncommitted changes by re-cloning the head commit's tree
// as the working copy.
func (m *Manager) Reset(ctx context.Context, trackerID string) error {
	err := m.update(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		if tr.Head == "" {
			return ErrNoHead
		}
		head, err := tx.Store().Commit(tr.Head)
		if err != nil {
			return err
		}
		return m.replaceWorking(tx, tr, head.RootID)
	})
	if err != nil {
		return err
	}
	m.log.Info("reset working copy", zap.String("tracker", trackerID))
	return nil
}

// replaceWorking clones the frozen tree at rootID as the tracker's new
// working copy and discards the old one where it can be deleted.
func (m *Manager) replaceWorking(tx *engine.Tx, tr *store.Tracker, rootID string) error {
	frozen, err := tx.Get(rootID)
	if err != nil {
		return err
	}
	working, err := tx.CloneTree(frozen, false)
	if err != nil {
		return err
	}
	oldID := tr.WorkingRoot
	if err := tx.Store().SetWorkingRoot(tr.ID, working.ID); err != nil {
		return err
	}
	tr.WorkingRoot = working.ID
	return m.discard(tx, oldID)
}

// discard deletes an abandoned working copy. Content that refuses deletion,
// or a tree still referenced elsewhere, is left in place.
func (m *Manager) discard(tx *engine.Tx, rootID string) error {
	old, err := tx.Get(rootID)
	if err != nil {
		return err
	}
	err = tx.Delete(old)
	if errors.Is(err, tree.ErrProtected) {
		m.log.Warn("abandoned working copy", zap.String("root", rootID), zap.Error(err))
		return nil
	}
	return err
}

// Delete removes the tracker, its commits and every tree it referenced that
// no other tracker or commit still uses.
func (m *Manager) Delete(ctx context.Context, trackerID string) error {
	var purged, kept int
	err := m.update(ctx, func(tx *engine.Tx) error {
		var err error
		purged, kept, err = m.deleteTracker(tx, trackerID)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info("deleted tracker",
		zap.String("tracker", trackerID),
		zap.Int("trees_deleted", purged),
		zap.Int("trees_shared", kept))
	return nil
}

func (m *Manager) deleteTracker(tx *engine.Tx, trackerID string) (purged, kept int, err error) {
	st := tx.Store()
	tr, err := st.Tracker(trackerID)
	if err != nil {
		return 0, 0, err
	}
	commits, err := st.CommitsByTracker(tr.ID)
	if err != nil {
		return 0, 0, err
	}

	if err := st.SetHead(tr.ID, ""); err != nil {
		return 0, 0, err
	}

	// Revert and clone aliasing mean several rows can share one tree.
	seen := map[string]bool{tr.WorkingRoot: true}
	roots := []string{tr.WorkingRoot}
	for _, c := range commits {
		if !seen[c.RootID] {
			seen[c.RootID] = true
			roots = append(roots, c.RootID)
		}
	}

	if err := st.DeleteCommits(tr.ID); err != nil {
		return 0, 0, err
	}
	if err := st.DeleteTracker(tr.ID); err != nil {
		return 0, 0, err
	}

	for _, rootID := range roots {
		refs, err := st.RootReferences(rootID)
		if err != nil {
			return 0, 0, err
		}
		if refs > 0 {
			kept++
			continue
		}
		root, err := tx.Get(rootID)
		if err != nil {
			return 0, 0, err
		}
		if err := tx.Purge(root); err != nil {
			return 0, 0, err
		}
		purged++
	}
	return purged, kept, nil
}

// Clone creates a new tracker with a fresh unfrozen copy of the working
// copy and duplicated commit rows that still point at the original frozen
// trees.
func (m *Manager) Clone(ctx context.Context, trackerID string) (clone *store.Tracker, err error) {
	err = m.update(ctx, func(tx *engine.Tx) error {
		st := tx.Store()
		tr, err := st.Tracker(trackerID)
		if err != nil {
			return err
		}
		working, err := tx.Get(tr.WorkingRoot)
		if err != nil {
			return err
		}
		copied, err := tx.CloneTree(working, false)
		if err != nil {
			return err
		}
		clone = &store.Tracker{ID: uuid.NewString(), WorkingRoot: copied.ID}
		if err := st.InsertTracker(clone); err != nil {
			return err
		}

		commits, err := st.CommitsByTracker(tr.ID)
		if err != nil {
			return err
		}
		ids := make(map[string]string, len(commits))
		for _, c := range commits {
			ids[c.ID] = uuid.NewString()
		}
		for _, c := range commits {
			dup := *c
			dup.ID = ids[c.ID]
			dup.TrackerID = clone.ID
			dup.ParentID = ids[c.ParentID]
			if err := st.InsertCommit(&dup); err != nil {
				return err
			}
		}
		if tr.Head != "" {
			clone.Head = ids[tr.Head]
			return st.SetHead(clone.ID, clone.Head)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("cloned tracker", zap.String("tracker", trackerID), zap.String("clone", clone.ID))
	return clone, nil
}

// ----- Inspection -----

// HasChanges reports whether the working copy differs from the head
// snapshot. A tracker without commits always has changes.
func (m *Manager) HasChanges(ctx context.Context, trackerID string) (changed bool, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		if tr.Head == "" {
			changed = true
			return nil
		}
		head, err := tx.Store().Commit(tr.Head)
		if err != nil {
			return err
		}
		working, err := tx.Get(tr.WorkingRoot)
		if err != nil {
			return err
		}
		if err := tx.Prefetch(working); err != nil {
			return err
		}
		digest, err := tree.Fingerprint(working)
		if err != nil {
			return err
		}
		changed = digest != head.Digest
		return nil
	})
	return changed, err
}

// VerifyCommit recomputes the fingerprint of a commit's frozen tree and
// compares it with the stored digest.
func (m *Manager) VerifyCommit(ctx context.Context, commitID string) error {
	var c *store.Commit
	err := m.e.View(ctx, func(tx *engine.Tx) error {
		var err error
		c, err = tx.Store().Commit(commitID)
		return err
	})
	if err != nil {
		return err
	}
	root, err := m.Snapshot(ctx, commitID)
	if err != nil {
		return err
	}
	digest, err := tree.Fingerprint(root)
	if err != nil {
		return err
	}
	if digest != c.Digest {
		return fmt.Errorf("%w: commit %s has %s, tree hashes to %s", ErrDigestMismatch, commitID, c.Digest, digest)
	}
	return nil
}

// Import records a detached tree, such as one read from an archive, as the
// working copy and first commit of a new tracker.
func (m *Manager) Import(ctx context.Context, snapshot *tree.Node, opts CommitOptions) (tr *store.Tracker, err error) {
	if err := m.checkOptions(opts); err != nil {
		return nil, err
	}
	err = m.update(ctx, func(tx *engine.Tx) error {
		frozen, err := tx.Import(snapshot, true)
		if err != nil {
			return err
		}
		working, err := tx.CloneTree(frozen, false)
		if err != nil {
			return err
		}
		digest, err := tree.Fingerprint(frozen)
		if err != nil {
			return err
		}
		tr = &store.Tracker{ID: uuid.NewString(), WorkingRoot: working.ID}
		if err := tx.Store().InsertTracker(tr); err != nil {
			return err
		}
		c := newCommit(tr, frozen.ID, digest, opts)
		if err := tx.Store().InsertCommit(c); err != nil {
			return err
		}
		tr.Head = c.ID
		return tx.Store().SetHead(tr.ID, c.ID)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("imported tracker", zap.String("tracker", tr.ID))
	return tr, nil
}

package version

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bough/engine"
	"bough/kinds"
	"bough/store"
	"bough/tree"
)

func newTestManager(t *testing.T) (*Manager, *engine.Engine) {
	t.Helper()
	reg, err := kinds.Registry()
	require.NoError(t, err)

	db, err := store.Open(filepath.Join(t.TempDir(), "bough.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zaptest.NewLogger(t)
	e, err := engine.New(db, engine.WithLogger(log))
	require.NoError(t, err)
	return NewManager(e, WithLogger(log)), e
}

// mainBucket returns the first bucket of a tracker's working copy.
func mainBucket(t *testing.T, m *Manager, trackerID string) *tree.Node {
	t.Helper()
	working, err := m.Working(context.Background(), trackerID)
	require.NoError(t, err)
	require.NotEmpty(t, working.Children())
	return working.Children()[0]
}

func addText(t *testing.T, m *Manager, e *engine.Engine, trackerID, body string) *tree.Node {
	t.Helper()
	n, err := e.AddChild(context.Background(), mainBucket(t, m, trackerID), kinds.Text, tree.Attrs{"body": body})
	require.NoError(t, err)
	return n
}

func bodies(t *testing.T, root *tree.Node) []string {
	t.Helper()
	var out []string
	for _, n := range root.DepthFirst() {
		if n.Kind().Name == kinds.Text {
			out = append(out, n.Attrs()["body"].(string))
		}
	}
	return out
}

func countNodes(t *testing.T, e *engine.Engine) int {
	t.Helper()
	var n int
	require.NoError(t, e.View(context.Background(), func(tx *engine.Tx) error {
		var err error
		n, err = tx.Store().CountNodes()
		return err
	}))
	return n
}

func rootIDs(commits []*store.Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.RootID
	}
	return out
}

func TestCommitIsAdditive(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	var commits []*store.Commit
	for i := 0; i < 6; i++ {
		addText(t, m, e, tr.ID, fmt.Sprintf("rev %d", i))
		c, err := m.Commit(ctx, tr.ID, CommitOptions{Author: "ana", Message: fmt.Sprintf("commit %d", i)})
		require.NoError(t, err)
		commits = append(commits, c)

		history, err := m.History(ctx, tr.ID)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		assert.Equal(t, c.ID, history[0].ID)

		// Every earlier snapshot still holds exactly what it held.
		for j, old := range commits {
			snap, err := m.Snapshot(ctx, old.ID)
			require.NoError(t, err)
			want := make([]string, j+1)
			for k := range want {
				want[k] = fmt.Sprintf("rev %d", k)
			}
			assert.Equal(t, want, bodies(t, snap))
			assert.True(t, snap.Frozen)
			require.NoError(t, m.VerifyCommit(ctx, old.ID))
		}
	}

	list, err := m.HistoryList(ctx, tr.ID)
	require.NoError(t, err)
	history, err := m.History(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, history, list)
	assert.Equal(t, "", list[len(list)-1].ParentID)
}

func TestCommitLeavesWorkingCopyEditable(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	changed, err := m.HasChanges(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, changed, "no head yet")

	txt := addText(t, m, e, tr.ID, "draft")
	_, err = m.Commit(ctx, tr.ID, CommitOptions{})
	require.NoError(t, err)

	changed, err = m.HasChanges(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, e.Save(ctx, txt, tree.Attrs{"body": "edited"}))
	changed, err = m.HasChanges(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCommitOptionsValidated(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	_, err = m.Commit(ctx, tr.ID, CommitOptions{Author: string(long)})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Contains(t, err.Error(), "author must be at most 200 characters")

	history, err := m.History(ctx, tr.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRevertContinuesHistory(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	addText(t, m, e, tr.ID, "one")
	first, err := m.Commit(ctx, tr.ID, CommitOptions{Message: "first"})
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "two")
	second, err := m.Commit(ctx, tr.ID, CommitOptions{Message: "second"})
	require.NoError(t, err)

	reverted, err := m.RevertTo(ctx, tr.ID, first.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.RootID, reverted.RootID, "revert aliases the frozen tree")
	assert.Equal(t, first.Digest, reverted.Digest)
	assert.Equal(t, second.ID, reverted.ParentID)

	working, err := m.Working(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, bodies(t, working))
	assert.False(t, working.Frozen)
	assert.NotEqual(t, first.RootID, working.ID)

	addText(t, m, e, tr.ID, "four")
	fourth, err := m.Commit(ctx, tr.ID, CommitOptions{Message: "fourth"})
	require.NoError(t, err)

	history, err := m.History(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{fourth.RootID, first.RootID, second.RootID, first.RootID},
		rootIDs(history))
	assert.Equal(t, []string{fourth.ID, reverted.ID, second.ID, first.ID}, []string{
		history[0].ID, history[1].ID, history[2].ID, history[3].ID,
	})

	snap, err := m.Snapshot(ctx, fourth.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "four"}, bodies(t, snap))
}

func TestRevertRejectsForeignCommit(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	b, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	c, err := m.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	_, err = m.RevertTo(ctx, a.ID, c.ID, CommitOptions{})
	assert.ErrorIs(t, err, ErrForeignCommit)
}

func TestReset(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Reset(ctx, tr.ID), ErrNoHead)

	addText(t, m, e, tr.ID, "kept")
	_, err = m.Commit(ctx, tr.ID, CommitOptions{})
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "dropped")
	before := countNodes(t, e)

	require.NoError(t, m.Reset(ctx, tr.ID))
	working, err := m.Working(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, bodies(t, working))
	assert.Equal(t, before-1, countNodes(t, e), "old working copy is discarded")

	history, err := m.History(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "reset does not commit")
}

// Deleting three pages that own one tracker in every order leaves the
// tracker owned until the last page goes.
func TestOrphanIsOrderIndependent(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			m, e := newTestManager(t)
			ctx := context.Background()

			site, err := m.NewTracker(ctx, kinds.Layout, nil)
			require.NoError(t, err)
			tr, err := m.NewTracker(ctx, kinds.Layout, nil)
			require.NoError(t, err)

			orphan, err := m.IsOrphan(ctx, tr.ID)
			require.NoError(t, err)
			assert.True(t, orphan)

			bucket := mainBucket(t, m, site.ID)
			var pages []*tree.Node
			for i := 0; i < 3; i++ {
				p, err := e.AddChild(ctx, bucket, kinds.Page, tree.Attrs{kinds.TrackerAttr: tr.ID})
				require.NoError(t, err)
				pages = append(pages, p)
			}
			_, err = e.AddChild(ctx, bucket, kinds.Shortcut, tree.Attrs{kinds.TrackerAttr: tr.ID})
			require.NoError(t, err)

			for i, idx := range order {
				orphan, err := m.IsOrphan(ctx, tr.ID)
				require.NoError(t, err)
				assert.False(t, orphan, "before delete %d", i)

				require.NoError(t, e.Delete(ctx, pages[idx]))
			}

			orphan, err = m.IsOrphan(ctx, tr.ID)
			require.NoError(t, err)
			assert.True(t, orphan, "shortcuts do not own trackers")

			orphans, err := m.Orphans(ctx)
			require.NoError(t, err)
			var got []string
			for _, o := range orphans {
				got = append(got, o.ID)
			}
			assert.ElementsMatch(t, []string{site.ID, tr.ID}, got)
		})
	}
}

func TestDeleteTracker(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()
	baseline := countNodes(t, e)

	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "one")
	first, err := m.Commit(ctx, tr.ID, CommitOptions{})
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "two")
	_, err = m.Commit(ctx, tr.ID, CommitOptions{})
	require.NoError(t, err)
	_, err = m.RevertTo(ctx, tr.ID, first.ID, CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, tr.ID))
	assert.Equal(t, baseline, countNodes(t, e))

	_, err = m.Tracker(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrTrackerNotFound)
	_, err = m.Snapshot(ctx, first.ID)
	assert.ErrorIs(t, err, ErrCommitNotFound)
}

func TestCloneTrackerSharesSnapshots(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()

	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "one")
	_, err = m.Commit(ctx, tr.ID, CommitOptions{Message: "first"})
	require.NoError(t, err)
	addText(t, m, e, tr.ID, "two")
	_, err = m.Commit(ctx, tr.ID, CommitOptions{Message: "second"})
	require.NoError(t, err)

	clone, err := m.Clone(ctx, tr.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tr.WorkingRoot, clone.WorkingRoot)

	orig, err := m.History(ctx, tr.ID)
	require.NoError(t, err)
	dup, err := m.History(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, dup, 2)
	assert.Equal(t, rootIDs(orig), rootIDs(dup))
	assert.Equal(t, "second", dup[0].Message)
	assert.Equal(t, dup[1].ID, dup[0].ParentID)
	for i := range dup {
		assert.NotEqual(t, orig[i].ID, dup[i].ID)
		assert.Equal(t, clone.ID, dup[i].TrackerID)
	}

	a, err := m.Working(ctx, tr.ID)
	require.NoError(t, err)
	b, err := m.Working(ctx, clone.ID)
	require.NoError(t, err)
	assert.True(t, tree.TreesEqual(a, b))

	// Deleting the original keeps the shared snapshots alive.
	require.NoError(t, m.Delete(ctx, tr.ID))
	for _, c := range dup {
		snap, err := m.Snapshot(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, snap.Frozen)
		require.NoError(t, m.VerifyCommit(ctx, c.ID))
	}

	// Deleting the clone releases everything.
	require.NoError(t, m.Delete(ctx, clone.ID))
	assert.Equal(t, 0, countNodes(t, e))
}

func TestPublishedCommit(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tr, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	_, err = m.PublishedCommit(ctx, tr.ID, now)
	assert.ErrorIs(t, err, ErrNotPublished)

	live, err := m.Commit(ctx, tr.ID, CommitOptions{PublishAt: &past})
	require.NoError(t, err)
	_, err = m.Commit(ctx, tr.ID, CommitOptions{})
	require.NoError(t, err)
	_, err = m.Commit(ctx, tr.ID, CommitOptions{PublishAt: &future})
	require.NoError(t, err)

	got, err := m.PublishedCommit(ctx, tr.ID, now)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)

	got, err = m.PublishedCommit(ctx, tr.ID, future.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, live.ID, got.ID)
}

func TestHistoryDetectsCycle(t *testing.T) {
	a := &store.Commit{ID: "a", ParentID: "b"}
	b := &store.Commit{ID: "b", ParentID: "a"}
	_, err := walk("a", []*store.Commit{a, b})
	assert.ErrorIs(t, err, ErrHistoryCycle)

	_, err = walk("a", []*store.Commit{a})
	assert.ErrorIs(t, err, ErrCommitNotFound)
}

func TestSweepOrphans(t *testing.T) {
	m, e := newTestManager(t)
	ctx := context.Background()

	site, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	owned, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	_, err = e.AddChild(ctx, mainBucket(t, m, site.ID), kinds.Page, tree.Attrs{kinds.TrackerAttr: owned.ID})
	require.NoError(t, err)

	loose, err := m.NewTracker(ctx, kinds.Layout, nil)
	require.NoError(t, err)
	_, err = m.Commit(ctx, loose.ID, CommitOptions{})
	require.NoError(t, err)

	plan, err := m.SweepOrphans(ctx, SweepOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, plan.Trackers, 2)
	assert.Equal(t, 1, plan.CommitCount)
	_, err = m.Tracker(ctx, loose.ID)
	require.NoError(t, err, "dry run deletes nothing")

	plan, err = m.SweepOrphans(ctx, SweepOptions{SinceDays: 30})
	require.NoError(t, err)
	assert.Empty(t, plan.Trackers, "trackers are too young")

	plan, err = m.SweepOrphans(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Len(t, plan.Trackers, 2)

	// The owning page lived in the swept site tracker, so the owned tracker
	// is only orphaned now and waits for the next sweep.
	trs, err := m.Trackers(ctx)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, owned.ID, trs[0].ID)

	orphan, err := m.IsOrphan(ctx, owned.ID)
	require.NoError(t, err)
	assert.True(t, orphan)
}

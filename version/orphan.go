package version

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bough/engine"
	"bough/store"
)

// IsOrphan reports whether no content of an owning kind references the
// tracker. Kinds opt out of ownership with an uncounted tracker reference.
func (m *Manager) IsOrphan(ctx context.Context, trackerID string) (orphan bool, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		if _, err := tx.Store().Tracker(trackerID); err != nil {
			return err
		}
		for _, owner := range m.e.Kinds().TrackerOwners() {
			n, err := tx.Store().ContentRefCount(owner.Kind, owner.Attr, trackerID)
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		orphan = true
		return nil
	})
	return orphan, err
}

// Orphans lists every tracker that no owning content references.
func (m *Manager) Orphans(ctx context.Context) (out []*store.Tracker, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		out, err = m.orphans(tx)
		return err
	})
	return out, err
}

func (m *Manager) orphans(tx *engine.Tx) ([]*store.Tracker, error) {
	owned := make(map[string]bool)
	for _, owner := range m.e.Kinds().TrackerOwners() {
		refs, err := tx.Store().ContentRefs(owner.Kind, owner.Attr)
		if err != nil {
			return nil, err
		}
		for id := range refs {
			owned[id] = true
		}
	}

	trackers, err := tx.Store().Trackers()
	if err != nil {
		return nil, err
	}
	var out []*store.Tracker
	for _, tr := range trackers {
		if !owned[tr.ID] {
			out = append(out, tr)
		}
	}
	return out, nil
}

// SweepPlan describes what a sweep removes.
type SweepPlan struct {
	// Trackers that are orphaned and old enough to remove.
	Trackers []*store.Tracker

	// Commits owned by those trackers.
	CommitCount int
}

// SweepOptions configures SweepOrphans.
type SweepOptions struct {
	// SinceDays only sweeps trackers created more than N days ago (0 = no limit)
	SinceDays int

	// DryRun computes the plan without deleting anything
	DryRun bool
}

// SweepOrphans deletes orphaned trackers together with their unshared trees.
// The plan is computed and executed in one transaction.
func (m *Manager) SweepOrphans(ctx context.Context, opts SweepOptions) (*SweepPlan, error) {
	var cutoffMs int64
	if opts.SinceDays > 0 {
		cutoffMs = time.Now().Add(-time.Duration(opts.SinceDays) * 24 * time.Hour).UnixMilli()
	}

	plan := &SweepPlan{}
	run := m.e.Update
	if opts.DryRun {
		run = m.e.View
	}
	err := run(ctx, func(tx *engine.Tx) error {
		orphans, err := m.orphans(tx)
		if err != nil {
			return err
		}
		for _, tr := range orphans {
			if cutoffMs > 0 && tr.CreatedAt > cutoffMs {
				continue
			}
			commits, err := tx.Store().CommitsByTracker(tr.ID)
			if err != nil {
				return err
			}
			plan.Trackers = append(plan.Trackers, tr)
			plan.CommitCount += len(commits)
		}
		if opts.DryRun {
			return nil
		}
		for _, tr := range plan.Trackers {
			if _, _, err := m.deleteTracker(tx, tr.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("swept orphaned trackers",
		zap.Int("trackers", len(plan.Trackers)),
		zap.Int("commits", plan.CommitCount),
		zap.Bool("dry_run", opts.DryRun))
	return plan, nil
}

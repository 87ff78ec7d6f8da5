package version

import (
	"context"
	"fmt"
	"time"

	"bough/engine"
	"bough/store"
)

// History walks the parent chain from the tracker's head, newest first.
// Each step is its own read; HistoryList loads everything at once.
func (m *Manager) History(ctx context.Context, trackerID string) (out []*store.Commit, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for id := tr.Head; id != ""; {
			if seen[id] {
				return fmt.Errorf("%w: %s revisited", ErrHistoryCycle, id)
			}
			seen[id] = true
			c, err := tx.Store().Commit(id)
			if err != nil {
				return err
			}
			out = append(out, c)
			id = c.ParentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryList returns the same sequence as History from a single read of the
// tracker's commits.
func (m *Manager) HistoryList(ctx context.Context, trackerID string) (out []*store.Commit, err error) {
	err = m.e.View(ctx, func(tx *engine.Tx) error {
		tr, err := tx.Store().Tracker(trackerID)
		if err != nil {
			return err
		}
		commits, err := tx.Store().CommitsByTracker(tr.ID)
		if err != nil {
			return err
		}
		out, err = walk(tr.Head, commits)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func walk(head string, commits []*store.Commit) ([]*store.Commit, error) {
	byID := make(map[string]*store.Commit, len(commits))
	for _, c := range commits {
		byID[c.ID] = c
	}

	var out []*store.Commit
	seen := make(map[string]bool, len(commits))
	for id := head; id != ""; {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s revisited", ErrHistoryCycle, id)
		}
		seen[id] = true
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, id)
		}
		out = append(out, c)
		id = c.ParentID
	}
	return out, nil
}

// PublishedCommit returns the newest commit in the tracker's history whose
// publish time is set and not after at.
func (m *Manager) PublishedCommit(ctx context.Context, trackerID string, at time.Time) (*store.Commit, error) {
	history, err := m.HistoryList(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	cutoff := at.UnixMilli()
	var best *store.Commit
	for _, c := range history {
		if c.PublishAt == nil || *c.PublishAt > cutoff {
			continue
		}
		if best == nil || *c.PublishAt > *best.PublishAt {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: tracker %s at %s", ErrNotPublished, trackerID, at.Format(time.RFC3339))
	}
	return best, nil
}

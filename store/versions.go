package store

import (
	"database/sql"
	"fmt"

	"bough/cas"
)

// ----- Trackers -----

// Tracker is a version tracker row. Head is "" before the first commit.
type Tracker struct {
	ID          string
	WorkingRoot string
	Head        string
	CreatedAt   int64
}

const trackerCols = `id, working_root, head, created_at`

func scanTracker(s scanner) (*Tracker, error) {
	var (
		tr   Tracker
		head sql.NullString
	)
	if err := s.Scan(&tr.ID, &tr.WorkingRoot, &head, &tr.CreatedAt); err != nil {
		return nil, err
	}
	tr.Head = head.String
	return &tr, nil
}

// InsertTracker stores a new tracker.
func (t *Tx) InsertTracker(tr *Tracker) error {
	if tr.CreatedAt == 0 {
		tr.CreatedAt = cas.NowMs()
	}
	if _, err := t.exec(`INSERT INTO trackers (id, working_root, head, created_at) VALUES (?, ?, ?, ?)`,
		tr.ID, tr.WorkingRoot, nullString(tr.Head), tr.CreatedAt); err != nil {
		return fmt.Errorf("inserting tracker: %w", err)
	}
	return nil
}

// Tracker loads a tracker by id.
func (t *Tx) Tracker(id string) (*Tracker, error) {
	tr, err := scanTracker(t.queryRow(`SELECT `+trackerCols+` FROM trackers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTrackerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying tracker: %w", err)
	}
	return tr, nil
}

// Trackers lists every tracker, oldest first.
func (t *Tx) Trackers() ([]*Tracker, error) {
	rows, err := t.query(`SELECT ` + trackerCols + ` FROM trackers ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying trackers: %w", err)
	}
	defer rows.Close()

	var out []*Tracker
	for rows.Next() {
		tr, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tracker: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// SetHead points the tracker at commit ("" clears it).
func (t *Tx) SetHead(trackerID, commitID string) error {
	return t.updateTracker(`UPDATE trackers SET head = ? WHERE id = ?`, nullString(commitID), trackerID)
}

// SetWorkingRoot replaces the tracker's working copy.
func (t *Tx) SetWorkingRoot(trackerID, rootID string) error {
	return t.updateTracker(`UPDATE trackers SET working_root = ? WHERE id = ?`, rootID, trackerID)
}

func (t *Tx) updateTracker(query string, args ...interface{}) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating tracker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTrackerNotFound
	}
	return nil
}

// DeleteTracker removes the tracker row. Its commits must be gone already.
func (t *Tx) DeleteTracker(id string) error {
	if _, err := t.exec(`DELETE FROM trackers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting tracker: %w", err)
	}
	return nil
}

// ----- Commits -----

// Commit is an immutable snapshot row. ParentID is "" for the first commit;
// PublishAt is nil for unpublished commits.
type Commit struct {
	ID        string
	TrackerID string
	ParentID  string
	RootID    string
	Author    string
	Message   string
	Digest    string
	CreatedAt int64
	PublishAt *int64
}

const commitCols = `id, tracker_id, parent_id, root_id, author, message, digest, created_at, publish_at`

func scanCommit(s scanner) (*Commit, error) {
	var (
		c         Commit
		parent    sql.NullString
		publishAt sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.TrackerID, &parent, &c.RootID, &c.Author, &c.Message, &c.Digest,
		&c.CreatedAt, &publishAt); err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	if publishAt.Valid {
		v := publishAt.Int64
		c.PublishAt = &v
	}
	return &c, nil
}

// InsertCommit stores a commit row.
func (t *Tx) InsertCommit(c *Commit) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = cas.NowMs()
	}
	var publishAt interface{}
	if c.PublishAt != nil {
		publishAt = *c.PublishAt
	}
	if _, err := t.exec(`INSERT INTO commits (`+commitCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TrackerID, nullString(c.ParentID), c.RootID, c.Author, c.Message, c.Digest,
		c.CreatedAt, publishAt); err != nil {
		return fmt.Errorf("inserting commit: %w", err)
	}
	return nil
}

// Commit loads a commit by id.
func (t *Tx) Commit(id string) (*Commit, error) {
	c, err := scanCommit(t.queryRow(`SELECT `+commitCols+` FROM commits WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying commit: %w", err)
	}
	return c, nil
}

// CommitsByTracker lists a tracker's commits in insertion order.
func (t *Tx) CommitsByTracker(trackerID string) ([]*Commit, error) {
	rows, err := t.query(`SELECT `+commitCols+` FROM commits WHERE tracker_id = ? ORDER BY created_at, rowid`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var out []*Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCommits removes every commit of a tracker.
func (t *Tx) DeleteCommits(trackerID string) error {
	if _, err := t.exec(`DELETE FROM commits WHERE tracker_id = ?`, trackerID); err != nil {
		return fmt.Errorf("deleting commits: %w", err)
	}
	return nil
}

// RootReferences counts tracker and commit rows pointing at root node id.
func (t *Tx) RootReferences(rootID string) (int, error) {
	var n int
	err := t.queryRow(`SELECT
		(SELECT COUNT(*) FROM trackers WHERE working_root = ?) +
		(SELECT COUNT(*) FROM commits WHERE root_id = ?)`, rootID, rootID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting root references: %w", err)
	}
	return n, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

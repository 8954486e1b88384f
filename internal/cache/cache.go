package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropic/whogitit/internal/snapshot"
)

// FileEntry is the cached per-file line breakdown of one commit.
type FileEntry struct {
	Path            string
	AILines         int
	AIModifiedLines int
	HumanLines      int
	OriginalLines   int
}

// Entry is the cached summary of one commit. HasNote false records a
// confirmed absence so unattributed commits are not re-fetched.
type Entry struct {
	Commit          string
	HasNote         bool
	SessionID       string
	Model           string
	AILines         int
	AIModifiedLines int
	HumanLines      int
	OriginalLines   int
	PromptCount     int
	Files           []FileEntry
}

// FromAttribution summarizes a fetched note into a cache entry.
func FromAttribution(commit string, attr *snapshot.AIAttribution) *Entry {
	e := &Entry{
		Commit:      commit,
		HasNote:     true,
		SessionID:   attr.Session.SessionID,
		Model:       attr.Session.Model.ID,
		PromptCount: len(attr.Prompts),
	}
	for _, f := range attr.Files {
		e.AILines += f.Summary.AI
		e.AIModifiedLines += f.Summary.AIModified
		e.HumanLines += f.Summary.Human
		e.OriginalLines += f.Summary.Original
		e.Files = append(e.Files, FileEntry{
			Path:            f.Path,
			AILines:         f.Summary.AI,
			AIModifiedLines: f.Summary.AIModified,
			HumanLines:      f.Summary.Human,
			OriginalLines:   f.Summary.Original,
		})
	}
	return e
}

// Absent records that a commit has no attribution note.
func Absent(commit string) *Entry {
	return &Entry{Commit: commit}
}

// Get returns the cached entry for a commit, nil on a miss.
func (c *Cache) Get(commit string) (*Entry, error) {
	e := &Entry{Commit: commit}
	var hasNote int
	err := c.db.QueryRow(`
		SELECT has_note, session_id, model, ai_lines, ai_modified_lines,
		       human_lines, original_lines, prompt_count
		FROM commits WHERE commit_id = ?`, commit).Scan(
		&hasNote, &e.SessionID, &e.Model, &e.AILines, &e.AIModifiedLines,
		&e.HumanLines, &e.OriginalLines, &e.PromptCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached commit %s: %w", commit, err)
	}
	e.HasNote = hasNote != 0

	rows, err := c.db.Query(`
		SELECT path, ai_lines, ai_modified_lines, human_lines, original_lines
		FROM commit_files WHERE commit_id = ? ORDER BY path`, commit)
	if err != nil {
		return nil, fmt.Errorf("read cached files for %s: %w", commit, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Path, &f.AILines, &f.AIModifiedLines, &f.HumanLines, &f.OriginalLines); err != nil {
			return nil, err
		}
		e.Files = append(e.Files, f)
	}
	return e, rows.Err()
}

// Put stores or replaces a commit's entry and its file rows.
func (c *Cache) Put(e *Entry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}

	hasNote := 0
	if e.HasNote {
		hasNote = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO commits (commit_id, has_note, session_id, model, ai_lines,
			ai_modified_lines, human_lines, original_lines, prompt_count, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(commit_id) DO UPDATE SET
			has_note = excluded.has_note,
			session_id = excluded.session_id,
			model = excluded.model,
			ai_lines = excluded.ai_lines,
			ai_modified_lines = excluded.ai_modified_lines,
			human_lines = excluded.human_lines,
			original_lines = excluded.original_lines,
			prompt_count = excluded.prompt_count,
			cached_at = excluded.cached_at`,
		e.Commit, hasNote, e.SessionID, e.Model, e.AILines,
		e.AIModifiedLines, e.HumanLines, e.OriginalLines, e.PromptCount, now)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write cached commit %s: %w", e.Commit, err)
	}

	if _, err := tx.Exec(`DELETE FROM commit_files WHERE commit_id = ?`, e.Commit); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear cached files for %s: %w", e.Commit, err)
	}
	for _, f := range e.Files {
		_, err := tx.Exec(`
			INSERT INTO commit_files (commit_id, path, ai_lines, ai_modified_lines, human_lines, original_lines)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.Commit, f.Path, f.AILines, f.AIModifiedLines, f.HumanLines, f.OriginalLines)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write cached file %s of %s: %w", f.Path, e.Commit, err)
		}
	}

	return tx.Commit()
}

// Invalidate drops a commit's entry, used when its note is removed or
// rewritten.
func (c *Cache) Invalidate(commit string) error {
	if _, err := c.db.Exec(`DELETE FROM commits WHERE commit_id = ?`, commit); err != nil {
		return fmt.Errorf("invalidate cached commit %s: %w", commit, err)
	}
	return nil
}

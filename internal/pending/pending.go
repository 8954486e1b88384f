// Package pending persists in-flight session state between hook
// invocations: per-file edit histories, prompts, and counters. The
// buffer lives at a well-known repo-local dotfile and is replaced
// atomically on every update.
package pending

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/anthropic/whogitit/internal/snapshot"
)

const (
	// FileName is the buffer path relative to the repository root.
	FileName = ".whogitit-pending.json"

	tmpSuffix       = ".tmp"
	corruptedPrefix = ".whogitit-pending.corrupted."

	// CurrentVersion is the buffer format written by this code.
	CurrentVersion = 3

	// DefaultMaxAge is the staleness cutoff for abandoned buffers.
	DefaultMaxAge = 24 * time.Hour
)

// Buffer accumulates one session's capture state.
type Buffer struct {
	Version         int                                  `json:"version"`
	Session         snapshot.SessionMetadata             `json:"session"`
	FileHistories   map[string]*snapshot.FileEditHistory `json:"file_histories"`
	Prompts         []snapshot.PromptRecord              `json:"prompts"`
	PromptCounter   int                                  `json:"prompt_counter"`
	TotalRedactions int                                  `json:"total_redactions"`
}

// New creates an empty buffer for a session.
func New(session snapshot.SessionMetadata) *Buffer {
	return &Buffer{
		Version:       CurrentVersion,
		Session:       session,
		FileHistories: make(map[string]*snapshot.FileEditHistory),
	}
}

// Path returns the buffer location for a repository root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, FileName)
}

// Load reads the buffer for repoRoot. A missing file returns (nil, nil).
// A corrupt file is backed up out of the way and also returns (nil, nil)
// so capture can start fresh rather than fail the hook.
func Load(repoRoot string) (*Buffer, error) {
	path := Path(repoRoot)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending buffer: %w", err)
	}

	buf, perr := parse(data)
	if perr != nil {
		// The writer may be mid-replace; retry once before declaring
		// the file corrupt.
		time.Sleep(50 * time.Millisecond)
		if data2, err2 := os.ReadFile(path); err2 == nil {
			if buf2, perr2 := parse(data2); perr2 == nil {
				return buf2, nil
			}
		}
		backup := filepath.Join(repoRoot, corruptedPrefix+time.Now().Format("20060102-150405"))
		if werr := os.WriteFile(backup, data, 0o600); werr == nil {
			log.Printf("pending: corrupt buffer backed up to %s: %v", backup, perr)
		} else {
			log.Printf("pending: corrupt buffer (backup failed: %v): %v", werr, perr)
		}
		_ = os.Remove(path)
		return nil, nil
	}
	return buf, nil
}

func parse(data []byte) (*Buffer, error) {
	var buf Buffer
	if err := json.Unmarshal(data, &buf); err != nil {
		return nil, err
	}
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if buf.FileHistories == nil {
		buf.FileHistories = make(map[string]*snapshot.FileEditHistory)
	}
	return &buf, nil
}

// Save writes the buffer atomically: temp file, fsync, rename, 0600.
func (b *Buffer) Save(repoRoot string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize pending buffer: %w", err)
	}

	path := Path(repoRoot)
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp buffer: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp buffer: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp buffer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace pending buffer: %w", err)
	}
	return nil
}

// Delete removes the buffer and any leftover temp file.
func Delete(repoRoot string) error {
	path := Path(repoRoot)
	_ = os.Remove(path + tmpSuffix)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete pending buffer: %w", err)
	}
	return nil
}

// Validate checks structural invariants: a known version, a UUID session
// id, a consistent prompt count, and non-empty histories.
func (b *Buffer) Validate() error {
	if b.Version != CurrentVersion && b.Version != CurrentVersion-1 {
		return fmt.Errorf("unsupported buffer version %d", b.Version)
	}
	if _, err := uuid.Parse(b.Session.SessionID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", b.Session.SessionID, err)
	}
	if b.Session.PromptCount != len(b.Prompts) {
		return fmt.Errorf("prompt count %d does not match %d prompts", b.Session.PromptCount, len(b.Prompts))
	}
	for path, h := range b.FileHistories {
		if len(h.Edits) == 0 {
			return fmt.Errorf("history for %s has no edits", path)
		}
	}
	return nil
}

// IsStale reports whether the session started longer ago than maxAge.
func (b *Buffer) IsStale(maxAge time.Duration) bool {
	if b.Session.StartedAt.IsZero() {
		return false
	}
	return time.Since(b.Session.StartedAt) > maxAge
}

// RecordEdit appends an AI edit for path. A nil before snapshot marks a
// new file. The prompt text is assumed to be post-redaction; an edit that
// repeats the previous prompt reuses its index so each distinct prompt
// occupies exactly one slot.
func (b *Buffer) RecordEdit(path string, before *snapshot.ContentSnapshot, after snapshot.ContentSnapshot, tool, promptText string, redactions []snapshot.RedactionEvent, ctx snapshot.EditContext) *snapshot.AIEdit {
	promptIndex := b.promptIndexFor(path, promptText, redactions)

	hist, ok := b.FileHistories[path]
	if !ok {
		h := snapshot.NewFileEditHistory(path, before)
		hist = &h
		b.FileHistories[path] = hist
	}

	var beforeSnap snapshot.ContentSnapshot
	if len(hist.Edits) > 0 {
		beforeSnap = hist.Edits[len(hist.Edits)-1].After
	} else if before != nil {
		beforeSnap = *before
	} else {
		beforeSnap = snapshot.Empty()
	}

	edit := snapshot.AIEdit{
		EditID:      uuid.NewString(),
		PromptIndex: promptIndex,
		Tool:        tool,
		Before:      beforeSnap,
		After:       after,
		Timestamp:   time.Now().UTC(),
		Context:     ctx,
	}
	hist.Edits = append(hist.Edits, edit)

	if ctx.PlanMode {
		b.Session.UsedPlanMode = true
	}
	if ctx.AgentDepth > b.Session.SubagentCount {
		b.Session.SubagentCount = ctx.AgentDepth
	}
	return &hist.Edits[len(hist.Edits)-1]
}

// promptIndexFor reuses the latest prompt when the text matches, else
// allocates the next index.
func (b *Buffer) promptIndexFor(path, text string, redactions []snapshot.RedactionEvent) int {
	if n := len(b.Prompts); n > 0 && b.Prompts[n-1].Text == text {
		last := &b.Prompts[n-1]
		if !containsPath(last.AffectedFiles, path) {
			last.AffectedFiles = append(last.AffectedFiles, path)
		}
		return last.Index
	}

	index := b.PromptCounter
	b.PromptCounter++
	b.Prompts = append(b.Prompts, snapshot.PromptRecord{
		Index:           index,
		Text:            text,
		Timestamp:       time.Now().UTC(),
		AffectedFiles:   []string{path},
		RedactionEvents: redactions,
	})
	for _, r := range redactions {
		b.TotalRedactions += r.Count
	}
	b.Session.PromptCount = len(b.Prompts)
	return index
}

func containsPath(paths []string, p string) bool {
	for _, q := range paths {
		if q == p {
			return true
		}
	}
	return false
}

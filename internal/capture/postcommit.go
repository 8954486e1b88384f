package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/anthropic/whogitit/internal/analyze"
	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/pending"
	"github.com/anthropic/whogitit/internal/retention"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// Finalize runs after a commit: it attributes every committed file that
// has pending history, stores the result as a note on the new commit,
// and carries unaffected histories forward for a later commit.
func (e *Engine) Finalize(ctx context.Context) (*snapshot.AIAttribution, error) {
	buf, err := pending.Load(e.repo.Root())
	if err != nil {
		return nil, err
	}
	if buf == nil || len(buf.FileHistories) == 0 {
		return nil, nil
	}

	head, err := e.repo.Head()
	if err != nil {
		return nil, err
	}
	changed, renames, err := commitChanges(ctx, head)
	if err != nil {
		return nil, err
	}

	analyzer := analyze.New(e.cfg.Analysis.SimilarityThreshold)

	var results []snapshot.FileAttribution
	remaining := make(map[string]*snapshot.FileEditHistory)
	processedPrompts := make(map[int]bool)
	remainingPrompts := make(map[int]bool)
	usedPlanMode := false
	subagentCount := 0

	paths := make([]string, 0, len(buf.FileHistories))
	for p := range buf.FileHistories {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		hist := buf.FileHistories[path]
		committedPath, inCommit := resolveCommittedPath(path, changed, renames)
		if !inCommit {
			for _, ed := range hist.Edits {
				remainingPrompts[ed.PromptIndex] = true
			}
			remaining[path] = hist
			continue
		}

		content, err := e.repo.FileAtCommit(head, committedPath)
		if err != nil {
			if errors.Is(err, gitutil.ErrNotFound) {
				// Deleted in the commit, or binary. Consumed either way.
				continue
			}
			return nil, err
		}

		var original *snapshot.ContentSnapshot
		if !hist.WasNewFile {
			original = &hist.Original
		}
		results = append(results, analyzer.File(committedPath, original, hist.Edits, content))

		for _, ed := range hist.Edits {
			processedPrompts[ed.PromptIndex] = true
			if ed.Context.PlanMode {
				usedPlanMode = true
			}
			if ed.Context.AgentDepth > 0 {
				subagentCount++
			}
		}
	}

	if len(results) == 0 {
		if err := e.saveRemaining(buf, remaining, remainingPrompts); err != nil {
			return nil, err
		}
		return nil, nil
	}

	attr := buildAttribution(buf, results, processedPrompts, usedPlanMode, subagentCount)
	if err := attr.Validate(); err != nil {
		log.Printf("capture: attribution failed validation: %v", err)
	}

	store := notes.NewStore(e.repo, e.redactor)
	if err := store.Put(ctx, head.Hash.String(), attr, false); err != nil {
		if errors.Is(err, notes.ErrNoteExists) {
			log.Printf("capture: commit %s already has attribution", head.Hash)
		} else {
			return nil, err
		}
	}

	if e.cfg.Retention.AutoPurge {
		eng := retention.New(e.repo, store, e.cfg.Retention)
		al := e.auditLog
		if !e.cfg.Privacy.AuditLog {
			al = nil
		}
		if _, err := eng.Sweep(ctx, true, "auto purge (post-commit)", al); err != nil {
			log.Printf("capture: auto purge: %v", err)
		}
	}

	// The note is durable; only now is it safe to drop processed state.
	if err := e.saveRemaining(buf, remaining, remainingPrompts); err != nil {
		return nil, err
	}

	totalAI := attr.TotalAILines() + attr.TotalAIModifiedLines()
	log.Printf("capture: attached attribution, %d AI lines, %d human lines across %d files",
		totalAI, attr.TotalHumanLines(), len(attr.Files))
	return attr, nil
}

// buildAttribution assembles the note payload. Prompt indexes in the
// buffer may be sparse after partial commits, so retained prompts are
// renumbered to their positions and every line reference follows.
func buildAttribution(buf *pending.Buffer, results []snapshot.FileAttribution, processed map[int]bool, usedPlanMode bool, subagentCount int) *snapshot.AIAttribution {
	var prompts []snapshot.PromptRecord
	remap := make(map[int]int)
	for _, p := range buf.Prompts {
		if !processed[p.Index] {
			continue
		}
		remap[p.Index] = len(prompts)
		q := p
		q.Index = len(prompts)
		prompts = append(prompts, q)
	}

	for fi := range results {
		for li := range results[fi].Lines {
			line := &results[fi].Lines[li]
			if line.PromptIndex == nil {
				continue
			}
			if pos, ok := remap[*line.PromptIndex]; ok {
				v := pos
				line.PromptIndex = &v
			}
		}
	}

	session := buf.Session
	session.PromptCount = len(prompts)
	session.UsedPlanMode = usedPlanMode
	session.SubagentCount = subagentCount

	return &snapshot.AIAttribution{
		Version: snapshot.NoteVersion,
		Session: session,
		Prompts: prompts,
		Files:   results,
	}
}

// saveRemaining persists histories whose files were not part of the
// commit, or deletes the buffer when nothing is left.
func (e *Engine) saveRemaining(buf *pending.Buffer, remaining map[string]*snapshot.FileEditHistory, keep map[int]bool) error {
	if len(remaining) == 0 {
		return pending.Delete(e.repo.Root())
	}

	var prompts []snapshot.PromptRecord
	nextIndex := 0
	redactions := 0
	for _, p := range buf.Prompts {
		if !keep[p.Index] {
			continue
		}
		prompts = append(prompts, p)
		if p.Index+1 > nextIndex {
			nextIndex = p.Index + 1
		}
		for _, r := range p.RedactionEvents {
			redactions += r.Count
		}
	}

	buf.FileHistories = remaining
	buf.Prompts = prompts
	buf.PromptCounter = nextIndex
	buf.TotalRedactions = redactions
	buf.Session.PromptCount = len(prompts)
	return buf.Save(e.repo.Root())
}

// commitChanges enumerates the paths a commit touched relative to all
// of its parents, with rename pairs detected separately. A root commit
// counts every file in its tree.
func commitChanges(ctx context.Context, head *object.Commit) (map[string]bool, map[string]string, error) {
	changed := make(map[string]bool)
	renames := make(map[string]string)

	newTree, err := head.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("commit tree: %w", err)
	}

	if head.NumParents() == 0 {
		err := newTree.Files().ForEach(func(f *object.File) error {
			changed[f.Name] = true
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return changed, renames, nil
	}

	for i := 0; i < head.NumParents(); i++ {
		parent, err := head.Parent(i)
		if err != nil {
			continue
		}
		oldTree, err := parent.Tree()
		if err != nil {
			continue
		}
		changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("diff against parent %s: %w", parent.Hash, err)
		}
		for _, ch := range changes {
			from, to := ch.From.Name, ch.To.Name
			if from != "" {
				changed[from] = true
			}
			if to != "" {
				changed[to] = true
			}
			if from != "" && to != "" && from != to {
				if _, ok := renames[from]; !ok {
					renames[from] = to
				}
			}
		}
	}
	return changed, renames, nil
}

// resolveCommittedPath maps a pending path to its name in the commit,
// following renames.
func resolveCommittedPath(path string, changed map[string]bool, renames map[string]string) (string, bool) {
	if newPath, ok := renames[path]; ok {
		if changed[path] || changed[newPath] {
			return newPath, true
		}
	}
	if changed[path] {
		return path, true
	}
	return "", false
}

// Status summarizes the pending buffer for user-facing commands.
type Status struct {
	HasPending  bool
	SessionID   string
	FileCount   int
	EditCount   int
	LineCount   int
	PromptCount int
	IsStale     bool
	Age         time.Duration
	MaxAge      time.Duration
}

// PendingStatus inspects the buffer without mutating it.
func (e *Engine) PendingStatus() (Status, error) {
	maxAge := time.Duration(e.cfg.Analysis.MaxPendingAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = pending.DefaultMaxAge
	}
	st := Status{MaxAge: maxAge}

	buf, err := pending.Load(e.repo.Root())
	if err != nil {
		return st, err
	}
	if buf == nil {
		return st, nil
	}

	st.HasPending = len(buf.FileHistories) > 0
	st.SessionID = buf.Session.SessionID
	st.FileCount = len(buf.FileHistories)
	st.PromptCount = len(buf.Prompts)
	st.IsStale = buf.IsStale(maxAge)
	if !buf.Session.StartedAt.IsZero() {
		st.Age = time.Since(buf.Session.StartedAt)
	}
	for _, h := range buf.FileHistories {
		st.EditCount += len(h.Edits)
		if n := len(h.Edits); n > 0 {
			st.LineCount += h.Edits[n-1].After.LineCount
		}
	}
	return st, nil
}

// ClearPending drops the buffer without attributing anything.
func (e *Engine) ClearPending() error {
	return pending.Delete(e.repo.Root())
}

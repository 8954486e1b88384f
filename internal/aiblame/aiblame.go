// Package aiblame joins VCS blame with attribution notes to answer
// per-line origin queries: which commit introduced a line, and whether
// an AI wrote it.
package aiblame

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// promptPreviewLen caps the prompt preview shown per line.
const promptPreviewLen = 60

// Line is one blamed line joined with its attribution.
type Line struct {
	LineNumber    int                 `json:"line_number"`
	Content       string              `json:"content"`
	Commit        string              `json:"commit"`
	CommitShort   string              `json:"commit_short"`
	Author        string              `json:"author"`
	Source        snapshot.LineSource `json:"source"`
	PromptIndex   *int                `json:"prompt_index,omitempty"`
	PromptPreview string              `json:"prompt_preview,omitempty"`
}

// Result is a full blame of one file at one revision.
type Result struct {
	Path     string `json:"path"`
	Revision string `json:"revision"`
	Lines    []Line `json:"lines"`
}

// Summary tallies the sources across the result.
func (r *Result) Summary() snapshot.AttributionSummary {
	s := snapshot.AttributionSummary{Total: len(r.Lines)}
	for _, l := range r.Lines {
		switch l.Source.Type {
		case snapshot.SourceAI:
			s.AI++
		case snapshot.SourceAIModified:
			s.AIModified++
		case snapshot.SourceHuman:
			s.Human++
		case snapshot.SourceOriginal:
			s.Original++
		default:
			s.Unknown++
		}
	}
	return s
}

// Blamer answers blame queries, caching one attribution fetch per
// commit across a query.
type Blamer struct {
	repo  *gitutil.Repository
	store *notes.Store
	cache map[string]*snapshot.AIAttribution
}

// New builds a blamer over a repository and its notes store.
func New(repo *gitutil.Repository, store *notes.Store) *Blamer {
	return &Blamer{
		repo:  repo,
		store: store,
		cache: make(map[string]*snapshot.AIAttribution),
	}
}

// Blame runs VCS blame for path at revision (HEAD when empty) and joins
// each line with its originating commit's attribution.
func (b *Blamer) Blame(ctx context.Context, path, revision string) (*Result, error) {
	if revision == "" {
		revision = "HEAD"
	}
	out, err := b.repo.Git(ctx, "blame", "--line-porcelain", revision, "--", path)
	if err != nil {
		return nil, fmt.Errorf("blame %s at %s: %w", path, revision, err)
	}

	raw := ParsePorcelain(out)
	result := &Result{Path: path, Revision: revision, Lines: make([]Line, 0, len(raw))}

	for _, pl := range raw {
		line := Line{
			LineNumber:  pl.FinalLine,
			Content:     pl.Content,
			Commit:      pl.Commit,
			CommitShort: shortSHA(pl.Commit),
			Author:      pl.Author,
			Source:      snapshot.UnknownSource(),
		}

		attr := b.attribution(ctx, pl.Commit)
		if attr != nil {
			if la := findLine(attr, path, pl.OrigLine, pl.Content); la != nil {
				line.Source = la.Source
				line.PromptIndex = la.PromptIndex
				if la.PromptIndex != nil && *la.PromptIndex < len(attr.Prompts) {
					line.PromptPreview = previewPrompt(attr.Prompts[*la.PromptIndex].Text)
				}
			}
		}
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

// Attribution fetches and caches the note for a commit. Absence is
// cached too.
func (b *Blamer) attribution(ctx context.Context, commit string) *snapshot.AIAttribution {
	if attr, ok := b.cache[commit]; ok {
		return attr
	}
	attr, err := b.store.Fetch(ctx, commit)
	if err != nil {
		attr = nil
	}
	b.cache[commit] = attr
	return attr
}

// CommitAttribution exposes the cached fetch for callers that need the
// whole note.
func (b *Blamer) CommitAttribution(ctx context.Context, commit string) *snapshot.AIAttribution {
	return b.attribution(ctx, commit)
}

// findLine locates the attribution entry for a line. Line number in
// the originating commit is authoritative; when it does not line up
// (the note may predate later renumbering), fall back to exact content.
func findLine(attr *snapshot.AIAttribution, path string, origLine int, content string) *snapshot.LineAttribution {
	var file *snapshot.FileAttribution
	for i := range attr.Files {
		if attr.Files[i].Path == path {
			file = &attr.Files[i]
			break
		}
	}
	if file == nil {
		return nil
	}

	if origLine >= 1 && origLine <= len(file.Lines) {
		la := &file.Lines[origLine-1]
		if la.Content == content || la.Content == "" {
			return la
		}
	}

	// Content fallback. Attribution lines are in file order, so the
	// first hit reflects the earliest producing edit.
	for i := range file.Lines {
		if file.Lines[i].Content == content && content != "" {
			return &file.Lines[i]
		}
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func previewPrompt(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= promptPreviewLen {
		return trimmed
	}
	cut := promptPreviewLen - 3
	for cut > 0 && !isRuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// PorcelainLine is one line of `git blame --line-porcelain` output.
type PorcelainLine struct {
	Commit    string
	OrigLine  int
	FinalLine int
	Author    string
	Content   string
}

// ParsePorcelain parses line-porcelain blame output. Each group starts
// with "<sha> <orig> <final> [count]", carries header fields, and ends
// with a tab-prefixed content line.
func ParsePorcelain(out string) []PorcelainLine {
	var lines []PorcelainLine
	var cur *PorcelainLine

	for _, raw := range strings.Split(out, "\n") {
		if strings.HasPrefix(raw, "\t") {
			if cur != nil {
				cur.Content = raw[1:]
				lines = append(lines, *cur)
				cur = nil
			}
			continue
		}
		if h, ok := parseHeader(raw); ok {
			cur = h
			continue
		}
		if cur != nil && strings.HasPrefix(raw, "author ") {
			cur.Author = strings.TrimPrefix(raw, "author ")
		}
	}
	return lines
}

func parseHeader(raw string) (*PorcelainLine, bool) {
	fields := strings.Fields(raw)
	if len(fields) < 3 || len(fields[0]) != 40 {
		return nil, false
	}
	for _, c := range fields[0] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return nil, false
		}
	}
	orig, err1 := strconv.Atoi(fields[1])
	final, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return &PorcelainLine{Commit: fields[0], OrigLine: orig, FinalLine: final}, true
}

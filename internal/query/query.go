// Package query answers user-facing questions over stored attribution:
// per-commit records, range summaries, exports, diff annotations, and
// prompt lookups. Every machine-readable result carries a schema
// envelope.
package query

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/anthropic/whogitit/internal/aiblame"
	"github.com/anthropic/whogitit/internal/cache"
	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// SchemaVersion is the machine-output envelope version.
const SchemaVersion = 1

// Schema names.
const (
	SchemaBlame       = "blame.v1"
	SchemaPrompt      = "prompt.v1"
	SchemaShow        = "show.v1"
	SchemaSummary     = "summary.v1"
	SchemaAnnotations = "annotations.v1"
)

// Service runs queries over one repository.
type Service struct {
	repo   *gitutil.Repository
	store  *notes.Store
	blamer *aiblame.Blamer
	cache  *cache.Cache
}

// NewService builds a query service.
func NewService(repo *gitutil.Repository, store *notes.Store) *Service {
	return &Service{repo: repo, store: store, blamer: aiblame.New(repo, store)}
}

// SetCache attaches a summary cache. Range queries read through it and
// fill it on miss.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Blamer exposes the shared blame join.
func (s *Service) Blamer() *aiblame.Blamer {
	return s.blamer
}

// commitEntry resolves one commit's summary, consulting the cache
// first. Absence is cached too so cold commits stay cheap.
func (s *Service) commitEntry(ctx context.Context, sha string) *cache.Entry {
	if s.cache != nil {
		if e, err := s.cache.Get(sha); err == nil && e != nil {
			return e
		}
	}
	attr, err := s.store.Fetch(ctx, sha)
	if err != nil {
		return cache.Absent(sha)
	}
	var e *cache.Entry
	if attr == nil {
		e = cache.Absent(sha)
	} else {
		e = cache.FromAttribution(sha, attr)
	}
	if s.cache != nil {
		// A failed cache write costs a re-fetch later, nothing more.
		_ = s.cache.Put(e)
	}
	return e
}

// ShowResult is the per-commit attribution envelope. Attribution is
// nil when the commit has none.
type ShowResult struct {
	SchemaVersion  int                     `json:"schema_version"`
	Schema         string                  `json:"schema"`
	HasAttribution bool                    `json:"has_attribution"`
	Commit         string                  `json:"commit"`
	Attribution    *snapshot.AIAttribution `json:"attribution,omitempty"`
}

// Show fetches the attribution for one commit.
func (s *Service) Show(ctx context.Context, revision string) (*ShowResult, error) {
	if revision == "" {
		revision = "HEAD"
	}
	commit, err := s.repo.ResolveCommit(revision)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", revision, err)
	}
	sha := commit.Hash.String()
	attr, err := s.store.Fetch(ctx, sha)
	if err != nil {
		return nil, err
	}
	return &ShowResult{
		SchemaVersion:  SchemaVersion,
		Schema:         SchemaShow,
		HasAttribution: attr != nil,
		Commit:         sha,
		Attribution:    attr,
	}, nil
}

// walkRange visits every commit in (base, head], newest first. An
// empty base walks the whole history below head.
func (s *Service) walkRange(base, head string, visit func(*object.Commit) error) error {
	if head == "" {
		head = "HEAD"
	}
	headCommit, err := s.repo.ResolveCommit(head)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", head, err)
	}

	seen := make(map[plumbing.Hash]bool)
	if base != "" {
		baseCommit, err := s.repo.ResolveCommit(base)
		if err != nil {
			return fmt.Errorf("resolve base %s: %w", base, err)
		}
		iter := object.NewCommitPreorderIter(baseCommit, nil, nil)
		err = iter.ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk base %s: %w", base, err)
		}
	}

	iter := object.NewCommitPreorderIter(headCommit, seen, nil)
	return iter.ForEach(visit)
}

// FileSummary is the per-file breakdown of additions in a range.
type FileSummary struct {
	Path            string  `json:"path"`
	AILines         int     `json:"ai_lines"`
	AIModifiedLines int     `json:"ai_modified_lines"`
	HumanLines      int     `json:"human_lines"`
	OriginalLines   int     `json:"original_lines"`
	IsNewFile       bool    `json:"is_new_file"`
	Additions       int     `json:"additions"`
	AIAdditions     int     `json:"ai_additions"`
	AIPercent       float64 `json:"ai_percent"`
}

func (f *FileSummary) finish() {
	f.Additions = f.AILines + f.AIModifiedLines + f.HumanLines
	f.AIAdditions = f.AILines + f.AIModifiedLines
	if f.Additions > 0 {
		f.AIPercent = float64(f.AIAdditions) / float64(f.Additions) * 100
	}
}

// Summary aggregates attribution over a commit range. Percentages are
// of additions, not of all lines: original lines give context only.
type Summary struct {
	SchemaVersion   int           `json:"schema_version"`
	Schema          string        `json:"schema"`
	CommitsAnalyzed int           `json:"commits_analyzed"`
	CommitsWithAI   int           `json:"commits_with_ai"`
	AILines         int           `json:"ai_lines"`
	AIModifiedLines int           `json:"ai_modified_lines"`
	HumanLines      int           `json:"human_lines"`
	OriginalLines   int           `json:"original_lines"`
	TotalAdditions  int           `json:"total_additions"`
	AIPercentage    float64       `json:"ai_percentage"`
	Files           []FileSummary `json:"files"`
	Models          []string      `json:"models"`
}

// AIAdditions is the AI share of added lines.
func (s *Summary) AIAdditions() int {
	return s.AILines + s.AIModifiedLines
}

// Summarize aggregates attribution for every commit in (base, head].
func (s *Service) Summarize(ctx context.Context, base, head string) (*Summary, error) {
	sum := &Summary{SchemaVersion: SchemaVersion, Schema: SchemaSummary}
	byPath := make(map[string]*FileSummary)
	var order []string

	err := s.walkRange(base, head, func(c *object.Commit) error {
		sum.CommitsAnalyzed++
		e := s.commitEntry(ctx, c.Hash.String())
		if !e.HasNote {
			return nil
		}
		sum.CommitsWithAI++
		sum.AILines += e.AILines
		sum.AIModifiedLines += e.AIModifiedLines
		sum.HumanLines += e.HumanLines
		sum.OriginalLines += e.OriginalLines

		for _, f := range e.Files {
			fs, ok := byPath[f.Path]
			if !ok {
				isNew := f.OriginalLines == 0 &&
					(f.AILines > 0 || f.AIModifiedLines > 0 || f.HumanLines > 0)
				fs = &FileSummary{Path: f.Path, IsNewFile: isNew}
				byPath[f.Path] = fs
				order = append(order, f.Path)
			}
			fs.AILines += f.AILines
			fs.AIModifiedLines += f.AIModifiedLines
			fs.HumanLines += f.HumanLines
			fs.OriginalLines += f.OriginalLines
		}

		if !containsString(sum.Models, e.Model) {
			sum.Models = append(sum.Models, e.Model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, path := range order {
		fs := byPath[path]
		fs.finish()
		sum.Files = append(sum.Files, *fs)
	}
	sum.TotalAdditions = sum.AILines + sum.AIModifiedLines + sum.HumanLines
	if sum.TotalAdditions > 0 {
		sum.AIPercentage = float64(sum.AIAdditions()) / float64(sum.TotalAdditions) * 100
	}
	return sum, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

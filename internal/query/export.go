package query

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// ExportVersion marks the export payload format.
const ExportVersion = 1

// DefaultPromptMaxLen caps prompt text in exports unless full prompts
// are requested.
const DefaultPromptMaxLen = 100

// ExportOptions selects the commit range and prompt handling.
type ExportOptions struct {
	// Since and Until are inclusive calendar days, "2006-01-02".
	// Empty means unbounded on that side.
	Since string
	Until string

	// FullPrompts disables prompt truncation.
	FullPrompts bool

	// PromptMaxLen overrides the truncation cap when positive.
	PromptMaxLen int
}

// ExportPrompt is one prompt in an exported commit.
type ExportPrompt struct {
	Index         int      `json:"index"`
	Text          string   `json:"text"`
	AffectedFiles []string `json:"affected_files"`
}

// CommitExport is one attributed commit in an export.
type CommitExport struct {
	CommitID        string         `json:"commit_id"`
	CommitShort     string         `json:"commit_short"`
	Message         string         `json:"message"`
	Author          string         `json:"author"`
	CommittedAt     time.Time      `json:"committed_at"`
	SessionID       string         `json:"session_id"`
	Model           string         `json:"model"`
	AILines         int            `json:"ai_lines"`
	AIModifiedLines int            `json:"ai_modified_lines"`
	HumanLines      int            `json:"human_lines"`
	OriginalLines   int            `json:"original_lines"`
	Files           []string       `json:"files"`
	Prompts         []ExportPrompt `json:"prompts"`
}

// DateRange echoes the requested bounds in the export.
type DateRange struct {
	Since string `json:"since,omitempty"`
	Until string `json:"until,omitempty"`
}

// ExportSummary totals the exported commits.
type ExportSummary struct {
	TotalCommits    int `json:"total_commits"`
	CommitsWithAI   int `json:"commits_with_ai"`
	AILines         int `json:"ai_lines"`
	AIModifiedLines int `json:"ai_modified_lines"`
	HumanLines      int `json:"human_lines"`
	OriginalLines   int `json:"original_lines"`
	TotalPrompts    int `json:"total_prompts"`
}

// Export is the full attribution export for external analysis.
type Export struct {
	ExportVersion int            `json:"export_version"`
	ExportedAt    time.Time      `json:"exported_at"`
	DateRange     DateRange      `json:"date_range"`
	Commits       []CommitExport `json:"commits"`
	Summary       ExportSummary  `json:"summary"`
}

// parseDay parses a "2006-01-02" date in UTC.
func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// dateBounds turns since/until days into an inclusive time window:
// since starts at midnight, until ends at 23:59:59.
func dateBounds(since, until string) (time.Time, time.Time, error) {
	var lo, hi time.Time
	if since != "" {
		t, err := parseDay(since)
		if err != nil {
			return lo, hi, err
		}
		lo = t
	}
	if until != "" {
		t, err := parseDay(until)
		if err != nil {
			return lo, hi, err
		}
		hi = t.Add(24*time.Hour - time.Second)
	}
	if !lo.IsZero() && !hi.IsZero() && lo.After(hi) {
		return lo, hi, fmt.Errorf("since %s is after until %s", since, until)
	}
	return lo, hi, nil
}

// Export collects every attributed commit reachable from HEAD within
// the date window, newest first.
func (s *Service) Export(ctx context.Context, opts ExportOptions) (*Export, error) {
	lo, hi, err := dateBounds(opts.Since, opts.Until)
	if err != nil {
		return nil, err
	}
	maxLen := opts.PromptMaxLen
	if maxLen <= 0 {
		maxLen = DefaultPromptMaxLen
	}

	exp := &Export{
		ExportVersion: ExportVersion,
		ExportedAt:    time.Now().UTC(),
		DateRange:     DateRange{Since: opts.Since, Until: opts.Until},
		Commits:       []CommitExport{},
	}

	err = s.walkRange("", "HEAD", func(c *object.Commit) error {
		when := c.Committer.When
		if !lo.IsZero() && when.Before(lo) {
			return nil
		}
		if !hi.IsZero() && when.After(hi) {
			return nil
		}
		// The cache answers "no note here" without a git round trip;
		// prompts still need the full note.
		if s.cache != nil {
			if e, err := s.cache.Get(c.Hash.String()); err == nil && e != nil && !e.HasNote {
				return nil
			}
		}
		attr, err := s.store.Fetch(ctx, c.Hash.String())
		if err != nil || attr == nil {
			return nil
		}

		ce := CommitExport{
			CommitID:    c.Hash.String(),
			CommitShort: c.Hash.String()[:7],
			Message:     firstLine(c.Message),
			Author:      c.Author.Name,
			CommittedAt: when,
			SessionID:   attr.Session.SessionID,
			Model:       attr.Session.Model.ID,
			Files:       []string{},
			Prompts:     []ExportPrompt{},
		}
		for _, f := range attr.Files {
			ce.AILines += f.Summary.AI
			ce.AIModifiedLines += f.Summary.AIModified
			ce.HumanLines += f.Summary.Human
			ce.OriginalLines += f.Summary.Original
			ce.Files = append(ce.Files, f.Path)
		}
		for _, p := range attr.Prompts {
			text := p.Text
			if !opts.FullPrompts {
				text = truncateText(text, maxLen)
			}
			ce.Prompts = append(ce.Prompts, ExportPrompt{
				Index:         p.Index,
				Text:          text,
				AffectedFiles: p.AffectedFiles,
			})
		}
		exp.Commits = append(exp.Commits, ce)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(exp.Commits, func(i, j int) bool {
		return exp.Commits[i].CommittedAt.After(exp.Commits[j].CommittedAt)
	})

	for _, ce := range exp.Commits {
		exp.Summary.TotalCommits++
		if ce.AILines > 0 {
			exp.Summary.CommitsWithAI++
		}
		exp.Summary.AILines += ce.AILines
		exp.Summary.AIModifiedLines += ce.AIModifiedLines
		exp.Summary.HumanLines += ce.HumanLines
		exp.Summary.OriginalLines += ce.OriginalLines
		exp.Summary.TotalPrompts += len(ce.Prompts)
	}
	return exp, nil
}

// csvHeader is the fixed column order of CSV exports.
const csvHeader = "commit_id,commit_short,message,author,committed_at,session_id,model,ai_lines,ai_modified_lines,human_lines,original_lines,files_count,prompts_count"

// WriteCSV renders the export as CSV. Free-text fields are sanitized
// rather than quoted so the output stays one line per commit.
func (e *Export) WriteCSV(w io.Writer) error {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteByte('\n')
	for _, c := range e.Commits {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s,%s,%d,%d,%d,%d,%d,%d\n",
			c.CommitID,
			c.CommitShort,
			csvField(c.Message),
			csvField(c.Author),
			c.CommittedAt.Format(time.RFC3339),
			c.SessionID,
			c.Model,
			c.AILines,
			c.AIModifiedLines,
			c.HumanLines,
			c.OriginalLines,
			len(c.Files),
			len(c.Prompts),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func csvField(s string) string {
	s = strings.ReplaceAll(s, ",", ";")
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimRight(msg[:i], "\r")
	}
	return msg
}

// truncateText caps s at max bytes on a rune boundary, appending an
// ellipsis when anything was dropped.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

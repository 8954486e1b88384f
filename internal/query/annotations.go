package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropic/whogitit/internal/snapshot"
)

// Annotation limits.
const (
	DefaultConsolidateThreshold = 0.7
	DefaultMinLines             = 1
	MaxAnnotations              = 50
	annotationPromptMaxLen      = 200
)

// AnnotationMode selects file-level vs line-level annotations.
type AnnotationMode string

const (
	// ModeAuto consolidates per file when AI coverage is high enough.
	ModeAuto AnnotationMode = "auto"
	// ModeFile forces one annotation per file.
	ModeFile AnnotationMode = "file"
	// ModeLines forces per-group line annotations.
	ModeLines AnnotationMode = "lines"
)

// AnnotationOptions tunes annotation generation.
type AnnotationOptions struct {
	Revision  string
	Mode      AnnotationMode
	Threshold float64 // AI coverage above which a file consolidates
	MinLines  int     // smallest line group worth annotating
}

// CheckAnnotation is one GitHub Checks API annotation.
type CheckAnnotation struct {
	Path            string `json:"path"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	AnnotationLevel string `json:"annotation_level"`
	Title           string `json:"title"`
	Message         string `json:"message"`
}

// AnnotationsResult is the Checks payload for one commit.
type AnnotationsResult struct {
	SchemaVersion int               `json:"schema_version"`
	Schema        string            `json:"schema"`
	Commit        string            `json:"commit"`
	Annotations   []CheckAnnotation `json:"annotations"`
	Summary       struct {
		FilesAnalyzed int    `json:"files_analyzed"`
		Model         string `json:"model"`
	} `json:"summary"`
}

// Annotations builds GitHub Checks annotations from a commit's
// attribution. A commit without attribution yields an empty set.
func (s *Service) Annotations(ctx context.Context, opts AnnotationOptions) (*AnnotationsResult, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultConsolidateThreshold
	}
	if opts.MinLines <= 0 {
		opts.MinLines = DefaultMinLines
	}

	show, err := s.Show(ctx, opts.Revision)
	if err != nil {
		return nil, err
	}
	res := &AnnotationsResult{
		SchemaVersion: SchemaVersion,
		Schema:        SchemaAnnotations,
		Commit:        show.Commit,
		Annotations:   []CheckAnnotation{},
	}
	if !show.HasAttribution {
		return res, nil
	}
	attr := show.Attribution
	res.Summary.Model = attr.Session.Model.ID

	for _, f := range attr.Files {
		stats := fileStats(&f)
		if stats.aiTotal == 0 {
			continue
		}
		res.Summary.FilesAnalyzed++

		consolidate := opts.Mode == ModeFile ||
			(opts.Mode == ModeAuto && stats.shouldConsolidate(opts.Threshold))
		if consolidate {
			res.Annotations = append(res.Annotations, fileAnnotation(&f, stats, attr))
		} else {
			res.Annotations = append(res.Annotations, lineAnnotations(&f, attr, opts.MinLines)...)
		}
		if len(res.Annotations) >= MaxAnnotations {
			res.Annotations = res.Annotations[:MaxAnnotations]
			break
		}
	}
	return res, nil
}

type annotationStats struct {
	total       int
	ai          int
	aiModified  int
	aiTotal     int
	promptCount int
	isNewFile   bool
}

func fileStats(f *snapshot.FileAttribution) annotationStats {
	st := annotationStats{total: len(f.Lines)}
	prompts := make(map[int]bool)
	original := 0
	for _, l := range f.Lines {
		switch l.Source.Type {
		case snapshot.SourceAI:
			st.ai++
		case snapshot.SourceAIModified:
			st.aiModified++
		case snapshot.SourceOriginal:
			original++
		}
		if l.PromptIndex != nil {
			prompts[*l.PromptIndex] = true
		}
	}
	st.aiTotal = st.ai + st.aiModified
	st.promptCount = len(prompts)
	st.isNewFile = original == 0 && st.total > 0
	return st
}

// shouldConsolidate collapses a file to one annotation when it is new
// or mostly AI from a single prompt.
func (st annotationStats) shouldConsolidate(threshold float64) bool {
	if st.isNewFile {
		return true
	}
	if st.total == 0 {
		return false
	}
	coverage := float64(st.aiTotal) / float64(st.total)
	return coverage >= threshold && st.promptCount <= 1
}

func fileAnnotation(f *snapshot.FileAttribution, st annotationStats, attr *snapshot.AIAttribution) CheckAnnotation {
	var title string
	if st.isNewFile {
		title = fmt.Sprintf("New file (%d lines) generated by AI", st.total)
	} else {
		pct := float64(st.aiTotal) / float64(st.total) * 100
		title = fmt.Sprintf("%.0f%% AI-generated (%d of %d lines)", pct, st.aiTotal, st.total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s | Timestamp: %s",
		attr.Session.Model.ID, attr.Session.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "\n\n**Breakdown:** %d AI, %d AI-modified, %d human, %d original",
		st.ai, st.aiModified, st.total-st.aiTotal-originalCount(f), originalCount(f))
	if text := firstPromptText(f, attr); text != "" {
		fmt.Fprintf(&b, "\n\n**Prompt:** %s", truncateText(text, annotationPromptMaxLen))
	}

	end := st.total
	if end < 1 {
		end = 1
	}
	return CheckAnnotation{
		Path:            f.Path,
		StartLine:       1,
		EndLine:         end,
		AnnotationLevel: "notice",
		Title:           title,
		Message:         b.String(),
	}
}

func originalCount(f *snapshot.FileAttribution) int {
	n := 0
	for _, l := range f.Lines {
		if l.Source.Type == snapshot.SourceOriginal {
			n++
		}
	}
	return n
}

func firstPromptText(f *snapshot.FileAttribution, attr *snapshot.AIAttribution) string {
	for _, l := range f.Lines {
		if l.PromptIndex != nil && *l.PromptIndex < len(attr.Prompts) {
			return attr.Prompts[*l.PromptIndex].Text
		}
	}
	return ""
}

// lineGroup is a run of consecutive lines sharing one AI source type.
type lineGroup struct {
	start, end  int
	sourceType  snapshot.SourceType
	promptIndex *int
}

// groupAILines runs over the file collecting consecutive AI and
// AI-modified spans. A change of source type breaks the run.
func groupAILines(lines []snapshot.LineAttribution) []lineGroup {
	var groups []lineGroup
	var cur *lineGroup
	for _, l := range lines {
		if !l.Source.IsAI() {
			cur = nil
			continue
		}
		if cur != nil && cur.sourceType == l.Source.Type && l.LineNumber == cur.end+1 {
			cur.end = l.LineNumber
			continue
		}
		groups = append(groups, lineGroup{
			start:       l.LineNumber,
			end:         l.LineNumber,
			sourceType:  l.Source.Type,
			promptIndex: l.PromptIndex,
		})
		cur = &groups[len(groups)-1]
	}
	return groups
}

func lineAnnotations(f *snapshot.FileAttribution, attr *snapshot.AIAttribution, minLines int) []CheckAnnotation {
	var out []CheckAnnotation
	for _, g := range groupAILines(f.Lines) {
		n := g.end - g.start + 1
		if n < minLines {
			continue
		}
		kind := "AI Generated"
		if g.sourceType == snapshot.SourceAIModified {
			kind = "AI Modified"
		}
		msg := "Model: " + attr.Session.Model.ID
		if g.promptIndex != nil && *g.promptIndex < len(attr.Prompts) {
			msg += "\n\n**Prompt:** " + truncateText(attr.Prompts[*g.promptIndex].Text, annotationPromptMaxLen)
		}
		out = append(out, CheckAnnotation{
			Path:            f.Path,
			StartLine:       g.start,
			EndLine:         g.end,
			AnnotationLevel: "notice",
			Title:           fmt.Sprintf("%s (%d lines)", kind, n),
			Message:         msg,
		})
	}
	return out
}

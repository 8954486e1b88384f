package snapshot

import (
	"fmt"
	"time"
)

// NoteVersion is the attribution note payload version.
const NoteVersion = 3

// SourceType identifies where a line came from.
type SourceType string

const (
	SourceOriginal   SourceType = "Original"
	SourceAI         SourceType = "AI"
	SourceAIModified SourceType = "AIModified"
	SourceHuman      SourceType = "Human"
	SourceUnknown    SourceType = "Unknown"
)

// LineSource is the tagged origin of a line. EditID is set for AI and
// AIModified; Similarity is set for AIModified only.
type LineSource struct {
	Type       SourceType `json:"type"`
	EditID     string     `json:"edit_id,omitempty"`
	Similarity float64    `json:"similarity,omitempty"`
}

func OriginalSource() LineSource { return LineSource{Type: SourceOriginal} }
func HumanSource() LineSource    { return LineSource{Type: SourceHuman} }
func UnknownSource() LineSource  { return LineSource{Type: SourceUnknown} }

func AISource(editID string) LineSource {
	return LineSource{Type: SourceAI, EditID: editID}
}

func AIModifiedSource(editID string, similarity float64) LineSource {
	return LineSource{Type: SourceAIModified, EditID: editID, Similarity: similarity}
}

// IsAI reports whether the line originated from an AI edit, modified or not.
func (s LineSource) IsAI() bool {
	return s.Type == SourceAI || s.Type == SourceAIModified
}

// LineAttribution classifies a single 1-indexed line of a committed file.
// PromptIndex is present exactly when the source is AI or AIModified.
type LineAttribution struct {
	LineNumber  int        `json:"line_number"`
	Content     string     `json:"content,omitempty"`
	Source      LineSource `json:"source"`
	PromptIndex *int       `json:"prompt_index,omitempty"`
	Confidence  float64    `json:"confidence"`
}

// AttributionSummary tallies line sources for one file.
type AttributionSummary struct {
	Total      int `json:"total"`
	AI         int `json:"ai"`
	AIModified int `json:"ai_modified"`
	Human      int `json:"human"`
	Original   int `json:"original"`
	Unknown    int `json:"unknown"`
}

// FileAttribution is the per-line classification of one committed file.
type FileAttribution struct {
	Path    string             `json:"path"`
	Lines   []LineAttribution  `json:"lines"`
	Summary AttributionSummary `json:"summary"`
}

// ComputeSummary tallies the sources of lines.
func ComputeSummary(lines []LineAttribution) AttributionSummary {
	s := AttributionSummary{Total: len(lines)}
	for _, l := range lines {
		switch l.Source.Type {
		case SourceAI:
			s.AI++
		case SourceAIModified:
			s.AIModified++
		case SourceHuman:
			s.Human++
		case SourceOriginal:
			s.Original++
		default:
			s.Unknown++
		}
	}
	return s
}

// RedactionEvent records how many times a named pattern fired on a prompt.
type RedactionEvent struct {
	PatternName string `json:"pattern_name"`
	Count       int    `json:"count"`
}

// PromptRecord is one user instruction within a session, post-redaction.
type PromptRecord struct {
	Index           int              `json:"index"`
	Text            string           `json:"text"`
	Timestamp       time.Time        `json:"timestamp"`
	AffectedFiles   []string         `json:"affected_files"`
	RedactionEvents []RedactionEvent `json:"redaction_events,omitempty"`
}

// ModelInfo identifies the AI model behind a session.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// ClaudeModel returns model info for a Claude model id.
func ClaudeModel(id string) ModelInfo {
	return ModelInfo{ID: id, Provider: "anthropic"}
}

// SessionMetadata describes one AI editing session.
type SessionMetadata struct {
	SessionID     string    `json:"session_id"`
	Model         ModelInfo `json:"model"`
	StartedAt     time.Time `json:"started_at"`
	PromptCount   int       `json:"prompt_count"`
	UsedPlanMode  bool      `json:"used_plan_mode"`
	SubagentCount int       `json:"subagent_count"`
}

// AIAttribution is the note payload stored against a commit.
type AIAttribution struct {
	Version int               `json:"version"`
	Session SessionMetadata   `json:"session"`
	Prompts []PromptRecord    `json:"prompts"`
	Files   []FileAttribution `json:"files"`
}

// TotalAILines sums AI-generated lines across files.
func (a *AIAttribution) TotalAILines() int {
	n := 0
	for _, f := range a.Files {
		n += f.Summary.AI
	}
	return n
}

// TotalAIModifiedLines sums AI lines later edited by a human.
func (a *AIAttribution) TotalAIModifiedLines() int {
	n := 0
	for _, f := range a.Files {
		n += f.Summary.AIModified
	}
	return n
}

// TotalHumanLines sums human-written lines across files.
func (a *AIAttribution) TotalHumanLines() int {
	n := 0
	for _, f := range a.Files {
		n += f.Summary.Human
	}
	return n
}

// TotalOriginalLines sums pre-session lines across files.
func (a *AIAttribution) TotalOriginalLines() int {
	n := 0
	for _, f := range a.Files {
		n += f.Summary.Original
	}
	return n
}

// AIPercentage is the share of lines attributable to AI, counting
// AI-modified lines, over all classified lines.
func (a *AIAttribution) AIPercentage() float64 {
	total := 0
	for _, f := range a.Files {
		total += f.Summary.Total
	}
	if total == 0 {
		return 0
	}
	return float64(a.TotalAILines()+a.TotalAIModifiedLines()) / float64(total) * 100
}

// Validate checks structural invariants of the payload: version, line
// numbering, summary closure, and prompt index bounds.
func (a *AIAttribution) Validate() error {
	if a.Version != NoteVersion {
		return fmt.Errorf("unsupported attribution version %d", a.Version)
	}
	for _, f := range a.Files {
		for i, l := range f.Lines {
			if l.LineNumber != i+1 {
				return fmt.Errorf("%s: line %d numbered %d", f.Path, i+1, l.LineNumber)
			}
			hasPrompt := l.PromptIndex != nil
			if l.Source.IsAI() != hasPrompt {
				return fmt.Errorf("%s:%d: prompt index presence mismatch for source %s", f.Path, l.LineNumber, l.Source.Type)
			}
			if hasPrompt && (*l.PromptIndex < 0 || *l.PromptIndex >= len(a.Prompts)) {
				return fmt.Errorf("%s:%d: prompt index %d out of range", f.Path, l.LineNumber, *l.PromptIndex)
			}
		}
		if got := ComputeSummary(f.Lines); got != f.Summary {
			return fmt.Errorf("%s: summary %+v does not match lines %+v", f.Path, f.Summary, got)
		}
	}
	return nil
}

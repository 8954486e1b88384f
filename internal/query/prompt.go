package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PromptSession identifies the session that produced a prompt.
type PromptSession struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

// PromptResult answers "which prompt produced this line".
type PromptResult struct {
	SchemaVersion int           `json:"schema_version"`
	Schema        string        `json:"schema"`
	File          string        `json:"file"`
	Line          int           `json:"line"`
	Commit        string        `json:"commit"`
	Source        string        `json:"source"`
	PromptIndex   int           `json:"prompt_index"`
	PromptText    string        `json:"prompt_text"`
	Session       PromptSession `json:"session"`
}

// ParseLineRef splits "path:line" into its parts. A bare path reports
// line 0, meaning "first AI line".
func ParseLineRef(ref string) (path string, line int, err error) {
	if ref == "" {
		return "", 0, fmt.Errorf("empty file reference")
	}
	i := strings.LastIndexByte(ref, ':')
	if i < 0 {
		return ref, 0, nil
	}
	n, convErr := strconv.Atoi(ref[i+1:])
	if convErr != nil {
		// The colon belongs to the path.
		return ref, 0, nil
	}
	if n < 1 {
		return "", 0, fmt.Errorf("line number %d out of range", n)
	}
	return ref[:i], n, nil
}

// PromptAt looks up the prompt behind a line. With line 0 the first
// AI-attributed line of the file is used.
func (s *Service) PromptAt(ctx context.Context, path string, line int, revision string) (*PromptResult, error) {
	blame, err := s.blamer.Blame(ctx, path, revision)
	if err != nil {
		return nil, err
	}
	if len(blame.Lines) == 0 {
		return nil, fmt.Errorf("%s has no lines at %s", path, blame.Revision)
	}

	var target *int
	if line == 0 {
		for i := range blame.Lines {
			if blame.Lines[i].Source.IsAI() {
				target = &i
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("%s has no AI-attributed lines", path)
		}
	} else {
		if line > len(blame.Lines) {
			return nil, fmt.Errorf("line %d out of range, %s has %d lines", line, path, len(blame.Lines))
		}
		idx := line - 1
		target = &idx
	}

	bl := blame.Lines[*target]
	if !bl.Source.IsAI() {
		return nil, fmt.Errorf("line %d of %s is %s, not AI-attributed", bl.LineNumber, path, bl.Source.Type)
	}
	if bl.PromptIndex == nil {
		return nil, fmt.Errorf("line %d of %s has no recorded prompt", bl.LineNumber, path)
	}

	attr := s.blamer.CommitAttribution(ctx, bl.Commit)
	if attr == nil || *bl.PromptIndex >= len(attr.Prompts) {
		return nil, fmt.Errorf("prompt %d missing from commit %s", *bl.PromptIndex, bl.Commit)
	}

	return &PromptResult{
		SchemaVersion: SchemaVersion,
		Schema:        SchemaPrompt,
		File:          path,
		Line:          bl.LineNumber,
		Commit:        bl.Commit,
		Source:        string(bl.Source.Type),
		PromptIndex:   *bl.PromptIndex,
		PromptText:    attr.Prompts[*bl.PromptIndex].Text,
		Session: PromptSession{
			ID:        attr.Session.SessionID,
			Model:     attr.Session.Model.ID,
			StartedAt: attr.Session.StartedAt,
		},
	}, nil
}

// Package snapshot defines the content and attribution data model: file
// snapshots, AI edits, per-session edit histories, and the per-line
// attribution records persisted as commit notes.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// contentHashBytes is the truncated hash width: 16 bytes, 32 hex chars.
const contentHashBytes = 16

// Tool kinds that can produce an AIEdit.
const (
	ToolEdit  = "Edit"
	ToolWrite = "Write"
	ToolBash  = "Bash"
)

// ContentSnapshot is an immutable capture of a file's bytes at a moment
// in time, identified by a 128-bit content hash.
type ContentSnapshot struct {
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	LineCount   int       `json:"line_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// New creates a snapshot of the given content, hashing it and counting lines.
func New(content string) ContentSnapshot {
	return ContentSnapshot{
		Content:     content,
		ContentHash: HashContent(content),
		LineCount:   CountLines(content),
		Timestamp:   time.Now().UTC(),
	}
}

// Empty returns a snapshot of empty content, used as the baseline for new files.
func Empty() ContentSnapshot {
	return New("")
}

// HashContent returns the 128-bit hex content hash of text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:contentHashBytes])
}

// CountLines counts lines the way a line iterator would: a trailing
// newline does not open a final empty line.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// EditContext carries agent-side context for an edit.
type EditContext struct {
	PlanMode   bool `json:"plan_mode"`
	AgentDepth int  `json:"agent_depth"`
}

// AIEdit is one AI-initiated transition of one file.
type AIEdit struct {
	EditID      string          `json:"edit_id"`
	PromptIndex int             `json:"prompt_index"`
	Tool        string          `json:"tool"`
	Before      ContentSnapshot `json:"before"`
	After       ContentSnapshot `json:"after"`
	Timestamp   time.Time       `json:"timestamp"`
	Context     EditContext     `json:"context"`
}

// FileEditHistory is the ordered sequence of AI edits applied to one file
// within a session, anchored at the pre-session original.
type FileEditHistory struct {
	Path       string          `json:"path"`
	Original   ContentSnapshot `json:"original"`
	Edits      []AIEdit        `json:"edits"`
	WasNewFile bool            `json:"was_new_file"`
}

// NewFileEditHistory anchors a history at original; a nil original means
// the file did not exist before the session.
func NewFileEditHistory(path string, original *ContentSnapshot) FileEditHistory {
	h := FileEditHistory{Path: path}
	if original == nil {
		h.Original = Empty()
		h.WasNewFile = true
	} else {
		h.Original = *original
	}
	return h
}

// LatestAIContent returns the cumulative AI state of the file: the last
// edit's after content, or the original if there are no edits.
func (h *FileEditHistory) LatestAIContent() string {
	if len(h.Edits) == 0 {
		return h.Original.Content
	}
	return h.Edits[len(h.Edits)-1].After.Content
}

// ChainIntact reports whether consecutive edits link up: each edit's
// before hash must equal the previous edit's after hash.
func (h *FileEditHistory) ChainIntact() bool {
	for i := 1; i < len(h.Edits); i++ {
		if h.Edits[i].Before.ContentHash != h.Edits[i-1].After.ContentHash {
			return false
		}
	}
	return true
}

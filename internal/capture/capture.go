// Package capture turns AI-agent tool events into pending attribution
// state. It runs inside hook processes: every entry point is
// best-effort and must never fail the host tool.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/config"
	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/pending"
	"github.com/anthropic/whogitit/internal/redact"
	"github.com/anthropic/whogitit/internal/snapshot"
)

const (
	// EnvSessionID identifies the agent session across hook firings.
	EnvSessionID = "WHOGITIT_SESSION_ID"
	// EnvModelID names the model behind the session.
	EnvModelID = "WHOGITIT_MODEL_ID"
	// EnvPhase carries the hook phase when the shim cannot put it in
	// the event body.
	EnvPhase = "WHOGITIT_HOOK_PHASE"

	// DefaultModel is assumed when the environment does not say.
	DefaultModel = "claude-opus-4-5-20251101"

	PhasePre  = "pre"
	PhasePost = "post"

	// SoftBudget is the wall-time budget for one capture event.
	// Optional work, like transcript reads, is skipped past it.
	SoftBudget = 5 * time.Second

	fallbackPrompt = "(prompt unavailable)"

	bashPromptMaxChars = 200
)

// Event is the hook shim's stdin payload, one per tool phase.
type Event struct {
	Tool           string `json:"tool"`
	FilePath       string `json:"file_path,omitempty"`
	Command        string `json:"command,omitempty"`
	Description    string `json:"description,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	ToolUseID      string `json:"tool_use_id,omitempty"`
	Phase          string `json:"phase,omitempty"`
	PlanMode       bool   `json:"plan_mode,omitempty"`
	AgentDepth     int    `json:"agent_depth,omitempty"`
}

// ParseEvent reads one event from the shim, resolving the phase from
// the environment when the body leaves it out.
func ParseEvent(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return ev, fmt.Errorf("decode hook event: %w", err)
	}
	if phase := os.Getenv(EnvPhase); phase != "" {
		ev.Phase = phase
	}
	return ev, nil
}

// Engine processes capture events against one repository.
type Engine struct {
	repo     *gitutil.Repository
	cfg      *config.Config
	redactor *redact.Redactor
	auditLog *audit.Log
	state    *stateStore
	started  time.Time
}

// NewEngine builds an engine. Configuration loads leniently so a broken
// config file cannot break capture.
func NewEngine(repo *gitutil.Repository) *Engine {
	cfg := config.LoadLenient(repo.Root())
	return &Engine{
		repo:     repo,
		cfg:      cfg,
		redactor: cfg.Privacy.BuildRedactor(),
		auditLog: audit.New(repo.Root()),
		state:    newStateStore(repo.Root()),
		started:  time.Now(),
	}
}

// sessionKey pairs pre and post phases of one invocation. It does not
// have to be a session UUID, only stable across the pair.
func sessionKey() string {
	if s := os.Getenv(EnvSessionID); s != "" {
		return s
	}
	return "default"
}

func modelID() string {
	if m := os.Getenv(EnvModelID); m != "" {
		return m
	}
	return DefaultModel
}

// Handle dispatches one event. Errors are for logging only; hook
// callers always exit zero.
func (e *Engine) Handle(ev Event) error {
	e.state.Reap()

	switch {
	case ev.Phase == PhasePre && (ev.Tool == snapshot.ToolWrite || ev.Tool == snapshot.ToolEdit):
		return e.preFile(ev)
	case ev.Phase == PhasePost && (ev.Tool == snapshot.ToolWrite || ev.Tool == snapshot.ToolEdit):
		return e.postFile(ev)
	case ev.Phase == PhasePre && ev.Tool == snapshot.ToolBash:
		return e.preBash(ev)
	case ev.Phase == PhasePost && ev.Tool == snapshot.ToolBash:
		return e.postBash(ev)
	}
	return fmt.Errorf("unhandled event: tool %q phase %q", ev.Tool, ev.Phase)
}

// preFile snapshots the current bytes of the target so postFile can
// recover the before state.
func (e *Engine) preFile(ev Event) error {
	rel, err := e.repo.RelPath(ev.FilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(e.repo.Root(), rel))
	if err != nil || gitutil.IsBinary(data) {
		e.state.ClearPre(sessionKey(), rel)
		return nil
	}
	return e.state.SavePre(sessionKey(), rel, snapshot.New(string(data)))
}

// postFile records one Write or Edit as an AIEdit in the pending
// buffer.
func (e *Engine) postFile(ev Event) error {
	rel, err := e.repo.RelPath(ev.FilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(e.repo.Root(), rel))
	if err != nil {
		return fmt.Errorf("read %s after %s: %w", rel, ev.Tool, err)
	}
	if gitutil.IsBinary(data) {
		return nil
	}
	after := snapshot.New(string(data))

	before, ok := e.state.TakePre(sessionKey(), rel)
	if !ok {
		// The pre phase may have been lost; the last committed
		// content is the next best baseline.
		if head, err := e.repo.FileAtHead(rel); err == nil {
			b := snapshot.New(head)
			before = &b
		}
	}
	if before != nil && before.ContentHash == after.ContentHash {
		return nil
	}

	prompt := e.promptFor(ev)
	e.recordEdits(ev, []pendingEdit{{path: rel, before: before, after: after, tool: ev.Tool}}, prompt)
	return nil
}

// preBash snapshots every dirty text file so postBash can tell which
// ones the command touched.
func (e *Engine) preBash(ev Event) error {
	files, err := e.dirtyContents()
	if err != nil {
		return err
	}
	return e.state.SaveBashManifest(sessionKey(), ev.ToolUseID, files)
}

// postBash diffs the dirty set against the pre-Bash manifest and
// records an AIEdit for every file the command changed or created.
func (e *Engine) postBash(ev Event) error {
	manifest, ok := e.state.TakeBashManifest(sessionKey(), ev.ToolUseID)
	if !ok {
		return fmt.Errorf("no pre-state for Bash invocation %s", ev.ToolUseID)
	}
	files, err := e.dirtyContents()
	if err != nil {
		return err
	}

	var edits []pendingEdit
	for path, content := range files {
		after := snapshot.New(content)
		if beforeContent, seen := manifest[path]; seen {
			before := snapshot.New(beforeContent)
			if before.ContentHash == after.ContentHash {
				continue
			}
			edits = append(edits, pendingEdit{path: path, before: &before, after: after, tool: snapshot.ToolBash})
		} else {
			edits = append(edits, pendingEdit{path: path, after: after, tool: snapshot.ToolBash})
		}
	}
	if len(edits) == 0 {
		return nil
	}

	prompt := e.bashPrompt(ev)
	e.recordEdits(ev, edits, prompt)
	return nil
}

// dirtyContents reads every modified, staged, or untracked text file.
func (e *Engine) dirtyContents() (map[string]string, error) {
	paths, err := e.repo.DirtyFiles()
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(e.repo.Root(), p))
		if err != nil || gitutil.IsBinary(data) {
			continue
		}
		files[p] = string(data)
	}
	return files, nil
}

type pendingEdit struct {
	path   string
	before *snapshot.ContentSnapshot
	after  snapshot.ContentSnapshot
	tool   string
}

// recordEdits loads the buffer, appends the edits under one prompt, and
// saves atomically.
func (e *Engine) recordEdits(ev Event, edits []pendingEdit, promptText string) {
	buf := e.loadOrCreateBuffer()

	redacted, matches := e.redactor.Redact(promptText)
	var events []snapshot.RedactionEvent
	for _, c := range redact.CountByPattern(matches) {
		events = append(events, snapshot.RedactionEvent{PatternName: c.PatternName, Count: c.Count})
	}
	if e.cfg.Privacy.AuditLog {
		for _, c := range redact.CountByPattern(matches) {
			if err := e.auditLog.LogRedaction(c.PatternName, c.Count); err != nil {
				log.Printf("capture: audit redaction: %v", err)
			}
		}
	}

	ctx := snapshot.EditContext{PlanMode: ev.PlanMode, AgentDepth: ev.AgentDepth}
	for _, ed := range edits {
		buf.RecordEdit(ed.path, ed.before, ed.after, ed.tool, redacted, events, ctx)
	}

	if err := buf.Save(e.repo.Root()); err != nil {
		log.Printf("capture: save pending buffer: %v", err)
	}
}

// loadOrCreateBuffer returns the live buffer, discarding a stale one or
// one left by a different explicit session.
func (e *Engine) loadOrCreateBuffer() *pending.Buffer {
	buf, err := pending.Load(e.repo.Root())
	if err != nil {
		log.Printf("capture: load pending buffer: %v", err)
		buf = nil
	}

	maxAge := time.Duration(e.cfg.Analysis.MaxPendingAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = pending.DefaultMaxAge
	}
	if buf != nil && buf.IsStale(maxAge) {
		log.Printf("capture: discarding stale pending buffer from %s", buf.Session.StartedAt.Format(time.RFC3339))
		buf = nil
	}
	if buf != nil {
		if envSession := os.Getenv(EnvSessionID); envSession != "" && buf.Session.SessionID != envSession {
			if len(buf.FileHistories) > 0 {
				log.Printf("capture: discarding %d uncommitted file histories from previous session", len(buf.FileHistories))
			}
			buf = nil
		}
	}
	if buf != nil {
		return buf
	}

	sessionID := os.Getenv(EnvSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return pending.New(snapshot.SessionMetadata{
		SessionID: sessionID,
		Model:     snapshot.ClaudeModel(modelID()),
		StartedAt: time.Now().UTC(),
	})
}

// promptFor recovers the user prompt behind an edit: transcript first,
// then the event description, then a constant. Transcript reads are
// skipped once the soft budget is spent.
func (e *Engine) promptFor(ev Event) string {
	if ev.TranscriptPath != "" && time.Since(e.started) < SoftBudget {
		prompt, err := ExtractPrompt(ev.TranscriptPath)
		if err == nil {
			return prompt
		}
		log.Printf("capture: transcript extraction: %v", err)
	}
	if ev.Description != "" {
		return ev.Description
	}
	return fallbackPrompt
}

// bashPrompt labels Bash-driven edits with the command's description
// or the command itself.
func (e *Engine) bashPrompt(ev Event) string {
	text := ev.Description
	if text == "" {
		text = ev.Command
	}
	if text != "" {
		return "[Bash] " + truncateChars(text, bashPromptMaxChars)
	}
	return e.promptFor(ev)
}

func truncateChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
